// Package workspace owns the per-operation scratch directories under the
// upload root.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrDestroyed is returned when writing into a workspace that was removed.
var ErrDestroyed = errors.New("workspace destroyed")

// Manager creates workspaces below a single root directory.
type Manager struct {
	root string
}

// NewManager makes root absolute and ensures it exists.
func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root is the absolute upload root.
func (m *Manager) Root() string { return m.root }

// Create allocates a new directory named <prefix>_<uuid>.
func (m *Manager) Create(prefix string) (*Workspace, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, prefix+"_"+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{id: id, dir: dir}, nil
}

// Workspace is a directory exclusively owned by one operation.
type Workspace struct {
	id  string
	dir string

	mu        sync.Mutex
	next      int
	destroyed atomic.Bool
}

func (w *Workspace) ID() string  { return w.id }
func (w *Workspace) Dir() string { return w.dir }

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Persist writes data as NNN_<sanitized name>, NNN being the number of files
// persisted before it.
func (w *Workspace) Persist(data []byte, name string) (string, error) {
	if w.destroyed.Load() {
		return "", ErrDestroyed
	}

	w.mu.Lock()
	ordinal := w.next
	w.next++
	w.mu.Unlock()

	p := w.Path(fmt.Sprintf("%03d_%s", ordinal, SanitizeFilename(name)))
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("persist %s: %w", name, err)
	}
	return p, nil
}

// Exists reports whether the directory is still on disk.
func (w *Workspace) Exists() bool {
	_, err := os.Stat(w.dir)
	return err == nil
}

// Destroy removes the directory tree. Repeated calls are no-ops.
func (w *Workspace) Destroy() error {
	if w.destroyed.Swap(true) {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("destroy workspace %s: %w", w.id, err)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFilename flattens name into a single path element made of ASCII
// letters, digits, '_', '-' and '.'. Separators and whitespace become '_' and
// leading or trailing dots and underscores are stripped.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	parts := strings.Fields(strings.ReplaceAll(name, "/", " "))
	name = strings.Join(parts, "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	if name == "" {
		return "document"
	}
	return name
}
