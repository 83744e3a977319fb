// Package pdf adapts pdfcpu and ledongthuc/pdf to the capabilities the merge
// core consumes: page counting, per-page text, page selection and
// concatenation.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	lpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrParse marks input that could not be read as a PDF.
var ErrParse = errors.New("pdf parse error")

// pdfcpu would otherwise create and read a config directory under the user's
// home; every setting here comes from the service config.
func init() {
	api.DisableConfigDir()
}

// Engine is safe for concurrent use; every call builds its own pdfcpu
// configuration.
type Engine struct {
	strict bool
}

// NewEngine returns an engine validating in "relaxed" or "strict" mode.
func NewEngine(validationMode string) *Engine {
	return &Engine{strict: strings.EqualFold(validationMode, "strict")}
}

func (e *Engine) conf() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	if e.strict {
		cfg.ValidationMode = model.ValidationStrict
	} else {
		cfg.ValidationMode = model.ValidationRelaxed
	}
	// Classic xref tables keep output readable by the text extractor.
	cfg.WriteObjectStream = false
	cfg.WriteXRefStream = false
	return cfg
}

// PageCount parses and validates rs and returns its page count.
func (e *Engine) PageCount(rs io.ReadSeeker) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("%w: %v", ErrParse, r)
		}
	}()
	n, err = api.PageCount(rs, e.conf())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return n, nil
}

// PageCountFile is PageCount for a file on disk.
func (e *Engine) PageCountFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return e.PageCount(f)
}

// PageText extracts the plain text of a 1-based page.
func (e *Engine) PageText(r io.ReaderAt, size int64, page int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("%w: text extraction: %v", ErrParse, rec)
		}
	}()

	rd, err := lpdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	if page < 1 || page > rd.NumPage() {
		return "", fmt.Errorf("page %d out of range 1..%d", page, rd.NumPage())
	}
	p := rd.Page(page)
	if p.V.IsNull() {
		return "", fmt.Errorf("page %d has no content", page)
	}
	return p.GetPlainText(nil)
}

// PageTextFile is PageText for a file on disk.
func (e *Engine) PageTextFile(path string, page int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return e.PageText(bytes.NewReader(data), int64(len(data)), page)
}

// CollectPages writes the pages named by selections (pdfcpu syntax, e.g.
// "2-5", "7") from inFile to outFile, in the listed order.
func (e *Engine) CollectPages(inFile, outFile string, selections []string) error {
	if len(selections) == 0 {
		return errors.New("no pages selected")
	}
	if err := api.CollectFile(inFile, outFile, selections, e.conf()); err != nil {
		return fmt.Errorf("collect pages %v: %w", selections, err)
	}
	return nil
}

// MergeFiles concatenates inFiles, in order, into outFile.
func (e *Engine) MergeFiles(inFiles []string, outFile string) error {
	switch len(inFiles) {
	case 0:
		return errors.New("no input files")
	case 1:
		data, err := os.ReadFile(inFiles[0])
		if err != nil {
			return err
		}
		return os.WriteFile(outFile, data, 0o600)
	}
	if err := api.MergeCreateFile(inFiles, outFile, false, e.conf()); err != nil {
		return fmt.Errorf("merge %d files: %w", len(inFiles), err)
	}
	return nil
}
