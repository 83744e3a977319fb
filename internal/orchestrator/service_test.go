package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfmerge/internal/config"
	"pdfmerge/internal/domain"
	"pdfmerge/internal/infra/pdf"
	"pdfmerge/internal/scheduler"
	"pdfmerge/internal/testpdf"
)

// manualScheduler holds tasks until the test runs them.
type manualScheduler struct {
	mu     sync.Mutex
	tasks  []func()
	delays []time.Duration
}

func (m *manualScheduler) Schedule(fn func(), delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, fn)
	m.delays = append(m.delays, delay)
}

func (m *manualScheduler) runAll() {
	m.mu.Lock()
	tasks := m.tasks
	m.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
}

func (m *manualScheduler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func testConfig(t *testing.T) config.MergeConfig {
	t.Helper()
	cfg := config.Default().Merge
	cfg.UploadRoot = filepath.Join(t.TempDir(), "uploads")
	return cfg
}

func newService(t *testing.T, cfg config.MergeConfig, deps Deps) *Service {
	t.Helper()
	svc, err := New(cfg, deps)
	require.NoError(t, err)
	return svc
}

func doc(name, prefix string, pages int) domain.UploadedDocument {
	return domain.UploadedDocument{Filename: name, Data: testpdf.Build(testpdf.Pages(prefix, pages)...)}
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(des))
	for _, d := range des {
		names = append(names, d.Name())
	}
	return names
}

func pageText(t *testing.T, path string, page int) string {
	t.Helper()
	text, err := pdf.NewEngine("relaxed").PageTextFile(path, page)
	require.NoError(t, err)
	return text
}

func TestMergeOutputPagesEqualInputSum(t *testing.T) {
	sets := [][]int{{3, 2}, {1, 1}, {4, 1, 2}, {2, 2, 2, 2}}
	for _, pages := range sets {
		sched := &manualScheduler{}
		svc := newService(t, testConfig(t), Deps{Scheduler: sched})

		docs := make([]domain.UploadedDocument, len(pages))
		sum := 0
		for i, n := range pages {
			docs[i] = doc(string(rune('a'+i))+".pdf", string(rune('A'+i)), n)
			sum += n
		}

		d, err := svc.Merge(context.Background(), docs)
		require.NoError(t, err)
		assert.Equal(t, sum, d.Result.TotalPages, "pages %v", pages)
		assert.Equal(t, len(pages), d.Result.SourceCount)
		assert.Equal(t, MergedName, d.DownloadName)

		n, err := pdf.NewEngine("relaxed").PageCountFile(d.Result.OutputPath)
		require.NoError(t, err)
		assert.Equal(t, sum, n)
	}
}

func TestFewerThanTwoDocumentsCreateNoWorkspace(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg, Deps{Scheduler: &manualScheduler{}})
	ctx := context.Background()

	one := []domain.UploadedDocument{doc("a.pdf", "A", 1)}
	unnamed := []domain.UploadedDocument{{Data: []byte("x")}, {Data: []byte("y")}}

	tests := []struct {
		name string
		call func() error
		want *domain.Error
	}{
		{"merge none", func() error { _, err := svc.Merge(ctx, nil); return err }, domain.ErrNoInput},
		{"merge one", func() error { _, err := svc.Merge(ctx, one); return err }, domain.ErrInsufficientInput},
		{"merge unnamed", func() error { _, err := svc.Merge(ctx, unnamed); return err }, domain.ErrNoInput},
		{"advanced none", func() error { _, err := svc.MergeAdvanced(ctx, nil, MergeOptions{}); return err }, domain.ErrNoInput},
		{"advanced one", func() error { _, err := svc.MergeAdvanced(ctx, one, MergeOptions{}); return err }, domain.ErrInsufficientInput},
		{"validate none", func() error { _, err := svc.ValidateBatch(ctx, nil); return err }, domain.ErrNoInput},
		{"validate one", func() error { _, err := svc.ValidateBatch(ctx, one); return err }, domain.ErrInsufficientInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.call(), tc.want)
			assert.Empty(t, entries(t, svc.UploadRoot()))
		})
	}
}

func TestPayloadTooLargeCreatesNoWorkspace(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxUploadBytes = 512
	svc := newService(t, cfg, Deps{Scheduler: &manualScheduler{}})

	_, err := svc.Merge(context.Background(), []domain.UploadedDocument{doc("a.pdf", "A", 2), doc("b.pdf", "B", 2)})
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
	assert.Empty(t, entries(t, svc.UploadRoot()))

	_, err = svc.Preview(context.Background(), doc("a.pdf", "A", 3))
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
}

func TestInvalidDocumentFailsWholeBatch(t *testing.T) {
	sched := &manualScheduler{}
	svc := newService(t, testConfig(t), Deps{Scheduler: sched})

	docs := []domain.UploadedDocument{
		doc("a.pdf", "A", 2),
		{Filename: "broken.pdf", Data: []byte("%PDF-1.4\ntruncated")},
		doc("c.pdf", "C", 1),
	}

	_, err := svc.Merge(context.Background(), docs)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
	assert.Contains(t, domain.AsError(err).Message, "broken.pdf")

	assert.Empty(t, entries(t, svc.UploadRoot()))
	assert.Zero(t, sched.count())
}

func TestLowestIndexFailureIsReported(t *testing.T) {
	cfg := testConfig(t)
	cfg.ValidateWorkers = 4
	svc := newService(t, cfg, Deps{Scheduler: &manualScheduler{}})

	docs := []domain.UploadedDocument{
		doc("a.pdf", "A", 1),
		{Filename: "notes.txt", Data: []byte("hello")},
		{Filename: "garbage.pdf", Data: []byte("garbage")},
	}
	for i := 0; i < 5; i++ {
		_, err := svc.ValidateBatch(context.Background(), docs)
		assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	}
}

func TestWorkspaceOutlivesDeliveryUntilCleanup(t *testing.T) {
	sched := &manualScheduler{}
	cfg := testConfig(t)
	svc := newService(t, cfg, Deps{Scheduler: sched})

	d, err := svc.Merge(context.Background(), []domain.UploadedDocument{doc("a.pdf", "A", 3), doc("b.pdf", "B", 2)})
	require.NoError(t, err)

	wsDir := filepath.Dir(d.Result.OutputPath)
	assert.DirExists(t, wsDir)
	assert.FileExists(t, d.Result.OutputPath)
	assert.True(t, strings.HasPrefix(filepath.Base(wsDir), "merge_"))
	require.Equal(t, 1, sched.count())
	assert.Equal(t, cfg.CleanupDelay, sched.delays[0])

	sched.runAll()
	assert.NoDirExists(t, wsDir)

	assert.NotPanics(t, sched.runAll)
	assert.Empty(t, entries(t, svc.UploadRoot()))
}

func TestWorkspaceRemovedAfterGracePeriod(t *testing.T) {
	cfg := testConfig(t)
	cfg.CleanupDelay = 50 * time.Millisecond
	svc := newService(t, cfg, Deps{Scheduler: scheduler.NewTimerScheduler()})

	d, err := svc.Merge(context.Background(), []domain.UploadedDocument{doc("a.pdf", "A", 1), doc("b.pdf", "B", 1)})
	require.NoError(t, err)
	wsDir := filepath.Dir(d.Result.OutputPath)
	assert.DirExists(t, wsDir)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(wsDir)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFlushRemovesDeliveredWorkspaces(t *testing.T) {
	sched := scheduler.NewTimerScheduler()
	svc := newService(t, testConfig(t), Deps{Scheduler: sched})

	d, err := svc.Merge(context.Background(), []domain.UploadedDocument{doc("a.pdf", "A", 1), doc("b.pdf", "B", 1)})
	require.NoError(t, err)
	assert.FileExists(t, d.Result.OutputPath)

	sched.Flush()
	assert.NoFileExists(t, d.Result.OutputPath)
	assert.Empty(t, entries(t, svc.UploadRoot()))
}

func TestMergeAdvancedReordersDocuments(t *testing.T) {
	svc := newService(t, testConfig(t), Deps{Scheduler: &manualScheduler{}})

	d, err := svc.MergeAdvanced(context.Background(),
		[]domain.UploadedDocument{doc("a.pdf", "A", 3), doc("b.pdf", "B", 2)},
		MergeOptions{FileOrder: []int{1, 0}})
	require.NoError(t, err)

	assert.Equal(t, MergedMultipleName, d.DownloadName)
	assert.Equal(t, 5, d.Result.TotalPages)
	assert.Contains(t, pageText(t, d.Result.OutputPath, 1), "B page 1")
	assert.Contains(t, pageText(t, d.Result.OutputPath, 2), "B page 2")
	assert.Contains(t, pageText(t, d.Result.OutputPath, 3), "A page 1")
	assert.True(t, strings.HasPrefix(filepath.Base(filepath.Dir(d.Result.OutputPath)), "multi_"))
}

func TestMergeAdvancedAppliesPageRanges(t *testing.T) {
	svc := newService(t, testConfig(t), Deps{Scheduler: &manualScheduler{}})

	d, err := svc.MergeAdvanced(context.Background(),
		[]domain.UploadedDocument{doc("a.pdf", "A", 5), doc("b.pdf", "B", 2)},
		MergeOptions{
			FileOrder: []int{0, 1, 9},
			PageRanges: map[string][]domain.PageRange{
				"a.pdf": {{Start: 2, End: 1000}},
			},
		})
	require.NoError(t, err)

	// Order length mismatch falls back to arrival order.
	assert.Equal(t, 6, d.Result.TotalPages)
	assert.Contains(t, pageText(t, d.Result.OutputPath, 1), "A page 2")
	assert.Contains(t, pageText(t, d.Result.OutputPath, 5), "B page 1")
}

func TestMergeAdvancedOrderSelectingTooFew(t *testing.T) {
	svc := newService(t, testConfig(t), Deps{Scheduler: &manualScheduler{}})

	_, err := svc.MergeAdvanced(context.Background(),
		[]domain.UploadedDocument{doc("a.pdf", "A", 1), doc("b.pdf", "B", 1)},
		MergeOptions{FileOrder: []int{7, 1}})
	assert.ErrorIs(t, err, domain.ErrInsufficientInput)
	assert.Empty(t, entries(t, svc.UploadRoot()))
}

func TestOrder(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		indices []int
		want    []int
	}{
		{"nil", 3, nil, []int{0, 1, 2}},
		{"length mismatch", 2, []int{1}, []int{0, 1}},
		{"swap", 2, []int{1, 0}, []int{1, 0}},
		{"out of range dropped", 3, []int{2, 5, -1}, []int{2}},
		{"duplicates kept", 2, []int{1, 1}, []int{1, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Order(tc.n, tc.indices))
		})
	}
}

type failingMerger struct{}

func (failingMerger) Merge(_ context.Context, _ []domain.MergeInput, out string) (domain.MergeResult, error) {
	_ = os.WriteFile(out, []byte("partial"), 0o600)
	return domain.MergeResult{}, domain.Wrap(domain.KindMergeFailure, errors.New("engine exploded"), "Failed to merge documents")
}

func TestMergeFailureCleansUpImmediately(t *testing.T) {
	sched := &manualScheduler{}
	svc := newService(t, testConfig(t), Deps{Scheduler: sched, Merger: failingMerger{}})

	d, err := svc.Merge(context.Background(), []domain.UploadedDocument{doc("a.pdf", "A", 1), doc("b.pdf", "B", 1)})
	assert.Nil(t, d)
	assert.ErrorIs(t, err, domain.ErrMergeFailure)
	assert.Empty(t, entries(t, svc.UploadRoot()))
	assert.Zero(t, sched.count())
}

func TestValidateBatchReport(t *testing.T) {
	svc := newService(t, testConfig(t), Deps{Scheduler: &manualScheduler{}})
	docs := []domain.UploadedDocument{doc("a.pdf", "A", 3), doc("b.PDF", "B", 2)}

	report, err := svc.ValidateBatch(context.Background(), docs)
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalFiles)
	assert.Equal(t, 5, report.TotalPages)
	assert.Equal(t, FileReport{Name: "a.pdf", Pages: 3, Size: docs[0].Size()}, report.Files[0])
	assert.Equal(t, "b.PDF", report.Files[1].Name)
	assert.Empty(t, entries(t, svc.UploadRoot()))
}

func TestPreview(t *testing.T) {
	svc := newService(t, testConfig(t), Deps{Scheduler: &manualScheduler{}})
	data := testpdf.Build("Short first page")

	info, err := svc.Preview(context.Background(), domain.UploadedDocument{Filename: "one.pdf", Data: data})
	require.NoError(t, err)

	assert.Equal(t, "one.pdf", info.Filename)
	assert.Equal(t, 1, info.Pages)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "Short first page", strings.TrimSpace(info.PreviewText))
	assert.Empty(t, entries(t, svc.UploadRoot()))
}

func TestPreviewRejectsMissingFile(t *testing.T) {
	svc := newService(t, testConfig(t), Deps{Scheduler: &manualScheduler{}})

	_, err := svc.Preview(context.Background(), domain.UploadedDocument{})
	assert.ErrorIs(t, err, domain.ErrNoInput)

	_, err = svc.Preview(context.Background(), domain.UploadedDocument{Filename: "x.docx", Data: []byte("x")})
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestCancelledContextAbortsBeforeMerge(t *testing.T) {
	svc := newService(t, testConfig(t), Deps{Scheduler: &manualScheduler{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Merge(ctx, []domain.UploadedDocument{doc("a.pdf", "A", 1), doc("b.pdf", "B", 1)})
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.Empty(t, entries(t, svc.UploadRoot()))
}
