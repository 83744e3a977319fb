// Package orchestrator drives merge requests through validation, workspace
// persistence, concatenation and cleanup.
package orchestrator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"pdfmerge/internal/config"
	"pdfmerge/internal/document"
	"pdfmerge/internal/domain"
	"pdfmerge/internal/infra/logging"
	"pdfmerge/internal/infra/metrics"
	"pdfmerge/internal/infra/pdf"
	"pdfmerge/internal/merge"
	"pdfmerge/internal/scheduler"
	"pdfmerge/internal/workspace"
)

// Download names offered to clients.
const (
	MergedName         = "merged_document.pdf"
	MergedMultipleName = "merged_multiple_documents.pdf"
)

// Operation names used in logs and metrics.
const (
	OpValidate      = "validate"
	OpMerge         = "merge"
	OpMergeAdvanced = "merge_multiple"
	OpPreview       = "preview"
)

// Merger concatenates validated inputs into outputPath.
type Merger interface {
	Merge(ctx context.Context, inputs []domain.MergeInput, outputPath string) (domain.MergeResult, error)
}

// Deps are the collaborators of a Service. Nil fields get defaults built from
// the merge configuration.
type Deps struct {
	Validator  *document.Validator
	Merger     Merger
	Workspaces *workspace.Manager
	Scheduler  scheduler.Scheduler
	Metrics    *metrics.Metrics
}

// Service is safe for concurrent use; requests share nothing but the upload
// root.
type Service struct {
	cfg        config.MergeConfig
	validator  *document.Validator
	merger     Merger
	workspaces *workspace.Manager
	scheduler  scheduler.Scheduler
	metrics    *metrics.Metrics
}

func New(cfg config.MergeConfig, deps Deps) (*Service, error) {
	if deps.Validator == nil || deps.Merger == nil {
		engine := pdf.NewEngine(cfg.ValidationMode)
		if deps.Validator == nil {
			deps.Validator = document.NewValidator(engine, cfg.AllowedExtensions, cfg.PreviewChars)
		}
		if deps.Merger == nil {
			deps.Merger = merge.NewEngine(engine)
		}
	}
	if deps.Workspaces == nil {
		m, err := workspace.NewManager(cfg.UploadRoot)
		if err != nil {
			return nil, err
		}
		deps.Workspaces = m
	}
	if deps.Scheduler == nil {
		deps.Scheduler = scheduler.NewTimerScheduler()
	}
	if cfg.ValidateWorkers < 1 {
		cfg.ValidateWorkers = 1
	}

	return &Service{
		cfg:        cfg,
		validator:  deps.Validator,
		merger:     deps.Merger,
		workspaces: deps.Workspaces,
		scheduler:  deps.Scheduler,
		metrics:    deps.Metrics,
	}, nil
}

// UploadRoot is the directory holding every workspace.
func (s *Service) UploadRoot() string { return s.workspaces.Root() }

// FileReport describes one accepted document.
type FileReport struct {
	Name  string `json:"name"`
	Pages int    `json:"pages"`
	Size  int64  `json:"size"`
}

type BatchReport struct {
	Files      []FileReport
	TotalFiles int
	TotalPages int
}

// Delivery is a verified merge output. The file stays on disk for the
// configured cleanup delay after the call returns.
type Delivery struct {
	JobID        string
	Result       domain.MergeResult
	DownloadName string
}

// MergeOptions controls MergeAdvanced. FileOrder holds indices into the
// uploaded documents and is ignored unless it has one entry per document.
// PageRanges is keyed by uploaded filename.
type MergeOptions struct {
	FileOrder  []int
	PageRanges map[string][]domain.PageRange
}

type PreviewInfo struct {
	Filename    string
	Pages       int
	Size        int64
	PreviewText string
}

// ValidateBatch checks every document and reports page counts without
// merging. The workspace is removed before returning.
func (s *Service) ValidateBatch(ctx context.Context, docs []domain.UploadedDocument) (report BatchReport, err error) {
	defer s.observe(OpValidate, time.Now(), &err)

	if err := s.checkReceived(docs); err != nil {
		return BatchReport{}, err
	}

	j, err := s.begin("validate")
	if err != nil {
		return BatchReport{}, err
	}
	defer s.release(j)

	validated, err := s.prepare(ctx, j, docs)
	if err != nil {
		return BatchReport{}, err
	}

	report.Files = make([]FileReport, 0, len(validated))
	for _, d := range validated {
		report.Files = append(report.Files, FileReport{Name: d.Filename, Pages: d.PageCount, Size: d.SizeBytes})
		report.TotalPages += d.PageCount
	}
	report.TotalFiles = len(validated)
	return report, nil
}

// Merge concatenates docs in arrival order.
func (s *Service) Merge(ctx context.Context, docs []domain.UploadedDocument) (d *Delivery, err error) {
	defer s.observe(OpMerge, time.Now(), &err)

	if err := s.checkReceived(docs); err != nil {
		return nil, err
	}

	j, err := s.begin("merge")
	if err != nil {
		return nil, err
	}
	defer s.release(j)

	validated, err := s.prepare(ctx, j, docs)
	if err != nil {
		return nil, err
	}

	inputs := make([]domain.MergeInput, len(validated))
	for i, v := range validated {
		inputs[i] = domain.MergeInput{Document: v}
	}
	return s.run(ctx, j, inputs, MergedName)
}

// MergeAdvanced reorders docs by opts.FileOrder and applies per-file page
// ranges. Order indices outside the uploaded set are skipped.
func (s *Service) MergeAdvanced(ctx context.Context, docs []domain.UploadedDocument, opts MergeOptions) (d *Delivery, err error) {
	defer s.observe(OpMergeAdvanced, time.Now(), &err)

	if err := s.checkReceived(docs); err != nil {
		return nil, err
	}

	j, err := s.begin("multi")
	if err != nil {
		return nil, err
	}
	defer s.release(j)

	validated, err := s.prepare(ctx, j, docs)
	if err != nil {
		return nil, err
	}

	order := Order(len(validated), opts.FileOrder)
	if len(order) < 2 {
		return nil, domain.Errorf(domain.KindInsufficientInput,
			"File order selects %d of the uploaded files; at least 2 are required", len(order))
	}

	inputs := make([]domain.MergeInput, 0, len(order))
	for _, idx := range order {
		in := domain.MergeInput{Document: validated[idx]}
		if ranges := opts.PageRanges[validated[idx].Filename]; len(ranges) > 0 {
			in.Ranges = ranges
		}
		inputs = append(inputs, in)
	}
	return s.run(ctx, j, inputs, MergedMultipleName)
}

// Preview validates one document and returns its metadata with a text
// excerpt of the first page.
func (s *Service) Preview(ctx context.Context, doc domain.UploadedDocument) (info PreviewInfo, err error) {
	defer s.observe(OpPreview, time.Now(), &err)

	switch {
	case doc.Filename == "" && len(doc.Data) == 0:
		return PreviewInfo{}, domain.Errorf(domain.KindNoInput, "No file provided")
	case doc.Filename == "":
		return PreviewInfo{}, domain.Errorf(domain.KindNoInput, "No file selected")
	case doc.Size() > s.cfg.MaxUploadBytes:
		return PreviewInfo{}, s.tooLarge()
	}

	j, err := s.begin("preview")
	if err != nil {
		return PreviewInfo{}, err
	}
	defer s.release(j)

	s.transition(j, domain.StateValidating)
	if err := ctx.Err(); err != nil {
		return PreviewInfo{}, domain.Wrap(domain.KindInternal, err, "Request cancelled")
	}
	p, err := s.validator.Preview(doc.Data, doc.Filename)
	if err != nil {
		return PreviewInfo{}, err
	}

	s.transition(j, domain.StatePersisting)
	if _, err := j.ws.Persist(doc.Data, doc.Filename); err != nil {
		return PreviewInfo{}, domain.Wrap(domain.KindInternal, err, "Failed to store upload")
	}

	return PreviewInfo{
		Filename:    doc.Filename,
		Pages:       p.Document.PageCount,
		Size:        p.Document.SizeBytes,
		PreviewText: p.Text,
	}, nil
}

// Order resolves file order indices against n documents. A list whose length
// differs from n yields arrival order; negative or out-of-range indices are
// dropped. Repeated indices are kept.
func Order(n int, indices []int) []int {
	if len(indices) != n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, n)
	for _, idx := range indices {
		if idx >= 0 && idx < n {
			out = append(out, idx)
		}
	}
	return out
}

func (s *Service) checkReceived(docs []domain.UploadedDocument) error {
	if len(docs) == 0 {
		return domain.Errorf(domain.KindNoInput, "No files uploaded")
	}

	named := 0
	var total int64
	for _, d := range docs {
		if d.Filename != "" {
			named++
		}
		total += d.Size()
	}
	if named == 0 {
		return domain.Errorf(domain.KindNoInput, "No files selected")
	}
	if len(docs) < 2 {
		return domain.Errorf(domain.KindInsufficientInput, "Please upload at least 2 PDF files")
	}
	if total > s.cfg.MaxUploadBytes {
		return s.tooLarge()
	}
	return nil
}

func (s *Service) tooLarge() error {
	return domain.Errorf(domain.KindPayloadTooLarge,
		"Total upload size exceeds the %d MB limit", s.cfg.MaxUploadBytes/(1024*1024))
}

// prepare validates docs on a bounded pool, then persists them in arrival
// order. The reported error is the one of the lowest failing index.
func (s *Service) prepare(ctx context.Context, j *job, docs []domain.UploadedDocument) ([]domain.ValidatedDocument, error) {
	s.transition(j, domain.StateValidating)

	validated := make([]domain.ValidatedDocument, len(docs))
	errs := make([]error, len(docs))

	var g errgroup.Group
	g.SetLimit(s.cfg.ValidateWorkers)
	for i, d := range docs {
		i, d := i, d
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = domain.Wrap(domain.KindInternal, err, "Request cancelled")
				return nil
			}
			validated[i], errs[i] = s.validator.Validate(d.Data, d.Filename)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			logging.Warn("Document rejected", "merge_id", j.ID, "file", docs[i].Filename, "index", i, "error", err)
			return nil, err
		}
	}

	s.transition(j, domain.StatePersisting)
	for i, d := range docs {
		path, err := j.ws.Persist(d.Data, d.Filename)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "Failed to store %s", d.Filename)
		}
		validated[i].StoredPath = path
		logging.Debug("Document stored", "merge_id", j.ID, "file", d.Filename, "pages", validated[i].PageCount)
	}
	return validated, nil
}

func (s *Service) run(ctx context.Context, j *job, inputs []domain.MergeInput, downloadName string) (*Delivery, error) {
	j.Inputs = inputs

	s.transition(j, domain.StateMerging)
	res, err := s.merger.Merge(ctx, inputs, j.ws.Path("merged.pdf"))
	if err != nil {
		logging.Error("Merge failed", "merge_id", j.ID, "error", err)
		return nil, err
	}

	// The merger verifies its output; the state records that it happened.
	s.transition(j, domain.StateVerifying)
	if res.TotalPages < 1 || res.SizeBytes <= 0 {
		return nil, domain.Errorf(domain.KindMergeFailure, "Merge produced an empty output")
	}

	s.transition(j, domain.StateDelivering)
	j.delivered = true
	s.metrics.PagesMerged(res.TotalPages)
	logging.Info("Merge completed", "merge_id", j.ID, "files", len(inputs), "pages", res.TotalPages,
		"bytes", res.SizeBytes, "duration", time.Since(j.StartedAt).String())

	return &Delivery{JobID: j.ID, Result: res, DownloadName: downloadName}, nil
}

func (s *Service) observe(op string, started time.Time, errp *error) {
	s.metrics.Observe(op, started, *errp)
	if *errp != nil {
		de := domain.AsError(*errp)
		logging.Warn("Operation failed", "operation", op, "kind", string(de.Kind), "message", de.Message)
	}
}
