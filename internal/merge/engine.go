// Package merge concatenates validated documents into one verified output.
package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"pdfmerge/internal/domain"
	"pdfmerge/internal/infra/logging"
)

// Backend performs the file-level PDF operations.
type Backend interface {
	CollectPages(inFile, outFile string, selections []string) error
	MergeFiles(inFiles []string, outFile string) error
	PageCountFile(path string) (int, error)
}

type Engine struct {
	backend Backend
}

func NewEngine(backend Backend) *Engine {
	return &Engine{backend: backend}
}

// Merge writes inputs, in the given order, to outputPath. Inputs with ranges
// contribute only those ranges, each clamped to the document. Intermediate
// files go next to outputPath. On any error outputPath does not exist.
func (e *Engine) Merge(ctx context.Context, inputs []domain.MergeInput, outputPath string) (res domain.MergeResult, err error) {
	defer func() {
		if err != nil {
			_ = os.Remove(outputPath)
		}
	}()

	dir := filepath.Dir(outputPath)
	parts := make([]string, 0, len(inputs))
	expected := 0

	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return domain.MergeResult{}, domain.Wrap(domain.KindMergeFailure, err, "Merge cancelled")
		}

		if in.Ranges == nil {
			parts = append(parts, in.Document.StoredPath)
			expected += in.Document.PageCount
			logging.Debug("merge input added", "file", in.Document.Filename, "pages", in.Document.PageCount)
			continue
		}

		selections, n := Selections(in.Ranges, in.Document.PageCount)
		if n == 0 {
			logging.Debug("merge input contributes no pages", "file", in.Document.Filename)
			continue
		}

		part := filepath.Join(dir, fmt.Sprintf("sel_%03d.pdf", i))
		if err := e.backend.CollectPages(in.Document.StoredPath, part, selections); err != nil {
			return domain.MergeResult{}, domain.Wrap(domain.KindMergeFailure, err,
				"Failed to extract pages from %s", in.Document.Filename)
		}
		parts = append(parts, part)
		expected += n
		logging.Debug("merge input added", "file", in.Document.Filename, "pages", n, "ranges", selections)
	}

	if len(parts) == 0 {
		return domain.MergeResult{}, domain.Errorf(domain.KindMergeFailure, "Merge produced an empty output")
	}

	if err := e.backend.MergeFiles(parts, outputPath); err != nil {
		return domain.MergeResult{}, domain.Wrap(domain.KindMergeFailure, err, "Failed to merge documents")
	}

	return e.verify(outputPath, expected, len(parts))
}

func (e *Engine) verify(path string, expected, sources int) (domain.MergeResult, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return domain.MergeResult{}, domain.Wrap(domain.KindMergeFailure, err, "Merge produced an empty output")
	}

	pages, err := e.backend.PageCountFile(path)
	if err != nil || pages < 1 {
		return domain.MergeResult{}, domain.Wrap(domain.KindMergeFailure, err, "Merge produced an empty output")
	}
	if pages != expected {
		return domain.MergeResult{}, domain.Errorf(domain.KindMergeFailure,
			"Merged output has %d pages, expected %d", pages, expected)
	}

	return domain.MergeResult{
		OutputPath:  path,
		TotalPages:  pages,
		SizeBytes:   info.Size(),
		SourceCount: sources,
	}, nil
}

// Selections clamps ranges to pageCount and renders them in pdfcpu page
// selection syntax, dropping ranges left empty. n is the resulting page total.
func Selections(ranges []domain.PageRange, pageCount int) (sel []string, n int) {
	for _, r := range ranges {
		c, ok := r.Clamp(pageCount)
		if !ok {
			continue
		}
		if c.Start == c.End {
			sel = append(sel, strconv.Itoa(c.Start))
		} else {
			sel = append(sel, fmt.Sprintf("%d-%d", c.Start, c.End))
		}
		n += c.Len()
	}
	return sel, n
}
