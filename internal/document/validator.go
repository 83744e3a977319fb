// Package document checks untrusted uploads before they take part in a merge.
package document

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"pdfmerge/internal/domain"
)

// PreviewPlaceholder replaces the excerpt when page text cannot be extracted.
const PreviewPlaceholder = "Could not extract text preview"

// Engine is the parsing capability the validator needs.
type Engine interface {
	PageCount(rs io.ReadSeeker) (int, error)
	PageText(r io.ReaderAt, size int64, page int) (string, error)
}

// Validator holds no mutable state and may be shared between requests.
type Validator struct {
	engine       Engine
	allowed      map[string]struct{}
	previewChars int
}

// NewValidator accepts extensions with or without a leading dot, in any case.
func NewValidator(engine Engine, extensions []string, previewChars int) *Validator {
	allowed := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	if previewChars < 1 {
		previewChars = 200
	}
	return &Validator{engine: engine, allowed: allowed, previewChars: previewChars}
}

// Allowed reports whether filename carries an accepted extension.
func (v *Validator) Allowed(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return false
	}
	_, ok := v.allowed[ext]
	return ok
}

// Validate confirms data is a readable document with at least one page. The
// returned document has no StoredPath; the caller sets it after persisting.
func (v *Validator) Validate(data []byte, filename string) (domain.ValidatedDocument, error) {
	if !v.Allowed(filename) {
		return domain.ValidatedDocument{}, domain.Errorf(domain.KindUnsupportedType,
			"Invalid file type: %s. Only PDF files are allowed.", filename)
	}
	if len(data) == 0 {
		return domain.ValidatedDocument{}, domain.Errorf(domain.KindInvalidDocument,
			"Invalid or corrupted PDF: %s (corrupt or unreadable)", filename)
	}

	pages, err := v.engine.PageCount(bytes.NewReader(data))
	if err != nil {
		return domain.ValidatedDocument{}, domain.Wrap(domain.KindInvalidDocument, err,
			"Invalid or corrupted PDF: %s (corrupt or unreadable)", filename)
	}
	if pages < 1 {
		return domain.ValidatedDocument{}, domain.Errorf(domain.KindInvalidDocument,
			"Invalid or corrupted PDF: %s (empty document)", filename)
	}

	return domain.ValidatedDocument{
		Filename:  filename,
		PageCount: pages,
		SizeBytes: int64(len(data)),
	}, nil
}

// Preview is a validated document plus a first-page text excerpt.
type Preview struct {
	Document domain.ValidatedDocument
	Text     string
}

// Preview validates data and extracts up to the configured number of
// characters from page 1. Extraction problems never fail the call.
func (v *Validator) Preview(data []byte, filename string) (Preview, error) {
	doc, err := v.Validate(data, filename)
	if err != nil {
		return Preview{}, err
	}

	text, err := v.engine.PageText(bytes.NewReader(data), int64(len(data)), 1)
	if err != nil {
		return Preview{Document: doc, Text: PreviewPlaceholder}, nil
	}
	return Preview{Document: doc, Text: Excerpt(text, v.previewChars)}, nil
}

// Excerpt cuts text to limit runes, marking the cut with "...".
func Excerpt(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
