package handlers

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"pdfmerge/internal/domain"
	"pdfmerge/internal/infra/logging"
	"pdfmerge/internal/orchestrator"
)

const (
	filesField   = "files[]"
	fileField    = "file"
	optionsField = "options"
)

// MergeService is the part of orchestrator.Service the handlers call.
type MergeService interface {
	ValidateBatch(ctx context.Context, docs []domain.UploadedDocument) (orchestrator.BatchReport, error)
	Merge(ctx context.Context, docs []domain.UploadedDocument) (*orchestrator.Delivery, error)
	MergeAdvanced(ctx context.Context, docs []domain.UploadedDocument, opts orchestrator.MergeOptions) (*orchestrator.Delivery, error)
	Preview(ctx context.Context, doc domain.UploadedDocument) (orchestrator.PreviewInfo, error)
}

type MergeHandler struct {
	svc MergeService
}

func NewMergeHandler(svc MergeService) *MergeHandler {
	return &MergeHandler{svc: svc}
}

// HandleValidate reports page counts for every uploaded file.
func (h *MergeHandler) HandleValidate(c *fiber.Ctx) error {
	docs, err := readFiles(c, filesField)
	if err != nil {
		return err
	}

	report, err := h.svc.ValidateBatch(c.UserContext(), docs)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"files":       report.Files,
		"total_files": report.TotalFiles,
		"total_pages": report.TotalPages,
	})
}

// HandleMerge merges the uploaded files in arrival order.
func (h *MergeHandler) HandleMerge(c *fiber.Ctx) error {
	docs, err := readFiles(c, filesField)
	if err != nil {
		return err
	}

	d, err := h.svc.Merge(c.UserContext(), docs)
	if err != nil {
		return err
	}
	return deliver(c, d)
}

// HandleMergeMultiple merges with the ordering and page ranges from the
// "options" field.
func (h *MergeHandler) HandleMergeMultiple(c *fiber.Ctx) error {
	docs, err := readFiles(c, filesField)
	if err != nil {
		return err
	}

	d, err := h.svc.MergeAdvanced(c.UserContext(), docs, parseOptions(c.FormValue(optionsField)))
	if err != nil {
		return err
	}

	c.Set("X-Total-Pages", strconv.Itoa(d.Result.TotalPages))
	c.Set("X-Files-Merged", strconv.Itoa(d.Result.SourceCount))
	return deliver(c, d)
}

// HandlePreview returns metadata and a text excerpt for one file.
func (h *MergeHandler) HandlePreview(c *fiber.Ctx) error {
	docs, err := readFiles(c, fileField)
	if err != nil {
		return err
	}

	var doc domain.UploadedDocument
	if len(docs) > 0 {
		doc = docs[0]
	}

	info, err := h.svc.Preview(c.UserContext(), doc)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"filename":     info.Filename,
		"pages":        info.Pages,
		"size":         info.Size,
		"preview_text": info.PreviewText,
	})
}

func deliver(c *fiber.Ctx, d *orchestrator.Delivery) error {
	c.Set("X-Merge-Id", d.JobID)
	return c.Download(d.Result.OutputPath, d.DownloadName)
}

// readFiles loads every part named field. A request that is not multipart
// yields no documents; the service turns that into a NoInput error.
func readFiles(c *fiber.Ctx, field string) ([]domain.UploadedDocument, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil
	}

	headers := form.File[field]
	docs := make([]domain.UploadedDocument, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "Failed to read upload %s", fh.Filename)
		}
		docs = append(docs, domain.UploadedDocument{Filename: fh.Filename, Data: data})
	}
	return docs, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

type rangeForm struct {
	Start *int `json:"start"`
	End   *int `json:"end"`
}

type optionsForm struct {
	FileOrder  []int                  `json:"file_order"`
	PageRanges map[string][]rangeForm `json:"page_ranges"`
}

// parseOptions decodes the merge options form value. Malformed JSON is treated
// as no options. A missing start means page 1, a missing end the last page.
func parseOptions(raw string) orchestrator.MergeOptions {
	if raw == "" {
		return orchestrator.MergeOptions{}
	}

	var form optionsForm
	if err := json.Unmarshal([]byte(raw), &form); err != nil {
		logging.Warn("Ignoring malformed merge options", "error", err)
		return orchestrator.MergeOptions{}
	}

	opts := orchestrator.MergeOptions{FileOrder: form.FileOrder}
	if len(form.PageRanges) > 0 {
		opts.PageRanges = make(map[string][]domain.PageRange, len(form.PageRanges))
		for name, items := range form.PageRanges {
			ranges := make([]domain.PageRange, 0, len(items))
			for _, rs := range items {
				r := domain.PageRange{Start: 1, End: domain.LastPage}
				if rs.Start != nil {
					r.Start = *rs.Start
				}
				if rs.End != nil {
					r.End = *rs.End
				}
				ranges = append(ranges, r)
			}
			opts.PageRanges[name] = ranges
		}
	}
	return opts
}
