// Package domain holds the merge service's data model and error taxonomy.
// It has no transport or infrastructure dependencies.
package domain

import (
	"math"
	"time"
)

// LastPage as a PageRange end selects through the final page of a document.
const LastPage = math.MaxInt32

// UploadedDocument is raw client input. It is owned by the request until it is
// persisted into a workspace.
type UploadedDocument struct {
	Filename string
	Data     []byte
}

func (d UploadedDocument) Size() int64 { return int64(len(d.Data)) }

// ValidatedDocument only exists for documents that parsed with at least one page.
type ValidatedDocument struct {
	Filename   string
	StoredPath string
	PageCount  int
	SizeBytes  int64
}

// PageRange is an inclusive, 1-based page interval.
type PageRange struct {
	Start int
	End   int
}

// Clamp bounds r to [1, pageCount]. ok is false when nothing remains.
func (r PageRange) Clamp(pageCount int) (PageRange, bool) {
	start, end := r.Start, r.End
	if start < 1 {
		start = 1
	}
	if end > pageCount {
		end = pageCount
	}
	if start > end {
		return PageRange{}, false
	}
	return PageRange{Start: start, End: end}, true
}

// Len is the number of pages in the range.
func (r PageRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// MergeInput pairs a validated document with an optional ordered selection.
// A nil Ranges slice means the whole document.
type MergeInput struct {
	Document ValidatedDocument
	Ranges   []PageRange
}

// MergeResult describes a verified output document.
type MergeResult struct {
	OutputPath  string
	TotalPages  int
	SizeBytes   int64
	SourceCount int
}

// JobState is a step of the merge lifecycle.
type JobState string

const (
	StateReceived         JobState = "received"
	StateValidating       JobState = "validating"
	StatePersisting       JobState = "persisting"
	StateMerging          JobState = "merging"
	StateVerifying        JobState = "verifying"
	StateDelivering       JobState = "delivering"
	StateCleanupScheduled JobState = "cleanup_scheduled"
	StateCleanupImmediate JobState = "cleanup_immediate"
)

// Terminal reports whether no further transition follows s.
func (s JobState) Terminal() bool {
	return s == StateCleanupScheduled || s == StateCleanupImmediate
}

// MergeJob tracks one merge request from receipt to workspace reclamation.
type MergeJob struct {
	ID        string
	State     JobState
	Inputs    []MergeInput
	StartedAt time.Time
}
