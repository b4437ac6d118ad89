package model

import "time"

// RunStatus is the lifecycle state of an import run.
type RunStatus string

// Import run statuses.
const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
)

// ImportRun records one batch invocation of the importer.
type ImportRun struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Status     RunStatus  `json:"status"`
	Created    int        `json:"created"`
	Updated    int        `json:"updated"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ErrorCode classifies a row-level error.
type ErrorCode string

// Row error codes.
const (
	ErrCodeValidation  ErrorCode = "validation"
	ErrCodeReference   ErrorCode = "reference"
	ErrCodePersistence ErrorCode = "persistence"
	ErrCodeFetch       ErrorCode = "fetch"
)

// RowError is one field- or record-level error on an imported row.
type RowError struct {
	Field   string    `json:"field,omitempty"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// RowResult is the outcome of one input row. PostID is empty when no entity
/// was created or updated. Errors may be non-empty even when PostID is set:
// a reference that failed to resolve is reported while the scalar fields
// still persist.
type RowResult struct {
	Index  int        `json:"index"`
	Kind   string     `json:"kind"`
	PostID string     `json:"post_id,omitempty"`
	Errors []RowError `json:"errors,omitempty"`
}

// Failed reports whether the row produced no entity at all.
func (r RowResult) Failed() bool {
	return r.PostID == ""
}

// Report aggregates the per-row outcomes of one batch, in input order.
type Report struct {
	RunID   string      `json:"run_id"`
	Rows    []RowResult `json:"rows"`
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Failed  int         `json:"failed"`
}
