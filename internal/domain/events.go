package domain

import "encoding/json"

// JobStatus is the shared status vocabulary on the status channel.
type JobStatus string

const (
	JobStatusRunning       JobStatus = "running"
	JobStatusPending       JobStatus = "pending"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusFailed        JobStatus = "failed"
	JobStatusAwaitingInput JobStatus = "awaiting_input"
)

// ProgressEvent is the decoded payload of a progress channel notification.
// The run identifier travels under a per-kind field name and is decoded
// separately (see correlate).
type ProgressEvent struct {
	Line string `json:"line"`
}

// StatusEvent is the decoded payload of a status channel notification.
type StatusEvent struct {
	Status   JobStatus       `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Question *Question       `json:"question,omitempty"`
}
