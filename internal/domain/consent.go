package domain

import "time"

// ConsentStatus represents the status of an external authorization session.
type ConsentStatus string

const (
	ConsentIdle        ConsentStatus = "idle"
	ConsentAuthorizing ConsentStatus = "authorizing"
	ConsentPending     ConsentStatus = "pending"
	ConsentSuccess     ConsentStatus = "success"
	ConsentFailure     ConsentStatus = "failure"
)

// ConsentState is a point-in-time copy of a polling session's state.
type ConsentState struct {
	SessionID   string            `json:"session_id,omitempty"`
	Label       string            `json:"label,omitempty"`
	Status      ConsentStatus     `json:"status"`
	Error       string            `json:"error,omitempty"`
	SessionLost bool              `json:"session_lost,omitempty"`
	Values      map[string]string `json:"values,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}
