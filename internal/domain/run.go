// Package domain defines the core domain models for the runstream engine.
package domain

import (
	"encoding/json"
	"time"
)

// RunPhase represents the position of a run in its lifecycle state machine.
type RunPhase string

const (
	PhaseIdle          RunPhase = "idle"
	PhaseRunning       RunPhase = "running"
	PhaseAwaitingInput RunPhase = "awaiting_input"
	PhaseCompleted     RunPhase = "completed"
	PhaseFailed        RunPhase = "failed"
	PhaseApplying      RunPhase = "applying"
	PhaseApplied       RunPhase = "applied"
	PhaseError         RunPhase = "error"
)

// Terminal reports whether the phase ends the current run. A new run may
// still be started from a terminal phase with a fresh run ID.
func (p RunPhase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseApplied, PhaseError:
		return true
	}
	return false
}

// Question is emitted when the backend pauses for clarification.
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// RunState is a point-in-time copy of a run's observable state.
type RunState struct {
	RunID     string          `json:"run_id"`
	Phase     RunPhase        `json:"phase"`
	Lines     []string        `json:"lines"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Question  *Question       `json:"question,omitempty"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
}
