package correlate

import (
	"encoding/json"

	"github.com/personadesk/runstream/internal/domain"
)

// OutcomeKind classifies a resolved status notification.
type OutcomeKind int

const (
	// OutcomeNone means the notification is not yet terminal and should
	// be ignored.
	OutcomeNone OutcomeKind = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeAwaitingInput
)

// Outcome is the result of resolving a raw status notification.
type Outcome struct {
	Kind     OutcomeKind
	Result   json.RawMessage
	Error    string
	Question *domain.Question
}

// Resolve maps a status notification to an outcome using the shared
// status vocabulary. A failed status without an error message falls back
// to defaultErr. running/pending resolve to OutcomeNone.
func Resolve(ev domain.StatusEvent, defaultErr string) Outcome {
	switch ev.Status {
	case domain.JobStatusCompleted:
		return Outcome{Kind: OutcomeCompleted, Result: ev.Result}
	case domain.JobStatusFailed:
		msg := ev.Error
		if msg == "" {
			msg = defaultErr
		}
		return Outcome{Kind: OutcomeFailed, Error: msg}
	case domain.JobStatusAwaitingInput:
		return Outcome{Kind: OutcomeAwaitingInput, Question: ev.Question}
	default:
		return Outcome{Kind: OutcomeNone}
	}
}
