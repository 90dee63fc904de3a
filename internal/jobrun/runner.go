// Package jobrun drives the idle → running → terminal lifecycle of one
// logical backend job on top of the run correlator.
package jobrun

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/personadesk/runstream/internal/bus"
	"github.com/personadesk/runstream/internal/correlate"
	"github.com/personadesk/runstream/internal/domain"
	"github.com/personadesk/runstream/internal/stream"
)

// StartFunc invokes the backend command for a run. It should return as
// soon as the job is launched; progress arrives over the bus.
type StartFunc func(ctx context.Context, runID string) error

// CancelFunc asks the backend to stop a run. Failures are swallowed.
type CancelFunc func(ctx context.Context, runID string) error

// ApplyFunc commits a completed result to the owning entity.
type ApplyFunc func(ctx context.Context, result json.RawMessage) error

// Runner owns the observable state of one logical run at a time. It is
// the single mutator of that state; correlated events, Cancel, Reset and
// Apply are the only paths that change it.
type Runner struct {
	kind Kind
	corr *correlate.Correlator

	// startMu serializes Start/Resume/Cancel/Reset so the runner state
	// and the correlator's subscription set always move together; event
	// handlers never take it
	startMu sync.Mutex

	mu        sync.Mutex
	runID     string
	phase     domain.RunPhase
	buf       *stream.Buffer
	result    json.RawMessage
	errMsg    string
	question  *domain.Question
	startedAt *time.Time
	cancelFn  CancelFunc

	onTransition func(domain.RunState)
}

// NewRunner creates an idle runner for the given job kind.
func NewRunner(b *bus.Bus, kind Kind) *Runner {
	cap := kind.BufferCap
	if cap <= 0 {
		cap = ShortSessionCap
	}
	return &Runner{
		kind:  kind,
		corr:  correlate.New(b, kind.Channels),
		phase: domain.PhaseIdle,
		buf:   stream.NewBuffer(cap),
	}
}

// SetOnTransition registers an observer called after every phase
// transition with a snapshot of the new state. Set before first use.
func (r *Runner) SetOnTransition(fn func(domain.RunState)) {
	r.mu.Lock()
	r.onTransition = fn
	r.mu.Unlock()
}

// Start begins a new run with a fresh run ID, superseding any previous
// run. Prior lines, result, error and question are cleared. The returned
// run ID identifies the run in subsequent events.
func (r *Runner) Start(ctx context.Context, invoke StartFunc, cancelFn CancelFunc) (string, error) {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	return r.begin(ctx, invoke, cancelFn)
}

// begin is Start without the serialization; callers hold startMu.
func (r *Runner) begin(ctx context.Context, invoke StartFunc, cancelFn CancelFunc) (string, error) {
	runID := "run_" + uuid.New().String()[:8]

	r.mu.Lock()
	r.runID = runID
	r.phase = domain.PhaseRunning
	r.buf.Reset()
	r.result = nil
	r.errMsg = ""
	r.question = nil
	now := time.Now()
	r.startedAt = &now
	r.cancelFn = cancelFn
	r.mu.Unlock()
	r.notify()

	err := r.corr.Start(ctx, runID, r.handleLine, r.handleStatus, func(ctx context.Context) error {
		return invoke(ctx, runID)
	})
	if err != nil {
		r.mu.Lock()
		if r.runID == runID {
			r.phase = domain.PhaseError
			r.errMsg = err.Error()
		}
		r.mu.Unlock()
		r.notify()
		return "", err
	}
	return runID, nil
}

// Resume continues an awaiting_input run with a fresh run ID, after the
// caller has delivered the user's answer to the backend start command.
func (r *Runner) Resume(ctx context.Context, invoke StartFunc) (string, error) {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.Lock()
	if r.phase != domain.PhaseAwaitingInput {
		phase := r.phase
		r.mu.Unlock()
		return "", fmt.Errorf("cannot resume from phase %q", phase)
	}
	cancelFn := r.cancelFn
	r.mu.Unlock()
	return r.begin(ctx, invoke, cancelFn)
}

// Cancel tears down subscriptions, best-effort cancels the backend job,
// and returns the runner to idle with empty lines and no error. User
// cancellation is never reported as an error.
func (r *Runner) Cancel(ctx context.Context) {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.Lock()
	runID := r.runID
	cancelFn := r.cancelFn
	r.mu.Unlock()

	var backendCancel func(context.Context) error
	if cancelFn != nil && runID != "" {
		backendCancel = func(ctx context.Context) error { return cancelFn(ctx, runID) }
	}
	r.corr.Cancel(ctx, backendCancel)

	r.resetState()
	r.notify()
}

// Reset returns the runner to idle, discarding all run state.
func (r *Runner) Reset() {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.corr.Teardown()
	r.resetState()
	r.notify()
}

// Apply commits a completed result. The phase moves through applying to
// applied; on failure it rolls back to completed with the failure message
// surfaced.
func (r *Runner) Apply(ctx context.Context, apply ApplyFunc) error {
	r.mu.Lock()
	if r.phase != domain.PhaseCompleted {
		phase := r.phase
		r.mu.Unlock()
		return fmt.Errorf("cannot apply from phase %q", phase)
	}
	r.phase = domain.PhaseApplying
	result := r.result
	r.mu.Unlock()
	r.notify()

	if err := apply(ctx, result); err != nil {
		r.mu.Lock()
		r.phase = domain.PhaseCompleted
		r.errMsg = err.Error()
		r.mu.Unlock()
		r.notify()
		return err
	}

	r.mu.Lock()
	r.phase = domain.PhaseApplied
	r.mu.Unlock()
	r.notify()
	return nil
}

// Snapshot returns a copy of the run's observable state.
func (r *Runner) Snapshot() domain.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Kind returns the runner's job kind.
func (r *Runner) Kind() Kind { return r.kind }

func (r *Runner) snapshotLocked() domain.RunState {
	return domain.RunState{
		RunID:     r.runID,
		Phase:     r.phase,
		Lines:     r.buf.Lines(),
		Result:    r.result,
		Error:     r.errMsg,
		Question:  r.question,
		StartedAt: r.startedAt,
	}
}

func (r *Runner) resetState() {
	r.mu.Lock()
	r.runID = ""
	r.phase = domain.PhaseIdle
	r.buf.Reset()
	r.result = nil
	r.errMsg = ""
	r.question = nil
	r.startedAt = nil
	r.cancelFn = nil
	r.mu.Unlock()
}

func (r *Runner) notify() {
	r.mu.Lock()
	fn := r.onTransition
	state := r.snapshotLocked()
	r.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (r *Runner) handleLine(runID, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// re-check under our own lock; a stale event must never mutate state
	if runID != r.runID {
		return
	}
	r.buf.Push(line)
}

func (r *Runner) handleStatus(runID string, ev domain.StatusEvent) {
	out := correlate.Resolve(ev, r.kind.DefaultError)

	r.mu.Lock()
	if runID != r.runID {
		r.mu.Unlock()
		return
	}

	switch out.Kind {
	case correlate.OutcomeNone:
		r.mu.Unlock()
		return
	case correlate.OutcomeCompleted:
		r.phase = domain.PhaseCompleted
		r.result = out.Result
		r.mu.Unlock()
		// terminal: release subscriptions, keep lines/result for
		// display; scoped so a Start superseding us in this window
		// keeps its own subscriptions
		r.corr.TeardownIf(runID)
	case correlate.OutcomeFailed:
		r.phase = domain.PhaseFailed
		r.errMsg = out.Error
		r.mu.Unlock()
		r.corr.TeardownIf(runID)
	case correlate.OutcomeAwaitingInput:
		if !r.kind.AllowInput {
			r.mu.Unlock()
			return
		}
		// non-terminal: the run keeps accepting events; a later
		// completed/failed may still arrive after the user answers
		r.phase = domain.PhaseAwaitingInput
		r.question = out.Question
		r.mu.Unlock()
	}
	r.notify()
}
