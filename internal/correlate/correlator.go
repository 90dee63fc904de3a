// Package correlate matches asynchronous event-bus notifications to the
// one logical run that owns them. Events carrying a different run ID are
// discarded without touching any state, which is what makes overlapping
// and superseded runs safe.
package correlate

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/personadesk/runstream/internal/bus"
	"github.com/personadesk/runstream/internal/domain"
)

// Channels names the event-bus channels and the payload field carrying
// the run identifier for one job kind.
type Channels struct {
	Progress string
	Status   string
	IDField  string
}

// LineFunc receives a correlated progress line.
type LineFunc func(runID, line string)

// StatusFunc receives a correlated status notification.
type StatusFunc func(runID string, ev domain.StatusEvent)

// Correlator owns the event-bus subscriptions for at most one run at a
// time. Handlers are handed the run ID so the owning state container can
// re-check it under its own lock before mutating anything.
type Correlator struct {
	bus *bus.Bus
	ch  Channels

	mu       sync.Mutex
	runID    string
	unsubs   []func()
	onLine   LineFunc
	onStatus StatusFunc
}

// New creates a correlator for the given channels.
func New(b *bus.Bus, ch Channels) *Correlator {
	return &Correlator{bus: b, ch: ch}
}

// Start tears down any previous subscriptions, registers the progress and
// status subscriptions, then invokes the backend command. Both
// subscriptions are active before invoke runs; a sufficiently fast
// backend can otherwise complete before the status handler exists.
// If invoke fails the subscriptions are torn down and the error returned.
func (c *Correlator) Start(ctx context.Context, runID string, onLine LineFunc, onStatus StatusFunc, invoke func(context.Context) error) error {
	c.mu.Lock()
	c.teardownLocked()
	c.runID = runID
	c.onLine = onLine
	c.onStatus = onStatus
	c.unsubs = []func(){
		c.bus.Subscribe(c.ch.Progress, c.handleProgress),
		c.bus.Subscribe(c.ch.Status, c.handleStatus),
	}
	c.mu.Unlock()

	if err := invoke(ctx); err != nil {
		// scoped: a Start that superseded us mid-invoke keeps its
		// subscriptions
		c.TeardownIf(runID)
		return err
	}
	return nil
}

// Cancel tears down subscriptions and best-effort invokes the backend
// cancel command. A backend that fails to cancel is not an error; the
// caller proceeds to idle regardless.
func (c *Correlator) Cancel(ctx context.Context, cancelFn func(context.Context) error) {
	c.Teardown()
	if cancelFn != nil {
		if err := cancelFn(ctx); err != nil {
			log.Printf("WARN: backend cancel failed: %v", err)
		}
	}
}

// Teardown releases all subscriptions and forgets the active run ID.
func (c *Correlator) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// TeardownIf releases the subscriptions only while runID is still the
// active run. Terminal handlers use it so a handler that observed its
// run before being superseded cannot destroy the successor's
// subscriptions.
func (c *Correlator) TeardownIf(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runID != runID {
		return
	}
	c.teardownLocked()
}

// ActiveRunID returns the run ID currently owning the subscriptions, or
// "" when none is active.
func (c *Correlator) ActiveRunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

func (c *Correlator) teardownLocked() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	c.runID = ""
	c.onLine = nil
	c.onStatus = nil
}

func (c *Correlator) handleProgress(payload []byte) {
	runID, body, ok := c.correlate(payload)
	if !ok {
		return
	}
	var ev domain.ProgressEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Printf("WARN: malformed progress event: %v", err)
		return
	}
	c.mu.Lock()
	onLine := c.onLine
	c.mu.Unlock()
	if onLine != nil {
		onLine(runID, ev.Line)
	}
}

func (c *Correlator) handleStatus(payload []byte) {
	runID, body, ok := c.correlate(payload)
	if !ok {
		return
	}
	var ev domain.StatusEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Printf("WARN: malformed status event: %v", err)
		return
	}
	c.mu.Lock()
	onStatus := c.onStatus
	c.mu.Unlock()
	if onStatus != nil {
		onStatus(runID, ev)
	}
}

// correlate extracts the run identifier from the envelope and discards
// the event unless it matches the active run.
func (c *Correlator) correlate(payload []byte) (string, []byte, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		log.Printf("WARN: malformed event envelope: %v", err)
		return "", nil, false
	}
	var runID string
	if raw, ok := fields[c.ch.IDField]; ok {
		if err := json.Unmarshal(raw, &runID); err != nil {
			return "", nil, false
		}
	}

	c.mu.Lock()
	active := c.runID
	c.mu.Unlock()
	if runID == "" || runID != active {
		return "", nil, false
	}
	return runID, payload, true
}
