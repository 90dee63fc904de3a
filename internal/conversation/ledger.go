// Package conversation maintains the ordered, persisted message log for
// one owning entity. All writes funnel through a single-writer queue so
// that concurrent trigger points (an assistant question and the user's
// answer, say) never clobber each other's base state.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/personadesk/runstream/internal/domain"
)

const maxTitleLen = 60

// Store is the persistence boundary. Writes through it are best-effort;
// conversation history is an advisory log, never the system of record
// for job outcome.
type Store interface {
	GetActiveConversation(ctx context.Context, ownerID string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, ownerID string) ([]domain.Conversation, error)
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	AppendMessages(ctx context.Context, id string, messages []domain.Message, lastResult json.RawMessage) error
	SetConversationStatus(ctx context.Context, id string, status domain.ConversationStatus) error
	DeleteConversation(ctx context.Context, id string) error
}

// BuildFunc produces the message to append. It runs on the writer
// goroutine and receives the latest conversation state at the time the
// write actually executes, not the state when Append was called. current
// is nil when no conversation is active yet. The returned lastResult, if
// non-nil, is cached on the conversation row.
type BuildFunc func(current *domain.Conversation) (domain.Message, json.RawMessage)

// Ledger serializes conversation writes for one owner.
type Ledger struct {
	ownerID string
	store   Store

	jobs    chan func()
	stopped chan struct{}

	// sendMu excludes enqueues against Close; the writer goroutine
	// never takes it, so a full queue still drains
	sendMu sync.Mutex
	closed bool

	mu     sync.Mutex
	active *domain.Conversation
	loaded bool
}

// NewLedger creates a ledger and starts its writer goroutine.
func NewLedger(ownerID string, store Store) *Ledger {
	l := &Ledger{
		ownerID: ownerID,
		store:   store,
		jobs:    make(chan func(), 64),
		stopped: make(chan struct{}),
	}
	go l.loop()
	return l
}

func (l *Ledger) loop() {
	defer close(l.stopped)
	for job := range l.jobs {
		job()
	}
}

// Close stops the writer goroutine after draining queued writes.
func (l *Ledger) Close() {
	l.sendMu.Lock()
	if !l.closed {
		l.closed = true
		close(l.jobs)
	}
	l.sendMu.Unlock()
	<-l.stopped
}

// enqueue hands a job to the writer goroutine, reporting whether it was
// accepted. Jobs offered after Close are refused rather than panicking;
// run events can still arrive from stream pumps during shutdown.
func (l *Ledger) enqueue(job func()) bool {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if l.closed {
		return false
	}
	l.jobs <- job
	return true
}

// Flush blocks until every write enqueued before it has executed.
func (l *Ledger) Flush() {
	done := make(chan struct{})
	if !l.enqueue(func() { close(done) }) {
		return
	}
	<-done
}

// Append enqueues a write. Writes execute strictly in call order. Appends
// to a closed ledger are dropped.
func (l *Ledger) Append(build BuildFunc) {
	l.enqueue(func() { l.runAppend(build) })
}

// Resume makes target the active conversation, atomically abandoning the
// previously active one if it is different. It waits for the queued
// write to execute so callers observe the switch.
func (l *Ledger) Resume(ctx context.Context, target string) (*domain.Conversation, error) {
	type reply struct {
		conv *domain.Conversation
		err  error
	}
	ch := make(chan reply, 1)
	ok := l.enqueue(func() {
		conv, err := l.runResume(target)
		ch <- reply{conv, err}
	})
	if !ok {
		return nil, fmt.Errorf("conversation ledger closed")
	}
	select {
	case r := <-ch:
		return r.conv, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete marks the active conversation completed and clears the active
// pointer.
func (l *Ledger) Complete(ctx context.Context) error {
	ch := make(chan error, 1)
	if !l.enqueue(func() { ch <- l.runComplete() }) {
		return fmt.Errorf("conversation ledger closed")
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns a copy of the active conversation, or nil.
func (l *Ledger) Active(ctx context.Context) (*domain.Conversation, error) {
	l.mu.Lock()
	if !l.loaded {
		l.mu.Unlock()
		conv, err := l.store.GetActiveConversation(ctx, l.ownerID)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		if !l.loaded {
			l.active = conv
			l.loaded = true
		}
	}
	defer l.mu.Unlock()
	return copyConversation(l.active), nil
}

func (l *Ledger) runAppend(build BuildFunc) {
	ctx := context.Background()
	current := l.currentLocked(ctx)

	msg, lastResult := build(copyConversation(current))

	if current == nil {
		conv := &domain.Conversation{
			ID:         "conv_" + uuid.New().String()[:8],
			OwnerID:    l.ownerID,
			Title:      deriveTitle(msg.Content),
			Status:     domain.ConversationActive,
			Messages:   []domain.Message{msg},
			LastResult: lastResult,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		if err := l.store.CreateConversation(ctx, conv); err != nil {
			log.Printf("ERROR: failed to create conversation for %s: %v", l.ownerID, err)
			// best-effort: keep the in-memory log either way
		}
		l.setActive(conv)
		return
	}

	current.Messages = append(current.Messages, msg)
	if lastResult != nil {
		current.LastResult = lastResult
	}
	current.UpdatedAt = time.Now()
	if err := l.store.AppendMessages(ctx, current.ID, current.Messages, lastResult); err != nil {
		log.Printf("ERROR: failed to append message to conversation %s: %v", current.ID, err)
	}
	l.setActive(current)
}

func (l *Ledger) runResume(target string) (*domain.Conversation, error) {
	ctx := context.Background()
	current := l.currentLocked(ctx)

	if current != nil && current.ID != target {
		if err := l.store.SetConversationStatus(ctx, current.ID, domain.ConversationAbandoned); err != nil {
			log.Printf("WARN: failed to abandon conversation %s: %v", current.ID, err)
		}
	}

	conv, err := l.store.GetConversation(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", target, err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found", target)
	}
	if conv.Status != domain.ConversationActive {
		if err := l.store.SetConversationStatus(ctx, target, domain.ConversationActive); err != nil {
			log.Printf("WARN: failed to activate conversation %s: %v", target, err)
		}
		conv.Status = domain.ConversationActive
	}
	l.setActive(conv)
	return copyConversation(conv), nil
}

func (l *Ledger) runComplete() error {
	ctx := context.Background()
	current := l.currentLocked(ctx)
	if current == nil {
		return nil
	}
	if err := l.store.SetConversationStatus(ctx, current.ID, domain.ConversationCompleted); err != nil {
		log.Printf("WARN: failed to complete conversation %s: %v", current.ID, err)
	}
	l.setActive(nil)
	return nil
}

// currentLocked returns the latest in-memory conversation, loading the
// persisted active one on first use.
func (l *Ledger) currentLocked(ctx context.Context) *domain.Conversation {
	l.mu.Lock()
	loaded, active := l.loaded, l.active
	l.mu.Unlock()
	if loaded {
		return active
	}

	conv, err := l.store.GetActiveConversation(ctx, l.ownerID)
	if err != nil {
		log.Printf("WARN: failed to load active conversation for %s: %v", l.ownerID, err)
		conv = nil
	}
	l.mu.Lock()
	l.active = conv
	l.loaded = true
	l.mu.Unlock()
	return conv
}

func (l *Ledger) setActive(conv *domain.Conversation) {
	l.mu.Lock()
	l.active = conv
	l.loaded = true
	l.mu.Unlock()
}

func deriveTitle(content string) string {
	title := content
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen] + "..."
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}

func copyConversation(conv *domain.Conversation) *domain.Conversation {
	if conv == nil {
		return nil
	}
	out := *conv
	out.Messages = make([]domain.Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return &out
}
