// Package consent implements the polling sibling of the streaming run
// engine: flows that open an external authorization page and wait for
// completion by polling a status endpoint instead of subscribing to
// events.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/personadesk/runstream/internal/domain"
)

// Defaults for the start race and the poll cadence.
const (
	DefaultStartTimeout = 12 * time.Second
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultFailureLimit = 3
)

// ErrSessionLost is surfaced when polling accumulates repeated fetch
// failures, so the UI can prompt re-authorization instead of showing a
// generic error.
var ErrSessionLost = errors.New("authorization session lost")

// StartResult is returned by the backend start command.
type StartResult struct {
	SessionID string `json:"session_id"`
	AuthURL   string `json:"auth_url"`
}

// PollResult is returned by the backend status endpoint.
type PollResult struct {
	Status string            `json:"status"` // "pending", "success", "error"
	Error  string            `json:"error,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Funcs are the injected collaborators of one consent flow.
type Funcs struct {
	// Start launches the authorization flow on the backend.
	Start func(ctx context.Context) (StartResult, error)
	// Poll fetches the session status.
	Poll func(ctx context.Context, sessionID string) (PollResult, error)
	// OpenURL opens the authorization page through the preferred
	// external mechanism.
	OpenURL func(url string) error
	// OpenFallback is tried when OpenURL fails (an in-process popup).
	OpenFallback func(url string) error
	// Extract merges a terminal poll result into the accumulated
	// credential-like values. Optional; defaults to the raw fields.
	Extract func(PollResult) map[string]string
}

// Config tunes one consent session.
type Config struct {
	Label        string
	StartTimeout time.Duration
	PollInterval time.Duration
	FailureLimit int
}

// Session drives one authorize-then-poll flow. At most one polling loop
// is live per session; a new Start supersedes and aborts the old loop.
type Session struct {
	cfg Config
	fn  Funcs

	mu          sync.Mutex
	gen         int
	cancel      context.CancelFunc
	sessionID   string
	status      domain.ConsentStatus
	errMsg      string
	lost        bool
	values      map[string]string
	completedAt *time.Time
}

// NewSession creates an idle session. Zero config fields get defaults.
func NewSession(cfg Config, fn Funcs) *Session {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = DefaultFailureLimit
	}
	return &Session{
		cfg:    cfg,
		fn:     fn,
		status: domain.ConsentIdle,
		values: make(map[string]string),
	}
}

// Start begins the authorization flow. A call while already authorizing
// is a no-op, so a double-invocation produces exactly one authorization
// attempt. Starting over a pending session aborts the previous loop
// first.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == domain.ConsentAuthorizing {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	if s.cancel != nil {
		s.cancel()
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.status = domain.ConsentAuthorizing
	s.sessionID = ""
	s.errMsg = ""
	s.lost = false
	s.completedAt = nil
	s.mu.Unlock()

	// race the backend start call against a fixed timeout
	startCtx, cancelStart := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancelStart()
	res, err := s.fn.Start(startCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("authorization start timed out after %s", s.cfg.StartTimeout)
		}
		s.fail(gen, err.Error(), false)
		return err
	}

	if err := s.openAuthPage(res.AuthURL); err != nil {
		s.fail(gen, err.Error(), false)
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		// superseded while starting; discard rather than mutate
		s.mu.Unlock()
		return nil
	}
	s.sessionID = res.SessionID
	s.status = domain.ConsentPending
	s.mu.Unlock()

	go s.pollLoop(loopCtx, gen, res.SessionID)
	return nil
}

// Reset aborts any in-flight polling loop and clears all session state.
// A user-requested reset is never an error.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.sessionID = ""
	s.status = domain.ConsentIdle
	s.errMsg = ""
	s.lost = false
	s.values = make(map[string]string)
	s.completedAt = nil
}

// State returns a copy of the session's observable state.
func (s *Session) State() domain.ConsentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := make(map[string]string, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return domain.ConsentState{
		SessionID:   s.sessionID,
		Label:       s.cfg.Label,
		Status:      s.status,
		Error:       s.errMsg,
		SessionLost: s.lost,
		Values:      values,
		CompletedAt: s.completedAt,
	}
}

func (s *Session) openAuthPage(url string) error {
	if err := s.fn.OpenURL(url); err != nil {
		log.Printf("WARN: external open failed, trying fallback: %v", err)
		if s.fn.OpenFallback == nil {
			return fmt.Errorf("failed to open authorization page: %w", err)
		}
		if err := s.fn.OpenFallback(url); err != nil {
			return fmt.Errorf("failed to open authorization page: %w", err)
		}
	}
	return nil
}

func (s *Session) pollLoop(ctx context.Context, gen int, sessionID string) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := s.fn.Poll(ctx, sessionID)
		if s.stale(gen) {
			return
		}
		if err != nil {
			failures++
			log.Printf("WARN: consent poll failed (%d/%d): %v", failures, s.cfg.FailureLimit, err)
			if failures >= s.cfg.FailureLimit {
				s.fail(gen, ErrSessionLost.Error(), true)
				return
			}
			continue
		}
		failures = 0

		switch res.Status {
		case "pending", "running":
			// not yet terminal
		case "success":
			s.succeed(gen, res)
			return
		default:
			msg := res.Error
			if msg == "" {
				msg = fmt.Sprintf("authorization failed with status %q", res.Status)
			}
			s.fail(gen, msg, false)
			return
		}
	}
}

func (s *Session) stale(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.gen
}

func (s *Session) succeed(gen int, res PollResult) {
	extracted := res.Fields
	if s.fn.Extract != nil {
		extracted = s.fn.Extract(res)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	for k, v := range extracted {
		s.values[k] = v
	}
	now := time.Now()
	s.completedAt = &now
	s.status = domain.ConsentSuccess
	s.sessionID = ""
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) fail(gen int, msg string, lost bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.status = domain.ConsentFailure
	s.errMsg = msg
	s.lost = lost
	s.sessionID = ""
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
