package consent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/personadesk/runstream/internal/domain"
)

func fastConfig() Config {
	return Config{
		Label:        "google-drive",
		StartTimeout: 200 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		FailureLimit: 3,
	}
}

func okOpen(string) error { return nil }

func waitForStatus(t *testing.T, s *Session, want domain.ConsentStatus) domain.ConsentState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state := s.State(); state.Status == want {
			return state
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s (got %s)", want, s.State().Status)
	return domain.ConsentState{}
}

func TestSuccessfulFlowMergesValues(t *testing.T) {
	polls := int32(0)
	s := NewSession(fastConfig(), Funcs{
		Start: func(context.Context) (StartResult, error) {
			return StartResult{SessionID: "sess1", AuthURL: "https://auth.example/consent"}, nil
		},
		Poll: func(_ context.Context, sessionID string) (PollResult, error) {
			if atomic.AddInt32(&polls, 1) < 3 {
				return PollResult{Status: "pending"}, nil
			}
			return PollResult{Status: "success", Fields: map[string]string{"access_token": "tok"}}, nil
		},
		OpenURL: okOpen,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	state := waitForStatus(t, s, domain.ConsentSuccess)

	if state.Values["access_token"] != "tok" {
		t.Fatalf("values not merged: %v", state.Values)
	}
	if state.CompletedAt == nil {
		t.Fatal("completion timestamp not recorded")
	}
	if state.SessionID != "" {
		t.Fatalf("session id not cleared on terminal result: %q", state.SessionID)
	}
}

func TestDoubleStartWhileAuthorizingIsNoOp(t *testing.T) {
	starts := int32(0)
	release := make(chan struct{})
	s := NewSession(fastConfig(), Funcs{
		Start: func(context.Context) (StartResult, error) {
			atomic.AddInt32(&starts, 1)
			<-release
			return StartResult{SessionID: "sess1", AuthURL: "https://auth.example"}, nil
		},
		Poll: func(context.Context, string) (PollResult, error) {
			return PollResult{Status: "success"}, nil
		},
		OpenURL: okOpen,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Start(context.Background())
	}()

	// wait until the first call is inside the backend start
	for atomic.LoadInt32(&starts) == 0 {
		time.Sleep(time.Millisecond)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	close(release)
	wg.Wait()
	waitForStatus(t, s, domain.ConsentSuccess)

	if got := atomic.LoadInt32(&starts); got != 1 {
		t.Fatalf("expected exactly one authorization attempt, got %d", got)
	}
}

func TestStartTimeoutIsAStartFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.StartTimeout = 10 * time.Millisecond
	s := NewSession(cfg, Funcs{
		Start: func(ctx context.Context) (StartResult, error) {
			<-ctx.Done()
			return StartResult{}, ctx.Err()
		},
		Poll:    func(context.Context, string) (PollResult, error) { return PollResult{}, nil },
		OpenURL: okOpen,
	})

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
	state := s.State()
	if state.Status != domain.ConsentFailure {
		t.Fatalf("expected failure, got %s", state.Status)
	}
}

func TestOpenerFallback(t *testing.T) {
	fallbackUsed := false
	s := NewSession(fastConfig(), Funcs{
		Start: func(context.Context) (StartResult, error) {
			return StartResult{SessionID: "sess1", AuthURL: "https://auth.example"}, nil
		},
		Poll: func(context.Context, string) (PollResult, error) {
			return PollResult{Status: "success"}, nil
		},
		OpenURL: func(string) error { return errors.New("no external opener") },
		OpenFallback: func(string) error {
			fallbackUsed = true
			return nil
		},
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !fallbackUsed {
		t.Fatal("fallback opener not used")
	}
	waitForStatus(t, s, domain.ConsentSuccess)
}

func TestBothOpenersFailingFailsTheFlow(t *testing.T) {
	bad := func(string) error { return errors.New("nope") }
	s := NewSession(fastConfig(), Funcs{
		Start: func(context.Context) (StartResult, error) {
			return StartResult{SessionID: "sess1", AuthURL: "https://auth.example"}, nil
		},
		Poll:         func(context.Context, string) (PollResult, error) { return PollResult{}, nil },
		OpenURL:      bad,
		OpenFallback: bad,
	})

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error when neither opener works")
	}
	if s.State().Status != domain.ConsentFailure {
		t.Fatalf("expected failure, got %s", s.State().Status)
	}
}

func TestRepeatedPollFailuresSurfaceSessionLost(t *testing.T) {
	s := NewSession(fastConfig(), Funcs{
		Start: func(context.Context) (StartResult, error) {
			return StartResult{SessionID: "sess1", AuthURL: "https://auth.example"}, nil
		},
		Poll: func(context.Context, string) (PollResult, error) {
			return PollResult{}, errors.New("connection refused")
		},
		OpenURL: okOpen,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	state := waitForStatus(t, s, domain.ConsentFailure)
	if !state.SessionLost {
		t.Fatalf("expected session-lost failure, got %+v", state)
	}
}

func TestResetAbortsPollingLoop(t *testing.T) {
	polls := int32(0)
	s := NewSession(fastConfig(), Funcs{
		Start: func(context.Context) (StartResult, error) {
			return StartResult{SessionID: "sess1", AuthURL: "https://auth.example"}, nil
		},
		Poll: func(context.Context, string) (PollResult, error) {
			atomic.AddInt32(&polls, 1)
			return PollResult{Status: "pending"}, nil
		},
		OpenURL: okOpen,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for atomic.LoadInt32(&polls) == 0 {
		time.Sleep(time.Millisecond)
	}

	s.Reset()
	if s.State().Status != domain.ConsentIdle {
		t.Fatalf("expected idle after reset, got %s", s.State().Status)
	}

	settled := atomic.LoadInt32(&polls)
	time.Sleep(50 * time.Millisecond)
	// allow one in-flight poll to finish; its result must be discarded
	if late := atomic.LoadInt32(&polls); late > settled+1 {
		t.Fatalf("polling loop survived reset: %d -> %d", settled, late)
	}
}

func TestSupersedingStartRunsOneLoop(t *testing.T) {
	var mu sync.Mutex
	sessions := make(map[string]int)
	s := NewSession(fastConfig(), Funcs{
		Start: func(context.Context) (StartResult, error) {
			mu.Lock()
			id := "sess" + string(rune('a'+len(sessions)))
			sessions[id] = 0
			mu.Unlock()
			return StartResult{SessionID: id, AuthURL: "https://auth.example"}, nil
		},
		Poll: func(_ context.Context, sessionID string) (PollResult, error) {
			mu.Lock()
			sessions[sessionID]++
			mu.Unlock()
			return PollResult{Status: "pending"}, nil
		},
		OpenURL: okOpen,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	waitForStatus(t, s, domain.ConsentPending)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	waitForStatus(t, s, domain.ConsentPending)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	firstPolls := sessions["sessa"]
	mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if sessions["sessa"] > firstPolls+1 {
		t.Fatalf("superseded loop still polling: %d -> %d", firstPolls, sessions["sessa"])
	}
	if sessions["sessb"] == 0 {
		t.Fatal("new loop never polled")
	}
}
