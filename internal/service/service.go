// Package service wires the run engine together: one store, one event
// bus, one worker client, and per-key runners, conversation ledgers and
// consent sessions built on demand.
package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/personadesk/runstream/internal/bus"
	"github.com/personadesk/runstream/internal/config"
	"github.com/personadesk/runstream/internal/consent"
	"github.com/personadesk/runstream/internal/conversation"
	"github.com/personadesk/runstream/internal/correlate"
	"github.com/personadesk/runstream/internal/domain"
	"github.com/personadesk/runstream/internal/jobrun"
)

// Job kind catalog. Channel names and id fields are part of the worker
// wire contract.
var (
	KindDesign = jobrun.Kind{
		Name:         "design",
		Channels:     correlate.Channels{Progress: "design-output", Status: "design-status", IDField: "design_id"},
		BufferCap:    jobrun.ShortSessionCap,
		AllowInput:   true,
		DefaultError: "design analysis failed",
	}
	KindConnectorDesign = jobrun.Kind{
		Name:         "credential_design",
		Channels:     correlate.Channels{Progress: "credential-design-output", Status: "credential-design-status", IDField: "design_id"},
		BufferCap:    jobrun.ShortSessionCap,
		DefaultError: "connector design failed",
	}
	KindNegotiation = jobrun.Kind{
		Name:         "negotiation",
		Channels:     correlate.Channels{Progress: "negotiation-output", Status: "negotiation-status", IDField: "task_id"},
		BufferCap:    jobrun.ShortSessionCap,
		AllowInput:   true,
		DefaultError: "credential negotiation failed",
	}
	KindWorkflowImport = jobrun.Kind{
		Name:         "workflow_import",
		Channels:     correlate.Channels{Progress: "workflow-import-output", Status: "workflow-import-status", IDField: "import_id"},
		BufferCap:    jobrun.LongSessionCap,
		DefaultError: "workflow import failed",
	}
)

// Kinds lists every job kind the engine drives, for consumers that need
// to iterate the catalog (the websocket gateway subscribes to all of
// their channels).
func Kinds() []jobrun.Kind {
	return []jobrun.Kind{KindDesign, KindConnectorDesign, KindNegotiation, KindWorkflowImport}
}

// Store is the persistence surface the service needs.
type Store interface {
	conversation.Store
	CreateOwner(ctx context.Context, owner *domain.Owner) error
	GetOwner(ctx context.Context, ownerID string) (*domain.Owner, error)
	SaveOwnerResult(ctx context.Context, ownerID string, result json.RawMessage) error
}

// Worker starts and cancels backend jobs and drives consent flows.
type Worker interface {
	StartJob(ctx context.Context, kind jobrun.Kind, runID string, payload interface{}) error
	CancelJob(ctx context.Context, kind jobrun.Kind, runID string) error
	StartConsent(ctx context.Context, provider string, payload interface{}) (consent.StartResult, error)
	PollConsent(ctx context.Context, sessionID string) (consent.PollResult, error)
}

// Service exposes the engine operations consumed by the transports.
type Service struct {
	store  Store
	bus    *bus.Bus
	worker Worker
	config *config.Config

	// openers for consent authorization pages; injected so tests and
	// headless deployments stay browser-free
	openURL      func(url string) error
	openFallback func(url string) error

	mu       sync.Mutex
	runners  map[string]*jobrun.Runner
	ledgers  map[string]*conversation.Ledger
	consents map[string]*consent.Session
}

// New creates a service.
func New(store Store, b *bus.Bus, worker Worker, cfg *config.Config) *Service {
	return &Service{
		store:    store,
		bus:      b,
		worker:   worker,
		config:   cfg,
		runners:  make(map[string]*jobrun.Runner),
		ledgers:  make(map[string]*conversation.Ledger),
		consents: make(map[string]*consent.Session),
	}
}

// SetOpeners installs the functions used to open consent authorization
// pages. The fallback is tried when the primary opener fails.
func (s *Service) SetOpeners(primary, fallback func(url string) error) {
	s.openURL = primary
	s.openFallback = fallback
}

// Close stops the conversation writer goroutines and aborts any live
// consent polling loops.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.ledgers {
		l.Close()
	}
	for _, sess := range s.consents {
		sess.Reset()
	}
}

// runner returns the runner for (kind, key), creating it on first use.
func (s *Service) runner(kind jobrun.Kind, key string) *jobrun.Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := kind.Name + "/" + key
	r, ok := s.runners[name]
	if !ok {
		r = jobrun.NewRunner(s.bus, kind)
		s.runners[name] = r
	}
	return r
}

// designRunner is like runner but mirrors design transitions into the
// owner's conversation.
func (s *Service) designRunner(ownerID string) *jobrun.Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := KindDesign.Name + "/" + ownerID
	r, ok := s.runners[name]
	if !ok {
		r = jobrun.NewRunner(s.bus, KindDesign)
		r.SetOnTransition(s.mirrorDesignTransition(ownerID))
		s.runners[name] = r
	}
	return r
}

// ledger returns the conversation ledger for an owner, creating it on
// first use.
func (s *Service) ledger(ownerID string) *conversation.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[ownerID]
	if !ok {
		l = conversation.NewLedger(ownerID, s.store)
		s.ledgers[ownerID] = l
	}
	return l
}

// consentSession returns the consent session for a connector, creating
// it on first use.
func (s *Service) consentSession(connectorID, provider string) *consent.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.consents[connectorID]
	if !ok {
		fn := consent.Funcs{
			Start: func(ctx context.Context) (consent.StartResult, error) {
				return s.worker.StartConsent(ctx, provider, map[string]string{"connector_id": connectorID})
			},
			Poll:         s.worker.PollConsent,
			OpenURL:      s.openURL,
			OpenFallback: s.openFallback,
		}
		sess = consent.NewSession(consent.Config{
			Label:        provider,
			StartTimeout: s.config.ConsentStartTimeout,
			PollInterval: s.config.ConsentPollInterval,
			FailureLimit: consent.DefaultFailureLimit,
		}, fn)
		s.consents[connectorID] = sess
	}
	return sess
}

func assistantMessage(content string, mt domain.MessageType) domain.Message {
	return domain.Message{Role: "assistant", Content: content, MessageType: mt, Timestamp: time.Now()}
}

func userMessage(content string, mt domain.MessageType) domain.Message {
	return domain.Message{Role: "user", Content: content, MessageType: mt, Timestamp: time.Now()}
}

// mirrorDesignTransition records assistant-side conversation entries for
// the transitions worth keeping: questions, results, and failures. The
// append is queued on the ledger's writer goroutine, so this is safe to
// call from the bus delivery path.
func (s *Service) mirrorDesignTransition(ownerID string) func(domain.RunState) {
	return func(st domain.RunState) {
		var msg domain.Message
		var lastResult json.RawMessage

		switch st.Phase {
		case domain.PhaseAwaitingInput:
			if st.Question == nil {
				return
			}
			msg = assistantMessage(st.Question.Question, domain.MessageTypeQuestion)
		case domain.PhaseCompleted:
			msg = assistantMessage(string(st.Result), domain.MessageTypeResult)
			lastResult = st.Result
		case domain.PhaseFailed, domain.PhaseError:
			msg = assistantMessage(st.Error, domain.MessageTypeError)
		default:
			return
		}

		log.Printf("INFO: design run %s for %s reached %s", st.RunID, ownerID, st.Phase)
		s.ledger(ownerID).Append(func(*domain.Conversation) (domain.Message, json.RawMessage) {
			return msg, lastResult
		})
	}
}
