package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personadesk/runstream/internal/bus"
	"github.com/personadesk/runstream/internal/config"
	"github.com/personadesk/runstream/internal/consent"
	"github.com/personadesk/runstream/internal/domain"
	"github.com/personadesk/runstream/internal/jobrun"
	"github.com/personadesk/runstream/tests/helpers"
)

type startCall struct {
	kind    jobrun.Kind
	runID   string
	payload map[string]interface{}
}

type fakeWorker struct {
	mu       sync.Mutex
	starts   []startCall
	cancels  []string
	startErr error

	consentStart consent.StartResult
	consentErr   error
	pollResult   consent.PollResult
	pollErr      error
}

func (w *fakeWorker) StartJob(ctx context.Context, kind jobrun.Kind, runID string, payload interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startErr != nil {
		return w.startErr
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	w.starts = append(w.starts, startCall{kind: kind, runID: runID, payload: decoded})
	return nil
}

func (w *fakeWorker) CancelJob(ctx context.Context, kind jobrun.Kind, runID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancels = append(w.cancels, runID)
	return nil
}

func (w *fakeWorker) StartConsent(ctx context.Context, provider string, payload interface{}) (consent.StartResult, error) {
	return w.consentStart, w.consentErr
}

func (w *fakeWorker) PollConsent(ctx context.Context, sessionID string) (consent.PollResult, error) {
	return w.pollResult, w.pollErr
}

func (w *fakeWorker) lastStart(t *testing.T) startCall {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.starts) == 0 {
		t.Fatal("no job was started")
	}
	return w.starts[len(w.starts)-1]
}

func newTestService(t *testing.T) (*Service, *fakeWorker, *bus.Bus) {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)
	b := bus.New()
	worker := &fakeWorker{}
	cfg := &config.Config{
		JobTimeout:          time.Second,
		ConsentStartTimeout: time.Second,
		ConsentPollInterval: 2 * time.Millisecond,
	}
	svc := New(store, b, worker, cfg)
	svc.SetOpeners(func(string) error { return nil }, func(string) error { return nil })
	t.Cleanup(svc.Close)
	return svc, worker, b
}

func createOwner(t *testing.T, svc *Service) *domain.Owner {
	t.Helper()
	owner, err := svc.CreateOwner(context.Background(), "Atlas", "billing workflows")
	require.NoError(t, err)
	return owner
}

func publishStatus(b *bus.Bus, kind jobrun.Kind, runID string, fields map[string]interface{}) {
	payload := map[string]interface{}{kind.Channels.IDField: runID}
	for k, v := range fields {
		payload[k] = v
	}
	raw, _ := json.Marshal(payload)
	b.Publish(kind.Channels.Status, raw)
}

func publishLine(b *bus.Bus, kind jobrun.Kind, runID, line string) {
	raw, _ := json.Marshal(map[string]string{kind.Channels.IDField: runID, "line": line})
	b.Publish(kind.Channels.Progress, raw)
}

func TestStartDesignUnknownOwner(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.StartDesign(context.Background(), "owner_missing", "build a thing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDesignLifecycle(t *testing.T) {
	svc, worker, b := newTestService(t)
	owner := createOwner(t, svc)
	ctx := context.Background()

	runID, err := svc.StartDesign(ctx, owner.OwnerID, "design a billing flow")
	require.NoError(t, err)

	call := worker.lastStart(t)
	assert.Equal(t, KindDesign.Name, call.kind.Name)
	assert.Equal(t, runID, call.runID)
	assert.Equal(t, "design a billing flow", call.payload["instruction"])

	publishLine(b, KindDesign, runID, "analyzing requirements")
	publishStatus(b, KindDesign, runID, map[string]interface{}{
		"status": "completed",
		"result": map[string]string{"flow": "billing-v1"},
	})

	st := svc.DesignState(owner.OwnerID)
	assert.Equal(t, domain.PhaseCompleted, st.Phase)
	assert.Equal(t, []string{"analyzing requirements"}, st.Lines)
	assert.JSONEq(t, `{"flow":"billing-v1"}`, string(st.Result))

	// the instruction and the result are mirrored into the conversation
	svc.ledger(owner.OwnerID).Flush()
	conv, err := svc.ActiveConversation(ctx, owner.OwnerID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, domain.MessageTypeInstruction, conv.Messages[0].MessageType)
	assert.Equal(t, domain.MessageTypeResult, conv.Messages[1].MessageType)
	assert.Equal(t, "design a billing flow", conv.Title)
}

func TestAnswerDesignQuestion(t *testing.T) {
	svc, worker, b := newTestService(t)
	owner := createOwner(t, svc)
	ctx := context.Background()

	runID, err := svc.StartDesign(ctx, owner.OwnerID, "design a billing flow")
	require.NoError(t, err)

	publishStatus(b, KindDesign, runID, map[string]interface{}{
		"status":   "awaiting_input",
		"question": map[string]interface{}{"question": "monthly or usage based?", "options": []string{"monthly", "usage"}},
	})
	require.Equal(t, domain.PhaseAwaitingInput, svc.DesignState(owner.OwnerID).Phase)

	resumed, err := svc.AnswerDesignQuestion(ctx, owner.OwnerID, "usage")
	require.NoError(t, err)
	assert.NotEqual(t, runID, resumed)

	call := worker.lastStart(t)
	assert.Equal(t, "usage", call.payload["answer"])
	assert.Equal(t, "monthly or usage based?", call.payload["question"])

	svc.ledger(owner.OwnerID).Flush()
	conv, err := svc.ActiveConversation(ctx, owner.OwnerID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	types := []domain.MessageType{}
	for _, m := range conv.Messages {
		types = append(types, m.MessageType)
	}
	assert.Equal(t, []domain.MessageType{
		domain.MessageTypeInstruction,
		domain.MessageTypeQuestion,
		domain.MessageTypeAnswer,
	}, types)
}

func TestAnswerWithoutQuestion(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := createOwner(t, svc)

	_, err := svc.AnswerDesignQuestion(context.Background(), owner.OwnerID, "usage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pending question")
}

func TestApplyDesignPersistsResult(t *testing.T) {
	svc, _, b := newTestService(t)
	owner := createOwner(t, svc)
	ctx := context.Background()

	runID, err := svc.StartDesign(ctx, owner.OwnerID, "design a billing flow")
	require.NoError(t, err)
	publishStatus(b, KindDesign, runID, map[string]interface{}{
		"status": "completed",
		"result": map[string]string{"flow": "billing-v1"},
	})

	require.NoError(t, svc.ApplyDesign(ctx, owner.OwnerID))
	assert.Equal(t, domain.PhaseApplied, svc.DesignState(owner.OwnerID).Phase)

	stored, err := svc.GetOwner(ctx, owner.OwnerID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.JSONEq(t, `{"flow":"billing-v1"}`, string(stored.LastResult))

	// applying closes out the conversation
	svc.ledger(owner.OwnerID).Flush()
	conv, err := svc.ActiveConversation(ctx, owner.OwnerID)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestRefineRequiresAppliedDesign(t *testing.T) {
	svc, worker, b := newTestService(t)
	owner := createOwner(t, svc)
	ctx := context.Background()

	_, err := svc.RefineDesign(ctx, owner.OwnerID, "make it cheaper")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no design to refine")

	runID, err := svc.StartDesign(ctx, owner.OwnerID, "design a billing flow")
	require.NoError(t, err)
	publishStatus(b, KindDesign, runID, map[string]interface{}{
		"status": "completed",
		"result": map[string]string{"flow": "billing-v1"},
	})
	require.NoError(t, svc.ApplyDesign(ctx, owner.OwnerID))

	_, err = svc.RefineDesign(ctx, owner.OwnerID, "make it cheaper")
	require.NoError(t, err)

	call := worker.lastStart(t)
	assert.Equal(t, "make it cheaper", call.payload["feedback"])
	assert.NotNil(t, call.payload["last_result"])
}

func TestCancelDesignReturnsToIdle(t *testing.T) {
	svc, worker, _ := newTestService(t)
	owner := createOwner(t, svc)
	ctx := context.Background()

	runID, err := svc.StartDesign(ctx, owner.OwnerID, "design a billing flow")
	require.NoError(t, err)

	svc.CancelDesign(ctx, owner.OwnerID)
	assert.Equal(t, domain.PhaseIdle, svc.DesignState(owner.OwnerID).Phase)

	worker.mu.Lock()
	defer worker.mu.Unlock()
	assert.Equal(t, []string{runID}, worker.cancels)
}

func TestDeleteActiveConversationRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := createOwner(t, svc)
	ctx := context.Background()

	_, err := svc.StartDesign(ctx, owner.OwnerID, "design a billing flow")
	require.NoError(t, err)
	svc.ledger(owner.OwnerID).Flush()

	conv, err := svc.ActiveConversation(ctx, owner.OwnerID)
	require.NoError(t, err)
	require.NotNil(t, conv)

	err = svc.DeleteConversation(ctx, owner.OwnerID, conv.ID)
	require.Error(t, err)

	require.NoError(t, svc.CompleteConversation(ctx, owner.OwnerID))
	require.NoError(t, svc.DeleteConversation(ctx, owner.OwnerID, conv.ID))

	convs, err := svc.ListConversations(ctx, owner.OwnerID)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestNegotiationQuestionFlow(t *testing.T) {
	svc, worker, b := newTestService(t)
	ctx := context.Background()

	runID, err := svc.StartNegotiation(ctx, "conn_1", "get an api key")
	require.NoError(t, err)

	publishStatus(b, KindNegotiation, runID, map[string]interface{}{
		"status":   "awaiting_input",
		"question": map[string]interface{}{"question": "do you have an account?"},
	})
	require.Equal(t, domain.PhaseAwaitingInput, svc.NegotiationState("conn_1").Phase)

	_, err = svc.AnswerNegotiation(ctx, "conn_1", "yes")
	require.NoError(t, err)
	call := worker.lastStart(t)
	assert.Equal(t, KindNegotiation.Name, call.kind.Name)
	assert.Equal(t, "yes", call.payload["answer"])
}

func TestConnectorDesignIgnoresQuestions(t *testing.T) {
	svc, _, b := newTestService(t)
	ctx := context.Background()

	runID, err := svc.StartConnectorDesign(ctx, "conn_1", "Stripe", "")
	require.NoError(t, err)

	// credential design is single-shot; an awaiting_input status is noise
	publishStatus(b, KindConnectorDesign, runID, map[string]interface{}{
		"status":   "awaiting_input",
		"question": map[string]interface{}{"question": "?"},
	})
	assert.Equal(t, domain.PhaseRunning, svc.ConnectorDesignState("conn_1").Phase)
}

func TestWorkflowImportValidatesJSON(t *testing.T) {
	svc, worker, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartWorkflowImport(ctx, "owner_1", json.RawMessage(`{not json`))
	require.Error(t, err)

	_, err = svc.StartWorkflowImport(ctx, "owner_1", json.RawMessage(`{"nodes":[]}`))
	require.NoError(t, err)
	assert.Equal(t, KindWorkflowImport.Name, worker.lastStart(t).kind.Name)
}

func waitForConsent(t *testing.T, svc *Service, connectorID string, want domain.ConsentStatus) domain.ConsentState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := svc.ConsentState(connectorID)
		if st.Status == want {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("consent for %s never reached %s (last: %s)", connectorID, want, svc.ConsentState(connectorID).Status)
	return domain.ConsentState{}
}

func TestConsentFlow(t *testing.T) {
	svc, worker, _ := newTestService(t)
	worker.consentStart = consent.StartResult{SessionID: "sess_1", AuthURL: "https://auth.example/consent"}
	worker.pollResult = consent.PollResult{Status: "success", Fields: map[string]string{"access_token": "tok"}}

	require.NoError(t, svc.StartConsent(context.Background(), "conn_1", "google"))

	st := waitForConsent(t, svc, "conn_1", domain.ConsentSuccess)
	assert.Equal(t, "tok", st.Values["access_token"])
	assert.Equal(t, "google", st.Label)

	svc.ResetConsent("conn_1")
	assert.Equal(t, domain.ConsentIdle, svc.ConsentState("conn_1").Status)
}

func TestConsentStartFailure(t *testing.T) {
	svc, worker, _ := newTestService(t)
	worker.consentErr = fmt.Errorf("provider unreachable")

	err := svc.StartConsent(context.Background(), "conn_1", "google")
	require.Error(t, err)
	assert.Equal(t, domain.ConsentFailure, svc.ConsentState("conn_1").Status)
}

func TestConsentStateUnknownConnector(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.Equal(t, domain.ConsentIdle, svc.ConsentState("conn_unknown").Status)
}
