package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personadesk/runstream/internal/adapter/jobclient"
	"github.com/personadesk/runstream/internal/bus"
	"github.com/personadesk/runstream/internal/config"
	"github.com/personadesk/runstream/internal/domain"
	"github.com/personadesk/runstream/internal/service"
	"github.com/personadesk/runstream/tests/helpers"
)

// newWorkerStub serves a minimal job API: every start is accepted and
// immediately streams a completed status.
func newWorkerStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: status\ndata: {\"status\":\"completed\",\"result\":{\"ok\":true}}\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)
	b := bus.New()
	worker := newWorkerStub(t)
	client := jobclient.NewClient(worker.URL, time.Second, b)
	cfg := &config.Config{
		JobTimeout:          time.Second,
		ConsentStartTimeout: time.Second,
		ConsentPollInterval: 10 * time.Millisecond,
	}
	svc := service.New(store, b, client, cfg)
	svc.SetOpeners(func(string) error { return nil }, func(string) error { return nil })
	t.Cleanup(svc.Close)
	return NewHandler(svc)
}

func doJSON(t *testing.T, h func(echo.Context) error, method, path, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	if len(names) > 0 {
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	if err := h(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func createTestOwner(t *testing.T, h *Handler) string {
	t.Helper()
	rec := doJSON(t, h.CreateOwner, http.MethodPost, "/v1/owners", `{"name":"Atlas"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var owner domain.Owner
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &owner))
	return owner.OwnerID
}

func TestCreateOwnerValidation(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h.CreateOwner, http.MethodPost, "/v1/owners", `{"design_context":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "name is required")
}

func TestGetOwnerNotFound(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h.GetOwner, http.MethodGet, "/v1/owners/owner_nope", "", "owner_id", "owner_nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartDesignValidation(t *testing.T) {
	h := newTestHandler(t)
	ownerID := createTestOwner(t, h)

	rec := doJSON(t, h.StartDesign, http.MethodPost, "/v1/owners/"+ownerID+"/design", `{}`, "owner_id", ownerID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartDesignUnknownOwner(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h.StartDesign, http.MethodPost, "/v1/owners/owner_nope/design",
		`{"instruction":"build"}`, "owner_id", "owner_nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartDesignAccepted(t *testing.T) {
	h := newTestHandler(t)
	ownerID := createTestOwner(t, h)

	rec := doJSON(t, h.StartDesign, http.MethodPost, "/v1/owners/"+ownerID+"/design",
		`{"instruction":"design a flow"}`, "owner_id", ownerID)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["run_id"], "run_")
}

func TestGetDesignStateIdle(t *testing.T) {
	h := newTestHandler(t)
	ownerID := createTestOwner(t, h)

	rec := doJSON(t, h.GetDesignState, http.MethodGet, "/v1/owners/"+ownerID+"/design", "", "owner_id", ownerID)
	require.Equal(t, http.StatusOK, rec.Code)

	var st domain.RunState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, domain.PhaseIdle, st.Phase)
}

func TestAnswerWithoutQuestionConflict(t *testing.T) {
	h := newTestHandler(t)
	ownerID := createTestOwner(t, h)

	rec := doJSON(t, h.AnswerDesignQuestion, http.MethodPost, "/v1/owners/"+ownerID+"/design/answer",
		`{"answer":"yes"}`, "owner_id", ownerID)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListConversationsEmpty(t *testing.T) {
	h := newTestHandler(t)
	ownerID := createTestOwner(t, h)

	rec := doJSON(t, h.ListConversations, http.MethodGet, "/v1/owners/"+ownerID+"/conversations", "", "owner_id", ownerID)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []domain.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Conversations)
}

func TestActiveConversationNotFound(t *testing.T) {
	h := newTestHandler(t)
	ownerID := createTestOwner(t, h)

	rec := doJSON(t, h.GetActiveConversation, http.MethodGet, "/v1/owners/"+ownerID+"/conversations/active", "", "owner_id", ownerID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeConversationNotFound(t *testing.T) {
	h := newTestHandler(t)
	ownerID := createTestOwner(t, h)

	rec := doJSON(t, h.ResumeConversation, http.MethodPost,
		"/v1/owners/"+ownerID+"/conversations/conv_nope/resume", "",
		"owner_id", ownerID, "conversation_id", "conv_nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartWorkflowImportValidation(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h.StartWorkflowImport, http.MethodPost, "/v1/owners/owner_1/workflow-import",
		`{}`, "owner_id", "owner_1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartNegotiationValidation(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h.StartNegotiation, http.MethodPost, "/v1/connectors/conn_1/negotiation",
		`{}`, "connector_id", "conn_1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsentStateIdleByDefault(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h.GetConsentState, http.MethodGet, "/v1/connectors/conn_1/consent", "", "connector_id", "conn_1")
	require.Equal(t, http.StatusOK, rec.Code)

	var st domain.ConsentState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, domain.ConsentIdle, st.Status)
}

func TestStartConsentValidation(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h.StartConsent, http.MethodPost, "/v1/connectors/conn_1/consent",
		`{}`, "connector_id", "conn_1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h.Health, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
