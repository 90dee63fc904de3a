package service

import (
	"context"
	"fmt"

	"github.com/personadesk/runstream/internal/domain"
)

// StartConnectorDesign runs the single-shot flow that derives a
// connector credential schema from service documentation.
func (s *Service) StartConnectorDesign(ctx context.Context, connectorID, serviceName, docs string) (string, error) {
	if serviceName == "" {
		return "", fmt.Errorf("service_name is required")
	}

	payload := map[string]interface{}{
		"connector_id": connectorID,
		"service_name": serviceName,
	}
	if docs != "" {
		payload["docs"] = docs
	}

	return s.runner(KindConnectorDesign, connectorID).Start(ctx, func(ctx context.Context, runID string) error {
		return s.worker.StartJob(ctx, KindConnectorDesign, runID, payload)
	}, func(ctx context.Context, runID string) error {
		return s.worker.CancelJob(ctx, KindConnectorDesign, runID)
	})
}

// CancelConnectorDesign stops a connector design run.
func (s *Service) CancelConnectorDesign(ctx context.Context, connectorID string) {
	s.runner(KindConnectorDesign, connectorID).Cancel(ctx)
}

// ConnectorDesignState returns the run state of a connector design flow.
func (s *Service) ConnectorDesignState(connectorID string) domain.RunState {
	return s.runner(KindConnectorDesign, connectorID).Snapshot()
}

// StartNegotiation launches the interactive flow that walks a user
// through acquiring credentials for a connector. Negotiation runs pause
// on questions like design runs do.
func (s *Service) StartNegotiation(ctx context.Context, connectorID, goal string) (string, error) {
	if goal == "" {
		return "", fmt.Errorf("goal is required")
	}

	payload := map[string]interface{}{
		"connector_id": connectorID,
		"goal":         goal,
	}

	return s.runner(KindNegotiation, connectorID).Start(ctx, func(ctx context.Context, runID string) error {
		return s.worker.StartJob(ctx, KindNegotiation, runID, payload)
	}, func(ctx context.Context, runID string) error {
		return s.worker.CancelJob(ctx, KindNegotiation, runID)
	})
}

// AnswerNegotiation resumes a negotiation paused on a question.
func (s *Service) AnswerNegotiation(ctx context.Context, connectorID, answer string) (string, error) {
	if answer == "" {
		return "", fmt.Errorf("answer is required")
	}
	runner := s.runner(KindNegotiation, connectorID)
	st := runner.Snapshot()
	if st.Phase != domain.PhaseAwaitingInput {
		return "", fmt.Errorf("no pending question for connector %s", connectorID)
	}

	payload := map[string]interface{}{
		"connector_id": connectorID,
		"answer":       answer,
	}
	if st.Question != nil {
		payload["question"] = st.Question.Question
	}

	return runner.Resume(ctx, func(ctx context.Context, runID string) error {
		return s.worker.StartJob(ctx, KindNegotiation, runID, payload)
	})
}

// CancelNegotiation stops a negotiation run.
func (s *Service) CancelNegotiation(ctx context.Context, connectorID string) {
	s.runner(KindNegotiation, connectorID).Cancel(ctx)
}

// NegotiationState returns the run state of a negotiation flow.
func (s *Service) NegotiationState(connectorID string) domain.RunState {
	return s.runner(KindNegotiation, connectorID).Snapshot()
}
