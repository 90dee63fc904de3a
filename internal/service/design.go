package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/personadesk/runstream/internal/domain"
)

// StartDesign kicks off a fresh design run for an owner. Any run already
// in flight for the same owner is superseded. The instruction is
// recorded in the owner's conversation before the worker is invoked.
func (s *Service) StartDesign(ctx context.Context, ownerID, instruction string) (string, error) {
	if instruction == "" {
		return "", fmt.Errorf("instruction is required")
	}
	owner, err := s.store.GetOwner(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("failed to get owner: %w", err)
	}
	if owner == nil {
		return "", fmt.Errorf("owner %s not found", ownerID)
	}

	s.ledger(ownerID).Append(func(*domain.Conversation) (domain.Message, json.RawMessage) {
		return userMessage(instruction, domain.MessageTypeInstruction), nil
	})

	payload := map[string]interface{}{
		"owner_id":       ownerID,
		"instruction":    instruction,
		"design_context": owner.DesignContext,
	}
	if owner.LastResult != nil {
		payload["last_result"] = owner.LastResult
	}

	return s.designRunner(ownerID).Start(ctx, func(ctx context.Context, runID string) error {
		return s.worker.StartJob(ctx, KindDesign, runID, payload)
	}, func(ctx context.Context, runID string) error {
		return s.worker.CancelJob(ctx, KindDesign, runID)
	})
}

// RefineDesign starts a run that reworks the owner's persisted design
// with user feedback. It requires a previously applied result.
func (s *Service) RefineDesign(ctx context.Context, ownerID, feedback string) (string, error) {
	if feedback == "" {
		return "", fmt.Errorf("feedback is required")
	}
	owner, err := s.store.GetOwner(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("failed to get owner: %w", err)
	}
	if owner == nil {
		return "", fmt.Errorf("owner %s not found", ownerID)
	}
	if owner.LastResult == nil {
		return "", fmt.Errorf("owner %s has no design to refine", ownerID)
	}

	s.ledger(ownerID).Append(func(*domain.Conversation) (domain.Message, json.RawMessage) {
		return userMessage(feedback, domain.MessageTypeFeedback), nil
	})

	payload := map[string]interface{}{
		"owner_id":       ownerID,
		"feedback":       feedback,
		"design_context": owner.DesignContext,
		"last_result":    owner.LastResult,
	}

	return s.designRunner(ownerID).Start(ctx, func(ctx context.Context, runID string) error {
		return s.worker.StartJob(ctx, KindDesign, runID, payload)
	}, func(ctx context.Context, runID string) error {
		return s.worker.CancelJob(ctx, KindDesign, runID)
	})
}

// AnswerDesignQuestion resumes a design run paused on a question. The
// answer is recorded in the conversation and handed to the worker
// together with the question it answers.
func (s *Service) AnswerDesignQuestion(ctx context.Context, ownerID, answer string) (string, error) {
	if answer == "" {
		return "", fmt.Errorf("answer is required")
	}
	runner := s.designRunner(ownerID)
	st := runner.Snapshot()
	if st.Phase != domain.PhaseAwaitingInput {
		return "", fmt.Errorf("no pending question for owner %s", ownerID)
	}

	s.ledger(ownerID).Append(func(*domain.Conversation) (domain.Message, json.RawMessage) {
		return userMessage(answer, domain.MessageTypeAnswer), nil
	})

	payload := map[string]interface{}{
		"owner_id": ownerID,
		"answer":   answer,
	}
	if st.Question != nil {
		payload["question"] = st.Question.Question
	}

	return runner.Resume(ctx, func(ctx context.Context, runID string) error {
		return s.worker.StartJob(ctx, KindDesign, runID, payload)
	})
}

// CancelDesign stops the owner's design run and clears its display
// state.
func (s *Service) CancelDesign(ctx context.Context, ownerID string) {
	s.designRunner(ownerID).Cancel(ctx)
}

// ApplyDesign persists a completed design result as the owner's current
// design and closes out the conversation.
func (s *Service) ApplyDesign(ctx context.Context, ownerID string) error {
	return s.designRunner(ownerID).Apply(ctx, func(ctx context.Context, result json.RawMessage) error {
		if err := s.store.SaveOwnerResult(ctx, ownerID, result); err != nil {
			return fmt.Errorf("failed to save design result: %w", err)
		}
		if err := s.ledger(ownerID).Complete(ctx); err != nil {
			log.Printf("WARN: failed to complete conversation for %s: %v", ownerID, err)
		}
		return nil
	})
}

// DesignState returns the current run state for an owner's design flow.
func (s *Service) DesignState(ownerID string) domain.RunState {
	return s.designRunner(ownerID).Snapshot()
}

// ResetDesign returns the owner's design flow to idle without touching
// the backend. Used when the UI discards a finished or failed run.
func (s *Service) ResetDesign(ownerID string) {
	s.designRunner(ownerID).Reset()
}
