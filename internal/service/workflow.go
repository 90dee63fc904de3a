package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/personadesk/runstream/internal/domain"
)

// StartWorkflowImport launches a long-running import that converts an
// external workflow definition for the owner's workspace. Imports keep a
// much deeper scrollback than design runs.
func (s *Service) StartWorkflowImport(ctx context.Context, ownerID string, workflow json.RawMessage) (string, error) {
	if len(workflow) == 0 {
		return "", fmt.Errorf("workflow is required")
	}
	if !json.Valid(workflow) {
		return "", fmt.Errorf("workflow is not valid JSON")
	}

	payload := map[string]interface{}{
		"owner_id": ownerID,
		"workflow": workflow,
	}

	return s.runner(KindWorkflowImport, ownerID).Start(ctx, func(ctx context.Context, runID string) error {
		return s.worker.StartJob(ctx, KindWorkflowImport, runID, payload)
	}, func(ctx context.Context, runID string) error {
		return s.worker.CancelJob(ctx, KindWorkflowImport, runID)
	})
}

// CancelWorkflowImport stops a running import.
func (s *Service) CancelWorkflowImport(ctx context.Context, ownerID string) {
	s.runner(KindWorkflowImport, ownerID).Cancel(ctx)
}

// WorkflowImportState returns the run state of the owner's import flow.
func (s *Service) WorkflowImportState(ownerID string) domain.RunState {
	return s.runner(KindWorkflowImport, ownerID).Snapshot()
}
