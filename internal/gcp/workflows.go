package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/docreconstruct/internal/models"
)

type WorkflowConfig struct {
	ProjectID        string
	WorkflowLocation string
	WorkflowID       string
}

// WorkflowLauncher hands a created document to the processing workflow by
// starting one execution per document.
type WorkflowLauncher struct {
	client *executions.Client
	config WorkflowConfig
}

func NewWorkflowLauncher(ctx context.Context, config WorkflowConfig) (*WorkflowLauncher, error) {
	if config.ProjectID == "" || config.WorkflowID == "" {
		return nil, fmt.Errorf("project and workflow id must be set to launch workflows")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowLauncher{client: client, config: config}, nil
}

func (w *WorkflowLauncher) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", w.config.ProjectID, w.config.WorkflowLocation, w.config.WorkflowID)
}

func (w *WorkflowLauncher) Launch(ctx context.Context, req models.ProcessingRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := w.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent:    w.parent(),
		Execution: &executionspb.Execution{Argument: string(payload)},
	})
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Workflow execution started.", "documentId", req.DocumentID, "execution", exec.GetName())
	return nil
}

func (w *WorkflowLauncher) Close() error {
	return w.client.Close()
}
