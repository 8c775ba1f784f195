package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/extractionjobs/internal/models"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// executionsAPI is the subset of the Workflows Executions client the engine uses.
type executionsAPI interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
	GetExecution(ctx context.Context, req *executionspb.GetExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// WorkflowsConfig locates the OCR workflow and the topic it reports completions to.
type WorkflowsConfig struct {
	// WorkflowParent is projects/{p}/locations/{l}/workflows/{w}.
	WorkflowParent    string
	NotificationTopic string
}

// WorkflowsEngine runs each extraction as a Cloud Workflows execution. The
// execution name is the external job reference.
type WorkflowsEngine struct {
	client executionsAPI
	config WorkflowsConfig
}

// startArgument is the JSON argument handed to the OCR workflow.
type startArgument struct {
	SourceURI         string `json:"sourceUri"`
	JobID             string `json:"jobId"`
	NotificationTopic string `json:"notificationTopic,omitempty"`
}

// workflowResult is the JSON the OCR workflow returns on success.
type workflowResult struct {
	Pages []workflowPage `json:"pages"`
}

type workflowPage struct {
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text"`
}

// NewWorkflowsEngine builds an engine on top of an executions client.
func NewWorkflowsEngine(client executionsAPI, config WorkflowsConfig) *WorkflowsEngine {
	return &WorkflowsEngine{client: client, config: config}
}

func (e *WorkflowsEngine) Start(ctx context.Context, sourceRef, jobID string) (string, error) {
	payloadBytes, err := json.Marshal(startArgument{
		SourceURI:         sourceRef,
		JobID:             jobID,
		NotificationTopic: e.config.NotificationTopic,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow argument: %w", err)
	}

	req := &executionspb.CreateExecutionRequest{
		Parent: e.config.WorkflowParent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := e.client.CreateExecution(ctx, req)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: start call timed out: %v", models.ErrEngineRejected, err)
		}
		return "", fmt.Errorf("%w: %v", models.ErrEngineRejected, err)
	}
	if exec.GetName() == "" {
		return "", fmt.Errorf("%w: workflow returned an execution without a name", models.ErrEngineRejected)
	}
	slog.Debug("Workflow execution created.", "jobId", jobID, "execution", exec.GetName())
	return exec.GetName(), nil
}

func (e *WorkflowsEngine) Fetch(ctx context.Context, externalRef string) (*Result, error) {
	exec, err := e.client.GetExecution(ctx, &executionspb.GetExecutionRequest{Name: externalRef})
	if err != nil {
		return nil, classifyFetchError(externalRef, err)
	}
	return parseExecution(exec)
}

// classifyFetchError separates retryable RPC failures from executions that
// are gone or unreadable and will never yield a result.
func classifyFetchError(externalRef string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: get execution %s: %w", models.ErrTransientIO, externalRef, err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal, codes.Unknown:
		return fmt.Errorf("%w: get execution %s: %w", models.ErrTransientIO, externalRef, err)
	default:
		return fmt.Errorf("%w: execution %s cannot be read: %s", models.ErrEngineFailure, externalRef, status.Convert(err).Message())
	}
}

// parseExecution converts a finished execution into a Result. Executions that
// are still running are reported as transient so the notification is retried.
func parseExecution(exec *executionspb.Execution) (*Result, error) {
	switch exec.GetState() {
	case executionspb.Execution_SUCCEEDED:
		var out workflowResult
		if err := json.Unmarshal([]byte(exec.GetResult()), &out); err != nil {
			return &Result{Failed: true, ErrorDetail: fmt.Sprintf("unreadable engine result: %v", err)}, nil
		}
		// Page numbers are used as given, whatever their base. Results that
		// number no page at all keep array order.
		numbered := slices.ContainsFunc(out.Pages, func(p workflowPage) bool { return p.PageNumber != 0 })
		units := make([]TextUnit, 0, len(out.Pages))
		for i, p := range out.Pages {
			idx := i
			if numbered {
				idx = p.PageNumber
			}
			units = append(units, TextUnit{Index: idx, Text: p.Text})
		}
		sort.SliceStable(units, func(a, b int) bool { return units[a].Index < units[b].Index })
		return &Result{Units: units}, nil
	case executionspb.Execution_FAILED:
		return &Result{Failed: true, ErrorDetail: executionError(exec)}, nil
	case executionspb.Execution_CANCELLED:
		return &Result{Failed: true, ErrorDetail: "extraction was cancelled"}, nil
	default:
		return nil, fmt.Errorf("%w: execution %s is %s", models.ErrTransientIO, exec.GetName(), exec.GetState())
	}
}

// executionError extracts the workflow's error message. Workflows raise maps
// like {"message": "..."}; anything else is used verbatim.
func executionError(exec *executionspb.Execution) string {
	payload := strings.TrimSpace(exec.GetError().GetPayload())
	if payload == "" {
		return "extraction failed without detail"
	}
	var raised struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(payload), &raised); err == nil && raised.Message != "" {
		return raised.Message
	}
	var plain string
	if err := json.Unmarshal([]byte(payload), &plain); err == nil && plain != "" {
		return plain
	}
	return payload
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded
}
