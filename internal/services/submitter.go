package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/extractionjobs/internal/callback"
	"github.com/Lllllllleong/extractionjobs/internal/engine"
	"github.com/Lllllllleong/extractionjobs/internal/gcp"
	"github.com/Lllllllleong/extractionjobs/internal/models"
	"github.com/Lllllllleong/extractionjobs/internal/store"
	"github.com/google/uuid"
)

// idempotencyNamespace derives stable job IDs from caller idempotency keys.
var idempotencyNamespace = uuid.MustParse("6f1c1f5e-4a53-4c36-9a53-2b8c0c6f7d21")

// SubmitterConfig holds configuration for the extraction-submitter service.
type SubmitterConfig struct {
	StartTimeout time.Duration
}

// SubmitterFunction creates jobs and hands them to the OCR engine.
type SubmitterFunction struct {
	store  store.JobStore
	engine engine.Engine
	config SubmitterConfig
	now    func() time.Time
}

// NewSubmitterFromDeps wires a submitter around existing collaborators.
func NewSubmitterFromDeps(s store.JobStore, e engine.Engine, config SubmitterConfig) *SubmitterFunction {
	if config.StartTimeout <= 0 {
		config.StartTimeout = 30 * time.Second
	}
	return &SubmitterFunction{
		store:  s,
		engine: e,
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Process creates the job record and starts the extraction without waiting
// for it to finish. When the engine rejects the start call the job is marked
// FAILED and the returned response carries that status alongside the error.
func (f *SubmitterFunction) Process(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResponse, error) {
	if err := normalizeSubmitRequest(req); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	if req.IdempotencyKey != "" {
		jobID = uuid.NewSHA1(idempotencyNamespace, []byte(req.IdempotencyKey)).String()
	}
	logCtx := slog.With("jobId", jobID, "sourceRef", req.SourceRef)

	now := f.now()
	job := &models.Job{
		JobID:          jobID,
		Status:         models.StatusSubmitted,
		SourceRef:      req.SourceRef,
		CallbackTarget: req.CallbackTarget,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.store.PutIfAbsent(ctx, job); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) && req.IdempotencyKey != "" {
			return f.existingSubmission(ctx, logCtx, jobID, req)
		}
		logCtx.Error("Failed to create job record", "error", err)
		return nil, err
	}
	logCtx.Info("Created job record.")

	return f.start(ctx, logCtx, jobID, req.SourceRef)
}

// start hands the job to the engine and binds the returned reference.
func (f *SubmitterFunction) start(ctx context.Context, logCtx *slog.Logger, jobID, sourceRef string) (*models.SubmitResponse, error) {
	startCtx, cancel := context.WithTimeout(ctx, f.config.StartTimeout)
	externalRef, err := f.engine.Start(startCtx, sourceRef, jobID)
	timedOut := errors.Is(startCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		detail := fmt.Sprintf("engine rejected start: %v", err)
		if timedOut {
			detail = fmt.Sprintf("engine start timed out after %s", f.config.StartTimeout)
		}
		return f.handleError(ctx, logCtx, jobID, detail, err)
	}
	logCtx = logCtx.With("externalJobRef", externalRef)

	if _, err := f.store.RecordExternalRef(ctx, jobID, externalRef); err != nil {
		detail := fmt.Sprintf("engine accepted execution %s but it could not be correlated with the job", externalRef)
		logCtx.Error(detail, "error", err)
		f.markFailed(ctx, logCtx, jobID, detail)
		return &models.SubmitResponse{JobID: jobID, Status: models.StatusFailed}, fmt.Errorf("%s: %w", detail, err)
	}

	logCtx.Info("Extraction submitted to engine.")
	return &models.SubmitResponse{JobID: jobID, Status: models.StatusSubmitted}, nil
}

// existingSubmission answers a replayed idempotent submission with the job
// that was created the first time. The engine is only started again when the
// first attempt never reached it.
func (f *SubmitterFunction) existingSubmission(ctx context.Context, logCtx *slog.Logger, jobID string, req *models.SubmitRequest) (*models.SubmitResponse, error) {
	existing, err := f.store.Get(ctx, jobID)
	if err != nil {
		logCtx.Error("Failed to load job for replayed idempotency key", "error", err)
		return nil, err
	}
	if existing.SourceRef != req.SourceRef {
		return nil, fmt.Errorf("%w: idempotency key already used for %s", models.ErrInvalidRequest, existing.SourceRef)
	}
	// A SUBMITTED job without a reference whose start window has passed was
	// abandoned before the engine call; start it now.
	if existing.Status == models.StatusSubmitted && existing.ExternalJobRef == "" &&
		f.now().Sub(existing.CreatedAt) > f.config.StartTimeout {
		logCtx.Warn("Idempotent replay found an abandoned submission; starting it.", "createdAt", existing.CreatedAt)
		return f.start(ctx, logCtx, jobID, existing.SourceRef)
	}
	logCtx.Info("Idempotent replay; returning existing job.", "status", existing.Status)
	return &models.SubmitResponse{JobID: existing.JobID, Status: existing.Status}, nil
}

// handleError marks the job FAILED and returns an ErrEngineRejected error.
func (f *SubmitterFunction) handleError(ctx context.Context, logCtx *slog.Logger, jobID, detail string, originalErr error) (*models.SubmitResponse, error) {
	logCtx.Error(detail, "error", originalErr)
	f.markFailed(ctx, logCtx, jobID, detail)
	return &models.SubmitResponse{JobID: jobID, Status: models.StatusFailed},
		fmt.Errorf("%w: %s", models.ErrEngineRejected, detail)
}

func (f *SubmitterFunction) markFailed(ctx context.Context, logCtx *slog.Logger, jobID, detail string) {
	if _, _, err := f.store.UpdateTerminal(ctx, jobID, models.StatusFailed, models.Outcome{ErrorDetail: detail}); err != nil {
		logCtx.Error("CRITICAL: Failed to update job status to FAILED after a submission error.", "updateError", err)
	}
}

func normalizeSubmitRequest(req *models.SubmitRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", models.ErrInvalidRequest)
	}
	req.SourceRef = strings.TrimSpace(req.SourceRef)
	req.CallbackTarget = strings.TrimSpace(req.CallbackTarget)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if _, _, err := gcp.ParseGCSURI(req.SourceRef, false); err != nil {
		return fmt.Errorf("%w: sourceRef: %v", models.ErrInvalidRequest, err)
	}
	if req.CallbackTarget != "" {
		if err := callback.ValidateTarget(req.CallbackTarget); err != nil {
			return err
		}
	}
	return nil
}
