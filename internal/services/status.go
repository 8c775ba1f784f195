package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/extractionjobs/internal/models"
	"github.com/Lllllllleong/extractionjobs/internal/store"
	"golang.org/x/sync/errgroup"
)

// MaxBatchSize bounds how many job IDs one status call may ask for.
const MaxBatchSize = 100

// StatusFunction answers polling requests from the Job Store.
type StatusFunction struct {
	store store.JobStore
}

// NewStatusFromDeps wires a status service around an existing store.
func NewStatusFromDeps(s store.JobStore) *StatusFunction {
	return &StatusFunction{store: s}
}

// Process returns the current record for one job.
func (f *StatusFunction) Process(ctx context.Context, jobID string) (*models.Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobId must be provided", models.ErrInvalidRequest)
	}
	job, err := f.store.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			slog.Error("Failed to read job status", "jobId", jobID, "error", err)
		}
		return nil, err
	}
	return job, nil
}

// ProcessBatch looks up several jobs concurrently. Unknown IDs are reported in
// Missing; any other error fails the whole call.
func (f *StatusFunction) ProcessBatch(ctx context.Context, jobIDs []string) (*models.BatchStatusResponse, error) {
	ids := make([]string, 0, len(jobIDs))
	seen := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one jobId must be provided", models.ErrInvalidRequest)
	}
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("%w: at most %d jobIds per request", models.ErrInvalidRequest, MaxBatchSize)
	}

	results := make([]*models.Job, len(ids))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)
	for i, id := range ids {
		eg.Go(func() error {
			job, err := f.store.Get(gctx, id)
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("job %s: %w", id, err)
			}
			results[i] = job
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		slog.Error("Batch status lookup failed", "error", err, "jobCount", len(ids))
		return nil, err
	}

	resp := &models.BatchStatusResponse{Jobs: make([]*models.Job, 0, len(ids))}
	for i, job := range results {
		if job == nil {
			resp.Missing = append(resp.Missing, ids[i])
			continue
		}
		resp.Jobs = append(resp.Jobs, job)
	}
	return resp, nil
}
