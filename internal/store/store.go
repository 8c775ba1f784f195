// Package store persists extraction jobs. Every write that can race with a
// redelivered notification is conditional, so callers never need locks.
package store

import (
	"context"

	"github.com/Lllllllleong/extractionjobs/internal/models"
)

// JobStore is the durable record of every extraction job.
type JobStore interface {
	// PutIfAbsent creates the job, failing with models.ErrAlreadyExists if the ID is taken.
	PutIfAbsent(ctx context.Context, job *models.Job) error
	// RecordExternalRef binds the engine's reference to the job, indexes it for
	// FindByExternalRef and advances SUBMITTED jobs to IN_PROGRESS.
	RecordExternalRef(ctx context.Context, jobID, externalRef string) (*models.Job, error)
	// FindByExternalRef resolves a correlation key, or fails with models.ErrNotFound.
	FindByExternalRef(ctx context.Context, externalRef string) (*models.Job, error)
	// UpdateTerminal moves a non-terminal job to status. On an already terminal
	// job it returns the stored record with changed=false and no error.
	UpdateTerminal(ctx context.Context, jobID string, status models.JobStatus, outcome models.Outcome) (job *models.Job, changed bool, err error)
	// Get returns the current record, or fails with models.ErrNotFound.
	Get(ctx context.Context, jobID string) (*models.Job, error)
}
