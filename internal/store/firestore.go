package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/extractionjobs/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig names the collections the store writes to.
type FirestoreConfig struct {
	JobsCollection         string
	ExternalRefsCollection string
}

// FirestoreStore implements JobStore on Firestore. Job documents are keyed by
// job ID; a second collection maps hashed engine references back to job IDs.
type FirestoreStore struct {
	client *firestore.Client
	config FirestoreConfig
	now    func() time.Time
}

// externalRefDoc is the correlation index entry for one engine reference.
type externalRefDoc struct {
	JobID          string    `firestore:"jobId"`
	ExternalJobRef string    `firestore:"externalJobRef"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

// NewFirestoreStore wraps an existing Firestore client.
func NewFirestoreStore(client *firestore.Client, config FirestoreConfig) *FirestoreStore {
	return &FirestoreStore{
		client: client,
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *FirestoreStore) jobRef(jobID string) *firestore.DocumentRef {
	return s.client.Collection(s.config.JobsCollection).Doc(jobID)
}

// externalRefDocRef hashes the engine reference: execution names contain
// slashes, which are not allowed in document IDs.
func (s *FirestoreStore) externalRefDocRef(externalRef string) *firestore.DocumentRef {
	sum := sha256.Sum256([]byte(externalRef))
	return s.client.Collection(s.config.ExternalRefsCollection).Doc(hex.EncodeToString(sum[:]))
}

func (s *FirestoreStore) PutIfAbsent(ctx context.Context, job *models.Job) error {
	if job == nil || job.JobID == "" {
		return fmt.Errorf("%w: job ID must be set", models.ErrInvalidRequest)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if _, err := s.jobRef(job.JobID).Create(ctx, job); err != nil {
		return mapError("create job "+job.JobID, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("get job: %w", models.ErrNotFound)
	}
	snap, err := s.jobRef(jobID).Get(ctx)
	if err != nil {
		return nil, mapError("get job "+jobID, err)
	}
	return decodeJob(snap)
}

func (s *FirestoreStore) FindByExternalRef(ctx context.Context, externalRef string) (*models.Job, error) {
	snap, err := s.externalRefDocRef(externalRef).Get(ctx)
	if err != nil {
		return nil, mapError("find external ref", err)
	}
	var idx externalRefDoc
	if err := snap.DataTo(&idx); err != nil {
		return nil, fmt.Errorf("failed to decode external ref index: %w", err)
	}
	return s.Get(ctx, idx.JobID)
}

func (s *FirestoreStore) RecordExternalRef(ctx context.Context, jobID, externalRef string) (*models.Job, error) {
	if externalRef == "" {
		return nil, fmt.Errorf("%w: external job reference must be set", models.ErrInvalidRequest)
	}
	jobDoc := s.jobRef(jobID)
	idxDoc := s.externalRefDocRef(externalRef)

	var result *models.Job
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		jobSnap, err := tx.Get(jobDoc)
		if err != nil {
			return err
		}
		job, err := decodeJob(jobSnap)
		if err != nil {
			return err
		}
		idxSnap, err := tx.Get(idxDoc)
		idxExists := err == nil && idxSnap.Exists()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		if idxExists {
			var idx externalRefDoc
			if err := idxSnap.DataTo(&idx); err != nil {
				return fmt.Errorf("failed to decode external ref index: %w", err)
			}
			if idx.JobID != jobID {
				return fmt.Errorf("%w: %s is bound to job %s", models.ErrRefCollision, externalRef, idx.JobID)
			}
		}
		if job.ExternalJobRef != "" && job.ExternalJobRef != externalRef {
			return fmt.Errorf("%w: job %s already has reference %s", models.ErrRefCollision, jobID, job.ExternalJobRef)
		}
		if job.Status.IsTerminal() {
			result = job
			return nil
		}

		now := job.NextUpdateTime(s.now())
		if !idxExists {
			if err := tx.Create(idxDoc, externalRefDoc{JobID: jobID, ExternalJobRef: externalRef, CreatedAt: now}); err != nil {
				return err
			}
		}
		job.ExternalJobRef = externalRef
		if job.Status.CanTransitionTo(models.StatusInProgress) {
			job.Status = models.StatusInProgress
			job.UpdatedAt = now
		}
		result = job
		return tx.Set(jobDoc, job)
	})
	if err != nil {
		return nil, mapError("record external ref for job "+jobID, err)
	}
	return result, nil
}

func (s *FirestoreStore) UpdateTerminal(ctx context.Context, jobID string, newStatus models.JobStatus, outcome models.Outcome) (*models.Job, bool, error) {
	if !newStatus.IsTerminal() {
		return nil, false, fmt.Errorf("%w: %s is not a terminal status", models.ErrInvalidRequest, newStatus)
	}
	jobDoc := s.jobRef(jobID)

	var (
		result  *models.Job
		changed bool
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		snap, err := tx.Get(jobDoc)
		if err != nil {
			return err
		}
		job, err := decodeJob(snap)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			result = job
			return nil
		}

		applyTerminal(job, newStatus, outcome, s.now())
		result = job
		changed = true
		return tx.Set(jobDoc, job)
	})
	if err != nil {
		return nil, false, mapError("update job "+jobID, err)
	}
	if !changed {
		slog.Debug("Job already terminal; update skipped.", "jobId", jobID, "status", result.Status)
	}
	return result, changed, nil
}

// applyTerminal sets the terminal status and exactly one of text or error.
func applyTerminal(job *models.Job, newStatus models.JobStatus, outcome models.Outcome, now time.Time) {
	job.Status = newStatus
	job.UpdatedAt = job.NextUpdateTime(now)
	job.PageCount = outcome.PageCount
	if newStatus == models.StatusSucceeded {
		job.ExtractedText = outcome.ExtractedText
		job.OutputURI = outcome.OutputURI
		job.ErrorDetail = ""
		return
	}
	job.ExtractedText = ""
	job.OutputURI = ""
	job.ErrorDetail = outcome.ErrorDetail
	if job.ErrorDetail == "" {
		job.ErrorDetail = "extraction failed without detail"
	}
}

func decodeJob(snap *firestore.DocumentSnapshot) (*models.Job, error) {
	if !snap.Exists() {
		return nil, models.ErrNotFound
	}
	var job models.Job
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", snap.Ref.ID, err)
	}
	return &job, nil
}
