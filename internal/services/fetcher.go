package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/extractionjobs/internal/engine"
	"github.com/Lllllllleong/extractionjobs/internal/gcp"
	"github.com/Lllllllleong/extractionjobs/internal/models"
	"github.com/Lllllllleong/extractionjobs/internal/store"
)

// ErrDetailNoText is recorded when the engine finished without producing any text.
const ErrDetailNoText = "engine returned no text"

// FetcherConfig holds configuration for result retrieval.
type FetcherConfig struct {
	FetchTimeout time.Duration
}

// textSaver persists a copy of the extracted text and returns its URI.
type textSaver interface {
	SaveText(ctx context.Context, jobID, text string) (string, error)
}

// gcsTextSaver writes extracted text to extracted/{jobId}.txt in a bucket.
type gcsTextSaver struct {
	client *storage.Client
	bucket string
}

func (s *gcsTextSaver) SaveText(ctx context.Context, jobID, text string) (string, error) {
	objectName := fmt.Sprintf("extracted/%s.txt", jobID)
	if err := gcp.SaveToGCSAtomically(ctx, s.client.Bucket(s.bucket), objectName, "text/plain; charset=utf-8", text); err != nil {
		return "", err
	}
	return gcp.GCSURI(s.bucket, objectName), nil
}

// ResultFetcher retrieves finished output from the engine and records the
// terminal outcome. It never retries in-process: transient errors are returned
// so the notification channel redelivers.
type ResultFetcher struct {
	store  store.JobStore
	engine engine.Engine
	saver  textSaver
	config FetcherConfig
}

// NewResultFetcher builds a fetcher. saver may be nil to skip the GCS copy.
func NewResultFetcher(s store.JobStore, e engine.Engine, saver textSaver, config FetcherConfig) *ResultFetcher {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 60 * time.Second
	}
	return &ResultFetcher{store: s, engine: e, saver: saver, config: config}
}

// Complete moves the job to its terminal state. changed is true only for the
// call that actually performed the transition.
func (f *ResultFetcher) Complete(ctx context.Context, job *models.Job, n models.CompletionNotification) (*models.Job, bool, error) {
	logCtx := slog.With("jobId", job.JobID, "externalJobRef", n.ExternalJobRef, "outcome", n.Outcome)

	if job.Status.IsTerminal() {
		logCtx.Info("Job already terminal. Skipping duplicate notification.", "status", job.Status)
		return job, false, nil
	}

	if n.Outcome == models.OutcomeFailure && n.ErrorDetail != "" {
		return f.finish(ctx, logCtx, job.JobID, models.StatusFailed, models.Outcome{ErrorDetail: n.ErrorDetail})
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.config.FetchTimeout)
	defer cancel()

	res, err := f.engine.Fetch(fetchCtx, n.ExternalJobRef)
	if err != nil {
		if errors.Is(err, models.ErrEngineFailure) {
			logCtx.Warn("Engine result is unrecoverable; failing job.", "error", err)
			return f.finish(ctx, logCtx, job.JobID, models.StatusFailed, models.Outcome{ErrorDetail: err.Error()})
		}
		logCtx.Warn("Result retrieval failed; leaving job for redelivery.", "error", err)
		return nil, false, err
	}
	if res.Failed {
		return f.finish(ctx, logCtx, job.JobID, models.StatusFailed, models.Outcome{ErrorDetail: res.ErrorDetail})
	}

	text := concatenateUnits(res.Units)
	if text == "" {
		// A succeeded job always carries text.
		return f.finish(ctx, logCtx, job.JobID, models.StatusFailed, models.Outcome{ErrorDetail: ErrDetailNoText, PageCount: len(res.Units)})
	}
	outcome := models.Outcome{ExtractedText: text, PageCount: len(res.Units)}
	if f.saver != nil {
		uri, err := f.saver.SaveText(ctx, job.JobID, text)
		if err != nil {
			logCtx.Warn("Failed to save extracted text; leaving job for redelivery.", "error", err)
			return nil, false, fmt.Errorf("%w: save extracted text: %w", models.ErrTransientIO, err)
		}
		outcome.OutputURI = uri
	}
	return f.finish(ctx, logCtx, job.JobID, models.StatusSucceeded, outcome)
}

func (f *ResultFetcher) finish(ctx context.Context, logCtx *slog.Logger, jobID string, status models.JobStatus, outcome models.Outcome) (*models.Job, bool, error) {
	updated, changed, err := f.store.UpdateTerminal(ctx, jobID, status, outcome)
	if err != nil {
		logCtx.Error("Failed to record terminal status", "status", status, "error", err)
		return nil, false, err
	}
	if changed {
		logCtx.Info("Job reached terminal state.", "status", updated.Status, "pageCount", updated.PageCount)
	} else {
		logCtx.Info("Job was already terminal; no change recorded.", "status", updated.Status)
	}
	return updated, changed, nil
}

// concatenateUnits joins the engine's units by their engine-assigned index.
// No separator is inserted.
func concatenateUnits(units []engine.TextUnit) string {
	ordered := slices.Clone(units)
	slices.SortStableFunc(ordered, func(a, b engine.TextUnit) int { return cmp.Compare(a.Index, b.Index) })

	var b strings.Builder
	for _, u := range ordered {
		b.WriteString(u.Text)
	}
	return b.String()
}
