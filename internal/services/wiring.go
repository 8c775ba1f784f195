package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/extractionjobs/internal/callback"
	"github.com/Lllllllleong/extractionjobs/internal/config"
	"github.com/Lllllllleong/extractionjobs/internal/engine"
	"github.com/Lllllllleong/extractionjobs/internal/gcp"
	"github.com/Lllllllleong/extractionjobs/internal/store"
)

// loadConfig loads configuration and applies the configured log level to the
// default JSON logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return cfg, nil
}

func newJobStore(ctx context.Context, cfg *config.Config) (*store.FirestoreStore, error) {
	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return store.NewFirestoreStore(firestoreClient, store.FirestoreConfig{
		JobsCollection:         cfg.JobsCollection,
		ExternalRefsCollection: cfg.ExternalRefsCollection,
	}), nil
}

func newWorkflowsEngine(ctx context.Context, cfg *config.Config) (*engine.WorkflowsEngine, error) {
	executionsClient, err := gcp.NewExecutionsClient(ctx)
	if err != nil {
		return nil, err
	}
	return engine.NewWorkflowsEngine(executionsClient, engine.WorkflowsConfig{
		WorkflowParent:    cfg.WorkflowParent(),
		NotificationTopic: cfg.NotificationTopic,
	}), nil
}

// NewSubmitter creates a SubmitterFunction from environment configuration.
func NewSubmitter(ctx context.Context) (*SubmitterFunction, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	jobStore, err := newJobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ocr, err := newWorkflowsEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("Extraction submitter initialized.", "workflow", cfg.WorkflowParent())
	return NewSubmitterFromDeps(jobStore, ocr, SubmitterConfig{StartTimeout: cfg.StartTimeout}), nil
}

// NewListener creates a ListenerFunction, with its fetcher and callback
// dispatcher, from environment configuration.
func NewListener(ctx context.Context) (*ListenerFunction, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	jobStore, err := newJobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ocr, err := newWorkflowsEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	var saver textSaver
	if cfg.OutputBucket != "" {
		saver = &gcsTextSaver{client: storageClient, bucket: cfg.OutputBucket}
	}
	fetcher := NewResultFetcher(jobStore, ocr, saver, FetcherConfig{FetchTimeout: cfg.FetchTimeout})
	dispatcher := callback.NewDispatcher(storageClient, callback.Config{Timeout: cfg.CallbackTimeout})

	slog.Info("Completion listener initialized.", "outputBucket", cfg.OutputBucket)
	return NewListenerFromDeps(jobStore, fetcher, dispatcher), nil
}

// NewStatus creates a StatusFunction from environment configuration.
func NewStatus(ctx context.Context) (*StatusFunction, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	jobStore, err := newJobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewStatusFromDeps(jobStore), nil
}
