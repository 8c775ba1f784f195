package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/extractionjobs/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	listenerInstance *services.ListenerFunction
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Triggered by the Pub/Sub topic the OCR workflow publishes completions to.
	functions.CloudEvent("HandleExtractionCompleted", handleExtractionCompleted)
}

// main is required by the Go Functions Framework.
func main() {}

// handleExtractionCompleted is the Cloud Function entry point. Returning an
// error leaves the message unacknowledged so Pub/Sub redelivers it.
func handleExtractionCompleted(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		listenerInstance, initErr = services.NewListener(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	return listenerInstance.Process(ctx, e)
}
