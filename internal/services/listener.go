package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/extractionjobs/internal/models"
	"github.com/Lllllllleong/extractionjobs/internal/store"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// CallbackDispatcher pushes a terminal job to its callback target.
type CallbackDispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
}

// PubSubMessage is the payload of a google.cloud.pubsub.topic.v1.messagePublished event.
type PubSubMessage struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ListenerFunction consumes completion notifications. Every delivery is
// treated as possibly redundant: it only routes, and the store's conditional
// update decides whether anything changes.
type ListenerFunction struct {
	store     store.JobStore
	fetcher   *ResultFetcher
	callbacks CallbackDispatcher
}

// NewListenerFromDeps wires a listener around existing collaborators.
func NewListenerFromDeps(s store.JobStore, fetcher *ResultFetcher, callbacks CallbackDispatcher) *ListenerFunction {
	return &ListenerFunction{store: s, fetcher: fetcher, callbacks: callbacks}
}

// Process handles one CloudEvent. A non-nil error leaves the message
// unacknowledged so Pub/Sub redelivers it under the subscription's policy.
func (f *ListenerFunction) Process(ctx context.Context, e cloudevents.Event) error {
	n, messageID, err := decodeNotification(e.Data())
	if err != nil {
		// Redelivery cannot repair a malformed message; acknowledge it.
		slog.Error("Discarding malformed completion notification", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return nil
	}
	return f.HandleNotification(ctx, n, messageID)
}

// HandleNotification routes a validated notification to the Result Fetcher
// and, on a real transition to terminal, to the Callback Dispatcher.
func (f *ListenerFunction) HandleNotification(ctx context.Context, n models.CompletionNotification, messageID string) error {
	logCtx := slog.With("externalJobRef", n.ExternalJobRef, "outcome", n.Outcome, "messageId", messageID)

	job, err := f.store.FindByExternalRef(ctx, n.ExternalJobRef)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logCtx.Info("No job owns this engine reference. Discarding notification.")
			return nil
		}
		logCtx.Error("Failed to resolve engine reference", "error", err)
		return err
	}
	logCtx = logCtx.With("jobId", job.JobID)

	updated, changed, err := f.fetcher.Complete(ctx, job, n)
	if err != nil {
		return err
	}
	if !changed || updated.CallbackTarget == "" {
		return nil
	}

	if err := f.callbacks.Dispatch(ctx, updated); err != nil {
		logCtx.Warn("Callback delivery failed; job status remains available via polling.", "error", err)
	}
	return nil
}

// decodeNotification unwraps the Pub/Sub envelope. The notification is read
// from the message body, with message attributes filling any missing fields.
func decodeNotification(data []byte) (models.CompletionNotification, string, error) {
	var msg PubSubMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.CompletionNotification{}, "", fmt.Errorf("json.Unmarshal envelope: %w", err)
	}

	var n models.CompletionNotification
	if len(msg.Message.Data) > 0 {
		if err := json.Unmarshal(msg.Message.Data, &n); err != nil {
			return models.CompletionNotification{}, msg.Message.MessageID, fmt.Errorf("json.Unmarshal message data: %w", err)
		}
	}
	attrs := msg.Message.Attributes
	if n.ExternalJobRef == "" {
		n.ExternalJobRef = attrs["externalJobRef"]
	}
	if n.Outcome == "" {
		n.Outcome = models.NotificationOutcome(attrs["outcome"])
	}
	if n.ErrorDetail == "" {
		n.ErrorDetail = attrs["errorDetail"]
	}

	if err := n.Validate(); err != nil {
		return models.CompletionNotification{}, msg.Message.MessageID, err
	}
	return n, msg.Message.MessageID, nil
}
