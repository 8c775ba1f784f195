package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Lllllllleong/extractionjobs/internal/engine"
	"github.com/Lllllllleong/extractionjobs/internal/models"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pubsubEvent wraps a notification the way Eventarc delivers Pub/Sub messages.
func pubsubEvent(t *testing.T, body any, attrs map[string]string) cloudevents.Event {
	t.Helper()
	var msg PubSubMessage
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		msg.Message.Data = data
	}
	msg.Message.Attributes = attrs
	msg.Message.MessageID = "msg-1"

	e := cloudevents.NewEvent()
	e.SetID("evt-1")
	e.SetSource("//pubsub.googleapis.com/projects/p/topics/extraction-done")
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, msg))
	return e
}

type harness struct {
	store      *fakeStore
	engine     *fakeEngine
	dispatcher *fakeDispatcher
	submitter  *SubmitterFunction
	listener   *ListenerFunction
	status     *StatusFunction
}

func newHarness() *harness {
	h := &harness{store: newFakeStore(), engine: newFakeEngine(), dispatcher: &fakeDispatcher{}}
	h.submitter = NewSubmitterFromDeps(h.store, h.engine, SubmitterConfig{})
	fetcher := NewResultFetcher(h.store, h.engine, nil, FetcherConfig{})
	h.listener = NewListenerFromDeps(h.store, fetcher, h.dispatcher)
	h.status = NewStatusFromDeps(h.store)
	return h
}

func (h *harness) submit(t *testing.T, callbackTarget string) (string, string) {
	t.Helper()
	resp, err := h.submitter.Process(context.Background(), &models.SubmitRequest{SourceRef: "gs://docs/doc1.pdf", CallbackTarget: callbackTarget})
	require.NoError(t, err)
	job, err := h.store.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	return resp.JobID, job.ExternalJobRef
}

// Scenario A.
func TestListener_SuccessConcatenatesUnits(t *testing.T) {
	h := newHarness()
	jobID, ref := h.submit(t, "")
	h.engine.results[ref] = &engine.Result{Units: []engine.TextUnit{{Index: 1, Text: "Hello "}, {Index: 2, Text: "World"}}}

	err := h.listener.Process(context.Background(), pubsubEvent(t, models.CompletionNotification{ExternalJobRef: ref, Outcome: models.OutcomeSuccess}, nil))
	require.NoError(t, err)

	job, err := h.status.Process(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, job.Status)
	assert.Equal(t, "Hello World", job.ExtractedText)
	assert.Empty(t, job.ErrorDetail)
}

// Scenario B.
func TestListener_FailureWithoutCallback(t *testing.T) {
	h := newHarness()
	jobID, ref := h.submit(t, "")
	h.engine.results[ref] = &engine.Result{Failed: true, ErrorDetail: "unsupported format"}

	require.NoError(t, h.listener.Process(context.Background(), pubsubEvent(t, models.CompletionNotification{ExternalJobRef: ref, Outcome: models.OutcomeFailure}, nil)))

	job, err := h.status.Process(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, "unsupported format", job.ErrorDetail)
	assert.Empty(t, job.ExtractedText)
	assert.Zero(t, h.dispatcher.count())
}

// Scenario C.
func TestListener_DuplicateDeliveryUpdatesAndCallsBackOnce(t *testing.T) {
	h := newHarness()
	_, ref := h.submit(t, "https://hooks.example.com/done")
	h.engine.results[ref] = &engine.Result{Units: []engine.TextUnit{{Index: 1, Text: "text"}}}
	event := pubsubEvent(t, models.CompletionNotification{ExternalJobRef: ref, Outcome: models.OutcomeSuccess}, nil)

	require.NoError(t, h.listener.Process(context.Background(), event))
	require.NoError(t, h.listener.Process(context.Background(), event))

	assert.Equal(t, 1, h.store.terminalOps)
	assert.Equal(t, 1, h.dispatcher.count())
}

func TestListener_ConcurrentDuplicatesConverge(t *testing.T) {
	h := newHarness()
	jobID, ref := h.submit(t, "https://hooks.example.com/done")
	h.engine.results[ref] = &engine.Result{Units: []engine.TextUnit{{Index: 1, Text: "same"}}}
	event := pubsubEvent(t, models.CompletionNotification{ExternalJobRef: ref, Outcome: models.OutcomeSuccess}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.listener.Process(context.Background(), event))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.dispatcher.count())
	job, err := h.status.Process(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "same", job.ExtractedText)
}

// Scenario D.
func TestListener_OrphanNotificationIsDiscarded(t *testing.T) {
	h := newHarness()
	before := h.store.writeCount()

	err := h.listener.Process(context.Background(), pubsubEvent(t, models.CompletionNotification{ExternalJobRef: "exec-unknown", Outcome: models.OutcomeSuccess}, nil))
	assert.NoError(t, err)
	assert.Equal(t, before, h.store.writeCount())
	assert.Zero(t, h.engine.fetches)
}

func TestListener_TransientFetchIsNotAcknowledged(t *testing.T) {
	h := newHarness()
	jobID, ref := h.submit(t, "https://hooks.example.com/done")

	err := h.listener.Process(context.Background(), pubsubEvent(t, models.CompletionNotification{ExternalJobRef: ref, Outcome: models.OutcomeSuccess}, nil))
	assert.ErrorIs(t, err, models.ErrTransientIO)
	assert.Zero(t, h.dispatcher.count())

	job, err := h.status.Process(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, job.Status)

	h.engine.results[ref] = &engine.Result{Units: []engine.TextUnit{{Index: 1, Text: "later"}}}
	require.NoError(t, h.listener.Process(context.Background(), pubsubEvent(t, models.CompletionNotification{ExternalJobRef: ref, Outcome: models.OutcomeSuccess}, nil)))
	assert.Equal(t, 1, h.dispatcher.count())
}

func TestListener_CallbackFailureIsNonFatal(t *testing.T) {
	h := newHarness()
	h.dispatcher.err = errors.Join(models.ErrCallbackDeliveryFailed, errors.New("503"))
	jobID, ref := h.submit(t, "https://hooks.example.com/done")
	h.engine.results[ref] = &engine.Result{Units: []engine.TextUnit{{Index: 1, Text: "ok"}}}

	err := h.listener.Process(context.Background(), pubsubEvent(t, models.CompletionNotification{ExternalJobRef: ref, Outcome: models.OutcomeSuccess}, nil))
	assert.NoError(t, err)

	job, err := h.status.Process(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, job.Status)
}

func TestListener_MalformedMessageIsAcknowledged(t *testing.T) {
	h := newHarness()
	assert.NoError(t, h.listener.Process(context.Background(), pubsubEvent(t, map[string]string{"outcome": "maybe"}, nil)))

	e := cloudevents.NewEvent()
	e.SetID("evt-2")
	e.SetSource("test")
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	require.NoError(t, e.SetData(cloudevents.TextPlain, []byte("not json")))
	assert.NoError(t, h.listener.Process(context.Background(), e))
}

func TestDecodeNotification_Attributes(t *testing.T) {
	e := pubsubEvent(t, nil, map[string]string{"externalJobRef": "exec-7", "outcome": "failure", "errorDetail": "bad scan"})

	n, messageID, err := decodeNotification(e.Data())
	require.NoError(t, err)
	assert.Equal(t, "msg-1", messageID)
	assert.Equal(t, "exec-7", n.ExternalJobRef)
	assert.Equal(t, models.OutcomeFailure, n.Outcome)
	assert.Equal(t, "bad scan", n.ErrorDetail)
}
