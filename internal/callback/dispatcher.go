// Package callback pushes terminal job outcomes to caller-specified targets.
package callback

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/extractionjobs/internal/gcp"
	"github.com/Lllllllleong/extractionjobs/internal/models"
	"github.com/redis/go-redis/v9"
)

// Config tunes callback delivery.
type Config struct {
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Dispatcher delivers callback messages over HTTP(S), to GCS objects, or to
// Redis pub/sub channels depending on the target's URI scheme.
type Dispatcher struct {
	httpClient    *http.Client
	storageClient *storage.Client
	timeout       time.Duration

	mu           sync.Mutex
	redisClients map[string]*redis.Client
}

// NewDispatcher creates a Dispatcher. storageClient may be nil when gs://
// targets are not used.
func NewDispatcher(storageClient *storage.Client, cfg Config) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Dispatcher{
		httpClient:    hc,
		storageClient: storageClient,
		timeout:       timeout,
		redisClients:  make(map[string]*redis.Client),
	}
}

// ValidateTarget checks a callback target before a job is created with it.
func ValidateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: callback target: %v", models.ErrInvalidRequest, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%w: callback target %q has no host", models.ErrInvalidRequest, target)
		}
	case "gs":
		if _, _, err := gcp.ParseGCSURI(target, true); err != nil {
			return fmt.Errorf("%w: callback target: %v", models.ErrInvalidRequest, err)
		}
	case "redis", "rediss":
		if u.Query().Get("channel") == "" {
			return fmt.Errorf("%w: redis callback target %q needs a channel parameter", models.ErrInvalidRequest, target)
		}
	default:
		return fmt.Errorf("%w: unsupported callback scheme %q", models.ErrInvalidRequest, u.Scheme)
	}
	return nil
}

// Dispatch pushes the job's outcome to its callback target once. Failures are
// wrapped in models.ErrCallbackDeliveryFailed and are never retried here.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	if job.CallbackTarget == "" {
		return nil
	}
	if err := ValidateTarget(job.CallbackTarget); err != nil {
		return fmt.Errorf("%w: %w", models.ErrCallbackDeliveryFailed, err)
	}
	body, err := json.Marshal(models.NewCallbackMessage(job))
	if err != nil {
		return fmt.Errorf("%w: encode callback payload: %v", models.ErrCallbackDeliveryFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	u, _ := url.Parse(job.CallbackTarget)
	switch u.Scheme {
	case "http", "https":
		err = d.postJSON(ctx, job.CallbackTarget, body)
	case "gs":
		err = d.writeObject(ctx, job, body)
	default:
		err = d.publishRedis(ctx, u, body)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrCallbackDeliveryFailed, redactTarget(u), err)
	}
	slog.Info("Callback delivered.", "jobId", job.JobID, "status", job.Status, "target", redactTarget(u))
	return nil
}

func (d *Dispatcher) postJSON(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) writeObject(ctx context.Context, job *models.Job, body []byte) error {
	if d.storageClient == nil {
		return fmt.Errorf("no storage client configured for gs:// callbacks")
	}
	bucket, prefix, err := gcp.ParseGCSURI(job.CallbackTarget, true)
	if err != nil {
		return err
	}
	objectName := path.Join(prefix, job.JobID+".json")
	return gcp.SaveToGCSAtomically(ctx, d.storageClient.Bucket(bucket), objectName, "application/json", string(body))
}

func (d *Dispatcher) publishRedis(ctx context.Context, u *url.URL, body []byte) error {
	channel := u.Query().Get("channel")
	client, err := d.redisClient(u)
	if err != nil {
		return err
	}
	return client.Publish(ctx, channel, body).Err()
}

// redisClient returns a pooled client for the target's address and database.
func (d *Dispatcher) redisClient(u *url.URL) (*redis.Client, error) {
	stripped := *u
	q := stripped.Query()
	q.Del("channel")
	stripped.RawQuery = q.Encode()

	opts, err := redis.ParseURL(stripped.String())
	if err != nil {
		return nil, fmt.Errorf("parse redis target: %w", err)
	}
	key := redisPoolKey(opts)

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.redisClients[key]; ok {
		return c, nil
	}
	c := redis.NewClient(opts)
	d.redisClients[key] = c
	return c, nil
}

// redisPoolKey identifies a client by address, database and credentials.
func redisPoolKey(opts *redis.Options) string {
	secret := sha256.Sum256([]byte(opts.Password))
	return opts.Username + ":" + hex.EncodeToString(secret[:8]) + "@" + opts.Addr + "/" + strconv.Itoa(opts.DB)
}

// Close releases pooled Redis connections.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for key, c := range d.redisClients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.redisClients, key)
	}
	return firstErr
}

// redactTarget drops credentials and query strings before logging a target.
func redactTarget(u *url.URL) string {
	safe := *u
	safe.User = nil
	safe.RawQuery = ""
	return safe.String()
}
