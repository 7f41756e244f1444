// Package webhook delivers signed lifecycle events to user-supplied URLs.
// Lifecycle events are awaited; progress events are throttled per job and
// dispatched fire-and-forget. Delivery failures never surface to job state.
package webhook

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/carpo/internal/common"
	"github.com/ternarybob/carpo/internal/models"
)

// initialBackoff is the wait before the second delivery attempt; it doubles
// on each further attempt (1s, 2s, 4s, ...).
const initialBackoff = time.Second

// jobState holds the per-job progress throttle, sequence counter and the
// in-flight progress deliveries a terminal event must not overtake
type jobState struct {
	limiter  *rate.Limiter
	seq      uint64
	inflight sync.WaitGroup
}

// Dispatcher implements interfaces.WebhookDispatcher
type Dispatcher struct {
	cfg    common.WebhookConfig
	client *http.Client
	logger arbor.ILogger

	inflight sync.WaitGroup // fire-and-forget progress deliveries

	mu     sync.Mutex
	jobs   map[string]*jobState
	closed bool
}

// New builds the dispatcher with a client bounded by the configured timeout
func New(cfg common.WebhookConfig, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		jobs:   make(map[string]*jobState),
	}
}

// Started emits a download.started event and waits for delivery
func (d *Dispatcher) Started(webhookURL, jobID string, payload models.StartedPayload) {
	d.deliver(webhookURL, models.EventStarted, jobID, payload)
}

// Completed emits a download.completed event and waits for delivery. The
// job's in-flight progress deliveries settle first so the receiver never sees
// the terminal event ahead of an earlier progress event.
func (d *Dispatcher) Completed(webhookURL, jobID string, payload models.CompletedPayload) {
	d.awaitProgress(jobID)
	d.deliver(webhookURL, models.EventCompleted, jobID, payload)
}

// Failed emits a download.failed event and waits for delivery, after the
// job's in-flight progress deliveries settle.
func (d *Dispatcher) Failed(webhookURL, jobID string, payload models.FailedPayload) {
	d.awaitProgress(jobID)
	d.deliver(webhookURL, models.EventFailed, jobID, payload)
}

// awaitProgress blocks until the job's detached progress deliveries finish
func (d *Dispatcher) awaitProgress(jobID string) {
	d.mu.Lock()
	state, ok := d.jobs[jobID]
	d.mu.Unlock()
	if ok {
		state.inflight.Wait()
	}
}

// Progress emits a download.progress event, at most one per job per throttle
// interval. Elided intermediates are dropped; delivery is fire-and-forget so
// the caller never blocks on a slow receiver.
func (d *Dispatcher) Progress(webhookURL, jobID string, payload models.ProgressPayload) {
	if !d.cfg.Enabled || webhookURL == "" {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	state, ok := d.jobs[jobID]
	if !ok {
		state = &jobState{limiter: rate.NewLimiter(rate.Every(d.cfg.ProgressInterval), 1)}
		d.jobs[jobID] = state
	}
	if !state.limiter.Allow() {
		d.mu.Unlock()
		return
	}
	state.seq++
	payload.Sequence = state.seq
	d.inflight.Add(1)
	state.inflight.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.inflight.Done()
		defer state.inflight.Done()
		d.deliver(webhookURL, models.EventProgress, jobID, payload)
	}()
}

// Release drops the per-job throttle bucket once the job is terminal
func (d *Dispatcher) Release(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.jobs, jobID)
}

// Close stops accepting progress events and waits for in-flight deliveries
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.inflight.Wait()
}

// deliver serializes the envelope once, signs those exact bytes and posts
// with retry. 4xx is permanent; 5xx and transport errors back off
// exponentially up to the configured attempt budget.
func (d *Dispatcher) deliver(webhookURL string, kind models.EventKind, jobID string, payload interface{}) {
	if !d.cfg.Enabled || webhookURL == "" {
		return
	}

	body, err := json.Marshal(models.NewWebhookEvent(kind, jobID, payload))
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", jobID).Msg("Webhook payload serialization failed")
		return
	}
	signature := Sign([]byte(d.cfg.SigningSecret), body)

	attempts := d.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	backoff := initialBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := d.post(webhookURL, body, signature)

		switch {
		case err == nil && status >= 200 && status < 300:
			d.logger.Debug().
				Str("job_id", jobID).
				Str("event", string(kind)).
				Int("attempt", attempt).
				Msg("Webhook delivered")
			return

		case err == nil && status >= 400 && status < 500:
			// Permanent rejection, never retried.
			d.logger.Debug().
				Str("job_id", jobID).
				Str("event", string(kind)).
				Int("status", status).
				Msg("Webhook rejected")
			return
		}

		if attempt == attempts {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	d.logger.Warn().
		Str("job_id", jobID).
		Str("event", string(kind)).
		Str("url", webhookURL).
		Int("attempts", attempts).
		Msg("Webhook delivery failed")
}

// post sends one attempt and returns the HTTP status
func (d *Dispatcher) post(webhookURL string, body []byte, signature string) (int, error) {
	req, err := http.NewRequest(http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// Drain so the keep-alive connection is reusable for the next attempt.
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
