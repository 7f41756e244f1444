package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carpo/internal/common"
	"github.com/ternarybob/carpo/internal/interfaces"
	"github.com/ternarybob/carpo/internal/models"
)

type capturedRequest struct {
	body      []byte
	signature string
	userAgent string
	at        time.Time
}

// receiver is an httptest endpoint scripted with per-request status codes
type receiver struct {
	mu       sync.Mutex
	statuses []int
	requests []capturedRequest
	server   *httptest.Server
}

func newReceiver(t *testing.T, statuses ...int) *receiver {
	r := &receiver{statuses: statuses}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, capturedRequest{
			body:      body,
			signature: req.Header.Get(SignatureHeader),
			userAgent: req.Header.Get("User-Agent"),
			at:        time.Now(),
		})
		status := http.StatusOK
		if len(r.statuses) > 0 {
			status = r.statuses[0]
			r.statuses = r.statuses[1:]
		}
		r.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *receiver) captured() []capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capturedRequest(nil), r.requests...)
}

func newTestDispatcher(cfg common.WebhookConfig) *Dispatcher {
	return New(cfg, arbor.NewLogger())
}

func defaultConfig() common.WebhookConfig {
	return common.WebhookConfig{
		Enabled:          true,
		Timeout:          5 * time.Second,
		MaxRetries:       3,
		ProgressInterval: time.Second,
		SigningSecret:    "test-secret",
		UserAgent:        "carpo-webhooks/1.0",
	}
}

func TestDeliverySignsExactBytes(t *testing.T) {
	r := newReceiver(t, 200)
	d := newTestDispatcher(defaultConfig())

	d.Completed(r.server.URL, "job_1", models.CompletedPayload{
		Filename:  "clip.mp4",
		SizeBytes: 1048576,
		PublicURL: "http://localhost:8080/files/job_1/clip.mp4",
	})

	reqs := r.captured()
	require.Len(t, reqs, 1)
	assert.True(t, Verify([]byte("test-secret"), reqs[0].body, reqs[0].signature))
	assert.Equal(t, "carpo-webhooks/1.0", reqs[0].userAgent)

	var envelope models.WebhookEvent
	require.NoError(t, json.Unmarshal(reqs[0].body, &envelope))
	assert.Equal(t, models.EventCompleted, envelope.Event)
	assert.Equal(t, "job_1", envelope.RequestID)
	_, err := time.Parse(time.RFC3339, envelope.Timestamp)
	assert.NoError(t, err)
}

func TestRetryOn5xxWithBackoff(t *testing.T) {
	r := newReceiver(t, 503, 503, 200)
	d := newTestDispatcher(defaultConfig())

	d.Failed(r.server.URL, "job_1", models.FailedPayload{Kind: models.KindDownloadError, Message: "boom"})

	reqs := r.captured()
	require.Len(t, reqs, 3)

	gap1 := reqs[1].at.Sub(reqs[0].at)
	gap2 := reqs[2].at.Sub(reqs[1].at)
	assert.InDelta(t, float64(time.Second), float64(gap1), float64(400*time.Millisecond))
	assert.InDelta(t, float64(2*time.Second), float64(gap2), float64(600*time.Millisecond))

	for _, req := range reqs {
		assert.True(t, Verify([]byte("test-secret"), req.body, req.signature))
	}
}

func TestNoRetryOn4xx(t *testing.T) {
	r := newReceiver(t, 404)
	d := newTestDispatcher(defaultConfig())

	d.Started(r.server.URL, "job_1", models.StartedPayload{URL: "https://example.com/v"})

	assert.Len(t, r.captured(), 1)
}

func TestRetriesExhausted(t *testing.T) {
	r := newReceiver(t, 500, 500, 500, 500)
	d := newTestDispatcher(defaultConfig())

	d.Started(r.server.URL, "job_1", models.StartedPayload{URL: "https://example.com/v"})

	// Attempt budget includes the first request.
	assert.Len(t, r.captured(), 3)
}

func TestProgressThrottledPerJob(t *testing.T) {
	r := newReceiver(t)
	cfg := defaultConfig()
	cfg.ProgressInterval = 10 * time.Second
	d := newTestDispatcher(cfg)

	for i := 0; i < 5; i++ {
		d.Progress(r.server.URL, "job_1", models.ProgressPayload{Percent: float64(i * 20)})
	}
	// A different job has its own bucket.
	d.Progress(r.server.URL, "job_2", models.ProgressPayload{Percent: 10})
	d.Close()

	reqs := r.captured()
	assert.Len(t, reqs, 2)
}

func TestProgressSequenceMonotonic(t *testing.T) {
	r := newReceiver(t)
	cfg := defaultConfig()
	cfg.ProgressInterval = time.Millisecond
	d := newTestDispatcher(cfg)

	for i := 0; i < 3; i++ {
		d.Progress(r.server.URL, "job_1", models.ProgressPayload{Percent: float64(i)})
		time.Sleep(50 * time.Millisecond)
	}
	d.Close()

	reqs := r.captured()
	require.Len(t, reqs, 3)

	var last uint64
	for _, req := range reqs {
		var envelope struct {
			Data models.ProgressPayload `json:"data"`
		}
		require.NoError(t, json.Unmarshal(req.body, &envelope))
		assert.Greater(t, envelope.Data.Sequence, last)
		last = envelope.Data.Sequence
	}
}

func TestProgressDoesNotBlockOnSlowReceiver(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)

	d := newTestDispatcher(defaultConfig())

	start := time.Now()
	d.Progress(slow.URL, "job_1", models.ProgressPayload{Percent: 50})
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	d.Close()
}

func TestTerminalWaitsForInflightProgress(t *testing.T) {
	var mu sync.Mutex
	var order []models.EventKind

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		var envelope models.WebhookEvent
		_ = json.Unmarshal(body, &envelope)
		if envelope.Event == models.EventProgress {
			time.Sleep(400 * time.Millisecond)
		}
		mu.Lock()
		order = append(order, envelope.Event)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := newTestDispatcher(defaultConfig())

	d.Progress(srv.URL, "job_1", models.ProgressPayload{Percent: 50})
	// Let the detached delivery reach the receiver before the terminal event.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	d.Completed(srv.URL, "job_1", models.CompletedPayload{Filename: "clip.mp4"})
	elapsed := time.Since(start)
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []models.EventKind{models.EventProgress, models.EventCompleted}, order,
		"receiver must observe progress before the terminal event")
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond, "terminal delivery waits out in-flight progress")
}

func TestRetryReusesKeepAliveConnection(t *testing.T) {
	var mu sync.Mutex
	var remotes []string
	statuses := []int{503, 200}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = io.Copy(io.Discard, req.Body)
		mu.Lock()
		status := statuses[0]
		if len(statuses) > 1 {
			statuses = statuses[1:]
		}
		remotes = append(remotes, req.RemoteAddr)
		mu.Unlock()
		w.WriteHeader(status)
		// A response body the client has to drain before reusing the connection.
		_, _ = w.Write([]byte(`{"ok":false,"detail":"try again"}`))
	}))
	t.Cleanup(srv.Close)

	d := newTestDispatcher(defaultConfig())
	d.Started(srv.URL, "job_1", models.StartedPayload{URL: "https://example.com/v"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, remotes, 2)
	assert.Equal(t, remotes[0], remotes[1], "retry must reuse the keep-alive connection")
}

func TestReleaseResetsThrottle(t *testing.T) {
	r := newReceiver(t)
	cfg := defaultConfig()
	cfg.ProgressInterval = 10 * time.Second
	d := newTestDispatcher(cfg)

	d.Progress(r.server.URL, "job_1", models.ProgressPayload{Percent: 10})
	d.Progress(r.server.URL, "job_1", models.ProgressPayload{Percent: 20}) // dropped
	d.Release("job_1")
	d.Progress(r.server.URL, "job_1", models.ProgressPayload{Percent: 30}) // fresh bucket
	d.Close()

	assert.Len(t, r.captured(), 2)
}

func TestDisabledDispatcherIsSilent(t *testing.T) {
	r := newReceiver(t)
	cfg := defaultConfig()
	cfg.Enabled = false
	d := newTestDispatcher(cfg)

	d.Started(r.server.URL, "job_1", models.StartedPayload{URL: "https://example.com/v"})
	d.Progress(r.server.URL, "job_1", models.ProgressPayload{Percent: 10})
	d.Close()

	assert.Empty(t, r.captured())
}

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"event":"download.completed"}`)

	sig := Sign([]byte("secret"), body)
	assert.Equal(t, sig, Sign([]byte("secret"), body), "signing is deterministic")
	assert.True(t, Verify([]byte("secret"), body, sig))
	assert.False(t, Verify([]byte("other"), body, sig))
	assert.False(t, Verify([]byte("secret"), []byte("tampered"), sig))
	assert.False(t, Verify([]byte("secret"), body, "md5=abc"))
}

var _ interfaces.WebhookDispatcher = (*Dispatcher)(nil)
