// Package queue is the bounded worker pool running download jobs. A weighted
// semaphore caps simultaneously running downloads independently of pool size.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"

	"github.com/ternarybob/carpo/internal/common"
	"github.com/ternarybob/carpo/internal/interfaces"
	"github.com/ternarybob/carpo/internal/models"
)

// task is one submitted job waiting for or holding a worker
type task struct {
	jobID     string
	work      interfaces.WorkFunc
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool // set under the queue lock before pickup
}

// Queue implements interfaces.ExecutionQueue
type Queue struct {
	registry  interfaces.JobRegistry
	webhooks  interfaces.WebhookDispatcher
	files     interfaces.FileManager
	retention float64 // artifact retention hours after completion
	logger    arbor.ILogger

	sem      *semaphore.Weighted
	tasks    chan *task
	capLimit int

	rootCtx    context.Context
	rootCancel context.CancelFunc
	workers    sync.WaitGroup

	mu        sync.Mutex
	pending   map[string]*task // submitted, not yet terminal
	waiting   int
	active    int
	closed    bool
	submitted int64
	rejected  int64
	completed int64
	failed    int64
	cancelled int64
}

// New builds the queue and starts its workers
func New(cfg common.QueueConfig, retentionHours float64, registry interfaces.JobRegistry, webhooks interfaces.WebhookDispatcher, files interfaces.FileManager, logger arbor.ILogger) *Queue {
	capLimit := 2 * cfg.MaxConcurrentDownloads
	rootCtx, rootCancel := context.WithCancel(context.Background())

	q := &Queue{
		registry:   registry,
		webhooks:   webhooks,
		files:      files,
		retention:  retentionHours,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentDownloads)),
		tasks:      make(chan *task, capLimit),
		capLimit:   capLimit,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		pending:    make(map[string]*task),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		q.workers.Add(1)
		go q.worker(i)
	}

	logger.Info().
		Int("workers", cfg.WorkerCount).
		Int("max_concurrent", cfg.MaxConcurrentDownloads).
		Int("capacity", capLimit).
		Msg("Execution queue started")

	return q
}

// Submit hands a queued job to the pool. Rejects with QueueFull when the
// in-flight count reaches twice the concurrency cap or the queue is shutting
// down.
func (q *Queue) Submit(jobID string, work interfaces.WorkFunc) error {
	q.mu.Lock()
	if q.closed {
		q.rejected++
		q.mu.Unlock()
		return models.E(models.KindQueueFull, "queue is shutting down")
	}
	if q.waiting+q.active >= q.capLimit {
		q.rejected++
		q.mu.Unlock()
		return models.Errorf(models.KindQueueFull, "queue at capacity (%d jobs in flight)", q.capLimit)
	}

	ctx, cancel := context.WithCancel(q.rootCtx)
	t := &task{jobID: jobID, work: work, ctx: ctx, cancel: cancel}
	q.pending[jobID] = t
	q.waiting++
	q.submitted++
	// Buffered to capLimit, so this never blocks after the capacity check.
	// Sending under the lock keeps the send ordered before a concurrent
	// shutdown closes the channel.
	q.tasks <- t
	q.mu.Unlock()

	q.logger.Debug().Str("job_id", jobID).Msg("Job submitted")
	return nil
}

// Cancel flips the job's cancellation token. A still-waiting job moves
// straight to CANCELLED; a running job is signalled cooperatively and commits
// its own terminal state.
func (q *Queue) Cancel(jobID string) bool {
	q.mu.Lock()
	t, ok := q.pending[jobID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	wasWaiting := !t.cancelled && q.isWaiting(t)
	t.cancelled = true
	q.mu.Unlock()

	t.cancel()

	if wasWaiting {
		// The worker will observe the flag on pickup and skip the work; commit
		// the terminal state now so callers see it immediately.
		q.commitCancelled(jobID)
	}

	q.logger.Info().Str("job_id", jobID).Bool("was_waiting", wasWaiting).Msg("Job cancel requested")
	return true
}

// isWaiting reports whether the task has not been picked up yet. Caller holds
// the queue lock.
func (q *Queue) isWaiting(t *task) bool {
	job, err := q.registry.Get(t.jobID)
	return err == nil && job.Status == models.JobStatusQueued
}

// Stats returns current counters
func (q *Queue) Stats() interfaces.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return interfaces.QueueStats{
		Submitted: q.submitted,
		Rejected:  q.rejected,
		Active:    q.active,
		Waiting:   q.waiting,
		Completed: q.completed,
		Failed:    q.failed,
		Cancelled: q.cancelled,
	}
}

// Healthy reports whether the pool is accepting work
func (q *Queue) Healthy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.closed
}

// Shutdown refuses new submissions and cancels waiting jobs. With wait, it
// blocks until active jobs finish or ctx expires, then cancels stragglers.
func (q *Queue) Shutdown(ctx context.Context, wait bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	var stillWaiting []*task
	for _, t := range q.pending {
		if !t.cancelled && q.isWaiting(t) {
			t.cancelled = true
			stillWaiting = append(stillWaiting, t)
		}
	}
	q.mu.Unlock()

	for _, t := range stillWaiting {
		t.cancel()
		q.commitCancelled(t.jobID)
	}
	close(q.tasks)

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()

	if wait {
		select {
		case <-done:
		case <-ctx.Done():
			q.rootCancel()
			<-done
		}
	} else {
		q.rootCancel()
		<-done
	}

	q.logger.Info().Msg("Execution queue stopped")
}

// worker consumes tasks in FIFO order
func (q *Queue) worker(n int) {
	defer q.workers.Done()
	for t := range q.tasks {
		q.runTask(t)
	}
	q.logger.Debug().Int("worker", n).Msg("Queue worker exiting")
}

// runTask moves a task through pickup, execution and terminal commit
func (q *Queue) runTask(t *task) {
	q.mu.Lock()
	if t.cancelled {
		q.waiting--
		q.cancelled++
		delete(q.pending, t.jobID)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	if err := q.sem.Acquire(t.ctx, 1); err != nil {
		// Cancelled while waiting for a download slot.
		q.commitCancelled(t.jobID)
		q.mu.Lock()
		q.waiting--
		q.cancelled++
		delete(q.pending, t.jobID)
		q.mu.Unlock()
		return
	}
	defer q.sem.Release(1)

	q.mu.Lock()
	q.waiting--
	q.active++
	q.mu.Unlock()

	snap, err := q.registry.Update(t.jobID, func(j *models.Job) {
		now := time.Now()
		j.Status = models.JobStatusRunning
		j.StartedAt = &now
	})
	if err == nil && snap.Status == models.JobStatusRunning && snap.Options.WebhookURL != "" {
		q.webhooks.Started(snap.Options.WebhookURL, t.jobID, models.StartedPayload{URL: snap.URL})
	}

	artifact, workErr := t.work(t.ctx)
	q.commit(t, snap, artifact, workErr)

	q.mu.Lock()
	q.active--
	delete(q.pending, t.jobID)
	q.mu.Unlock()
}

// commit writes the terminal state, emits the terminal webhook and arms
// retention for completed artifacts.
func (q *Queue) commit(t *task, snap models.Job, artifact *models.Artifact, workErr error) {
	defer t.cancel()
	defer q.webhooks.Release(t.jobID)

	switch {
	case workErr == nil:
		final, err := q.registry.Update(t.jobID, func(j *models.Job) {
			now := time.Now()
			j.Status = models.JobStatusCompleted
			j.Artifact = artifact
			j.CompletedAt = &now
			j.Progress.Percent = 100
		})
		if err != nil || final.Status != models.JobStatusCompleted {
			return
		}
		q.mu.Lock()
		q.completed++
		q.mu.Unlock()

		if snap.Options.WebhookURL != "" {
			q.webhooks.Completed(snap.Options.WebhookURL, t.jobID, models.CompletedPayload{
				Filename:  artifact.Filename,
				SizeBytes: artifact.SizeBytes,
				PublicURL: artifact.PublicURL,
				Title:     artifact.Title,
			})
		}
		if _, err := q.files.ScheduleDeletion(artifact.Path, q.retention); err != nil {
			q.logger.Warn().Err(err).Str("job_id", t.jobID).Msg("Retention scheduling failed")
		}

		q.logger.Info().
			Str("job_id", t.jobID).
			Str("artifact", artifact.Filename).
			Int64("size_bytes", artifact.SizeBytes).
			Msg("Job completed")

	case models.IsKind(workErr, models.KindCancelled):
		// No terminal webhook for cancellation.
		q.commitCancelled(t.jobID)
		q.mu.Lock()
		q.cancelled++
		q.mu.Unlock()

	default:
		kind := models.KindOf(workErr)
		_, err := q.registry.Update(t.jobID, func(j *models.Job) {
			now := time.Now()
			j.Status = models.JobStatusFailed
			j.Error = &models.ErrorInfo{Kind: kind, Message: workErr.Error()}
			j.CompletedAt = &now
		})
		if err != nil {
			return
		}
		q.mu.Lock()
		q.failed++
		q.mu.Unlock()

		if snap.Options.WebhookURL != "" {
			q.webhooks.Failed(snap.Options.WebhookURL, t.jobID, models.FailedPayload{
				Kind:    kind,
				Message: workErr.Error(),
			})
		}

		q.logger.Warn().
			Str("job_id", t.jobID).
			Str("kind", string(kind)).
			Str("error", workErr.Error()).
			Msg("Job failed")
	}
}

// commitCancelled writes the CANCELLED terminal state without a webhook
func (q *Queue) commitCancelled(jobID string) {
	_, _ = q.registry.Update(jobID, func(j *models.Job) {
		now := time.Now()
		j.Status = models.JobStatusCancelled
		j.Error = &models.ErrorInfo{Kind: models.KindCancelled, Message: "cancelled"}
		j.CompletedAt = &now
	})
}
