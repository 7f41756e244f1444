// Package batch expands multi-URL requests into child jobs, enforces
// per-batch concurrency and aggregates child terminal states.
package batch

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

// defaultConcurrency applies when a request leaves the cap unset
const defaultConcurrency = 2

// terminalPollInterval paces the driver's terminal-state detection
const terminalPollInterval = 25 * time.Millisecond

// submitRetryInterval paces resubmission while the queue is at capacity
const submitRetryInterval = 50 * time.Millisecond

// record is the coordinator's mutable view of one batch
type record struct {
	mu    sync.Mutex
	batch models.Batch
	stop  bool
}

func (r *record) setStop() {
	r.mu.Lock()
	r.stop = true
	r.mu.Unlock()
}

func (r *record) stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop
}

func (r *record) snapshot() models.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.batch
	b.ChildIDs = append([]string(nil), r.batch.ChildIDs...)
	return b
}

// Coordinator implements interfaces.BatchCoordinator
type Coordinator struct {
	cfg      common.BatchConfig
	registry interfaces.JobRegistry
	queue    interfaces.ExecutionQueue
	work     interfaces.WorkFactory
	logger   arbor.ILogger

	mu      sync.Mutex
	batches map[string]*record
}

// New wires the coordinator to the registry and execution queue
func New(cfg common.BatchConfig, registry interfaces.JobRegistry, queue interfaces.ExecutionQueue, work interfaces.WorkFactory, logger arbor.ILogger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		queue:    queue,
		work:     work,
		logger:   logger,
		batches:  make(map[string]*record),
	}
}

// Create validates the request, registers child jobs with deterministic ids
// and starts the batch driver.
func (c *Coordinator) Create(req models.BatchRequest) (models.Batch, error) {
	if err := req.Validate(); err != nil {
		return models.Batch{}, err
	}

	urls := dedupe(req.URLs)
	if len(urls) == 0 {
		return models.Batch{}, models.E(models.KindValidationFailed, "batch contains no URLs")
	}
	if len(urls) > c.cfg.MaxSize {
		return models.Batch{}, models.Errorf(models.KindValidationFailed, "batch size %d exceeds maximum %d", len(urls), c.cfg.MaxSize)
	}

	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = defaultConcurrency
	}

	batchID := common.NewBatchID()
	now := time.Now()
	childIDs := make([]string, len(urls))
	for i, url := range urls {
		childID := common.ChildJobID(batchID, i)
		if _, err := c.registry.Create(childID, url, req.Options); err != nil {
			return models.Batch{}, err
		}
		if _, err := c.registry.Update(childID, func(j *models.Job) { j.BatchID = batchID }); err != nil {
			return models.Batch{}, err
		}
		childIDs[i] = childID
	}

	rec := &record{batch: models.Batch{
		ID:          batchID,
		ChildIDs:    childIDs,
		Status:      models.BatchStatusRunning,
		Concurrency: concurrency,
		StopOnError: req.StopOnError,
		CreatedAt:   now,
		StartedAt:   &now,
	}}

	c.mu.Lock()
	c.batches[batchID] = rec
	c.mu.Unlock()

	go c.drive(rec)

	c.logger.Info().
		Str("batch_id", batchID).
		Int("children", len(childIDs)).
		Int("concurrency", concurrency).
		Bool("stop_on_error", req.StopOnError).
		Msg("Batch created")

	return rec.snapshot(), nil
}

// Status returns the batch record with per-child summaries
func (c *Coordinator) Status(batchID string) (models.BatchStatusReport, error) {
	c.mu.Lock()
	rec, ok := c.batches[batchID]
	c.mu.Unlock()
	if !ok {
		return models.BatchStatusReport{}, models.Errorf(models.KindNotFound, "batch %s not found", batchID)
	}

	children := c.registry.List(interfaces.JobFilter{BatchID: batchID})
	return models.BatchStatusReport{
		Batch:    rec.snapshot(),
		Stats:    childStats(children),
		Children: children,
	}, nil
}

// Cancel sets the stop signal and cancels every non-terminal child. Running
// children are signalled through the queue; children not yet submitted move
// straight to CANCELLED.
func (c *Coordinator) Cancel(batchID string) (int, error) {
	c.mu.Lock()
	rec, ok := c.batches[batchID]
	c.mu.Unlock()
	if !ok {
		return 0, models.Errorf(models.KindNotFound, "batch %s not found", batchID)
	}

	rec.setStop()

	cancelled := 0
	for _, childID := range rec.snapshot().ChildIDs {
		job, err := c.registry.Get(childID)
		if err != nil || job.Status.IsTerminal() {
			continue
		}
		if c.queue.Cancel(childID) {
			cancelled++
			continue
		}
		// Not yet handed to the queue; commit the terminal state directly.
		snap, err := c.registry.Update(childID, func(j *models.Job) {
			now := time.Now()
			j.Status = models.JobStatusCancelled
			j.Error = &models.ErrorInfo{Kind: models.KindCancelled, Message: "batch cancelled"}
			j.CompletedAt = &now
		})
		if err == nil && snap.Status == models.JobStatusCancelled {
			cancelled++
		}
	}

	c.logger.Info().
		Str("batch_id", batchID).
		Int("cancelled", cancelled).
		Msg("Batch cancel requested")

	return cancelled, nil
}

// Reap evicts terminal batches older than the threshold, along with their
// child job records.
func (c *Coordinator) Reap(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	c.mu.Lock()
	var doomed []*record
	for id, rec := range c.batches {
		b := rec.snapshot()
		if b.Status == models.BatchStatusRunning || b.CompletedAt == nil || b.CompletedAt.After(cutoff) {
			continue
		}
		doomed = append(doomed, rec)
		delete(c.batches, id)
	}
	c.mu.Unlock()

	for _, rec := range doomed {
		b := rec.snapshot()
		for _, childID := range b.ChildIDs {
			c.registry.Delete(childID)
		}
		c.logger.Debug().Str("batch_id", b.ID).Msg("Batch reaped")
	}
	return len(doomed)
}

// drive runs one batch: submit children under the concurrency semaphore,
// honor the stop signal and aggregate the terminal state.
func (c *Coordinator) drive(rec *record) {
	b := rec.snapshot()
	sem := semaphore.NewWeighted(int64(b.Concurrency))
	var wg sync.WaitGroup

	for _, childID := range b.ChildIDs {
		if rec.stopped() {
			c.cancelUnsubmitted(childID)
			continue
		}

		if err := sem.Acquire(context.Background(), 1); err != nil {
			break
		}
		if rec.stopped() {
			sem.Release(1)
			c.cancelUnsubmitted(childID)
			continue
		}

		job, err := c.registry.Get(childID)
		if err != nil {
			sem.Release(1)
			continue
		}
		if job.Status.IsTerminal() {
			// Cancelled externally before submission.
			sem.Release(1)
			continue
		}

		if !c.submitWithBackoff(rec, childID, job) {
			if b.StopOnError {
				// A terminal submit failure counts like a failed child.
				if snap, err := c.registry.Get(childID); err == nil && snap.Status == models.JobStatusFailed {
					rec.setStop()
				}
			}
			sem.Release(1)
			continue
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)
			final := c.awaitTerminal(id)
			if final == models.JobStatusFailed && b.StopOnError {
				rec.setStop()
			}
		}(childID)
	}

	wg.Wait()
	c.finalize(rec)
}

// submitWithBackoff hands the child to the queue, retrying while the queue is
// merely at capacity. A per-batch concurrency above the queue's admission
// limit otherwise overflows it, so capacity rejections back off and resubmit
// until a slot frees, the batch stops, or the queue goes unhealthy. Returns
// whether the child was accepted; on false the child is already terminal.
func (c *Coordinator) submitWithBackoff(rec *record, childID string, job models.Job) bool {
	for {
		err := c.queue.Submit(childID, c.work(job))
		if err == nil {
			return true
		}
		if models.KindOf(err) != models.KindQueueFull || !c.queue.Healthy() {
			c.commitChildFailure(childID, err)
			return false
		}
		if rec.stopped() {
			c.cancelUnsubmitted(childID)
			return false
		}
		time.Sleep(submitRetryInterval)
	}
}

// cancelUnsubmitted moves a child that never reached the queue to CANCELLED
func (c *Coordinator) cancelUnsubmitted(childID string) {
	_, _ = c.registry.Update(childID, func(j *models.Job) {
		now := time.Now()
		j.Status = models.JobStatusCancelled
		j.Error = &models.ErrorInfo{Kind: models.KindCancelled, Message: "batch stopped"}
		j.CompletedAt = &now
	})
}

// commitChildFailure records a submission failure as the child's terminal
// state. The child never reached a worker, so the commit passes through
// RUNNING to stay on the status DAG; a child already terminal (cancelled
// externally) keeps its state.
func (c *Coordinator) commitChildFailure(childID string, err error) {
	now := time.Now()
	snap, uerr := c.registry.Update(childID, func(j *models.Job) {
		j.Status = models.JobStatusRunning
		j.StartedAt = &now
	})
	if uerr != nil || snap.Status != models.JobStatusRunning {
		return
	}
	_, _ = c.registry.Update(childID, func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.Error = &models.ErrorInfo{Kind: models.KindOf(err), Message: err.Error()}
		j.CompletedAt = &now
	})
}

// awaitTerminal polls the registry until the child reaches a terminal state
func (c *Coordinator) awaitTerminal(childID string) models.JobStatus {
	for {
		job, err := c.registry.Get(childID)
		if err != nil {
			return models.JobStatusFailed
		}
		if job.Status.IsTerminal() {
			return job.Status
		}
		time.Sleep(terminalPollInterval)
	}
}

// finalize stamps the batch terminal state once every child is terminal.
// The batch fails only when stop-on-error is set and a child failed; without
// the flag the batch completes and carries the failure counts in its summary.
func (c *Coordinator) finalize(rec *record) {
	b := rec.snapshot()
	children := c.registry.List(interfaces.JobFilter{BatchID: b.ID})
	stats := childStats(children)

	status := models.BatchStatusCompleted
	if b.StopOnError && stats.Failed > 0 {
		status = models.BatchStatusFailed
	}

	now := time.Now()
	rec.mu.Lock()
	rec.batch.Status = status
	rec.batch.CompletedAt = &now
	rec.batch.Summary = stats.Summary()
	rec.mu.Unlock()

	c.logger.Info().
		Str("batch_id", b.ID).
		Str("status", string(status)).
		Str("summary", stats.Summary()).
		Msg("Batch finished")
}

// childStats aggregates child statuses
func childStats(children []models.Job) models.BatchChildStats {
	stats := models.BatchChildStats{Total: len(children)}
	for _, child := range children {
		switch child.Status {
		case models.JobStatusQueued:
			stats.Queued++
		case models.JobStatusRunning:
			stats.Running++
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		case models.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// dedupe drops repeated URLs while preserving first-seen order
func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out
}
