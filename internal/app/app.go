package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carpo/internal/batch"
	"github.com/ternarybob/carpo/internal/common"
	"github.com/ternarybob/carpo/internal/downloader"
	"github.com/ternarybob/carpo/internal/expander"
	"github.com/ternarybob/carpo/internal/files"
	"github.com/ternarybob/carpo/internal/interfaces"
	"github.com/ternarybob/carpo/internal/models"
	"github.com/ternarybob/carpo/internal/queue"
	"github.com/ternarybob/carpo/internal/registry"
	"github.com/ternarybob/carpo/internal/retention"
	"github.com/ternarybob/carpo/internal/webhook"
)

// shutdownTimeout bounds the wait for active downloads during Close
const shutdownTimeout = 30 * time.Second

// App holds the execution core and its dependencies. The HTTP layer sits
// outside this module and drives the core through the exported fields and
// the facade methods below.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Retention *retention.Scheduler
	Files     *files.Manager
	Registry  *registry.Registry
	Webhooks  *webhook.Dispatcher
	Driver    *downloader.Driver
	Queue     *queue.Queue
	Batches   *batch.Coordinator
	Expander  *expander.Expander

	cron *cron.Cron
}

// New initializes the execution core in dependency order: retention worker,
// file manager, registry, webhook dispatcher, driver, queue, batch
// coordinator, expander, then the maintenance cron.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	app.Retention = retention.NewScheduler(logger)

	fm, err := files.NewManager(cfg.Storage.Root, cfg.Server.PublicBaseURL, app.Retention, logger)
	if err != nil {
		app.Retention.Shutdown(false)
		return nil, fmt.Errorf("failed to initialize file manager: %w", err)
	}
	app.Files = fm
	logger.Debug().
		Str("root", fm.Root()).
		Str("retention_hours", fmt.Sprintf("%g", cfg.Storage.RetentionHours)).
		Msg("Storage layer initialized")

	app.Registry = registry.New(logger)

	app.Webhooks = webhook.New(cfg.Webhook, logger)
	logger.Debug().
		Bool("enabled", cfg.Webhook.Enabled).
		Int("max_retries", cfg.Webhook.MaxRetries).
		Msg("Webhook dispatcher initialized")

	app.Driver = downloader.New(cfg.Downloader, app.Files, app.Registry, logger)
	logger.Debug().
		Str("binary", cfg.Downloader.BinaryPath).
		Msg("Downloader driver initialized")

	app.Queue = queue.New(cfg.Queue, cfg.Storage.RetentionHours, app.Registry, app.Webhooks, app.Files, logger)
	logger.Debug().
		Int("workers", cfg.Queue.WorkerCount).
		Int("max_concurrent", cfg.Queue.MaxConcurrentDownloads).
		Msg("Execution queue started")

	app.Batches = batch.New(cfg.Batch, app.Registry, app.Queue, app.workFor, logger)
	app.Expander = expander.New(app.Driver, logger)

	if err := app.startMaintenance(); err != nil {
		app.Queue.Shutdown(context.Background(), false)
		app.Retention.Shutdown(false)
		app.Webhooks.Close()
		return nil, err
	}

	logger.Info().
		Int("workers", cfg.Queue.WorkerCount).
		Int("max_concurrent_downloads", cfg.Queue.MaxConcurrentDownloads).
		Str("storage_root", fm.Root()).
		Msg("Application initialization complete")

	return app, nil
}

// startMaintenance wires the periodic batch reap and the retention sweep
// safety net onto the configured cron schedule.
func (a *App) startMaintenance() error {
	c := cron.New()
	_, err := c.AddFunc(a.Config.Batch.ReapSchedule, func() {
		evicted := a.Batches.Reap(a.Config.ReapAgeDuration())
		if evicted > 0 {
			a.Logger.Info().Int("evicted", evicted).Msg("Reaped terminal batches")
		}
		a.sweepRetention()
	})
	if err != nil {
		return fmt.Errorf("invalid batch.reap_schedule %q: %w", a.Config.Batch.ReapSchedule, err)
	}
	c.Start()
	a.cron = c
	a.Logger.Debug().
		Str("schedule", a.Config.Batch.ReapSchedule).
		Str("reap_age", a.Config.Batch.ReapAge).
		Msg("Maintenance cron started")
	return nil
}

// sweepRetention re-arms deletion for any completed artifact still on disk
// past its retention deadline. Normally the queue schedules retention at
// completion; the sweep only catches tasks lost to a missed deadline.
func (a *App) sweepRetention() {
	ttlHours := a.Config.Storage.RetentionHours
	if ttlHours <= 0 {
		return
	}
	ttl := time.Duration(ttlHours * float64(time.Hour))

	for _, job := range a.Registry.List(interfaces.JobFilter{Status: models.JobStatusCompleted}) {
		if job.Artifact == nil || job.CompletedAt == nil {
			continue
		}
		if time.Since(*job.CompletedAt) < ttl {
			continue
		}
		if _, err := os.Stat(job.Artifact.Path); err != nil {
			continue
		}
		a.Retention.Schedule(job.Artifact.Path, 0)
		a.Logger.Warn().
			Str("job_id", job.ID).
			Str("path", job.Artifact.Path).
			Msg("Artifact outlived its retention deadline, re-armed deletion")
	}
}

// workFor builds the execution-queue work function for a job: run the
// download with a sink that feeds the registry and the webhook throttle.
func (a *App) workFor(job models.Job) interfaces.WorkFunc {
	return func(ctx context.Context) (*models.Artifact, error) {
		return a.Driver.Run(ctx, job, a.progressSink(job))
	}
}

func (a *App) progressSink(job models.Job) interfaces.ProgressSink {
	return func(p models.JobProgress) {
		if err := a.Registry.UpdateProgress(job.ID, p); err != nil {
			return
		}
		if job.Options.WebhookURL == "" {
			return
		}
		a.Webhooks.Progress(job.Options.WebhookURL, job.ID, models.ProgressPayload{
			Percent:         p.Percent,
			DownloadedBytes: p.DownloadedBytes,
			TotalBytes:      p.TotalBytes,
			Speed:           p.Speed,
			ETASeconds:      p.ETASeconds,
		})
	}
}

// SubmitJob validates a single-URL request, registers the job and hands it
// to the queue. A queue-full rejection evicts the fresh registry record so
// rejected submissions leave no trace.
func (a *App) SubmitJob(req models.SubmitRequest) (models.Job, error) {
	if err := req.Validate(); err != nil {
		return models.Job{}, err
	}

	job, err := a.Registry.Create(common.NewJobID(), req.URL, req.Options)
	if err != nil {
		return models.Job{}, err
	}

	if err := a.Queue.Submit(job.ID, a.workFor(job)); err != nil {
		a.Registry.Delete(job.ID)
		return models.Job{}, err
	}

	a.Logger.Info().
		Str("job_id", job.ID).
		Str("url", job.URL).
		Msg("Job submitted")
	return job, nil
}

// GetJob returns a snapshot of the job record
func (a *App) GetJob(jobID string) (models.Job, error) {
	return a.Registry.Get(jobID)
}

// ListJobs returns job snapshots matching the filter
func (a *App) ListJobs(filter interfaces.JobFilter) []models.Job {
	return a.Registry.List(filter)
}

// JobLogs returns the job's buffered log lines
func (a *App) JobLogs(jobID string) ([]models.JobLogEntry, error) {
	job, err := a.Registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Logs == nil {
		return nil, nil
	}
	return job.Logs.Entries(), nil
}

// CancelJob flips the job's cancellation token
func (a *App) CancelJob(jobID string) bool {
	return a.Queue.Cancel(jobID)
}

// SubmitBatch registers a multi-URL batch and starts its driver
func (a *App) SubmitBatch(req models.BatchRequest) (models.Batch, error) {
	return a.Batches.Create(req)
}

// BatchStatus returns the batch record with per-child summaries
func (a *App) BatchStatus(batchID string) (models.BatchStatusReport, error) {
	return a.Batches.Status(batchID)
}

// CancelBatch cancels every non-terminal child of the batch
func (a *App) CancelBatch(batchID string) (int, error) {
	return a.Batches.Cancel(batchID)
}

// ExpandChannel resolves a channel URL into a filtered, sorted listing and
// submits the selection as a batch.
func (a *App) ExpandChannel(ctx context.Context, url string, filter models.ListingFilter, sortKey models.SortKey, maxDownloads int, opts models.DownloadOptions) (models.Batch, error) {
	entries, err := a.Expander.ExpandChannel(ctx, url, filter, sortKey, maxDownloads)
	if err != nil {
		return models.Batch{}, err
	}
	return a.Batches.Create(models.BatchRequest{URLs: entryURLs(entries), Options: opts})
}

// ExpandPlaylist resolves a playlist URL with its range selection and
// submits the result as a batch.
func (a *App) ExpandPlaylist(ctx context.Context, url string, sel models.PlaylistSelection, opts models.DownloadOptions) (models.Batch, error) {
	entries, err := a.Expander.ExpandPlaylist(ctx, url, sel)
	if err != nil {
		return models.Batch{}, err
	}
	return a.Batches.Create(models.BatchRequest{URLs: entryURLs(entries), Options: opts})
}

func entryURLs(entries []models.VideoEntry) []string {
	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.URL
	}
	return urls
}

// Stats aggregates the health counters exposed to the external surface
type Stats struct {
	Jobs      interfaces.RegistryStats `json:"jobs"`
	Queue     interfaces.QueueStats    `json:"queue"`
	Deletions int                      `json:"pending_deletions"`
	Healthy   bool                     `json:"healthy"`
}

// Stats returns a point-in-time view across the core components
func (a *App) Stats() Stats {
	return Stats{
		Jobs:      a.Registry.Stats(),
		Queue:     a.Queue.Stats(),
		Deletions: a.Retention.PendingCount(),
		Healthy:   a.Queue.Healthy(),
	}
}

// Close shuts the core down: maintenance cron first, then the queue (waiting
// for active downloads up to the shutdown bound), then the retention worker
// (draining pending deletions so ephemeral artifacts do not leak), and
// finally the webhook dispatcher once no more events can be produced.
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down execution core")

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Queue.Shutdown(ctx, true)
	a.Logger.Info().Msg("Execution queue drained")

	a.Retention.Shutdown(a.Config.Storage.RetentionHours > 0)
	a.Logger.Info().Msg("Retention scheduler stopped")

	a.Webhooks.Close()
	a.Logger.Info().Msg("Webhook dispatcher flushed")

	return nil
}
