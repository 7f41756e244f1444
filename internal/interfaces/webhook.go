package interfaces

import (
	"github.com/ternarybob/carpo/internal/models"
)

// WebhookDispatcher delivers signed lifecycle events to a job's webhook URL.
// Lifecycle events (started, completed, failed) are awaited; progress events
// are fire-and-forget and throttled per job. A terminal event is posted only
// after the job's in-flight progress deliveries settle, so receivers observe
// progress before completion. Delivery failures are logged and never surface
// to job state.
type WebhookDispatcher interface {
	Started(webhookURL, jobID string, payload models.StartedPayload)
	Progress(webhookURL, jobID string, payload models.ProgressPayload)
	Completed(webhookURL, jobID string, payload models.CompletedPayload)
	Failed(webhookURL, jobID string, payload models.FailedPayload)

	// Release drops the per-job throttle bucket once the job is terminal.
	Release(jobID string)

	// Close waits for in-flight fire-and-forget deliveries to settle.
	Close()
}
