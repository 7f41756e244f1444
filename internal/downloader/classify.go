package downloader

import (
	"context"
	"errors"
	"strings"

	"github.com/ternarybob/carpo/internal/models"
)

// classifyExit maps a downloader failure to a typed error. Cancellation and
// timeout are checked first so a killed process never surfaces as a generic
// download failure.
func classifyExit(ctx context.Context, stalled bool, stderr string, waitErr error) error {
	switch {
	case stalled:
		return models.E(models.KindTimeout, "no progress within stall window")
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return models.E(models.KindTimeout, "job timeout exceeded")
	case errors.Is(ctx.Err(), context.Canceled):
		return models.E(models.KindCancelled, "download cancelled")
	}

	message := lastStderrLine(stderr)
	if message == "" && waitErr != nil {
		message = waitErr.Error()
	}

	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "is not a valid url"):
		return models.E(models.KindInvalidURL, message)
	case strings.Contains(lower, "unsupported url"):
		return models.E(models.KindUnsupportedPlatform, message)
	case strings.Contains(lower, "max-filesize"), strings.Contains(lower, "file is larger than"):
		return models.E(models.KindSizeLimitExceeded, message)
	case strings.Contains(lower, "unable to extract"),
		strings.Contains(lower, "unable to download webpage"),
		strings.Contains(lower, "video unavailable"):
		return models.E(models.KindMetadataError, message)
	default:
		return models.E(models.KindDownloadError, message)
	}
}

// lastStderrLine picks the final non-empty stderr line as the failure message
func lastStderrLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
