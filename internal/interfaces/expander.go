package interfaces

import (
	"context"

	"github.com/ternarybob/carpo/internal/models"
)

// Expander resolves channel and playlist URLs into download URL lists
type Expander interface {
	// ExpandChannel lists a channel, applies the filter conjunction, sorts,
	// and caps. Fails with ValidationFailed when nothing survives the cap.
	ExpandChannel(ctx context.Context, url string, filter models.ListingFilter, sort models.SortKey, maxDownloads int) ([]models.VideoEntry, error)

	// ExpandPlaylist lists a playlist and resolves the range selection.
	ExpandPlaylist(ctx context.Context, url string, sel models.PlaylistSelection) ([]models.VideoEntry, error)
}
