// Package expander resolves channel and playlist URLs into download lists
// using the driver's metadata-only mode.
package expander

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carpo/internal/interfaces"
	"github.com/ternarybob/carpo/internal/models"
)

// Expander implements interfaces.Expander
type Expander struct {
	driver interfaces.Driver
	logger arbor.ILogger
}

// New wires the expander to the downloader driver
func New(driver interfaces.Driver, logger arbor.ILogger) *Expander {
	return &Expander{driver: driver, logger: logger}
}

// ExpandChannel lists a channel, applies the filter conjunction, sorts and
// caps. Fails with ValidationFailed when nothing survives.
func (e *Expander) ExpandChannel(ctx context.Context, url string, filter models.ListingFilter, sortKey models.SortKey, maxDownloads int) ([]models.VideoEntry, error) {
	listing, err := e.driver.Listing(ctx, url)
	if err != nil {
		return nil, err
	}

	entries := applyFilter(listing, filter)
	sortEntries(entries, sortKey)

	if maxDownloads > 0 && len(entries) > maxDownloads {
		entries = entries[:maxDownloads]
	}
	if len(entries) == 0 {
		return nil, models.Errorf(models.KindValidationFailed, "no videos match the channel filters for %s", url)
	}

	e.logger.Info().
		Str("url", url).
		Int("listed", len(listing)).
		Int("selected", len(entries)).
		Msg("Channel expanded")

	return entries, nil
}

// ExpandPlaylist lists a playlist and resolves the range selection
func (e *Expander) ExpandPlaylist(ctx context.Context, url string, sel models.PlaylistSelection) ([]models.VideoEntry, error) {
	listing, err := e.driver.Listing(ctx, url)
	if err != nil {
		return nil, err
	}

	entries := listing
	if sel.Range != "" {
		indices, err := parseRange(sel.Range, len(listing))
		if err != nil {
			return nil, err
		}
		entries = make([]models.VideoEntry, 0, len(indices))
		for _, idx := range indices {
			entries = append(entries, listing[idx])
		}
	} else {
		entries = append([]models.VideoEntry(nil), listing...)
	}

	if sel.Reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	if len(entries) == 0 {
		return nil, models.Errorf(models.KindValidationFailed, "playlist selection matched no items for %s", url)
	}

	e.logger.Info().
		Str("url", url).
		Str("range", sel.Range).
		Bool("reverse", sel.Reverse).
		Int("selected", len(entries)).
		Msg("Playlist expanded")

	return entries, nil
}
