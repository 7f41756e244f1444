package expander

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carpo/internal/interfaces"
	"github.com/ternarybob/carpo/internal/models"
)

type stubDriver struct {
	entries []models.VideoEntry
	err     error
}

func (d *stubDriver) Run(ctx context.Context, job models.Job, sink interfaces.ProgressSink) (*models.Artifact, error) {
	return nil, models.E(models.KindDownloadError, "not used")
}

func (d *stubDriver) Listing(ctx context.Context, url string) ([]models.VideoEntry, error) {
	return d.entries, d.err
}

func channelListing() []models.VideoEntry {
	return []models.VideoEntry{
		{ID: "a", Title: "Alpha", URL: "https://ex.com/a", DurationSec: 300, ViewCount: 1000, UploadDate: "20240110"},
		{ID: "b", Title: "Beta", URL: "https://ex.com/b", DurationSec: 60, ViewCount: 50000, UploadDate: "20240301"},
		{ID: "c", Title: "Gamma", URL: "https://ex.com/c", DurationSec: 1200, ViewCount: 200, UploadDate: ""},
		{ID: "d", Title: "Delta", URL: "https://ex.com/d", DurationSec: 600, ViewCount: 9000, UploadDate: "20231225"},
	}
}

func newChannelExpander(entries []models.VideoEntry) *Expander {
	return New(&stubDriver{entries: entries}, arbor.NewLogger())
}

func TestExpandChannelDateFilterExcludesUndated(t *testing.T) {
	e := newChannelExpander(channelListing())

	got, err := e.ExpandChannel(context.Background(), "https://ex.com/chan",
		models.ListingFilter{DateAfter: "20240101"}, "", 0)
	require.NoError(t, err)

	ids := entryIDs(got)
	assert.Equal(t, []string{"a", "b"}, ids, "undated entries drop when a date bound is active")
}

func TestExpandChannelUndatedSurvivesWithoutDateFilter(t *testing.T) {
	e := newChannelExpander(channelListing())

	got, err := e.ExpandChannel(context.Background(), "https://ex.com/chan",
		models.ListingFilter{MinDurationSec: 100}, "", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c", "d"}, entryIDs(got))
}

func TestExpandChannelConjunction(t *testing.T) {
	e := newChannelExpander(channelListing())

	got, err := e.ExpandChannel(context.Background(), "https://ex.com/chan",
		models.ListingFilter{
			DateAfter:      "20240101",
			DateBefore:     "20240401",
			MinDurationSec: 100,
			MinViews:       500,
		}, "", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, entryIDs(got))
}

func TestExpandChannelSortViewsDesc(t *testing.T) {
	e := newChannelExpander(channelListing())

	got, err := e.ExpandChannel(context.Background(), "https://ex.com/chan",
		models.ListingFilter{}, models.SortViewCountDesc, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "d", "a", "c"}, entryIDs(got))
}

func TestExpandChannelSortDateMissingLast(t *testing.T) {
	e := newChannelExpander(channelListing())

	got, err := e.ExpandChannel(context.Background(), "https://ex.com/chan",
		models.ListingFilter{}, models.SortUploadDateDesc, 0)
	require.NoError(t, err)

	ids := entryIDs(got)
	assert.Equal(t, []string{"b", "a", "d", "c"}, ids, "entry without a date sorts last")
}

func TestExpandChannelCap(t *testing.T) {
	e := newChannelExpander(channelListing())

	got, err := e.ExpandChannel(context.Background(), "https://ex.com/chan",
		models.ListingFilter{}, models.SortViewCountDesc, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, entryIDs(got))
}

func TestExpandChannelEmptyResultRejected(t *testing.T) {
	e := newChannelExpander(channelListing())

	_, err := e.ExpandChannel(context.Background(), "https://ex.com/chan",
		models.ListingFilter{MinViews: 10_000_000}, "", 0)
	require.Error(t, err)
	assert.Equal(t, models.KindValidationFailed, models.KindOf(err))
}

func TestExpandChannelListingErrorPropagates(t *testing.T) {
	e := New(&stubDriver{err: models.E(models.KindMetadataError, "unreachable")}, arbor.NewLogger())

	_, err := e.ExpandChannel(context.Background(), "https://ex.com/chan", models.ListingFilter{}, "", 0)
	require.Error(t, err)
	assert.Equal(t, models.KindMetadataError, models.KindOf(err))
}

func playlistListing(n int) []models.VideoEntry {
	entries := make([]models.VideoEntry, n)
	for i := range entries {
		entries[i] = models.VideoEntry{
			ID:            string(rune('a' + i)),
			URL:           "https://ex.com/" + string(rune('a'+i)),
			PlaylistIndex: i + 1,
		}
	}
	return entries
}

func TestExpandPlaylistRange(t *testing.T) {
	e := newChannelExpander(playlistListing(30))

	got, err := e.ExpandPlaylist(context.Background(), "https://ex.com/pl",
		models.PlaylistSelection{Range: "1-3,15,20-22"})
	require.NoError(t, err)

	var indices []int
	for _, entry := range got {
		indices = append(indices, entry.PlaylistIndex)
	}
	assert.Equal(t, []int{1, 2, 3, 15, 20, 21, 22}, indices)
}

func TestExpandPlaylistReverse(t *testing.T) {
	e := newChannelExpander(playlistListing(4))

	got, err := e.ExpandPlaylist(context.Background(), "https://ex.com/pl",
		models.PlaylistSelection{Range: "1-3", Reverse: true})
	require.NoError(t, err)

	var indices []int
	for _, entry := range got {
		indices = append(indices, entry.PlaylistIndex)
	}
	assert.Equal(t, []int{3, 2, 1}, indices)
}

func TestExpandPlaylistWholeWhenNoRange(t *testing.T) {
	e := newChannelExpander(playlistListing(5))

	got, err := e.ExpandPlaylist(context.Background(), "https://ex.com/pl", models.PlaylistSelection{})
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestExpandPlaylistOutOfRangeDropped(t *testing.T) {
	e := newChannelExpander(playlistListing(3))

	got, err := e.ExpandPlaylist(context.Background(), "https://ex.com/pl",
		models.PlaylistSelection{Range: "2-10"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestExpandPlaylistBadRange(t *testing.T) {
	e := newChannelExpander(playlistListing(3))

	for _, expr := range []string{"x-3", "3-1", "0", "1,,2", "-"} {
		_, err := e.ExpandPlaylist(context.Background(), "https://ex.com/pl",
			models.PlaylistSelection{Range: expr})
		require.Error(t, err, "range %q", expr)
		assert.Equal(t, models.KindValidationFailed, models.KindOf(err), "range %q", expr)
	}
}

func TestExpandPlaylistEmptySelection(t *testing.T) {
	e := newChannelExpander(playlistListing(3))

	_, err := e.ExpandPlaylist(context.Background(), "https://ex.com/pl",
		models.PlaylistSelection{Range: "10-20"})
	require.Error(t, err)
	assert.Equal(t, models.KindValidationFailed, models.KindOf(err))
}

func entryIDs(entries []models.VideoEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

var _ interfaces.Expander = (*Expander)(nil)
var _ interfaces.Driver = (*stubDriver)(nil)
