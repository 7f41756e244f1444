package models

// VideoEntry is one item of a channel or playlist listing, produced by the
// downloader in metadata-only mode.
type VideoEntry struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	URL           string `json:"url"`
	DurationSec   int    `json:"duration_sec"` // 0 when unknown
	ViewCount     int64  `json:"view_count"`   // -1 when unknown
	UploadDate    string `json:"upload_date"`  // YYYYMMDD, empty when unknown
	Channel       string `json:"channel,omitempty"`
	Playlist      string `json:"playlist,omitempty"`
	PlaylistIndex int    `json:"playlist_index,omitempty"`
}

// ListingFilter holds the conjunction of predicates applied to a channel
// listing. Zero values disable the corresponding bound.
type ListingFilter struct {
	DateAfter      string `json:"date_after,omitempty"`  // YYYYMMDD inclusive
	DateBefore     string `json:"date_before,omitempty"` // YYYYMMDD inclusive
	MinDurationSec int    `json:"min_duration_sec,omitempty"`
	MaxDurationSec int    `json:"max_duration_sec,omitempty"`
	MinViews       int64  `json:"min_views,omitempty"`
	MaxViews       int64  `json:"max_views,omitempty"`
}

// SortKey orders a filtered channel listing
type SortKey string

const (
	SortUploadDateDesc SortKey = "upload_date" // Newest first
	SortViewCountDesc  SortKey = "view_count"  // Most viewed first
	SortDurationDesc   SortKey = "duration"    // Longest first
	SortTitleAsc       SortKey = "title"       // Lexical ascending
)

// PlaylistSelection picks items out of a playlist listing.
// Range uses the "1-10,15,20-25" expression syntax; empty selects everything.
type PlaylistSelection struct {
	Range   string `json:"range,omitempty"`
	Reverse bool   `json:"reverse,omitempty"`
}
