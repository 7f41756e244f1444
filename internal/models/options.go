package models

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Quality presets recognized by the downloader driver
const (
	QualityBest  = "best"
	Quality4K    = "4k"
	Quality1080p = "1080p"
	Quality720p  = "720p"
	Quality480p  = "480p"
	Quality360p  = "360p"
	QualityAudio = "audio"
)

// formatMetaChars are shell metacharacters forbidden in custom format strings.
// The downloader is invoked by argument vector so these can never reach a
// shell, but a format string containing them is always a caller mistake.
const formatMetaChars = ";&|`$()<>"

var validate = validator.New()

// DownloadOptions is the typed option set attached to a job.
// All fields are validated at the boundary; invalid options never reach the
// queue. Validation uses go-playground/validator tags plus the custom format
// allow-list check.
type DownloadOptions struct {
	Quality        string `json:"quality,omitempty" validate:"omitempty,oneof=best 4k 1080p 720p 480p 360p audio"`
	Format         string `json:"format,omitempty"`          // Custom downloader format expression
	Subtitles      bool   `json:"subtitles,omitempty"`       // Download and embed subtitles
	SubtitleLangs  string `json:"subtitle_langs,omitempty"`  // Comma-separated language codes (default "en")
	Thumbnail      bool   `json:"thumbnail,omitempty"`       // Embed thumbnail
	Metadata       bool   `json:"metadata,omitempty"`        // Embed metadata
	OutputTemplate string `json:"output_template,omitempty"` // Relative path template, expanded by the file manager
	TimeoutSec     int    `json:"timeout_sec,omitempty" validate:"omitempty,min=1,max=86400"`
	WebhookURL     string `json:"webhook_url,omitempty" validate:"omitempty,url"`
	CookieRef      string `json:"cookie_ref,omitempty"` // Opaque reference to a stored cookie set
}

// Validate checks the option set, mapping failures to ValidationFailed
func (o *DownloadOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return Wrap(KindValidationFailed, "invalid download options", err)
	}
	if o.Format != "" && strings.ContainsAny(o.Format, formatMetaChars) {
		return Errorf(KindValidationFailed, "format string contains forbidden characters: %q", o.Format)
	}
	return nil
}

// SubmitRequest is a single-URL submission crossing the core boundary
type SubmitRequest struct {
	URL     string          `json:"url" validate:"required,url"`
	Options DownloadOptions `json:"options"`
}

// Validate checks the request shape
func (r *SubmitRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return Wrap(KindValidationFailed, "invalid submit request", err)
	}
	return r.Options.Validate()
}

// BatchRequest is a multi-URL submission crossing the core boundary
type BatchRequest struct {
	URLs        []string        `json:"urls" validate:"required,min=1,dive,url"`
	Options     DownloadOptions `json:"options"`
	Concurrency int             `json:"concurrency" validate:"omitempty,min=1,max=10"`
	StopOnError bool            `json:"stop_on_error"`
}

// Validate checks the request shape. The batch size ceiling is enforced by the
// coordinator against its configured maximum.
func (r *BatchRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return Wrap(KindValidationFailed, "invalid batch request", err)
	}
	return r.Options.Validate()
}
