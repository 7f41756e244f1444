package downloader

import (
	"fmt"

	"github.com/ternarybob/carpo/internal/models"
)

// progressTemplate makes the binary emit one JSON object per progress tick so
// the driver can parse the stream without scraping human-readable output.
const progressTemplate = `download:{"status":"%(progress.status)s","downloaded_bytes":%(progress.downloaded_bytes|0)d,"total_bytes":%(progress.total_bytes|0)d,"speed":%(progress.speed|0)f,"eta":%(progress.eta|0)d,"filename":%(progress.filename|)j}`

// formatSelector maps a quality preset to the downloader's format expression.
// A custom format string wins over the preset; it was allow-list checked at
// the boundary.
func formatSelector(opts models.DownloadOptions) string {
	if opts.Format != "" {
		return opts.Format
	}

	heightCapped := func(h int) string {
		return fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", h, h)
	}

	switch opts.Quality {
	case models.QualityAudio:
		return "bestaudio/best"
	case models.Quality4K:
		return heightCapped(2160)
	case models.Quality1080p:
		return heightCapped(1080)
	case models.Quality720p:
		return heightCapped(720)
	case models.Quality480p:
		return heightCapped(480)
	case models.Quality360p:
		return heightCapped(360)
	default:
		return "bestvideo+bestaudio/best"
	}
}

// buildArgs assembles the argument vector for a download invocation.
// The binary is always invoked by vector, never through a shell.
func buildArgs(opts models.DownloadOptions, workdir string) []string {
	args := []string{
		"--no-warnings",
		"--newline",
		"--no-playlist",
		"--print-json",
		"--progress-template", progressTemplate,
		"--format", formatSelector(opts),
		"--paths", workdir,
		"--output", "%(title)s.%(ext)s",
	}

	if opts.Subtitles {
		langs := opts.SubtitleLangs
		if langs == "" {
			langs = "en"
		}
		args = append(args, "--write-subs", "--sub-langs", langs, "--embed-subs")
	}
	if opts.Thumbnail {
		args = append(args, "--embed-thumbnail")
	}
	if opts.Metadata {
		args = append(args, "--embed-metadata")
	}
	if opts.Quality == models.QualityAudio {
		args = append(args, "--extract-audio")
	}

	return args
}

// listingArgs assembles the argument vector for metadata-only listing mode
func listingArgs(url string) []string {
	return []string{
		"--no-warnings",
		"--flat-playlist",
		"--dump-json",
		"--skip-download",
		url,
	}
}
