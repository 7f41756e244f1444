package downloader

import (
	"encoding/json"
	"strings"

	"github.com/ternarybob/carpo/internal/models"
)

// progressLine is one JSON progress tick emitted by the binary
type progressLine struct {
	Status          string  `json:"status"` // "downloading", "finished" or "error"
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Speed           float64 `json:"speed"`
	ETA             int     `json:"eta"`
	Filename        string  `json:"filename"`
}

// infoLine is the metadata object the binary prints once per download
type infoLine struct {
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	UploadDate string  `json:"upload_date"`
	Duration   float64 `json:"duration"`
	Ext        string  `json:"ext"`
}

// parseProgress decodes a stdout line as a progress tick. Returns false for
// anything that is not one.
func parseProgress(line string) (progressLine, bool) {
	if !strings.HasPrefix(line, "{") {
		return progressLine{}, false
	}
	var p progressLine
	if err := json.Unmarshal([]byte(line), &p); err != nil || p.Status == "" {
		return progressLine{}, false
	}
	return p, true
}

// parseInfo decodes a stdout line as the download's metadata object
func parseInfo(line string) (infoLine, bool) {
	if !strings.HasPrefix(line, "{") {
		return infoLine{}, false
	}
	var info infoLine
	if err := json.Unmarshal([]byte(line), &info); err != nil || info.Title == "" {
		return infoLine{}, false
	}
	return info, true
}

// toJobProgress converts a tick into the registry's progress record
func (p progressLine) toJobProgress() models.JobProgress {
	jp := models.JobProgress{
		DownloadedBytes: p.DownloadedBytes,
		TotalBytes:      p.TotalBytes,
		Speed:           p.Speed,
		ETASeconds:      p.ETA,
	}
	switch {
	case p.Status == "finished":
		jp.Percent = 100
	case p.TotalBytes > 0:
		jp.Percent = float64(p.DownloadedBytes) / float64(p.TotalBytes) * 100
	}
	return jp
}

// scanCRLF splits on \r, \n or \r\n so progress updates written with a bare
// carriage return are delivered as they happen.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if data[i] == '\r' {
			if i+1 < len(data) && data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
