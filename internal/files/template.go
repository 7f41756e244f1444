package files

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ternarybob/carpo/internal/interfaces"
	"github.com/ternarybob/carpo/internal/models"
)

// DefaultTemplate is used when a job supplies no output template
const DefaultTemplate = "{id}/{safe_title}.{ext}"

// randomToken returns 8 hex characters for the {random} template token
func randomToken() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf[:])
}

// ExpandTemplate substitutes the recognized tokens with job metadata and
// returns a root-relative path. Unknown tokens are left literally so callers
// can spot template typos in the resulting path.
func ExpandTemplate(template string, meta interfaces.TemplateMeta) (string, error) {
	if template == "" {
		template = DefaultTemplate
	}

	replacer := strings.NewReplacer(
		"{id}", meta.JobID,
		"{title}", meta.Title,
		"{safe_title}", SanitizeFilename(meta.Title),
		"{ext}", meta.Ext,
		"{uploader}", SanitizeFilename(meta.Uploader),
		"{upload_date}", meta.UploadDate,
		"{random}", randomToken(),
		"{playlist}", SanitizeFilename(meta.Playlist),
		"{playlist_index}", strconv.Itoa(meta.PlaylistIndex),
		"{channel}", SanitizeFilename(meta.Channel),
		"{batch_id}", meta.BatchID,
	)
	expanded := replacer.Replace(template)

	// Sanitize each path segment; the separator structure is the template
	// author's choice and is preserved.
	segments := strings.Split(expanded, "/")
	cleaned := segments[:0]
	for _, seg := range segments {
		safe := SanitizeFilename(seg)
		if safe == "" {
			continue
		}
		cleaned = append(cleaned, safe)
	}
	if len(cleaned) == 0 {
		return "", models.Errorf(models.KindStorageError, "template %q expanded to an empty path", template)
	}

	return strings.Join(cleaned, "/"), nil
}
