// Package files owns path safety and artifact placement under the storage root.
package files

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carpo/internal/interfaces"
	"github.com/ternarybob/carpo/internal/models"
)

// Manager implements interfaces.FileManager over a resolved storage root
type Manager struct {
	root          string // absolute, symlinks resolved
	publicBaseURL string
	scheduler     interfaces.DeletionScheduler
	logger        arbor.ILogger
}

// NewManager resolves the storage root and wires the deletion scheduler.
// The root must exist; symlinks in the root path itself are resolved once
// here so ValidatePath can compare against a canonical prefix.
func NewManager(root, publicBaseURL string, scheduler interfaces.DeletionScheduler, logger arbor.ILogger) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, models.Wrap(models.KindStorageError, "resolving storage root", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, models.Wrap(models.KindStorageError, "resolving storage root", err)
	}

	return &Manager{
		root:          resolved,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		scheduler:     scheduler,
		logger:        logger,
	}, nil
}

// Root returns the resolved absolute storage root
func (m *Manager) Root() string {
	return m.root
}

// SanitizeFilename strips unsafe characters, collapses whitespace and
// truncates to 200 bytes
func (m *Manager) SanitizeFilename(raw string) string {
	return SanitizeFilename(raw)
}

// ExpandTemplate substitutes output-path tokens with job metadata
func (m *Manager) ExpandTemplate(template string, meta interfaces.TemplateMeta) (string, error) {
	return ExpandTemplate(template, meta)
}

// ValidatePath resolves candidate against the storage root and returns the
// absolute path. Fails when the result escapes the root or any existing
// component on the way down is a symlink.
func (m *Manager) ValidatePath(candidate string) (string, error) {
	if candidate == "" {
		return "", models.E(models.KindStorageError, "empty path")
	}

	joined := candidate
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(m.root, joined)
	}
	cleaned := filepath.Clean(joined)

	rel, err := filepath.Rel(m.root, cleaned)
	if err != nil {
		return "", models.Wrap(models.KindStorageError, "resolving path", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		m.logger.Warn().
			Str("candidate", candidate).
			Msg("Path escapes storage root")
		return "", models.Errorf(models.KindStorageError, "path %q escapes storage root", candidate)
	}

	// Refuse symlinks on every existing component below the root. Components
	// that do not exist yet are fine, the download creates them.
	walk := m.root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		walk = filepath.Join(walk, part)
		info, err := os.Lstat(walk)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return "", models.Wrap(models.KindStorageError, "inspecting path", err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			m.logger.Warn().
				Str("candidate", candidate).
				Str("component", walk).
				Msg("Path crosses a symlink")
			return "", models.Errorf(models.KindStorageError, "path %q crosses a symlink", candidate)
		}
	}

	return cleaned, nil
}

// ScheduleDeletion arms retention for an artifact. A non-positive retention
// keeps the file forever and returns an empty task id.
func (m *Manager) ScheduleDeletion(path string, retentionHours float64) (string, error) {
	if retentionHours <= 0 {
		return "", nil
	}
	resolved, err := m.ValidatePath(path)
	if err != nil {
		return "", err
	}

	delay := time.Duration(retentionHours * float64(time.Hour))
	id, _ := m.scheduler.Schedule(resolved, delay)
	return id, nil
}

// PublicURL maps a root-relative path to its public download URL. Each path
// segment is escaped individually so separators survive.
func (m *Manager) PublicURL(relativePath string) string {
	segments := strings.Split(strings.TrimLeft(relativePath, "/"), "/")
	escaped := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		escaped = append(escaped, url.PathEscape(seg))
	}
	return m.publicBaseURL + "/files/" + strings.Join(escaped, "/")
}
