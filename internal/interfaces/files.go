package interfaces

// TemplateMeta carries the values substituted into an output-path template
type TemplateMeta struct {
	JobID         string
	Title         string
	Ext           string
	Uploader      string
	UploadDate    string
	Playlist      string
	PlaylistIndex int
	Channel       string
	BatchID       string
}

// FileManager owns path safety and artifact placement under the storage root
type FileManager interface {
	// SanitizeFilename strips unsafe characters, collapses whitespace and
	// truncates to 200 bytes. Idempotent.
	SanitizeFilename(raw string) string

	// ValidatePath resolves candidate against the storage root and fails with
	// StorageError when the result escapes the root or crosses a symlink.
	ValidatePath(candidate string) (string, error)

	// ExpandTemplate substitutes {id}, {title}, ... tokens and returns a
	// root-relative path. Unknown tokens are left literally.
	ExpandTemplate(template string, meta TemplateMeta) (string, error)

	// ScheduleDeletion arms retention for an artifact. A non-positive
	// retention keeps the file and returns an empty task id.
	ScheduleDeletion(path string, retentionHours float64) (string, error)

	// PublicURL maps a root-relative path to its public download URL.
	PublicURL(relativePath string) string

	// Root returns the resolved absolute storage root.
	Root() string
}
