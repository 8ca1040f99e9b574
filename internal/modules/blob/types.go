package blob

import "time"

const (
	// MetaKeyPrefix namespaces blob metadata records, keyed by a hash of the
	// object URL.
	MetaKeyPrefix = "tryon:blob:meta:"
	// SetKeyPrefix namespaces the per-session object-path sets used for
	// cascading deletes.
	SetKeyPrefix = "tryon:blob:set:"
	// SecureKeyPrefix namespaces issued secure-URL records.
	SecureKeyPrefix = "tryon:secure:"
)

// Photo types accepted at upload time.
var knownTypes = map[string]struct{}{
	"front":    {},
	"side":     {},
	"back":     {},
	"standing": {},
	"sitting":  {},
	"result":   {},
}

// Metadata travels with every stored blob and carries its own expiry, so
// cleanup never depends on the owning session still existing.
type Metadata struct {
	SessionID    string    `json:"sessionId"`
	Category     string    `json:"category"`
	Type         string    `json:"type"`
	OriginalName string    `json:"originalName,omitempty"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Record is the public result of an upload.
type Record struct {
	URL          string   `json:"url"`
	DownloadURL  string   `json:"downloadUrl,omitempty"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
	Metadata     Metadata `json:"metadata"`
}

// UploadInput describes one upload request.
type UploadInput struct {
	SessionID    string
	Category     string
	Type         string
	OriginalName string
	MimeType     string
	Data         []byte
	// CustomExpiry overrides the default blob TTL when positive.
	CustomExpiry time.Duration
}
