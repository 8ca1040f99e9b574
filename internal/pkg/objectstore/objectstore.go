// Package objectstore abstracts the blob backend holding uploaded photos and
// generated try-on images.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned by Head for absent objects.
var ErrObjectNotFound = errors.New("objectstore: object not found")

// PutResult is returned after a successful upload.
type PutResult struct {
	// URL is the stable public location of the object.
	URL string
	// DownloadURL is a time-limited link suitable for direct client download.
	DownloadURL string
}

// Object identifies a stored blob.
type Object struct {
	URL  string
	Path string
}

// Metadata describes a stored blob.
type Metadata struct {
	ContentType  string
	Size         int64
	LastModified time.Time
}

// Store is the object-store contract. Paths use forward slashes and never
// start with "/".
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (*PutResult, error)
	Delete(ctx context.Context, url string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Head(ctx context.Context, url string) (*Metadata, error)
}
