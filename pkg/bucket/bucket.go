// pkg/bucket/bucket.go
package bucket

import (
	"context"
	"time"
)

// FileRef describes one object returned by a prefix listing.
type FileRef struct {
	Name      string
	Path      string
	Size      int64
	UpdatedAt time.Time
}

// ObjectStore is the bucket collaborator: an object store with path-prefix
// listing. Failures are treated as transient and routed through the retry
// layer by callers.
type ObjectStore interface {
	// List returns the objects under pathPrefix in the named bucket.
	List(ctx context.Context, bucket, pathPrefix string) ([]FileRef, error)

	// Download fetches the raw bytes of one object.
	Download(ctx context.Context, bucket, path string) ([]byte, error)
}
