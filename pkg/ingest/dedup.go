// pkg/ingest/dedup.go
package ingest

import (
	"context"
)

// Deduplicator answers whether a transaction is already in Bronze. The
// check runs before the transform so duplicate files skip the load cost;
// the loader's idempotent insert still backstops concurrent duplicates.
type Deduplicator struct {
	canonical CanonicalWriter
}

// NewDeduplicator builds a deduplicator over the Bronze repository.
func NewDeduplicator(canonical CanonicalWriter) *Deduplicator {
	return &Deduplicator{canonical: canonical}
}

// Exists reports whether transactionID is already loaded.
func (d *Deduplicator) Exists(ctx context.Context, transactionID string) (bool, error) {
	exists, err := d.canonical.Exists(ctx, transactionID)
	if err != nil {
		return false, Transient("dedup lookup", err)
	}
	return exists, nil
}
