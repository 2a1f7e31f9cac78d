// Package vectorindex defines the vector index contract and an in-memory implementation.
package vectorindex

import (
	"context"
	"errors"

	"cogni-rag-go/internal/model"
)

// ErrDimensionMismatch is returned when an entry's vector length differs from the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Index stores IndexedEntry values and answers k-nearest-neighbour queries.
// Upsert is additive: entries are never modified in place.
type Index interface {
	// Upsert writes a batch of entries in one call.
	Upsert(ctx context.Context, entries []model.IndexedEntry) error

	// Search returns up to topK hits ranked by similarity (best first).
	Search(ctx context.Context, vector []float32, topK int) ([]model.SearchHit, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)

	// Reset drops every entry and recreates an empty index.
	Reset(ctx context.Context) error

	// Close releases resources.
	Close() error
}
