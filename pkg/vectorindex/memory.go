package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"cogni-rag-go/internal/model"
)

// Memory is an in-memory index using brute-force cosine similarity.
// Intended for development, the CLI's local mode and tests.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	entries   []model.IndexedEntry
}

// NewMemory creates an empty in-memory index. A dimension of 0 accepts any length,
// fixed by the first entry written.
func NewMemory(dimension int) *Memory {
	return &Memory{dimension: dimension}
}

// Upsert appends entries. Identifiers are not deduplicated.
func (m *Memory) Upsert(ctx context.Context, entries []model.IndexedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if m.dimension == 0 {
			m.dimension = len(e.Vector)
		}
		if len(e.Vector) != m.dimension {
			return fmt.Errorf("%w: entry %s has %d, index expects %d", ErrDimensionMismatch, e.ID, len(e.Vector), m.dimension)
		}
	}
	m.entries = append(m.entries, entries...)
	return nil
}

// Search ranks all entries by cosine similarity. Ties keep insertion order.
func (m *Memory) Search(ctx context.Context, vector []float32, topK int) ([]model.SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]model.SearchHit, 0, len(m.entries))
	for _, e := range m.entries {
		hits = append(hits, model.SearchHit{
			ID:      e.ID,
			Content: e.Content,
			Source:  e.Source,
			Score:   CosineSimilarity(vector, e.Vector),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count returns the number of stored entries.
func (m *Memory) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

// Reset removes all entries.
func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

// Close is a no-op for the in-memory index.
func (m *Memory) Close() error {
	return nil
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns 0 for vectors of different length or zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
