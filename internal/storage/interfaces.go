// Package storage provides composable storage interfaces for the mnema
// retrieval engine.
//
// The layer is split into two deliberately independent stores: a lexical
// MemoryStore answering substring queries, and a VectorStore answering
// similarity queries. They are not transactionally coupled — a vector record
// may outlive its lexical twin — and the search orchestrator is written to
// tolerate that drift.
package storage

import (
	"context"

	"github.com/mnema-ai/mnema/pkg/types"
)

// MemoryStore holds memory records and answers lexical queries.
// All read operations are scoped to exactly one user; implementations must
// never leak records across users.
type MemoryStore interface {
	// Insert stores a new record and returns its storage-assigned ID.
	// The record is validated and normalized before insertion.
	Insert(ctx context.Context, record *types.MemoryRecord) (int64, error)

	// Get retrieves a record by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id int64) (*types.MemoryRecord, error)

	// Search returns records for userID where content or any tag contains
	// any of the keywords as a substring, ordered by importance descending,
	// capped to limit. An empty keyword set broadens instead of narrowing:
	// it returns the limit most important records for the user.
	Search(ctx context.Context, userID string, keywords []string, limit int) ([]types.MemoryRecord, error)

	// GetByCategory returns the user's records carrying the given category,
	// ordered by importance descending then recency descending.
	GetByCategory(ctx context.Context, userID string, category types.Category) ([]types.MemoryRecord, error)

	// Delete removes a record immediately (no soft delete). Returns
	// ErrNotFound if the record doesn't exist.
	Delete(ctx context.Context, id int64) error

	// Stats reports the user's record count and category distribution.
	Stats(ctx context.Context, userID string) (*types.MemoryStats, error)

	// Close releases the underlying database handle.
	Close() error
}

// VectorStore holds memory records paired with embedding vectors and answers
// similarity queries via brute-force cosine scan.
type VectorStore interface {
	// Store saves content with its embedding and returns the new record ID.
	// The vector's norm is computed and cached at write time.
	Store(ctx context.Context, userID, content string, embedding []float32, category types.Category, metadata map[string]any) (int64, error)

	// SimilaritySearch returns the user's records whose cosine similarity to
	// queryVector is at least threshold, ordered by similarity descending
	// (ties by recency descending), capped to limit. Records whose embedding
	// dimension disagrees with the query vector are excluded from scoring,
	// not compared; they are surfaced only through Stats.
	SimilaritySearch(ctx context.Context, userID string, queryVector []float32, limit int, threshold float64) ([]ScoredVector, error)

	// Stats reports totals, vectorized count, dimension mismatches, category
	// distribution, and average embedding dimension for the user.
	Stats(ctx context.Context, userID string) (*types.VectorStats, error)

	// DeleteByUser removes all of the user's vector records. Maintenance
	// hook; never called on the search path.
	DeleteByUser(ctx context.Context, userID string) (int64, error)

	// Close releases the underlying database handle.
	Close() error
}

// ScoredVector pairs a vector record with its similarity to the query.
type ScoredVector struct {
	Record     types.VectorRecord
	Similarity float64
}
