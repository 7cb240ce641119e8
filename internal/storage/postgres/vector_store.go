// Package postgres implements the vector store interface on PostgreSQL with
// the pgvector extension. Similarity ranking is pushed into SQL via the
// cosine distance operator, which keeps the Go side identical to the sqlite
// backend from the orchestrator's point of view.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mnema-ai/mnema/internal/storage"
	"github.com/mnema-ai/mnema/pkg/types"
)

// Schema creates the vector_memories table. The embedding column is an
// untyped vector so records from different embedding models can coexist;
// the dimension column is what similarity queries filter on.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS vector_memories (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'other',
	metadata   JSONB,
	embedding  vector NOT NULL,
	dimension  INTEGER NOT NULL,
	norm       DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_vector_memories_user ON vector_memories(user_id);
CREATE INDEX IF NOT EXISTS idx_vector_memories_user_dim ON vector_memories(user_id, dimension);
`

// VectorStore implements storage.VectorStore on PostgreSQL + pgvector.
type VectorStore struct {
	db *sql.DB
}

// NewVectorStore connects to PostgreSQL and ensures the schema exists.
// The DSN is a standard lib/pq connection string.
func NewVectorStore(dsn string) (*VectorStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	return &VectorStore{db: db}, nil
}

// Store saves content with its embedding and returns the new record ID.
func (s *VectorStore) Store(ctx context.Context, userID, content string, embedding []float32, category types.Category, metadata map[string]any) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	if content == "" {
		return 0, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return 0, fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if category == "" {
		category = types.CategoryOther
	}

	var metadataJSON []byte
	if len(metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("postgres: failed to marshal metadata: %w", err)
		}
	}

	record := types.VectorRecord{Embedding: embedding}
	norm := record.ComputeNorm()

	const query = `
		INSERT INTO vector_memories (user_id, content, category, metadata, embedding, dimension, norm, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	var id int64
	err := s.db.QueryRowContext(ctx, query,
		userID, content, string(category), nullableJSON(metadataJSON),
		pgvector.NewVector(embedding), len(embedding), norm, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to store vector: %w", err)
	}
	return id, nil
}

// SimilaritySearch ranks the user's vectors by cosine similarity in SQL.
// Rows whose dimension disagrees with the query vector never enter the scan.
func (s *VectorStore) SimilaritySearch(ctx context.Context, userID string, queryVector []float32, limit int, threshold float64) ([]storage.ScoredVector, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}
	limit = storage.ClampLimit(limit)

	// pgvector's <=> is cosine distance; similarity = 1 - distance.
	const query = `
		SELECT id, user_id, content, category, metadata, dimension, norm, created_at,
		       1 - (embedding <=> $2) AS similarity
		FROM vector_memories
		WHERE user_id = $1 AND dimension = $3 AND norm > 0
		  AND 1 - (embedding <=> $2) >= $4
		ORDER BY similarity DESC, created_at DESC
		LIMIT $5
	`
	rows, err := s.db.QueryContext(ctx, query,
		userID, pgvector.NewVector(queryVector), len(queryVector), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: similarity search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scored []storage.ScoredVector
	for rows.Next() {
		var record types.VectorRecord
		var category string
		var metadataJSON sql.NullString
		var dimension int
		var similarity float64

		err := rows.Scan(
			&record.ID, &record.UserID, &record.Content, &category,
			&metadataJSON, &dimension, &record.Norm, &record.CreatedAt,
			&similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vector row: %w", err)
		}

		record.Category = types.Category(category)
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &record.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal metadata: %w", err)
			}
		}
		scored = append(scored, storage.ScoredVector{Record: record, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows error: %w", err)
	}
	return scored, nil
}

// Stats reports the user's vector store footprint.
func (s *VectorStore) Stats(ctx context.Context, userID string) (*types.VectorStats, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, dimension, COUNT(*) FROM vector_memories WHERE user_id = $1 GROUP BY category, dimension`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector stats failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &types.VectorStats{Categories: make(map[types.Category]int)}
	dimensionCounts := make(map[int]int)
	var dimensionSum int

	for rows.Next() {
		var category string
		var dimension, count int
		if err := rows.Scan(&category, &dimension, &count); err != nil {
			return nil, fmt.Errorf("postgres: vector stats scan: %w", err)
		}
		stats.Total += count
		stats.Categories[types.Category(category)] += count
		if dimension > 0 {
			dimensionCounts[dimension] += count
			dimensionSum += dimension * count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: vector stats rows: %w", err)
	}

	dominant := 0
	for dim, count := range dimensionCounts {
		if dominant == 0 || count > dimensionCounts[dominant] {
			dominant = dim
		}
	}
	stats.Vectorized = dimensionCounts[dominant]
	stats.DimensionMismatches = stats.Total - stats.Vectorized
	if stats.Total > 0 {
		stats.AvgDimension = float64(dimensionSum) / float64(stats.Total)
	}
	return stats, nil
}

// DeleteByUser removes all of the user's vector records.
func (s *VectorStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM vector_memories WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete by user failed: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database handle.
func (s *VectorStore) Close() error {
	return s.db.Close()
}

var _ storage.VectorStore = (*VectorStore)(nil)

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
