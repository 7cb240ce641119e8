package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mnema-ai/mnema/internal/storage"
	"github.com/mnema-ai/mnema/pkg/types"
)

const vectorSchema = `
CREATE TABLE IF NOT EXISTS vector_memories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'other',
	metadata   TEXT,
	embedding  BLOB NOT NULL,
	dimension  INTEGER NOT NULL,
	norm       REAL NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_vector_memories_user ON vector_memories(user_id);
`

// VectorStore implements storage.VectorStore using SQLite BLOB columns and a
// brute-force cosine scan in Go. The Euclidean norm is computed once at write
// time and persisted so similarity queries avoid recomputing it per row.
type VectorStore struct {
	db *sql.DB
}

// NewVectorStore opens a SQLite database and creates the vector schema.
func NewVectorStore(dsn string) (*VectorStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(vectorSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create vector schema: %w", err)
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
			return 0, fmt.Errorf("sqlite: failed to marshal metadata: %w", err)
		}
	}

	record := types.VectorRecord{Embedding: embedding}
	norm := record.ComputeNorm()

	const query = `
		INSERT INTO vector_memories (user_id, content, category, metadata, embedding, dimension, norm, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		userID, content, string(category), nullableBytes(metadataJSON),
		serializeEmbedding(embedding), len(embedding), norm, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to store vector: %w", err)
	}

	return res.LastInsertId()
}

// SimilaritySearch scans the user's vectors and returns those whose cosine
// similarity to queryVector meets the threshold, best first.
//
// Rows whose stored dimension disagrees with the query vector are skipped
// entirely; the mismatch is observable through Stats, never through a bogus
// similarity value.
func (s *VectorStore) SimilaritySearch(ctx context.Context, userID string, queryVector []float32, limit int, threshold float64) ([]storage.ScoredVector, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}
	limit = storage.ClampLimit(limit)

	queryNorm := vectorNorm(queryVector)
	if queryNorm == 0 {
		return []storage.ScoredVector{}, nil
	}

	const query = `
		SELECT id, user_id, content, category, metadata, embedding, dimension, norm, created_at
		FROM vector_memories
		WHERE user_id = ? AND dimension = ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("sqlite: similarity search failed: %w", err)
	}
	defer rows.Close()

	var scored []storage.ScoredVector
	for rows.Next() {
		record, err := scanVectorRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan vector row: %w", err)
		}
		if record.Norm == 0 {
			continue
		}

		sim := dotProduct(queryVector, record.Embedding) / (queryNorm * record.Norm)
		if sim < threshold {
			continue
		}
		scored = append(scored, storage.ScoredVector{Record: *record, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Record.CreatedAt.After(scored[j].Record.CreatedAt)
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Stats reports the user's vector store footprint, including how many rows
// disagree with the dominant embedding dimension.
func (s *VectorStore) Stats(ctx context.Context, userID string) (*types.VectorStats, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, dimension, COUNT(*) FROM vector_memories WHERE user_id = ? GROUP BY category, dimension`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: vector stats failed: %w", err)
	}
	defer rows.Close()

	stats := &types.VectorStats{Categories: make(map[types.Category]int)}
	dimensionCounts := make(map[int]int)
	var dimensionSum int

	for rows.Next() {
		var category string
		var dimension, count int
		if err := rows.Scan(&category, &dimension, &count); err != nil {
			return nil, fmt.Errorf("sqlite: vector stats scan: %w", err)
		}
		stats.Total += count
		stats.Categories[types.Category(category)] += count
		if dimension > 0 {
			dimensionCounts[dimension] += count
			dimensionSum += dimension * count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: vector stats rows: %w", err)
	}

	// The dominant dimension's rows are the usable ones; everything else is
	// a mismatch left behind by a model change or a bad backfill.
	dominant := 0
	for dim, count := range dimensionCounts {
		if count > dimensionCounts[dominant] || dominant == 0 {
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM vector_memories WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete by user failed: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database handle.
func (s *VectorStore) Close() error {
	return s.db.Close()
}

var _ storage.VectorStore = (*VectorStore)(nil)

func scanVectorRow(rows *sql.Rows) (*types.VectorRecord, error) {
	var record types.VectorRecord
	var category string
	var metadataJSON sql.NullString
	var embeddingBytes []byte
	var dimension int

	err := rows.Scan(
		&record.ID,
		&record.UserID,
		&record.Content,
		&category,
		&metadataJSON,
		&embeddingBytes,
		&dimension,
		&record.Norm,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Category = types.Category(category)
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &record.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	record.Embedding, err = deserializeEmbedding(embeddingBytes, dimension)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// serializeEmbedding converts a float32 slice to little-endian bytes.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding converts little-endian bytes back to a float32 slice,
// validating the buffer against the stored dimension.
func deserializeEmbedding(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if len(buf) != dimension*4 {
		return nil, fmt.Errorf("embedding buffer size mismatch: expected %d bytes, got %d", dimension*4, len(buf))
	}
	embedding := make([]float32, dimension)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return embedding, nil
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
