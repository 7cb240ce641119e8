// Package sqlite implements the storage interfaces on modernc.org/sqlite.
//
// The lexical MemoryStore and the blob-backed VectorStore can share one
// database file or live in separate files; each owns its own handle either
// way since the two stores are deliberately uncoupled.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mnema-ai/mnema/internal/storage"
	"github.com/mnema-ai/mnema/pkg/types"
)

const memorySchema = `
CREATE TABLE IF NOT EXISTS memories (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id         TEXT NOT NULL,
	content         TEXT NOT NULL,
	category        TEXT NOT NULL DEFAULT 'other',
	tags            TEXT,
	source          TEXT NOT NULL DEFAULT 'conversation',
	importance      INTEGER NOT NULL DEFAULT 5,
	conversation_id TEXT,
	extracted_from  TEXT,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
CREATE INDEX IF NOT EXISTS idx_memories_user_importance ON memories(user_id, importance DESC);
CREATE INDEX IF NOT EXISTS idx_memories_user_category ON memories(user_id, category);
`

// MemoryStore implements storage.MemoryStore using SQLite.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore opens a SQLite database, configures WAL mode, and creates
// the schema. Pass ":memory:" for an ephemeral store in tests.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
		// Keyword matching is case-sensitive for non-script characters.
		"PRAGMA case_sensitive_like = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(memorySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &MemoryStore{db: db}, nil
}

// Insert stores a new record and returns its storage-assigned ID.
func (s *MemoryStore) Insert(ctx context.Context, record *types.MemoryRecord) (int64, error) {
	if record == nil {
		return 0, storage.ErrInvalidInput
	}
	if err := record.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	record.Normalize()

	var tagsJSON []byte
	if len(record.Tags) > 0 {
		var err error
		tagsJSON, err = json.Marshal(record.Tags)
		if err != nil {
			return 0, fmt.Errorf("sqlite: failed to marshal tags: %w", err)
		}
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.Before(record.CreatedAt) {
		record.UpdatedAt = record.CreatedAt
	}
	if record.Source == "" {
		record.Source = types.SourceConversation
	}

	const query = `
		INSERT INTO memories (
			user_id, content, category, tags, source, importance,
			conversation_id, extracted_from, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		record.UserID, record.Content, string(record.Category), nullableBytes(tagsJSON),
		string(record.Source), record.Importance,
		nullableString(record.ConversationID), nullableString(record.ExtractedFrom),
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to insert memory: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to read insert id: %w", err)
	}
	record.ID = id
	return id, nil
}

// Get retrieves a record by ID.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*types.MemoryRecord, error) {
	const query = memorySelectColumns + ` WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	record, err := scanMemoryRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to get memory %d: %w", id, err)
	}
	return record, nil
}

// Search performs lexical retrieval for one user.
//
// An empty keyword set means "broaden, never narrow": it returns the user's
// most important records instead of nothing. Otherwise a record matches when
// its content or serialized tags contain any keyword as a substring; lexical
// relevance at this layer is binary, so results are ordered by importance
// descending (recency breaks ties) and finer scoring is left to the engine.
func (s *MemoryStore) Search(ctx context.Context, userID string, keywords []string, limit int) ([]types.MemoryRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	limit = storage.ClampLimit(limit)

	var sb strings.Builder
	sb.WriteString(memorySelectColumns)
	sb.WriteString(` WHERE user_id = ?`)
	args := []any{userID}

	keywords = nonEmptyKeywords(keywords)
	if len(keywords) > 0 {
		sb.WriteString(` AND (`)
		for i, kw := range keywords {
			if i > 0 {
				sb.WriteString(` OR `)
			}
			// instr gives exact substring semantics with no LIKE-pattern
			// escaping concerns.
			sb.WriteString(`instr(content, ?) > 0 OR instr(coalesce(tags, ''), ?) > 0`)
			args = append(args, kw, kw)
		}
		sb.WriteString(`)`)
	}

	sb.WriteString(` ORDER BY importance DESC, created_at DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search failed: %w", err)
	}
	defer rows.Close()

	return scanMemoryRows(rows)
}

// GetByCategory returns the user's records for one category.
func (s *MemoryStore) GetByCategory(ctx context.Context, userID string, category types.Category) ([]types.MemoryRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", storage.ErrInvalidInput, category)
	}

	const query = memorySelectColumns + `
		WHERE user_id = ? AND category = ?
		ORDER BY importance DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID, string(category))
	if err != nil {
		return nil, fmt.Errorf("sqlite: get by category failed: %w", err)
	}
	defer rows.Close()

	return scanMemoryRows(rows)
}

// Delete removes a record immediately; there is no soft delete or tombstone.
func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete memory %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Stats reports the user's record count and category distribution.
func (s *MemoryStore) Stats(ctx context.Context, userID string) (*types.MemoryStats, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM memories WHERE user_id = ? GROUP BY category`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: stats failed: %w", err)
	}
	defer rows.Close()

	stats := &types.MemoryStats{ByCategory: make(map[types.Category]int)}
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("sqlite: stats scan failed: %w", err)
		}
		stats.ByCategory[types.Category(category)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: stats rows: %w", err)
	}
	return stats, nil
}

// Close releases the database handle.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// Compile-time assertion.
var _ storage.MemoryStore = (*MemoryStore)(nil)

// memorySelectColumns is the canonical SELECT column list for the memories
// table. It must match the scan order in scanMemoryRow.
const memorySelectColumns = `
	SELECT id, user_id, content, category, tags, source, importance,
	       conversation_id, extracted_from, created_at, updated_at
	FROM memories`

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryRow(row rowScanner) (*types.MemoryRecord, error) {
	var record types.MemoryRecord
	var category, source string
	var tagsJSON, conversationID, extractedFrom sql.NullString

	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.Content,
		&category,
		&tagsJSON,
		&source,
		&record.Importance,
		&conversationID,
		&extractedFrom,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Category = types.Category(category)
	record.Source = types.Source(source)
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &record.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if conversationID.Valid {
		record.ConversationID = conversationID.String
	}
	if extractedFrom.Valid {
		record.ExtractedFrom = extractedFrom.String
	}
	return &record, nil
}

func scanMemoryRows(rows *sql.Rows) ([]types.MemoryRecord, error) {
	var records []types.MemoryRecord
	for rows.Next() {
		record, err := scanMemoryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan memory row: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}
	return records, nil
}

func nonEmptyKeywords(keywords []string) []string {
	out := keywords[:0:0]
	for _, kw := range keywords {
		if strings.TrimSpace(kw) != "" {
			out = append(out, kw)
		}
	}
	return out
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
