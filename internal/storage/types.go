package storage

import "errors"

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch indicates that a stored vector's length disagrees
	// with the query vector or the active embedding model. Mismatched records
	// are excluded from similarity scans rather than silently compared.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DefaultSearchLimit is applied when a caller passes a non-positive limit.
const DefaultSearchLimit = 10

// MaxSearchLimit caps the number of records any single query can return.
const MaxSearchLimit = 100

// ClampLimit applies the default and maximum search limits.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}
