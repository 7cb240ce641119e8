package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
)

// ErrMockUnavailable is what a failing MockService returns from every call.
var ErrMockUnavailable = errors.New("embedding: mock service unavailable")

// MockService is a deterministic in-process embedding service for tests and
// offline development. Identical text always maps to an identical unit
// vector; different texts map to vectors that are very unlikely to collide.
type MockService struct {
	dimension int
	failing   atomic.Bool
	calls     atomic.Int64
}

// NewMockService creates a mock with the given dimension (default 8).
func NewMockService(dimension int) *MockService {
	if dimension <= 0 {
		dimension = 8
	}
	return &MockService{dimension: dimension}
}

var _ Service = (*MockService)(nil)

// SetFailing toggles failure mode: every subsequent call errors until reset.
func (m *MockService) SetFailing(failing bool) {
	m.failing.Store(failing)
}

// Calls reports how many Embed calls have been made.
func (m *MockService) Calls() int64 {
	return m.calls.Load()
}

// Embed produces a deterministic unit vector derived from the text's hash.
func (m *MockService) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.failing.Load() {
		return nil, ErrMockUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(text))
	vector := make([]float32, m.dimension)
	var norm float64
	for i := range vector {
		// Spread the 32 hash bytes across the vector, re-hashing per block.
		if i > 0 && i%8 == 0 {
			sum = sha256.Sum256(sum[:])
		}
		bits := binary.LittleEndian.Uint32(sum[(i%8)*4:])
		v := float64(bits)/float64(math.MaxUint32)*2 - 1
		vector[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
	}
	return vector, nil
}

// ModelInfo reports the mock's identity.
func (m *MockService) ModelInfo() ModelInfo {
	return ModelInfo{Name: "mock-embedder", Dimension: m.dimension}
}

// TestConnection succeeds unless failure mode is on.
func (m *MockService) TestConnection(ctx context.Context) error {
	if m.failing.Load() {
		return ErrMockUnavailable
	}
	return ctx.Err()
}
