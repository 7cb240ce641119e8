// Package embedding defines the embedding service contract and an HTTP
// client for OpenAI-compatible embedding endpoints.
package embedding

import "context"

// ModelInfo identifies the active embedding model. Vectors are only
// comparable within one model; Dimension is the length every stored vector
// must have to participate in similarity scans.
type ModelInfo struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
}

// Service maps text to a fixed-length vector.
type Service interface {
	// Embed returns the embedding vector for text. Implementations must
	// respect ctx cancellation and bound the call with a timeout.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelInfo reports the model's identity and declared dimension.
	ModelInfo() ModelInfo

	// TestConnection verifies the service is reachable.
	TestConnection(ctx context.Context) error
}
