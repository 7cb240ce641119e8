package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestEmbedSuccess(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq embedRequest
	server := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	})

	client := NewClient(ClientConfig{
		BaseURL:   server.URL,
		APIKey:    "secret",
		Model:     "test-model",
		Dimension: 3,
	})

	vector, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
	assert.Equal(t, "/embeddings", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, "hello", gotReq.Input)
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://unused"})
	_, err := client.Embed(context.Background(), "")
	require.Error(t, err)
}

// TestEmbedDimensionMismatch verifies a vector of the wrong length is an
// error, not something the caller can accidentally store.
func TestEmbedDimensionMismatch(t *testing.T) {
	server := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2}}},
		})
	})

	client := NewClient(ClientConfig{BaseURL: server.URL, Dimension: 3})
	_, err := client.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestEmbedErrorStatus(t *testing.T) {
	server := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})

	client := NewClient(ClientConfig{BaseURL: server.URL, Dimension: 3})
	_, err := client.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestEmbedEmptyResponse(t *testing.T) {
	server := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})

	client := NewClient(ClientConfig{BaseURL: server.URL, Dimension: 3})
	_, err := client.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty vector")
}

func TestTestConnection(t *testing.T) {
	server := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	})

	client := NewClient(ClientConfig{BaseURL: server.URL})
	require.NoError(t, client.TestConnection(context.Background()))
}

func TestMockServiceDeterminism(t *testing.T) {
	mock := NewMockService(8)
	ctx := context.Background()

	a, err := mock.Embed(ctx, "same text")
	require.NoError(t, err)
	b, err := mock.Embed(ctx, "same text")
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical text must embed identically")

	c, err := mock.Embed(ctx, "different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 8)
	assert.EqualValues(t, 3, mock.Calls())
}

func TestMockServiceFailureMode(t *testing.T) {
	mock := NewMockService(4)
	mock.SetFailing(true)

	_, err := mock.Embed(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrMockUnavailable)
	assert.Error(t, mock.TestConnection(context.Background()))

	mock.SetFailing(false)
	_, err = mock.Embed(context.Background(), "anything")
	assert.NoError(t, err)
}
