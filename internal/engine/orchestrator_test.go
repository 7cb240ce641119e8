package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnema-ai/mnema/internal/config"
	"github.com/mnema-ai/mnema/internal/embedding"
	"github.com/mnema-ai/mnema/internal/storage/sqlite"
	"github.com/mnema-ai/mnema/pkg/types"
)

// stubEmbedder returns a fixed vector, or a fixed error, so tests can steer
// the vector path precisely.
type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

func (s *stubEmbedder) ModelInfo() embedding.ModelInfo {
	return embedding.ModelInfo{Name: "stub", Dimension: len(s.vector)}
}

func (s *stubEmbedder) TestConnection(context.Context) error { return s.err }

var _ embedding.Service = (*stubEmbedder)(nil)

type testEngine struct {
	searcher *HybridSearcher
	memories *sqlite.MemoryStore
	vectors  *sqlite.VectorStore
	embedder *stubEmbedder
}

func defaultSearchConfig() config.SearchConfig {
	return config.SearchConfig{KeywordWeight: 0.3, VectorWeight: 0.7, Threshold: 0.3, DefaultLimit: 10}
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	memories, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = memories.Close() })

	vectors, err := sqlite.NewVectorStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	embedder := &stubEmbedder{vector: []float32{1, 0}}
	searcher := NewHybridSearcher(memories, vectors, nil, embedder, defaultSearchConfig())
	return &testEngine{searcher: searcher, memories: memories, vectors: vectors, embedder: embedder}
}

// seed loads the canonical fixture: a basketball memory that both paths can
// find, a device memory only the keyword path sees, and an off-topic memory
// whose vector is orthogonal to the query.
func (te *testEngine) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	inserts := []types.MemoryRecord{
		{UserID: "user-1", Content: "我喜欢打篮球", Category: types.CategoryInterests, Importance: 6},
		{UserID: "user-1", Content: "我的电脑是MacBook Pro", Category: types.CategoryDevice, Importance: 8},
		{UserID: "user-1", Content: "今天天气不错", Category: types.CategoryOther, Importance: 3},
	}
	for i := range inserts {
		_, err := te.memories.Insert(ctx, &inserts[i])
		require.NoError(t, err)
	}

	_, err := te.vectors.Store(ctx, "user-1", "我喜欢打篮球", []float32{1, 0}, types.CategoryInterests, nil)
	require.NoError(t, err)
	_, err = te.vectors.Store(ctx, "user-1", "今天天气不错", []float32{0, 1}, types.CategoryOther, nil)
	require.NoError(t, err)
}

func TestSearchValidation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
	}{
		{"missing user", Request{Query: "篮球"}},
		{"unknown mode", Request{UserID: "u", Query: "篮球", Mode: "fuzzy"}},
		{"negative weight", Request{UserID: "u", Query: "篮球", KeywordWeight: -1}},
		{"threshold above one", Request{UserID: "u", Query: "篮球", Threshold: 1.5}},
		{"threshold below zero", Request{UserID: "u", Query: "篮球", Threshold: -0.1}},
		{"vector mode without query", Request{UserID: "u", Mode: types.SearchModeVector}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := te.searcher.Search(ctx, tc.req)
			assert.ErrorIs(t, err, ErrInvalidParameters)
		})
	}
}

func TestKeywordModeScoresFromImportance(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)

	results, err := te.searcher.Search(context.Background(), Request{
		UserID: "user-1", Query: "我喜欢打篮球", Mode: types.SearchModeKeyword,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.Equal(t, types.SearchTypeKeyword, r.SearchType)
		assert.InDelta(t, float64(r.Importance)/10, r.RelevanceScore, 1e-9,
			"keyword score must be importance-derived")
	}
}

func TestVectorModeThresholdExcludes(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)

	results, err := te.searcher.Search(context.Background(), Request{
		UserID: "user-1", Query: "篮球相关", Mode: types.SearchModeVector, Threshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1, "orthogonal vector must be excluded, not down-ranked")
	assert.Equal(t, "我喜欢打篮球", results[0].Content)
	assert.Equal(t, types.SearchTypeVector, results[0].SearchType)
	assert.InDelta(t, 1.0, results[0].RelevanceScore, 1e-6)
}

func TestVectorModeFailsClosedOnEmbeddingError(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)
	te.embedder.err = errors.New("embedding backend down")

	results, err := te.searcher.Search(context.Background(), Request{
		UserID: "user-1", Query: "篮球", Mode: types.SearchModeVector,
	})
	require.NoError(t, err, "embedding failure must degrade, not propagate")
	assert.Empty(t, results)
}

// TestHybridFusion pins the fusion arithmetic: a candidate found by both
// paths is promoted to hybrid with a weighted-sum score, while keyword-only
// candidates below the threshold come back through degradation at their
// native scores.
func TestHybridFusion(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)

	results, diag, err := te.searcher.SearchWithDiagnostics(context.Background(), Request{
		UserID: "user-1", Query: "我喜欢打篮球", Mode: types.SearchModeHybrid,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Both paths saw the basketball memory: 0.3*0.6 + 0.7*1.0 = 0.88.
	assert.Equal(t, "我喜欢打篮球", results[0].Content)
	assert.Equal(t, types.SearchTypeHybrid, results[0].SearchType)
	assert.InDelta(t, 0.88, results[0].RelevanceScore, 1e-6)
	assert.InDelta(t, 0.6, results[0].Details.KeywordScore, 1e-9)
	assert.InDelta(t, 1.0, results[0].Details.VectorScore, 1e-6)

	// The device memory scored 0.3*0.8 = 0.24 in fusion, under the 0.3
	// threshold, and was supplemented at its native keyword score.
	assert.Equal(t, "我的电脑是MacBook Pro", results[1].Content)
	assert.Equal(t, types.SearchTypeKeyword, results[1].SearchType)
	assert.InDelta(t, 0.8, results[1].RelevanceScore, 1e-9)
	assert.Equal(t, 1, diag.Supplemented)
}

// TestHybridDegradationMatchesKeywordMode pins the degradation law: with the
// embedding service down, hybrid mode returns exactly the memories keyword
// mode returns.
func TestHybridDegradationMatchesKeywordMode(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)
	ctx := context.Background()

	req := Request{UserID: "user-1", Query: "我喜欢打篮球"}

	keywordReq := req
	keywordReq.Mode = types.SearchModeKeyword
	keywordResults, err := te.searcher.Search(ctx, keywordReq)
	require.NoError(t, err)

	te.embedder.err = errors.New("embedding backend down")
	hybridReq := req
	hybridReq.Mode = types.SearchModeHybrid
	hybridResults, err := te.searcher.Search(ctx, hybridReq)
	require.NoError(t, err)

	assert.Equal(t, contentSet(keywordResults), contentSet(hybridResults),
		"degraded hybrid search must cover the same memories as keyword search")
	for _, r := range hybridResults {
		assert.Equal(t, types.SearchTypeKeyword, r.SearchType)
	}
}

// TestResultsSortedDescending is the ordering property: whatever the mode
// and degradation state, scores never increase down the list.
func TestResultsSortedDescending(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)
	ctx := context.Background()

	for _, mode := range []types.SearchMode{types.SearchModeKeyword, types.SearchModeVector, types.SearchModeHybrid} {
		results, err := te.searcher.Search(ctx, Request{UserID: "user-1", Query: "我喜欢打篮球", Mode: mode})
		require.NoError(t, err, "mode %s", mode)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].RelevanceScore, results[i].RelevanceScore,
				"mode %s: results out of order at %d", mode, i)
		}
	}
}

func TestSearchIdempotent(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)
	ctx := context.Background()

	req := Request{UserID: "user-1", Query: "我喜欢打篮球"}
	first, err := te.searcher.Search(ctx, req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := te.searcher.Search(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first, again, "run %d", i)
	}
}

// TestScoreClampingPreservesRawScore: weights that sum above 1 can push the
// weighted sum past 1.0; the reported score is clamped but the raw value
// stays observable.
func TestScoreClampingPreservesRawScore(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)

	results, err := te.searcher.Search(context.Background(), Request{
		UserID: "user-1", Query: "我喜欢打篮球",
		KeywordWeight: 1.0, VectorWeight: 1.0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	top := results[0]
	assert.Equal(t, types.SearchTypeHybrid, top.SearchType)
	assert.Equal(t, 1.0, top.RelevanceScore)
	assert.InDelta(t, 1.6, top.Details.RawScore, 1e-6, "raw weighted sum must not be renormalized")
}

// TestEmptyQueryBroadens: an empty query is valid outside vector mode and
// returns the user's records rather than nothing.
func TestEmptyQueryBroadens(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)
	ctx := context.Background()

	results, err := te.searcher.Search(ctx, Request{UserID: "user-1", Mode: types.SearchModeKeyword})
	require.NoError(t, err)
	assert.Len(t, results, 3)

	results, diag, err := te.searcher.SearchWithDiagnostics(ctx, Request{UserID: "user-1", Mode: types.SearchModeHybrid})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	assert.True(t, diag.VectorSkipped, "nothing to embed, vector path must be skipped")
}

func TestUnknownUserReturnsEmpty(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)

	results, err := te.searcher.Search(context.Background(), Request{UserID: "stranger", Query: "篮球"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLimitTruncates(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := te.memories.Insert(ctx, &types.MemoryRecord{
			UserID: "user-1", Content: "我的爱好记录", Importance: i%10 + 1,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	results, err := te.searcher.Search(ctx, Request{
		UserID: "user-1", Query: "爱好", Mode: types.SearchModeKeyword, Limit: 3,
	})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestQueryCacheServesRepeats(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)
	ctx := context.Background()

	cache, err := NewQueryCache(16, time.Minute)
	require.NoError(t, err)
	te.searcher.SetCache(cache)

	req := Request{UserID: "user-1", Query: "我喜欢打篮球", UseCache: true}
	first, err := te.searcher.Search(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// A write after caching is invisible until the cache is purged.
	_, err = te.memories.Insert(ctx, &types.MemoryRecord{UserID: "user-1", Content: "新买了篮球鞋", Importance: 9})
	require.NoError(t, err)

	cached, err := te.searcher.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	cache.Purge()
	fresh, err := te.searcher.Search(ctx, req)
	require.NoError(t, err)
	assert.Greater(t, len(fresh), len(first))
}

// TestOrphanVectorStillSurfaces pins the drift policy between the two
// uncoupled stores: a vector record whose lexical twin was deleted still
// surfaces through the vector path, self-contained, without a crash.
func TestOrphanVectorStillSurfaces(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	record := types.MemoryRecord{
		UserID: "user-1", Content: "我喜欢打篮球", Category: types.CategoryInterests, Importance: 6,
	}
	id, err := te.memories.Insert(ctx, &record)
	require.NoError(t, err)
	_, err = te.vectors.Store(ctx, "user-1", "我喜欢打篮球", []float32{1, 0}, types.CategoryInterests, nil)
	require.NoError(t, err)

	require.NoError(t, te.memories.Delete(ctx, id))

	results, err := te.searcher.Search(ctx, Request{
		UserID: "user-1", Query: "篮球", Mode: types.SearchModeVector,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "我喜欢打篮球", results[0].Content)
	assert.Equal(t, types.SearchTypeVector, results[0].SearchType)

	// In hybrid mode the keyword path finds nothing; the orphan arrives
	// vector-tagged at its weighted score.
	results, err = te.searcher.Search(ctx, Request{
		UserID: "user-1", Query: "篮球", Mode: types.SearchModeHybrid,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.SearchTypeVector, results[0].SearchType)
	assert.InDelta(t, 0.7, results[0].RelevanceScore, 1e-6)
}

func TestStatsPassthrough(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t)
	ctx := context.Background()

	mem, err := te.searcher.MemoryStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, mem.Total)

	vec, err := te.searcher.VectorStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, vec.Total)
	assert.Equal(t, 0, vec.DimensionMismatches)

	_, err = te.searcher.MemoryStats(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func contentSet(results []types.SearchResult) map[string]bool {
	set := make(map[string]bool, len(results))
	for _, r := range results {
		set[r.Content] = true
	}
	return set
}
