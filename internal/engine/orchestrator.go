// Package engine implements the hybrid search orchestrator: the retrieval
// engine that turns a free-text query into a ranked list of stored memories
// by combining lexical keyword matching with embedding similarity, degrading
// stage by stage when upstream dependencies are unavailable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mnema-ai/mnema/internal/config"
	"github.com/mnema-ai/mnema/internal/embedding"
	"github.com/mnema-ai/mnema/internal/keyword"
	"github.com/mnema-ai/mnema/internal/storage"
	"github.com/mnema-ai/mnema/pkg/types"
)

// ErrInvalidParameters is returned when a request fails validation. It is
// the only error class that reaches the caller before any sub-search runs;
// sub-path failures are absorbed into degradation.
var ErrInvalidParameters = errors.New("invalid search parameters")

// candidateFetchFactor over-fetches each sub-path so fusion and threshold
// filtering still leave enough results to fill the limit.
const candidateFetchFactor = 2

// HybridSearcher coordinates the keyword and vector retrieval paths.
// It is read-only with respect to stored data: nothing on the search path
// mutates either store, so a cancelled query has no partial writes to undo.
type HybridSearcher struct {
	memories  storage.MemoryStore
	vectors   storage.VectorStore
	extractor keyword.ContextExtractor
	embedder  embedding.Service
	cfg       config.SearchConfig
	cache     *QueryCache // nil disables caching
}

// NewHybridSearcher creates the orchestrator. extractor and embedder may be
// nil: a nil extractor falls back to the local heuristic, and a nil embedder
// disables the vector path entirely (every hybrid query degrades to keyword
// results).
func NewHybridSearcher(
	memories storage.MemoryStore,
	vectors storage.VectorStore,
	extractor keyword.ContextExtractor,
	embedder embedding.Service,
	cfg config.SearchConfig,
) *HybridSearcher {
	if extractor == nil {
		extractor = keyword.NewFallbackExtractor(nil, keyword.NewHeuristicExtractor())
	}
	return &HybridSearcher{
		memories:  memories,
		vectors:   vectors,
		extractor: extractor,
		embedder:  embedder,
		cfg:       cfg,
	}
}

// SetCache attaches an optional query cache. Call before serving queries.
func (h *HybridSearcher) SetCache(cache *QueryCache) {
	h.cache = cache
}

// Request parameterizes one search. Zero weights, a zero threshold, and a
// zero limit all mean "use the configured defaults".
type Request struct {
	UserID        string
	Query         string
	Mode          types.SearchMode
	KeywordWeight float64
	VectorWeight  float64
	Threshold     float64
	Limit         int

	// UseCache serves repeated identical requests from the LRU cache when
	// one is attached. Off by default: cached results can lag store writes.
	UseCache bool
}

// normalize applies defaults and validates. Validation failures are the one
// hard-error case; everything after this point degrades instead of failing.
func (h *HybridSearcher) normalize(req *Request) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: user ID is required", ErrInvalidParameters)
	}
	if req.Mode == "" {
		req.Mode = types.SearchModeHybrid
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidParameters, req.Mode)
	}
	// An empty query broadens the keyword path, but the vector path has
	// nothing to embed.
	if req.Mode == types.SearchModeVector && strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query is required for vector mode", ErrInvalidParameters)
	}
	if req.KeywordWeight < 0 || req.VectorWeight < 0 {
		return fmt.Errorf("%w: weights must be non-negative", ErrInvalidParameters)
	}
	if req.KeywordWeight == 0 && req.VectorWeight == 0 {
		req.KeywordWeight = h.cfg.KeywordWeight
		req.VectorWeight = h.cfg.VectorWeight
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return fmt.Errorf("%w: threshold %v outside [0,1]", ErrInvalidParameters, req.Threshold)
	}
	if req.Threshold == 0 {
		req.Threshold = h.cfg.Threshold
	}
	if req.Limit <= 0 {
		req.Limit = h.cfg.DefaultLimit
	}
	req.Limit = storage.ClampLimit(req.Limit)
	return nil
}

// Diagnostics carries per-stage observability for one query. It is not part
// of the functional contract; identical requests return identical results
// regardless of which stages degraded.
type Diagnostics struct {
	TraceID       string
	Mode          types.SearchMode
	Keywords      []string
	KeywordCount  int // candidates from the lexical path
	VectorCount   int // candidates from the semantic path
	VectorSkipped bool
	KeywordErr    string
	VectorErr     string
	Supplemented  int // keyword candidates added by degradation
	KeywordTime   time.Duration
	VectorTime    time.Duration
	TotalTime     time.Duration
}

// Search runs one query and returns the ranked results.
func (h *HybridSearcher) Search(ctx context.Context, req Request) ([]types.SearchResult, error) {
	results, _, err := h.SearchWithDiagnostics(ctx, req)
	return results, err
}

// SearchWithDiagnostics runs one query and additionally reports per-stage
// timings, counts, and degradation flags.
func (h *HybridSearcher) SearchWithDiagnostics(ctx context.Context, req Request) ([]types.SearchResult, *Diagnostics, error) {
	start := time.Now()
	if err := h.normalize(&req); err != nil {
		return nil, nil, err
	}

	diag := &Diagnostics{TraceID: uuid.NewString(), Mode: req.Mode}

	if h.cache != nil && req.UseCache {
		if cached, ok := h.cache.Get(req); ok {
			diag.TotalTime = time.Since(start)
			return cached, diag, nil
		}
	}

	var results []types.SearchResult
	var err error
	switch req.Mode {
	case types.SearchModeKeyword:
		kp := h.runKeywordPath(ctx, req, req.Limit, diag)
		if kp.err != nil {
			return nil, diag, kp.err
		}
		results = kp.results
	case types.SearchModeVector:
		vp := h.runVectorPath(ctx, req, req.Limit, diag)
		if vp.err != nil {
			return nil, diag, vp.err
		}
		results = vp.results
	case types.SearchModeHybrid:
		results, err = h.runHybrid(ctx, req, diag)
		if err != nil {
			return nil, diag, err
		}
	}

	sortResults(results)
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	if h.cache != nil && req.UseCache {
		h.cache.Put(req, results)
	}
	diag.TotalTime = time.Since(start)
	return results, diag, nil
}

// pathResult carries one sub-path's outcome. err is only consulted by the
// single-path modes; hybrid mode converts it to an empty set.
type pathResult struct {
	results []types.SearchResult
	err     error
}

// runKeywordPath extracts keywords and queries the lexical store. The
// lexical layer has no continuous relevance signal, so each hit's score is
// derived from its importance.
func (h *HybridSearcher) runKeywordPath(ctx context.Context, req Request, limit int, diag *Diagnostics) pathResult {
	defer func(t time.Time) { diag.KeywordTime = time.Since(t) }(time.Now())

	keywords, err := h.extractor.ExtractContext(ctx, req.Query)
	if err != nil {
		// The fallback extractor only errors on context cancellation.
		diag.KeywordErr = err.Error()
		return pathResult{err: err}
	}
	diag.Keywords = keywords

	records, err := h.memories.Search(ctx, req.UserID, keywords, limit)
	if err != nil {
		diag.KeywordErr = err.Error()
		return pathResult{err: fmt.Errorf("keyword path: %w", err)}
	}
	diag.KeywordCount = len(records)

	results := make([]types.SearchResult, 0, len(records))
	for _, rec := range records {
		score := keywordScore(rec.Importance)
		results = append(results, types.SearchResult{
			MemoryID:       rec.ID,
			Content:        rec.Content,
			Category:       rec.Category,
			Importance:     rec.Importance,
			CreatedAt:      rec.CreatedAt,
			RelevanceScore: score,
			SearchType:     types.SearchTypeKeyword,
			Details:        types.ScoreDetails{KeywordScore: score, RawScore: score},
		})
	}
	return pathResult{results: results}
}

// runVectorPath embeds the query and scans the vector store. It fails
// closed: any embedding-service error yields an empty result set for this
// path rather than a guess. A user with no vectorized memories skips the
// path without paying for the embedding round trip.
func (h *HybridSearcher) runVectorPath(ctx context.Context, req Request, limit int, diag *Diagnostics) pathResult {
	defer func(t time.Time) { diag.VectorTime = time.Since(t) }(time.Now())

	if h.embedder == nil || h.vectors == nil || strings.TrimSpace(req.Query) == "" {
		diag.VectorSkipped = true
		return pathResult{}
	}

	stats, err := h.vectors.Stats(ctx, req.UserID)
	if err == nil && stats.Vectorized == 0 {
		diag.VectorSkipped = true
		return pathResult{}
	}

	queryVector, err := h.embedder.Embed(ctx, req.Query)
	if err != nil {
		diag.VectorErr = err.Error()
		log.Printf("engine: embedding failed, vector path degraded: %v", err)
		return pathResult{}
	}

	scored, err := h.vectors.SimilaritySearch(ctx, req.UserID, queryVector, limit, req.Threshold)
	if err != nil {
		diag.VectorErr = err.Error()
		return pathResult{err: fmt.Errorf("vector path: %w", err)}
	}
	diag.VectorCount = len(scored)

	results := make([]types.SearchResult, 0, len(scored))
	for _, sv := range scored {
		results = append(results, types.SearchResult{
			MemoryID:       sv.Record.ID,
			Content:        sv.Record.Content,
			Category:       sv.Record.Category,
			CreatedAt:      sv.Record.CreatedAt,
			RelevanceScore: clamp01(sv.Similarity),
			SearchType:     types.SearchTypeVector,
			Details:        types.ScoreDetails{VectorScore: sv.Similarity, RawScore: sv.Similarity},
		})
	}
	return pathResult{results: results}
}

// runHybrid executes both paths and fuses their candidates.
//
// The two paths have no mutual data dependency, so they run concurrently;
// errors are captured per path, never returned through the group, and the
// query proceeds with whatever succeeded. Only both paths failing is fatal.
func (h *HybridSearcher) runHybrid(ctx context.Context, req Request, diag *Diagnostics) ([]types.SearchResult, error) {
	fetchLimit := req.Limit * candidateFetchFactor
	var kp, vp pathResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kp = h.runKeywordPath(gctx, req, fetchLimit, diag)
		return nil
	})
	g.Go(func() error {
		vp = h.runVectorPath(gctx, req, fetchLimit, diag)
		return nil
	})
	_ = g.Wait()

	if kp.err != nil && vp.err != nil {
		return nil, fmt.Errorf("both search paths failed: %w; %v", kp.err, vp.err)
	}
	if kp.err != nil {
		kp.results = nil
	}
	if vp.err != nil {
		vp.results = nil
	}

	fused := fuse(kp.results, vp.results, req.KeywordWeight, req.VectorWeight)

	// Threshold excludes outright; it never merely down-ranks.
	filtered := fused[:0]
	for _, r := range fused {
		if r.RelevanceScore >= req.Threshold {
			filtered = append(filtered, r)
		}
	}
	sortResults(filtered)
	if len(filtered) > req.Limit {
		filtered = filtered[:req.Limit]
	}

	// Degradation: when the semantic path came up short (embedding down,
	// nothing vectorized, threshold too strict), supplement with keyword
	// candidates at their native scores so the engine is never worse than
	// plain lexical search.
	if len(vp.results) < req.Limit && len(filtered) < req.Limit {
		present := make(map[string]bool, len(filtered))
		for _, r := range filtered {
			present[fuseKey(r.Content)] = true
		}
		for _, r := range kp.results {
			if len(filtered) >= req.Limit {
				break
			}
			key := fuseKey(r.Content)
			if present[key] {
				continue
			}
			present[key] = true
			diag.Supplemented++
			filtered = append(filtered, r)
		}
	}

	return filtered, nil
}

// fuse merges the two candidate sets by natural-key identity (trimmed
// content — the stores assign independent IDs, so content is the only
// stable cross-store identity).
//
// A candidate seen by only one path scores pathWeight times its native
// score; a candidate seen by both scores the weighted sum of both native
// scores and is promoted to the hybrid type. Weights are applied as given:
// when they sum to more than 1 the raw sum can exceed 1.0, which is kept in
// Details.RawScore while RelevanceScore is clamped for the [0,1] contract.
func fuse(keywordResults, vectorResults []types.SearchResult, keywordWeight, vectorWeight float64) []types.SearchResult {
	merged := make(map[string]*types.SearchResult, len(keywordResults)+len(vectorResults))
	order := make([]string, 0, len(keywordResults)+len(vectorResults))

	for _, r := range keywordResults {
		key := fuseKey(r.Content)
		raw := keywordWeight * r.Details.KeywordScore
		entry := r
		entry.Details.RawScore = raw
		entry.RelevanceScore = clamp01(raw)
		merged[key] = &entry
		order = append(order, key)
	}

	for _, r := range vectorResults {
		key := fuseKey(r.Content)
		if existing, ok := merged[key]; ok {
			existing.Details.VectorScore = r.Details.VectorScore
			raw := keywordWeight*existing.Details.KeywordScore + vectorWeight*r.Details.VectorScore
			existing.Details.RawScore = raw
			existing.RelevanceScore = clamp01(raw)
			existing.SearchType = types.SearchTypeHybrid
			continue
		}
		raw := vectorWeight * r.Details.VectorScore
		entry := r
		entry.Details.RawScore = raw
		entry.RelevanceScore = clamp01(raw)
		merged[key] = &entry
		order = append(order, key)
	}

	out := make([]types.SearchResult, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	return out
}

// MemoryStats passes through the lexical store's per-user statistics.
func (h *HybridSearcher) MemoryStats(ctx context.Context, userID string) (*types.MemoryStats, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user ID is required", ErrInvalidParameters)
	}
	return h.memories.Stats(ctx, userID)
}

// VectorStats passes through the vector store's per-user statistics.
func (h *HybridSearcher) VectorStats(ctx context.Context, userID string) (*types.VectorStats, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user ID is required", ErrInvalidParameters)
	}
	if h.vectors == nil {
		return &types.VectorStats{Categories: map[types.Category]int{}}, nil
	}
	return h.vectors.Stats(ctx, userID)
}

// sortResults orders by score descending, ties broken by recency descending
// then ID for full determinism.
func sortResults(results []types.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].MemoryID < results[j].MemoryID
	})
}

func fuseKey(content string) string {
	return strings.TrimSpace(content)
}
