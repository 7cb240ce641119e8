// Command mnema-search queries and manages the memory store from the
// command line. The default mode runs a single hybrid search; flags switch
// to add, stats, delete, or an interactive shell that reloads configuration
// on change.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mnema-ai/mnema/internal/config"
	"github.com/mnema-ai/mnema/internal/embedding"
	"github.com/mnema-ai/mnema/internal/engine"
	"github.com/mnema-ai/mnema/internal/keyword"
	"github.com/mnema-ai/mnema/internal/storage"
	"github.com/mnema-ai/mnema/internal/storage/postgres"
	"github.com/mnema-ai/mnema/internal/storage/sqlite"
	"github.com/mnema-ai/mnema/pkg/types"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (optional, uses env vars by default)")
	userID     = flag.String("user", "", "User ID to query or modify (required)")
	query      = flag.String("query", "", "Search query")
	mode       = flag.String("mode", "hybrid", "Search mode: keyword, vector, or hybrid")
	limit      = flag.Int("limit", 0, "Maximum results (0 uses the configured default)")
	threshold  = flag.Float64("threshold", -1, "Minimum relevance score (-1 uses the configured default)")
	kwWeight   = flag.Float64("kw-weight", 0, "Keyword path weight (0 uses the configured default)")
	vecWeight  = flag.Float64("vec-weight", 0, "Vector path weight (0 uses the configured default)")
	jsonOut    = flag.Bool("json", false, "Print results as JSON")

	addContent = flag.String("add", "", "Add a memory with this content and exit")
	category   = flag.String("category", "other", "Category for -add")
	importance = flag.Int("importance", types.DefaultImportance, "Importance 1-10 for -add")
	tags       = flag.String("tags", "", "Comma-separated tags for -add")
	noEmbed    = flag.Bool("no-embed", false, "Skip storing an embedding for -add")

	statsCmd    = flag.Bool("stats", false, "Print memory and vector statistics and exit")
	deleteID    = flag.Int64("delete", 0, "Delete the memory with this ID and exit")
	purgeUser   = flag.Bool("purge-vectors", false, "Delete all of the user's vector records and exit")
	shellMode   = flag.Bool("shell", false, "Interactive search shell with live config reload")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *userID == "" && *deleteID == 0 {
		log.Fatal("-user is required")
	}

	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	ctx := context.Background()

	switch {
	case *addContent != "":
		handleAdd(ctx, a, *addContent)
	case *statsCmd:
		handleStats(ctx, a)
	case *deleteID != 0:
		handleDelete(ctx, a, *deleteID)
	case *purgeUser:
		handlePurgeVectors(ctx, a)
	case *shellMode:
		runShell(ctx, a)
	default:
		handleSearch(ctx, a, *query)
	}
}

// app bundles the wired components. searcher and cfg are swapped atomically
// when the shell reloads configuration; the watcher callback runs on its own
// goroutine, concurrent with the shell loop.
type app struct {
	memories storage.MemoryStore
	vectors  storage.VectorStore
	embedder embedding.Service
	searcher atomic.Pointer[engine.HybridSearcher]
	cfg      atomic.Pointer[config.Config]
}

func newApp(cfg *config.Config) (*app, error) {
	memories, err := sqlite.NewMemoryStore(filepath.Join(cfg.Storage.DataPath, "mnema.db"))
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	var vectors storage.VectorStore
	switch cfg.Storage.Engine {
	case "postgres":
		vectors, err = postgres.NewVectorStore(cfg.Storage.PostgresDSN)
	default:
		vectors, err = sqlite.NewVectorStore(filepath.Join(cfg.Storage.DataPath, "mnema_vectors.db"))
	}
	if err != nil {
		memories.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	embedder := embedding.NewClient(embedding.ClientConfig{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout.Std(),
	})

	a := &app{memories: memories, vectors: vectors, embedder: embedder}
	a.cfg.Store(cfg)
	a.searcher.Store(buildSearcher(memories, vectors, embedder, cfg))
	return a, nil
}

func buildSearcher(memories storage.MemoryStore, vectors storage.VectorStore, embedder embedding.Service, cfg *config.Config) *engine.HybridSearcher {
	var extractor keyword.ContextExtractor
	local := keyword.NewHeuristicExtractor()
	if cfg.RemoteKeyword.BaseURL != "" {
		remote := keyword.NewRemoteClient(keyword.RemoteConfig{
			BaseURL: cfg.RemoteKeyword.BaseURL,
			Timeout: cfg.RemoteKeyword.Timeout.Std(),
		})
		extractor = keyword.NewFallbackExtractor(remote, local)
	} else {
		extractor = keyword.NewFallbackExtractor(nil, local)
	}

	searcher := engine.NewHybridSearcher(memories, vectors, extractor, embedder, cfg.Search)
	if cache, err := engine.NewQueryCache(engine.DefaultCacheSize, engine.DefaultCacheTTL); err == nil {
		searcher.SetCache(cache)
	}
	return searcher
}

func (a *app) Close() {
	if err := a.vectors.Close(); err != nil {
		log.Printf("Warning: closing vector store: %v", err)
	}
	if err := a.memories.Close(); err != nil {
		log.Printf("Warning: closing memory store: %v", err)
	}
}

func (a *app) request(q string) engine.Request {
	req := engine.Request{
		UserID:        *userID,
		Query:         q,
		Mode:          types.SearchMode(*mode),
		KeywordWeight: *kwWeight,
		VectorWeight:  *vecWeight,
		Threshold:     a.cfg.Load().Search.Threshold,
		Limit:         *limit,
	}
	if *threshold >= 0 {
		req.Threshold = *threshold
	}
	return req
}

func handleSearch(ctx context.Context, a *app, q string) {
	results, diag, err := a.searcher.Load().SearchWithDiagnostics(ctx, a.request(q))
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	printResults(results, diag)
}

func printResults(results []types.SearchResult, diag *engine.Diagnostics) {
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			log.Fatalf("Encoding results: %v", err)
		}
		return
	}

	if len(results) == 0 {
		fmt.Println("No matching memories")
		return
	}
	for i, r := range results {
		fmt.Printf("%d. [%.3f %s] %s\n", i+1, r.RelevanceScore, r.SearchType, r.Content)
		fmt.Printf("   category=%s importance=%d created=%s\n",
			r.Category, r.Importance, r.CreatedAt.Format(time.RFC3339))
	}
	if diag != nil {
		fmt.Printf("\n%d result(s) in %v (keyword=%d vector=%d",
			len(results), diag.TotalTime.Round(time.Millisecond), diag.KeywordCount, diag.VectorCount)
		if diag.VectorSkipped {
			fmt.Print(", vector path skipped")
		}
		if diag.Supplemented > 0 {
			fmt.Printf(", %d supplemented", diag.Supplemented)
		}
		fmt.Println(")")
	}
}

func handleAdd(ctx context.Context, a *app, content string) {
	record := &types.MemoryRecord{
		UserID:     *userID,
		Content:    content,
		Category:   types.Category(*category),
		Importance: *importance,
		Source:     types.SourceManual,
	}
	if *tags != "" {
		for _, t := range strings.Split(*tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				record.Tags = append(record.Tags, t)
			}
		}
	}

	id, err := a.memories.Insert(ctx, record)
	if err != nil {
		log.Fatalf("Insert failed: %v", err)
	}
	fmt.Printf("Stored memory %d\n", id)

	if *noEmbed {
		return
	}
	vector, err := a.embedder.Embed(ctx, content)
	if err != nil {
		log.Printf("Warning: embedding unavailable, stored without vector: %v", err)
		return
	}
	vecID, err := a.vectors.Store(ctx, *userID, content, vector, record.Category, map[string]any{
		"memory_id": id,
		"source":    string(record.Source),
	})
	if err != nil {
		log.Printf("Warning: vector store failed: %v", err)
		return
	}
	fmt.Printf("Stored vector %d (%d dims)\n", vecID, len(vector))
}

func handleStats(ctx context.Context, a *app) {
	searcher := a.searcher.Load()
	mem, err := searcher.MemoryStats(ctx, *userID)
	if err != nil {
		log.Fatalf("Memory stats failed: %v", err)
	}
	vec, err := searcher.VectorStats(ctx, *userID)
	if err != nil {
		log.Fatalf("Vector stats failed: %v", err)
	}

	fmt.Printf("Memories: %d\n", mem.Total)
	for cat, n := range mem.ByCategory {
		fmt.Printf("  %s: %d\n", cat, n)
	}
	fmt.Printf("Vectors: %d (%d vectorized, %d dimension mismatches)\n",
		vec.Total, vec.Vectorized, vec.DimensionMismatches)
	if vec.Vectorized > 0 {
		fmt.Printf("  avg dimension: %.0f\n", vec.AvgDimension)
	}
}

func handleDelete(ctx context.Context, a *app, id int64) {
	if err := a.memories.Delete(ctx, id); err != nil {
		log.Fatalf("Delete failed: %v", err)
	}
	fmt.Printf("Deleted memory %d\n", id)
}

// handlePurgeVectors drops the user's vector records, e.g. before a
// re-embedding pass after an embedding model change.
func handlePurgeVectors(ctx context.Context, a *app) {
	deleted, err := a.vectors.DeleteByUser(ctx, *userID)
	if err != nil {
		log.Fatalf("Purge failed: %v", err)
	}
	fmt.Printf("Deleted %d vector record(s) for %s\n", deleted, *userID)
}

// runShell reads queries from stdin until EOF. When a config file was given
// it is watched for changes and the searcher is rebuilt on reload, so tuning
// weights or thresholds takes effect without restarting.
func runShell(ctx context.Context, a *app) {
	if *configPath != "" {
		watcher := config.NewWatcher(*configPath, func(cfg *config.Config) {
			a.cfg.Store(cfg)
			a.searcher.Store(buildSearcher(a.memories, a.vectors, a.embedder, cfg))
			log.Printf("Config reloaded: kw=%.2f vec=%.2f threshold=%.2f",
				cfg.Search.KeywordWeight, cfg.Search.VectorWeight, cfg.Search.Threshold)
		})
		if err := watcher.Start(); err != nil {
			log.Printf("Warning: config watch disabled: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	fmt.Println("mnema interactive search (Ctrl+D to exit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		results, diag, err := a.searcher.Load().SearchWithDiagnostics(ctx, a.request(line))
		if err != nil {
			log.Printf("Search failed: %v", err)
			continue
		}
		printResults(results, diag)
	}
	fmt.Println()
}
