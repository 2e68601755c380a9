package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/searchlab/searchlab/internal/config"
	laberrors "github.com/searchlab/searchlab/internal/errors"
	"github.com/searchlab/searchlab/internal/tool"
)

// KeywordParams are the ranked keyword search inputs.
type KeywordParams struct {
	Query string `json:"query" jsonschema:"keyword query ranked by BM25 relevance"`
	Root  string `json:"root" jsonschema:"directory whose files are indexed and searched"`
	TopK  int    `json:"topk,omitempty" jsonschema:"maximum number of ranked hits to return"`
}

// KeywordHit is one ranked document.
type KeywordHit struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// KeywordResult is the keyword search payload.
type KeywordResult struct {
	Hits []KeywordHit `json:"hits"`
}

// indexedDoc is what goes into the bleve index: one document per file.
type indexedDoc struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// KeywordTool ranks files against a query with BM25 over an in-memory
// bleve index. Indexes are built per root on first use and kept in an LRU
// cache; a pipeline re-querying the same tree pays the build cost once.
type KeywordTool struct {
	desc   tool.Descriptor
	cfg    config.KeywordConfig
	logger *slog.Logger

	mu    sync.Mutex
	cache *lru.Cache[string, bleve.Index]
}

var _ tool.Tool = (*KeywordTool)(nil)

// NewKeyword creates the keyword tool.
func NewKeyword(cfg config.KeywordConfig, logger *slog.Logger) (*KeywordTool, error) {
	desc, err := tool.NewDescriptor[KeywordParams, KeywordResult]("keyword",
		"Rank files against a keyword query using BM25 relevance over an in-memory index.")
	if err != nil {
		return nil, err
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 8
	}
	cache, err := lru.NewWithEvict[string, bleve.Index](size, func(_ string, idx bleve.Index) {
		_ = idx.Close()
	})
	if err != nil {
		return nil, err
	}
	return &KeywordTool{desc: desc, cfg: cfg, logger: logger, cache: cache}, nil
}

// Descriptor implements tool.Tool.
func (k *KeywordTool) Descriptor() tool.Descriptor { return k.desc }

// Run implements tool.Tool.
func (k *KeywordTool) Run(ctx context.Context, input map[string]any) (*tool.Result, error) {
	var p KeywordParams
	if err := tool.DecodeInput(input, &p); err != nil {
		return nil, err
	}
	if p.Query == "" {
		return nil, laberrors.New(laberrors.ErrCodeToolInput, "query must not be empty", nil)
	}
	if p.Root == "" {
		p.Root = "."
	}
	if p.TopK <= 0 {
		p.TopK = k.cfg.TopK
	}

	timeout := k.cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	idx, built, err := k.indexFor(ctx, p.Root)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, laberrors.ToolTimeout("keyword", context.DeadlineExceeded)
		}
		return nil, err
	}

	matchQuery := bleve.NewMatchQuery(p.Query)
	matchQuery.SetField("content")
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = p.TopK

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, laberrors.ToolTimeout("keyword", context.DeadlineExceeded)
		}
		return nil, laberrors.ToolExecution("keyword", fmt.Errorf("search failed: %w", err))
	}

	res := &KeywordResult{Hits: make([]KeywordHit, 0, len(result.Hits))}
	for _, hit := range result.Hits {
		res.Hits = append(res.Hits, KeywordHit{Path: hit.ID, Score: hit.Score})
	}

	summary := map[string]any{
		"hits":  len(res.Hits),
		"top_k": p.TopK,
	}
	if len(res.Hits) > 0 {
		summary["first_path"] = res.Hits[0].Path
	}

	return &tool.Result{
		OK:      true,
		Summary: summary,
		Payload: res,
		Meta:    map[string]any{"index_built": built},
	}, nil
}

// indexFor returns the cached index for a root, building it if missing.
// Building is serialized so concurrent stages never index the same tree
// twice.
func (k *KeywordTool) indexFor(ctx context.Context, root string) (bleve.Index, bool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if idx, ok := k.cache.Get(abs); ok {
		return idx, false, nil
	}

	start := time.Now()
	idx, err := k.buildIndex(ctx, root)
	if err != nil {
		return nil, false, err
	}
	k.cache.Add(abs, idx)

	docs, _ := idx.DocCount()
	k.logger.Debug("keyword index built",
		slog.String("root", abs),
		slog.Uint64("docs", docs),
		slog.Duration("elapsed", time.Since(start)))
	return idx, true, nil
}

func (k *KeywordTool) buildIndex(ctx context.Context, root string) (bleve.Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, laberrors.ToolExecution("keyword", fmt.Errorf("cannot create index: %w", err))
	}

	batch := idx.NewBatch()
	werr := walkTree(ctx, root, walkOptions{maxFileSizeKB: 1024}, func(rel string, d fs.DirEntry) error {
		content, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil || looksBinary(content) {
			return nil
		}
		return batch.Index(rel, indexedDoc{Path: rel, Content: string(content)})
	})
	if werr != nil {
		_ = idx.Close()
		return nil, werr
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, laberrors.ToolExecution("keyword", fmt.Errorf("cannot index documents: %w", err))
	}
	return idx, nil
}

// Close releases all cached indexes.
func (k *KeywordTool) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cache.Purge()
}
