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

	"github.com/coder/hnsw"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/searchlab/searchlab/internal/config"
	laberrors "github.com/searchlab/searchlab/internal/errors"
	"github.com/searchlab/searchlab/internal/tool"
)

// maxEmbedChars truncates file content sent to the embedding API. Long
// files carry most of their signal up front for retrieval purposes.
const maxEmbedChars = 8000

// Embedder is the embedding surface the semantic tool needs. langchaingo's
// embeddings.Embedder satisfies it.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SemanticParams are the embedding search inputs.
type SemanticParams struct {
	Query string `json:"query" jsonschema:"natural language query matched by embedding similarity"`
	Root  string `json:"root" jsonschema:"directory whose files are embedded and searched"`
	TopK  int    `json:"topk,omitempty" jsonschema:"maximum number of nearest files to return"`
}

// SemanticHit is one nearest neighbor.
type SemanticHit struct {
	Path string `json:"path"`
	// Similarity is cosine similarity in [0, 1], higher is closer.
	Similarity float64 `json:"similarity"`
}

// SemanticResult is the embedding search payload.
type SemanticResult struct {
	Hits []SemanticHit `json:"hits"`
}

// semanticCorpus is one embedded tree: an HNSW graph over file vectors
// plus the key-to-path mapping.
type semanticCorpus struct {
	graph *hnsw.Graph[uint64]
	paths map[uint64]string
}

// SemanticTool searches by embedding similarity: files under a root are
// embedded through an OpenAI-compatible API and indexed in an in-memory
// HNSW graph. The domain registers only when an API key is configured.
type SemanticTool struct {
	desc     tool.Descriptor
	cfg      config.SemanticConfig
	embedder Embedder
	logger   *slog.Logger

	mu    sync.Mutex
	cache *lru.Cache[string, *semanticCorpus]
}

var _ tool.Tool = (*SemanticTool)(nil)

// NewSemantic creates the semantic tool. The embedding client is built
// lazily on first use so construction never performs network calls.
func NewSemantic(cfg config.SemanticConfig, logger *slog.Logger) (*SemanticTool, error) {
	return newSemantic(cfg, nil, logger)
}

// NewSemanticWithEmbedder injects a pre-built embedder.
func NewSemanticWithEmbedder(cfg config.SemanticConfig, embedder Embedder, logger *slog.Logger) (*SemanticTool, error) {
	return newSemantic(cfg, embedder, logger)
}

func newSemantic(cfg config.SemanticConfig, embedder Embedder, logger *slog.Logger) (*SemanticTool, error) {
	desc, err := tool.NewDescriptor[SemanticParams, SemanticResult]("semantic",
		"Search files by embedding similarity against a natural language query.")
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *semanticCorpus](4)
	if err != nil {
		return nil, err
	}
	return &SemanticTool{desc: desc, cfg: cfg, embedder: embedder, logger: logger, cache: cache}, nil
}

// CheckAvailability reports whether the embedding API is reachable in
// principle. A missing key makes the domain unavailable, not the startup
// failed.
func (s *SemanticTool) CheckAvailability() error {
	if s.embedder != nil {
		return nil
	}
	if s.cfg.APIKey == "" {
		return fmt.Errorf("no embedding API key configured (set SEARCHLAB_OPENAI_API_KEY)")
	}
	return nil
}

// Descriptor implements tool.Tool.
func (s *SemanticTool) Descriptor() tool.Descriptor { return s.desc }

// Run implements tool.Tool.
func (s *SemanticTool) Run(ctx context.Context, input map[string]any) (*tool.Result, error) {
	var p SemanticParams
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
		p.TopK = s.cfg.TopK
	}

	embedder, err := s.getEmbedder()
	if err != nil {
		return nil, err
	}

	timeout := s.cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	corpus, built, err := s.corpusFor(ctx, embedder, p.Root)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, laberrors.ToolTimeout("semantic", context.DeadlineExceeded)
		}
		return nil, err
	}

	queryVec, err := embedder.EmbedQuery(ctx, p.Query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, laberrors.ToolTimeout("semantic", context.DeadlineExceeded)
		}
		return nil, laberrors.ToolExecution("semantic", fmt.Errorf("query embedding failed: %w", err))
	}

	res := &SemanticResult{}
	if corpus.graph.Len() > 0 {
		for _, node := range corpus.graph.Search(queryVec, p.TopK) {
			path, ok := corpus.paths[node.Key]
			if !ok {
				continue
			}
			dist := corpus.graph.Distance(queryVec, node.Value)
			res.Hits = append(res.Hits, SemanticHit{
				Path:       path,
				Similarity: 1 - float64(dist),
			})
		}
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
		Meta:    map[string]any{"model": s.cfg.Model, "index_built": built},
	}, nil
}

// getEmbedder builds the langchaingo client on first use.
func (s *SemanticTool) getEmbedder() (Embedder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.embedder != nil {
		return s.embedder, nil
	}

	opts := []openai.Option{
		openai.WithToken(s.cfg.APIKey),
		openai.WithEmbeddingModel(s.cfg.Model),
	}
	if s.cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(s.cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, laberrors.ToolExecution("semantic", fmt.Errorf("cannot create embedding client: %w", err))
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, laberrors.ToolExecution("semantic", fmt.Errorf("cannot create embedder: %w", err))
	}
	s.embedder = embedder
	return embedder, nil
}

// corpusFor returns the cached embedded corpus for a root, building it if
// missing.
func (s *SemanticTool) corpusFor(ctx context.Context, embedder Embedder, root string) (*semanticCorpus, bool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cache.Get(abs); ok {
		return c, false, nil
	}

	start := time.Now()
	c, err := s.buildCorpus(ctx, embedder, root)
	if err != nil {
		return nil, false, err
	}
	s.cache.Add(abs, c)

	s.logger.Debug("semantic corpus built",
		slog.String("root", abs),
		slog.Int("docs", c.graph.Len()),
		slog.Duration("elapsed", time.Since(start)))
	return c, true, nil
}

func (s *SemanticTool) buildCorpus(ctx context.Context, embedder Embedder, root string) (*semanticCorpus, error) {
	var (
		paths []string
		texts []string
	)
	werr := walkTree(ctx, root, walkOptions{maxFileSizeKB: 512}, func(rel string, d fs.DirEntry) error {
		content, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil || looksBinary(content) {
			return nil
		}
		text := string(content)
		if len(text) > maxEmbedChars {
			text = text[:maxEmbedChars]
		}
		paths = append(paths, rel)
		texts = append(texts, text)
		return nil
	})
	if werr != nil {
		return nil, werr
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	corpus := &semanticCorpus{graph: graph, paths: make(map[uint64]string, len(paths))}

	if len(texts) == 0 {
		return corpus, nil
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, context.DeadlineExceeded
		}
		return nil, laberrors.ToolExecution("semantic", fmt.Errorf("document embedding failed: %w", err))
	}
	if len(vectors) != len(paths) {
		return nil, laberrors.ToolExecution("semantic",
			fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(paths)))
	}

	for i, vec := range vectors {
		key := uint64(i)
		corpus.graph.Add(hnsw.MakeNode(key, vec))
		corpus.paths[key] = paths[i]
	}
	return corpus, nil
}
