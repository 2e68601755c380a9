package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlab/searchlab/internal/config"
	"github.com/searchlab/searchlab/internal/logging"
)

// stubEmbedder maps texts onto a tiny topic space so similarity is
// deterministic: fruit-related text lands on one axis, everything else on
// the other.
type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) embed(text string) []float32 {
	if strings.Contains(strings.ToLower(text), "banana") {
		return []float32{1, 0, 0}
	}
	if strings.Contains(strings.ToLower(text), "engine") {
		return []float32{0, 1, 0}
	}
	return []float32{0, 0, 1}
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.embed(t)
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return s.embed(text), nil
}

func newSemanticTool(t *testing.T, embedder Embedder) *SemanticTool {
	t.Helper()
	s, err := NewSemanticWithEmbedder(config.SemanticConfig{
		Model: "test-model", TopK: 5, Timeout: config.Duration(30 * time.Second),
	}, embedder, logging.Discard())
	require.NoError(t, err)
	return s
}

func semanticPayload(t *testing.T, res any) *SemanticResult {
	t.Helper()
	data, err := json.Marshal(res)
	require.NoError(t, err)
	var out SemanticResult
	require.NoError(t, json.Unmarshal(data, &out))
	return &out
}

func TestSemantic_FindsNearestFile(t *testing.T) {
	root := writeTree(t, map[string]string{
		"fruit.txt":  "the banana is ripe\n",
		"engine.txt": "the engine is loud\n",
		"other.txt":  "nothing notable\n",
	})
	s := newSemanticTool(t, &stubEmbedder{})

	res, err := s.Run(context.Background(), map[string]any{
		"query": "banana", "root": root, "topk": 1,
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	out := semanticPayload(t, res.Payload)
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "fruit.txt", out.Hits[0].Path)
	assert.InDelta(t, 1.0, out.Hits[0].Similarity, 0.01)
}

func TestSemantic_CorpusCacheReused(t *testing.T) {
	root := writeTree(t, map[string]string{"fruit.txt": "banana\n"})
	stub := &stubEmbedder{}
	s := newSemanticTool(t, stub)

	_, err := s.Run(context.Background(), map[string]any{"query": "banana", "root": root})
	require.NoError(t, err)
	_, err = s.Run(context.Background(), map[string]any{"query": "banana", "root": root})
	require.NoError(t, err)

	assert.Equal(t, 1, stub.calls, "documents are embedded once per root")
}

func TestSemantic_EmptyTree(t *testing.T) {
	s := newSemanticTool(t, &stubEmbedder{})

	res, err := s.Run(context.Background(), map[string]any{
		"query": "banana", "root": t.TempDir(),
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 0, res.Summary["hits"])
}

func TestSemantic_AvailabilityNeedsKey(t *testing.T) {
	s, err := NewSemantic(config.SemanticConfig{}, logging.Discard())
	require.NoError(t, err)
	assert.Error(t, s.CheckAvailability())

	withKey, err := NewSemantic(config.SemanticConfig{APIKey: "sk-test"}, logging.Discard())
	require.NoError(t, err)
	assert.NoError(t, withKey.CheckAvailability())
}
