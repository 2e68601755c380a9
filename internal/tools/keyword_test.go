package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlab/searchlab/internal/config"
	laberrors "github.com/searchlab/searchlab/internal/errors"
	"github.com/searchlab/searchlab/internal/logging"
)

func newKeywordTool(t *testing.T) *KeywordTool {
	t.Helper()
	k, err := NewKeyword(config.KeywordConfig{TopK: 10, CacheSize: 4, Timeout: config.Duration(30 * time.Second)}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(k.Close)
	return k
}

func keywordPayload(t *testing.T, res any) *KeywordResult {
	t.Helper()
	data, err := json.Marshal(res)
	require.NoError(t, err)
	var out KeywordResult
	require.NoError(t, json.Unmarshal(data, &out))
	return &out
}

func TestKeyword_RanksRelevantFile(t *testing.T) {
	root := writeTree(t, map[string]string{
		"auth.go":   "package auth\n// authentication token validation and refresh\nfunc ValidateToken() {}\n",
		"render.go": "package render\n// template rendering helpers\nfunc Render() {}\n",
		"db.go":     "package db\n// database connection pooling\nfunc Connect() {}\n",
	})
	k := newKeywordTool(t)

	res, err := k.Run(context.Background(), map[string]any{
		"query": "authentication token", "root": root,
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	out := keywordPayload(t, res.Payload)
	require.NotEmpty(t, out.Hits)
	assert.Equal(t, "auth.go", out.Hits[0].Path)
	assert.Greater(t, out.Hits[0].Score, 0.0)
}

func TestKeyword_TopKLimits(t *testing.T) {
	files := map[string]string{}
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
		files[name] = "shared term appears everywhere\n"
	}
	root := writeTree(t, files)
	k := newKeywordTool(t)

	res, err := k.Run(context.Background(), map[string]any{
		"query": "shared term", "root": root, "topk": 2,
	})
	require.NoError(t, err)

	out := keywordPayload(t, res.Payload)
	assert.Len(t, out.Hits, 2)
}

func TestKeyword_IndexCacheReused(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "cached content\n"})
	k := newKeywordTool(t)

	res, err := k.Run(context.Background(), map[string]any{"query": "cached", "root": root})
	require.NoError(t, err)
	assert.Equal(t, true, res.Meta["index_built"])

	res, err = k.Run(context.Background(), map[string]any{"query": "cached", "root": root})
	require.NoError(t, err)
	assert.Equal(t, false, res.Meta["index_built"])
}

func TestKeyword_RejectsEmptyQuery(t *testing.T) {
	k := newKeywordTool(t)
	_, err := k.Run(context.Background(), map[string]any{"root": t.TempDir()})
	require.Error(t, err)
	assert.True(t, laberrors.HasCode(err, laberrors.ErrCodeToolInput))
}
