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
)

func newFindTool(t *testing.T) *FindTool {
	t.Helper()
	f, err := NewFind(config.FindConfig{Timeout: config.Duration(10 * time.Second)})
	require.NoError(t, err)
	return f
}

func findPayload(t *testing.T, res any) *FindResult {
	t.Helper()
	data, err := json.Marshal(res)
	require.NoError(t, err)
	var out FindResult
	require.NoError(t, json.Unmarshal(data, &out))
	return &out
}

func TestFind_GlobMatchesFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.py":      "",
		"lib/util.py":  "",
		"lib/util.go":  "",
		"docs/note.md": "",
	})
	f := newFindTool(t)

	res, err := f.Run(context.Background(), map[string]any{
		"root": root, "glob": "*.py",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	out := findPayload(t, res.Payload)
	assert.ElementsMatch(t, []string{"main.py", "lib/util.py"}, out.Paths)

	// The first discovered path is seedable by a later pipeline stage.
	assert.Equal(t, out.Paths[0], res.Summary["first_path"])
}

func TestFind_KindDir(t *testing.T) {
	root := writeTree(t, map[string]string{
		"lib/util.py":  "",
		"docs/note.md": "",
	})
	f := newFindTool(t)

	res, err := f.Run(context.Background(), map[string]any{
		"root": root, "kind": "dir",
	})
	require.NoError(t, err)

	out := findPayload(t, res.Payload)
	assert.ElementsMatch(t, []string{"lib", "docs"}, out.Paths)
}

func TestFind_MaxResultsTruncates(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt": "", "b.txt": "", "c.txt": "", "d.txt": "",
	})
	f := newFindTool(t)

	res, err := f.Run(context.Background(), map[string]any{
		"root": root, "max_results": 2,
	})
	require.NoError(t, err)

	out := findPayload(t, res.Payload)
	assert.Len(t, out.Paths, 2)
	assert.True(t, out.Truncated)
}

func TestFind_RejectsBadKind(t *testing.T) {
	f := newFindTool(t)
	_, err := f.Run(context.Background(), map[string]any{
		"root": t.TempDir(), "kind": "symlink",
	})
	require.Error(t, err)
	assert.True(t, laberrors.HasCode(err, laberrors.ErrCodeToolInput))
}
