package configs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlab/searchlab/configs"
	"github.com/searchlab/searchlab/internal/config"
)

// The generated file advertises itself as defaults-only, so template
// drift against the loader is a bug.
func TestProjectConfigTemplate_MatchesDefaults(t *testing.T) {
	t.Setenv("SEARCHLAB_OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".searchlab.yaml"),
		[]byte(configs.ProjectConfigTemplate), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}
