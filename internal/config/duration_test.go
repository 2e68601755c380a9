package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_YAML(t *testing.T) {
	var out struct {
		Timeout Duration `yaml:"timeout"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("timeout: 90s\n"), &out))
	assert.Equal(t, 90*time.Second, out.Timeout.Std())

	require.NoError(t, yaml.Unmarshal([]byte("timeout: 2m30s\n"), &out))
	assert.Equal(t, 150*time.Second, out.Timeout.Std())

	err := yaml.Unmarshal([]byte("timeout: soon\n"), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")

	data, err := yaml.Marshal(Duration(30 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "30s\n", string(data))
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"45s"`), &d))
	assert.Equal(t, 45*time.Second, d.Std())

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"45s"`, string(data))
}
