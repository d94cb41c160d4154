package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "does-not-exist.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg.Role("assistant"))
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoader_ReadsFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "strata.json")
	content := `{
		"data_dir": "` + tmpDir + `",
		"layers": [
			{"name": "refine", "system_prompt": "Refine: %{input}", "output_mode": "discard"}
		],
		"roles": [
			{"name": "assistant", "model": "anthropic:claude-sonnet-4-20250514", "system_prompt": "hi", "enable_layers": true, "layers": ["refine"]}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, tmpDir, cfg.DataDir)
	require.NotNil(t, cfg.Layer("refine"))
	role := cfg.Role("assistant")
	require.NotNil(t, role)
	assert.True(t, role.EnableLayers)
	assert.Equal(t, []string{"refine"}, role.Layers)
}

func TestLoader_InvalidConfigRejectedWhole(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "strata.json")
	// Duplicate server names must fail the entire load.
	content := `{
		"servers": [
			{"name": "dup", "kind": "builtin"},
			{"name": "dup", "kind": "builtin"}
		],
		"roles": [{"name": "assistant", "model": "openai:gpt-4o"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoader_MalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "strata.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewLoader(path).Load()
	require.Error(t, err)
}

func TestLoader_EnvAPIKeyFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-env-key")

	loader := NewLoader(filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test-env-key", cfg.Providers.Anthropic.APIKey)
}
