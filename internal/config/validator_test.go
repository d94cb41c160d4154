package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	return cfg
}

func TestValidate_DuplicateServerName(t *testing.T) {
	cfg := validConfig()
	cfg.Servers = append(cfg.Servers, ServerConfig{Name: "filesystem", Kind: ServerKindBuiltin})

	err := Validate(cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "server", verr.Section)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidate_StdioRequiresCommand(t *testing.T) {
	cfg := validConfig()
	cfg.Servers = append(cfg.Servers, ServerConfig{Name: "broken", Kind: ServerKindStdio})

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command")
}

func TestValidate_HTTPRequiresURL(t *testing.T) {
	cfg := validConfig()
	cfg.Servers = append(cfg.Servers, ServerConfig{Name: "remote", Kind: ServerKindHTTP})

	require.Error(t, Validate(cfg))

	cfg.Servers[len(cfg.Servers)-1].URL = "://bad"
	require.Error(t, Validate(cfg))

	cfg.Servers[len(cfg.Servers)-1].URL = "https://tools.example.com/rpc"
	require.NoError(t, Validate(cfg))
}

func TestValidate_UnknownServerKind(t *testing.T) {
	cfg := validConfig()
	cfg.Servers = append(cfg.Servers, ServerConfig{Name: "weird", Kind: "carrier-pigeon"})

	require.Error(t, Validate(cfg))
}

func TestValidate_LayerModes(t *testing.T) {
	cfg := validConfig()
	cfg.Layers = []LayerConfig{{Name: "refine", InputMode: "sideways"}}

	require.Error(t, Validate(cfg))

	cfg.Layers = []LayerConfig{{Name: "refine", OutputMode: "explode"}}
	require.Error(t, Validate(cfg))

	// Empty modes default to last_message/discard.
	cfg.Layers = []LayerConfig{{Name: "refine"}}
	require.NoError(t, Validate(cfg))
	assert.Equal(t, InputLastMessage, cfg.Layers[0].InputMode)
	assert.Equal(t, OutputDiscard, cfg.Layers[0].OutputMode)
}

func TestValidate_RoleReferences(t *testing.T) {
	cfg := validConfig()
	cfg.Roles[0].ServerRefs = []string{"no-such-server"}
	require.Error(t, Validate(cfg))

	cfg = validConfig()
	cfg.Roles[0].Layers = []string{"no-such-layer"}
	require.Error(t, Validate(cfg))
}

func TestValidate_CommandReferences(t *testing.T) {
	cfg := validConfig()
	cfg.Layers = []LayerConfig{{Name: "summarize"}}
	cfg.Commands = []CommandConfig{{Name: "recap", Layers: []string{"summarize"}, Ephemeral: true}}
	require.NoError(t, Validate(cfg))

	cfg.Commands[0].Layers = []string{"missing"}
	require.Error(t, Validate(cfg))
}

func TestValidate_Thresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Thresholds.MaxRequestTokens = -1
	require.Error(t, Validate(cfg))

	cfg = validConfig()
	cfg.Thresholds.ResponseWarnTokens = 30000
	cfg.Thresholds.ResponseHardTokens = 20000
	require.Error(t, Validate(cfg))

	// Zero thresholds are "disabled", always valid.
	cfg = validConfig()
	cfg.Thresholds = Thresholds{}
	require.NoError(t, Validate(cfg))
}

func TestValidate_RequiresARole(t *testing.T) {
	cfg := validConfig()
	cfg.Roles = nil
	require.Error(t, Validate(cfg))
}

func TestValidate_BadGlobPattern(t *testing.T) {
	cfg := validConfig()
	cfg.Roles[0].AllowedTools = []string{"[unclosed"}
	require.Error(t, Validate(cfg))
}
