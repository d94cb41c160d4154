package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, ResolveRoles(cfg))
	require.NoError(t, Validate(cfg))

	assert.NotNil(t, cfg.Server("filesystem"))
	assert.NotNil(t, cfg.Server("developer"))
	assert.NotNil(t, cfg.Server("web"))
	assert.NotNil(t, cfg.Role("assistant"))
}

func TestConfig_Lookups(t *testing.T) {
	cfg := DefaultConfig()

	assert.Nil(t, cfg.Server("nope"))
	assert.Nil(t, cfg.Role("nope"))
	assert.Nil(t, cfg.Layer("nope"))
	assert.Nil(t, cfg.Command("nope"))
}

func TestServersForRefs_PreservesOrder(t *testing.T) {
	cfg := DefaultConfig()

	servers := cfg.ServersForRefs([]string{"developer", "filesystem"})
	require.Len(t, servers, 2)
	assert.Equal(t, "developer", servers[0].Name)
	assert.Equal(t, "filesystem", servers[1].Name)
}

func TestResolveRoles_InheritsFromAssistant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roles = append(cfg.Roles, RoleConfig{
		Name:         "reviewer",
		Model:        "openai:gpt-4o",
		SystemPrompt: "Review code for correctness.",
	})

	require.NoError(t, ResolveRoles(cfg))

	reviewer := cfg.Role("reviewer")
	require.NotNil(t, reviewer)
	// Own fields kept
	assert.Equal(t, "openai:gpt-4o", reviewer.Model)
	assert.Equal(t, "Review code for correctness.", reviewer.SystemPrompt)
	// Unset fields merged from assistant
	assert.Equal(t, cfg.Role("assistant").ServerRefs, reviewer.ServerRefs)
	assert.Empty(t, reviewer.Inherits)
}

func TestResolveRoles_ExplicitBase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roles = append(cfg.Roles,
		RoleConfig{Name: "base", Model: "anthropic:claude-sonnet-4-20250514", SystemPrompt: "base prompt", MaxTokens: 2048},
		RoleConfig{Name: "child", Inherits: "base", Model: "openai:gpt-4o-mini"},
	)

	require.NoError(t, ResolveRoles(cfg))

	child := cfg.Role("child")
	assert.Equal(t, "openai:gpt-4o-mini", child.Model)
	assert.Equal(t, "base prompt", child.SystemPrompt)
	assert.Equal(t, 2048, child.MaxTokens)
}

func TestResolveRoles_UnknownBase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roles = append(cfg.Roles, RoleConfig{Name: "child", Inherits: "ghost", Model: "openai:gpt-4o"})

	err := ResolveRoles(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestResolveRoles_SelfInheritance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roles = append(cfg.Roles, RoleConfig{Name: "loop", Inherits: "loop", Model: "openai:gpt-4o"})

	require.Error(t, ResolveRoles(cfg))
}

func TestResolveRoles_NarrowScopeNotWidened(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roles = append(cfg.Roles, RoleConfig{
		Name:         "restricted",
		Model:        "openai:gpt-4o",
		ServerRefs:   []string{"filesystem"},
		AllowedTools: []string{"file_*"},
	})

	require.NoError(t, ResolveRoles(cfg))

	restricted := cfg.Role("restricted")
	assert.Equal(t, []string{"filesystem"}, restricted.ServerRefs)
	assert.Equal(t, []string{"file_*"}, restricted.AllowedTools)
}
