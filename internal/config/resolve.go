package config

// ResolveRoles merges inherited role definitions into fully resolved
// values at load time. A role naming another role in Inherits receives
// every field it left unset from its base; roles without Inherits fall
// back to the "assistant" role when one exists. The loaded Config never
// contains unresolved fallback chains.
func ResolveRoles(cfg *Config) error {
	for i := range cfg.Roles {
		role := &cfg.Roles[i]

		baseName := role.Inherits
		if baseName == "" && role.Name != "assistant" {
			baseName = "assistant"
		}
		if baseName == "" {
			continue
		}
		if baseName == role.Name {
			return &ValidationError{Section: "role", Name: role.Name, Reason: "role cannot inherit from itself"}
		}

		base := cfg.Role(baseName)
		if base == nil {
			if role.Inherits == "" {
				// Implicit assistant fallback is optional.
				continue
			}
			return &ValidationError{Section: "role", Name: role.Name, Reason: "inherits unknown role " + baseName}
		}

		mergeRole(role, base)
		role.Inherits = ""
	}
	return nil
}

// mergeRole copies base values into any field the role left unset.
// Policy fields (server refs, allow-lists, layers) are inherited only
// when completely absent so a narrower child scope is never widened.
func mergeRole(role, base *RoleConfig) {
	if role.Model == "" {
		role.Model = base.Model
	}
	if role.Temperature == nil {
		role.Temperature = base.Temperature
	}
	if role.MaxTokens == 0 {
		role.MaxTokens = base.MaxTokens
	}
	if role.SystemPrompt == "" {
		role.SystemPrompt = base.SystemPrompt
	}
	if role.Welcome == "" {
		role.Welcome = base.Welcome
	}
	if role.CustomInstructions == "" {
		role.CustomInstructions = base.CustomInstructions
	}
	if role.Layers == nil {
		role.Layers = append([]string(nil), base.Layers...)
	}
	if role.ServerRefs == nil {
		role.ServerRefs = append([]string(nil), base.ServerRefs...)
	}
	if role.AllowedTools == nil {
		role.AllowedTools = append([]string(nil), base.AllowedTools...)
	}
}
