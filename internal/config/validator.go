package config

import (
	"net/url"
	"path/filepath"
)

// Validate checks the complete configuration. It returns the first
// *ValidationError found; a config that fails validation is rejected
// whole.
func Validate(cfg *Config) error {
	serverNames := make(map[string]bool)
	for i := range cfg.Servers {
		s := &cfg.Servers[i]
		if err := validateServer(s); err != nil {
			return err
		}
		if serverNames[s.Name] {
			return &ValidationError{Section: "server", Name: s.Name, Reason: "duplicate server name"}
		}
		serverNames[s.Name] = true
	}

	layerNames := make(map[string]bool)
	for i := range cfg.Layers {
		l := &cfg.Layers[i]
		if err := validateLayer(l, serverNames); err != nil {
			return err
		}
		if layerNames[l.Name] {
			return &ValidationError{Section: "layer", Name: l.Name, Reason: "duplicate layer name"}
		}
		layerNames[l.Name] = true
	}

	roleNames := make(map[string]bool)
	for i := range cfg.Roles {
		r := &cfg.Roles[i]
		if err := validateRole(r, serverNames, layerNames); err != nil {
			return err
		}
		if roleNames[r.Name] {
			return &ValidationError{Section: "role", Name: r.Name, Reason: "duplicate role name"}
		}
		roleNames[r.Name] = true
	}
	if len(cfg.Roles) == 0 {
		return &ValidationError{Section: "roles", Reason: "at least one role is required"}
	}

	for i := range cfg.Commands {
		cmd := &cfg.Commands[i]
		if cmd.Name == "" {
			return &ValidationError{Section: "command", Reason: "command name cannot be empty"}
		}
		if len(cmd.Layers) == 0 {
			return &ValidationError{Section: "command", Name: cmd.Name, Reason: "command needs at least one layer"}
		}
		for _, ref := range cmd.Layers {
			if !layerNames[ref] {
				return &ValidationError{Section: "command", Name: cmd.Name, Reason: "references unknown layer " + ref}
			}
		}
	}

	for _, pattern := range cfg.DenyTools {
		if !validGlob(pattern) {
			return &ValidationError{Section: "deny_tools", Reason: "invalid glob pattern " + pattern}
		}
	}

	if err := validateThresholds(&cfg.Thresholds); err != nil {
		return err
	}

	return nil
}

func validateServer(s *ServerConfig) error {
	if s.Name == "" {
		return &ValidationError{Section: "server", Reason: "server name cannot be empty"}
	}

	switch s.Kind {
	case ServerKindBuiltin:
		// Builtin servers have no transport parameters.
	case ServerKindStdio:
		if s.Command == "" {
			return &ValidationError{Section: "server", Name: s.Name, Reason: "stdio server requires a command"}
		}
	case ServerKindHTTP:
		if s.URL == "" {
			return &ValidationError{Section: "server", Name: s.Name, Reason: "http server requires a url"}
		}
		if _, err := url.ParseRequestURI(s.URL); err != nil {
			return &ValidationError{Section: "server", Name: s.Name, Reason: "invalid url: " + err.Error()}
		}
	default:
		return &ValidationError{Section: "server", Name: s.Name, Reason: "unknown kind " + s.Kind}
	}

	if s.TimeoutSeconds < 0 {
		return &ValidationError{Section: "server", Name: s.Name, Reason: "timeout_seconds cannot be negative"}
	}
	for _, pattern := range s.Tools {
		if !validGlob(pattern) {
			return &ValidationError{Section: "server", Name: s.Name, Reason: "invalid tool pattern " + pattern}
		}
	}
	return nil
}

func validateLayer(l *LayerConfig, serverNames map[string]bool) error {
	if l.Name == "" {
		return &ValidationError{Section: "layer", Reason: "layer name cannot be empty"}
	}

	switch l.InputMode {
	case InputLastMessage, InputFullTranscript:
	case "":
		l.InputMode = InputLastMessage
	default:
		return &ValidationError{Section: "layer", Name: l.Name, Reason: "unknown input_mode " + l.InputMode}
	}

	switch l.OutputMode {
	case OutputDiscard, OutputAppend, OutputReplace:
	case "":
		l.OutputMode = OutputDiscard
	default:
		return &ValidationError{Section: "layer", Name: l.Name, Reason: "unknown output_mode " + l.OutputMode}
	}

	if l.Temperature < 0 || l.Temperature > 2 {
		return &ValidationError{Section: "layer", Name: l.Name, Reason: "temperature must be between 0 and 2"}
	}

	for _, ref := range l.ServerRefs {
		if !serverNames[ref] {
			return &ValidationError{Section: "layer", Name: l.Name, Reason: "references unknown server " + ref}
		}
	}
	for _, pattern := range l.AllowedTools {
		if !validGlob(pattern) {
			return &ValidationError{Section: "layer", Name: l.Name, Reason: "invalid tool pattern " + pattern}
		}
	}
	return nil
}

func validateRole(r *RoleConfig, serverNames, layerNames map[string]bool) error {
	if r.Name == "" {
		return &ValidationError{Section: "role", Reason: "role name cannot be empty"}
	}
	if r.Model == "" {
		return &ValidationError{Section: "role", Name: r.Name, Reason: "role model cannot be empty"}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return &ValidationError{Section: "role", Name: r.Name, Reason: "temperature must be between 0 and 2"}
	}
	for _, ref := range r.ServerRefs {
		if !serverNames[ref] {
			return &ValidationError{Section: "role", Name: r.Name, Reason: "references unknown server " + ref}
		}
	}
	for _, ref := range r.Layers {
		if !layerNames[ref] {
			return &ValidationError{Section: "role", Name: r.Name, Reason: "references unknown layer " + ref}
		}
	}
	for _, pattern := range r.AllowedTools {
		if !validGlob(pattern) {
			return &ValidationError{Section: "role", Name: r.Name, Reason: "invalid tool pattern " + pattern}
		}
	}
	return nil
}

func validateThresholds(t *Thresholds) error {
	if t.MaxRequestTokens < 0 || t.CacheTokens < 0 || t.CacheTimeoutSeconds < 0 ||
		t.ResponseWarnTokens < 0 || t.ResponseHardTokens < 0 {
		return &ValidationError{Section: "thresholds", Reason: "thresholds cannot be negative"}
	}
	if t.SpendThresholdUSD < 0 {
		return &ValidationError{Section: "thresholds", Reason: "spend_threshold_usd cannot be negative"}
	}
	if t.ResponseHardTokens != 0 && t.ResponseWarnTokens > t.ResponseHardTokens {
		return &ValidationError{Section: "thresholds", Reason: "response_warn_tokens cannot exceed response_hard_tokens"}
	}
	return nil
}

// validGlob reports whether pattern is a well-formed filepath.Match
// pattern.
func validGlob(pattern string) bool {
	_, err := filepath.Match(pattern, "probe")
	return err == nil
}
