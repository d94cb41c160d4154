package mcp

import "path/filepath"

// matchPattern reports whether a glob pattern matches a tool name.
// Patterns are validated at config load, so a parse error here only
// means "no match".
func matchPattern(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

// matchAny reports whether any pattern matches the name.
func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if matchPattern(p, name) {
			return true
		}
	}
	return false
}

// toolAllowed applies the access policy: the deny-list always wins,
// and an empty allow-list means every tool is allowed.
func toolAllowed(name string, allow, deny []string) bool {
	if matchAny(deny, name) {
		return false
	}
	if len(allow) == 0 {
		return true
	}
	return matchAny(allow, name)
}
