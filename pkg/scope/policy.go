// Package scope enforces the write-path policy a Minion operates under.
package scope

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Mode selects how Patterns are interpreted.
type Mode string

const (
	// ModeUnrestricted allows writes to any path.
	ModeUnrestricted Mode = "unrestricted"
	// ModeDirectory allows writes whose path matches any Patterns glob.
	ModeDirectory Mode = "directory"
	// ModeExplicit allows writes that exactly equal one of Patterns.
	ModeExplicit Mode = "explicit"
)

// Policy decides whether a relative path is writable. It is immutable after
// a Minion is spawned.
type Policy struct {
	Mode     Mode
	Patterns []string
}

// Unrestricted returns a policy permitting every path.
func Unrestricted() *Policy {
	return &Policy{Mode: ModeUnrestricted}
}

// FromMinionScopeEnv parses the MINION_SCOPE environment variable (a JSON
// array of glob patterns). An empty or malformed payload degrades to
// unrestricted.
func FromMinionScopeEnv(data []byte) *Policy {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Unrestricted()
	}

	var patterns []string
	if err := json.Unmarshal([]byte(trimmed), &patterns); err != nil {
		return Unrestricted()
	}
	if len(patterns) == 0 {
		return Unrestricted()
	}

	return &Policy{Mode: ModeDirectory, Patterns: patterns}
}

// wireForm is the general-purpose (mode-tagged) serialization used
// internally (e.g. when the Overlord narrows a revision's scope). It is
// distinct from the MINION_SCOPE environment variable's bare-array format,
// which can only ever encode unrestricted/directory policies.
type wireForm struct {
	Mode     Mode     `json:"mode"`
	Patterns []string `json:"patterns,omitempty"`
}

// ToJSON serializes the full policy, including Mode, so that
// FromJSON(ToJSON(p)) == p for any policy value.
func (p *Policy) ToJSON() ([]byte, error) {
	if p == nil {
		return json.Marshal(wireForm{Mode: ModeUnrestricted})
	}
	return json.Marshal(wireForm{Mode: p.Mode, Patterns: p.Patterns})
}

// FromJSON parses the mode-tagged wire form produced by ToJSON. Malformed
// input degrades to unrestricted, consistent with FromMinionScopeEnv.
func FromJSON(data []byte) *Policy {
	var w wireForm
	if err := json.Unmarshal(data, &w); err != nil || w.Mode == "" {
		return Unrestricted()
	}
	if w.Mode == ModeUnrestricted {
		return Unrestricted()
	}
	return &Policy{Mode: w.Mode, Patterns: w.Patterns}
}

// IsWriteAllowed reports whether relativePath may be written under this
// policy.
func (p *Policy) IsWriteAllowed(relativePath string) bool {
	if p == nil || p.Mode == ModeUnrestricted {
		return true
	}

	cleaned := filepath.ToSlash(filepath.Clean(relativePath))

	switch p.Mode {
	case ModeExplicit:
		for _, pattern := range p.Patterns {
			if filepath.ToSlash(filepath.Clean(pattern)) == cleaned {
				return true
			}
		}
		return false
	case ModeDirectory:
		for _, pattern := range p.Patterns {
			if globMatch(pattern, cleaned) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// globMatch supports a "**" suffix (directory + all descendants) in
// addition to filepath.Match's single-segment "*" semantics, since glob
// patterns like "src/**" are the common case for scope policies.
func globMatch(pattern, path string) bool {
	pattern = filepath.ToSlash(pattern)

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
		return false
	}

	ok, err := filepath.Match(pattern, path)
	if err == nil && ok {
		return true
	}

	// filepath.Match only matches a pattern's exact segment count; allow a
	// bare "dir/*" style pattern to also match a deeper match() fallback
	// used by the directory-mode default case.
	return false
}

// ViolationMessage builds the machine-readable denial message injected into
// the agent's conversation, naming the path and enumerating the
// allowed patterns.
func (p *Policy) ViolationMessage(relativePath string) string {
	allowed := "[]"
	if p != nil && len(p.Patterns) > 0 {
		allowed = "[" + strings.Join(p.Patterns, ", ") + "]"
	}
	return fmt.Sprintf(
		"Write to '%s' is outside your assigned scope. Allowed paths: %s. "+
			"Choose a path matching one of the allowed patterns, or use task_blocked "+
			"if the requested change genuinely requires writing outside scope.",
		relativePath, allowed,
	)
}
