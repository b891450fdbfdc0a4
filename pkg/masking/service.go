// Package masking scrubs secrets out of diff content and command/tool
// output before it reaches an LLM prompt or the audit log,
// via a flat built-in + custom regex table applied uniformly to Tool
// Sandbox output and Review Pipeline diffs.
package masking

import (
	"log/slog"

	"github.com/nebulus-ai/overlord/pkg/config"
)

// Service applies regex-based secret redaction. Created once at startup;
// thread-safe and stateless aside from its compiled pattern table. A nil
// *Service is a valid passthrough (Mask is a no-op), matching the usual
// nil-safe service idiom.
type Service struct {
	enabled  bool
	patterns map[string]*CompiledPattern
}

// NewService compiles cfg's built-in and custom patterns eagerly. Invalid
// patterns are logged and skipped. A nil cfg yields a disabled passthrough
// service.
func NewService(cfg *config.MaskingConfig) *Service {
	if cfg == nil {
		return &Service{enabled: false}
	}

	patterns := compileBuiltinPatterns()
	for name, cp := range compileCustomPatterns(cfg.Custom) {
		patterns[name] = cp
	}

	slog.Info("masking service initialized",
		"enabled", cfg.Enabled,
		"compiled_patterns", len(patterns))

	return &Service{enabled: cfg.Enabled, patterns: patterns}
}

// Mask replaces every match of every compiled pattern in content. When the
// service is disabled or nil, Mask is a passthrough — callers never need to
// nil-check before calling it.
func (s *Service) Mask(content string) string {
	if s == nil || !s.enabled || content == "" {
		return content
	}

	masked := content
	for _, pattern := range s.patterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked
}

// PatternNames returns the sorted-by-map-iteration names of every compiled
// pattern, for diagnostics/testing.
func (s *Service) PatternNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.patterns))
	for name := range s.patterns {
		names = append(names, name)
	}
	return names
}
