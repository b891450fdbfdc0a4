package masking

import (
	"log/slog"
	"regexp"

	"github.com/nebulus-ai/overlord/pkg/config"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// compileBuiltinPatterns compiles the built-in redaction table. Invalid
// patterns are logged and skipped rather than failing service startup.
func compileBuiltinPatterns() map[string]*CompiledPattern {
	out := make(map[string]*CompiledPattern)
	for name, pattern := range config.GetBuiltinConfig().MaskingPatterns {
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("masking: failed to compile built-in pattern, skipping", "pattern", name, "error", err)
			continue
		}
		out[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		}
	}
	return out
}

// compileCustomPatterns compiles operator-supplied patterns from
// config.MaskingConfig.Custom, which may add new names or override
// built-ins.
func compileCustomPatterns(custom map[string]config.MaskingPattern) map[string]*CompiledPattern {
	out := make(map[string]*CompiledPattern, len(custom))
	for name, pattern := range custom {
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("masking: failed to compile custom pattern, skipping", "pattern", name, "error", err)
			continue
		}
		out[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		}
	}
	return out
}
