package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nebulus-ai/overlord/pkg/config"
)

func TestCompileBuiltinPatterns(t *testing.T) {
	builtin := config.GetBuiltinConfig()
	compiled := compileBuiltinPatterns()

	assert.Equal(t, len(builtin.MaskingPatterns), len(compiled),
		"every built-in pattern should compile")

	for name, cp := range compiled {
		assert.NotNil(t, cp.Regex, "pattern %s should have a compiled regex", name)
		assert.NotEmpty(t, cp.Replacement, "pattern %s should have a replacement", name)
	}
}

func TestCompileCustomPatterns(t *testing.T) {
	custom := map[string]config.MaskingPattern{
		"internal_id": {
			Pattern:     `CUSTOM_SECRET_[A-Za-z0-9]+`,
			Replacement: "[MASKED_CUSTOM]",
			Description: "custom secret pattern",
		},
	}
	compiled := compileCustomPatterns(custom)
	require := compiled["internal_id"]
	assert.NotNil(t, require)
	assert.Equal(t, "[MASKED_CUSTOM]", require.Replacement)
}

func TestCompileCustomPatternsSkipsInvalidRegex(t *testing.T) {
	custom := map[string]config.MaskingPattern{
		"broken": {Pattern: `(unclosed`, Replacement: "x"},
	}
	compiled := compileCustomPatterns(custom)
	assert.Empty(t, compiled)
}
