package config

// MaskingPattern is a single regex-based redaction rule: every match of
// Pattern is replaced with Replacement before content reaches an LLM prompt
// or the audit log.
type MaskingPattern struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Description string `yaml:"description,omitempty"`
}

// MaskingConfig controls secret scrubbing for the Tool Sandbox and Review
// Pipeline.
type MaskingConfig struct {
	// Enabled turns masking on; built-in patterns still compile when false,
	// but Service.Mask becomes a passthrough.
	Enabled bool `yaml:"enabled"`

	// Custom adds or overrides built-in patterns by name.
	Custom map[string]MaskingPattern `yaml:"custom,omitempty"`
}

// DefaultMaskingConfig returns masking enabled with no custom patterns.
func DefaultMaskingConfig() *MaskingConfig {
	return &MaskingConfig{Enabled: true}
}
