package config

// mergeMaskingPatterns merges the built-in masking pattern table with
// user-supplied custom patterns. User-defined patterns override a built-in
// pattern of the same name, or add a new one.
func mergeMaskingPatterns(builtin map[string]MaskingPattern, custom map[string]MaskingPattern) map[string]MaskingPattern {
	result := make(map[string]MaskingPattern, len(builtin)+len(custom))

	for name, pattern := range builtin {
		result[name] = pattern
	}

	for name, pattern := range custom {
		result[name] = pattern
	}

	return result
}

// mergeLLMProviders merges a user-defined provider map into defaults. User
// entries override a default provider of the same name, or add a new one.
func mergeLLMProviders(defaults map[string]*LLMProviderConfig, user map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig, len(defaults)+len(user))

	for name, provider := range defaults {
		providerCopy := *provider
		result[name] = &providerCopy
	}

	for name, provider := range user {
		providerCopy := provider
		result[name] = &providerCopy
	}

	return result
}
