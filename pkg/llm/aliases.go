package llm

// modelAliases maps short, human-friendly model names to full provider
// identifiers. Unknown aliases pass through unchanged.
var modelAliases = map[string]string{
	"sonnet":         "claude-sonnet-4-5-20250929",
	"opus":           "claude-opus-4-1-20250805",
	"haiku":          "claude-haiku-4-5-20251001",
	"gemini-2.5-pro": "gemini-2.5-pro-latest",
	"gpt-4o":         "gpt-4o-2024-11-20",
}

// ResolveModel resolves a short alias to its full provider model
// identifier. Names not present in the table pass through unchanged.
func ResolveModel(name string) string {
	if full, ok := modelAliases[name]; ok {
		return full
	}
	return name
}
