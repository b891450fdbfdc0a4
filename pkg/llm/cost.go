package llm

// pricePerMillion holds (input, output) USD cost per million tokens, keyed
// by the resolved (non-alias) model identifier. Unlisted models fall back
// to a conservative blended default.
var pricePerMillion = map[string][2]float64{
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-1-20250805":   {15.00, 75.00},
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"gemini-2.5-pro-latest":      {1.25, 10.00},
	"gpt-4o-2024-11-20":          {2.50, 10.00},
}

var defaultPrice = [2]float64{1.00, 3.00}

// EstimateCostUSD maps (tokensIn, tokensOut, model) to an approximate USD
// figure. model may be an alias or a full identifier.
func EstimateCostUSD(tokensIn, tokensOut int, model string) float64 {
	resolved := ResolveModel(model)
	price, ok := pricePerMillion[resolved]
	if !ok {
		price = defaultPrice
	}
	const million = 1_000_000.0
	return float64(tokensIn)/million*price[0] + float64(tokensOut)/million*price[1]
}
