package config

// ModelPricing represents the cost per 1M tokens for a model
type ModelPricing struct {
	InputPer1M       float64 // Cost in USD per 1M input tokens
	CachedInputPer1M float64 // Cost in USD per 1M cache-read input tokens
	OutputPer1M      float64 // Cost in USD per 1M output tokens
}

// ModelPricingTable maps API model names to their pricing
// Prices are in USD per 1 million tokens
var ModelPricingTable = map[string]ModelPricing{
	// Anthropic models
	"claude-sonnet-4-5":          {InputPer1M: 3.00, CachedInputPer1M: 0.30, OutputPer1M: 15.00},
	"claude-sonnet-4-20250514":   {InputPer1M: 3.00, CachedInputPer1M: 0.30, OutputPer1M: 15.00},
	"claude-opus-4-20250514":     {InputPer1M: 15.00, CachedInputPer1M: 1.50, OutputPer1M: 75.00},
	"claude-3-5-haiku-latest":    {InputPer1M: 0.80, CachedInputPer1M: 0.08, OutputPer1M: 4.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, CachedInputPer1M: 0.08, OutputPer1M: 4.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, CachedInputPer1M: 0.30, OutputPer1M: 15.00},

	// OpenAI models
	"gpt-5":       {InputPer1M: 1.25, CachedInputPer1M: 0.125, OutputPer1M: 10.00},
	"gpt-5-mini":  {InputPer1M: 0.25, CachedInputPer1M: 0.025, OutputPer1M: 2.00},
	"gpt-4o":      {InputPer1M: 2.50, CachedInputPer1M: 1.25, OutputPer1M: 10.00},
	"gpt-4o-mini": {InputPer1M: 0.15, CachedInputPer1M: 0.075, OutputPer1M: 0.60},
	"o1":          {InputPer1M: 15.00, CachedInputPer1M: 7.50, OutputPer1M: 60.00},
	"o3-mini":     {InputPer1M: 1.10, CachedInputPer1M: 0.55, OutputPer1M: 4.40},

	// Gemini models
	"gemini-2.5-pro":   {InputPer1M: 1.25, CachedInputPer1M: 0.31, OutputPer1M: 10.00},
	"gemini-2.5-flash": {InputPer1M: 0.30, CachedInputPer1M: 0.075, OutputPer1M: 2.50},
	"gemini-2.0-flash": {InputPer1M: 0.10, CachedInputPer1M: 0.025, OutputPer1M: 0.40},
	"gemini-1.5-pro":   {InputPer1M: 1.25, CachedInputPer1M: 0.31, OutputPer1M: 5.00},
}

// CalculateCost calculates the total cost in USD for a model call.
// inputTokens is the full prompt count including cache reads; cachedTokens
// is the cache-read subset, billed at the cached rate when the table has one.
func CalculateCost(modelName string, inputTokens, cachedTokens, outputTokens int64) float64 {
	pricing, ok := ModelPricingTable[modelName]
	if !ok {
		return 0 // Unknown model, no pricing available
	}

	if cachedTokens > inputTokens {
		cachedTokens = inputTokens
	}
	freshTokens := inputTokens - cachedTokens

	inputCost := float64(freshTokens) / 1_000_000 * pricing.InputPer1M
	cachedCost := float64(cachedTokens) / 1_000_000 * pricing.CachedInputPer1M
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPer1M

	return inputCost + cachedCost + outputCost
}
