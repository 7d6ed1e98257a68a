package provider

import "strings"

// priceEntry holds per-million-token USD pricing for one model.
type priceEntry struct {
	InputPerM  float64
	OutputPerM float64
}

// priceTable is a small, hand-maintained backend+model price table used to
// compute the cost recorded in the model_usage event. Prices are
// per-million-tokens, matching the units providers publish. Unknown models
// fall back to a conservative default rather than reporting $0.
var priceTable = map[string]priceEntry{
	"claude/claude-opus-4":              {InputPerM: 15, OutputPerM: 75},
	"claude/claude-sonnet-4":            {InputPerM: 3, OutputPerM: 15},
	"claude/claude-haiku-4":             {InputPerM: 0.8, OutputPerM: 4},
	"openai/gpt-4o":                     {InputPerM: 2.5, OutputPerM: 10},
	"openai/gpt-4o-mini":                {InputPerM: 0.15, OutputPerM: 0.6},
	"openai/o3":                         {InputPerM: 10, OutputPerM: 40},
	"gemini/gemini-2.5-pro":             {InputPerM: 1.25, OutputPerM: 10},
	"gemini/gemini-2.5-flash":           {InputPerM: 0.075, OutputPerM: 0.3},
	"xai/grok-4":                        {InputPerM: 3, OutputPerM: 15},
	"local/local":                       {InputPerM: 0, OutputPerM: 0},
}

var defaultPrice = priceEntry{InputPerM: 1, OutputPerM: 3}

// PriceKey builds the price table lookup key from a backend and model,
// matching the <model>@<backend> target syntax used everywhere else, just
// with a "/" separator to avoid confusion with target strings.
func priceKey(backend, model string) string {
	return strings.ToLower(backend) + "/" + strings.ToLower(model)
}

// ComputeCost prices a Usage against the backend+model table.
func ComputeCost(backend, model string, u Usage) Cost {
	entry, ok := priceTable[priceKey(backend, model)]
	if !ok {
		entry = defaultPrice
	}
	in := float64(u.PromptTokens) / 1_000_000 * entry.InputPerM
	out := float64(u.CompletionTokens) / 1_000_000 * entry.OutputPerM
	return Cost{InputUSD: in, OutputUSD: out, TotalUSD: in + out}
}

// RegisterPrice allows callers (config load, tests) to add or override an
// entry in the price table at runtime.
func RegisterPrice(backend, model string, input, output float64) {
	priceTable[priceKey(backend, model)] = priceEntry{InputPerM: input, OutputPerM: output}
}
