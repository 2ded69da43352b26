package cost

import (
	"strings"

	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/model"
)

// Rates holds per-model token pricing.
type Rates struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for collaborator usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// FromConfig builds a Calculator from the default rates overlaid with any
// configured prices.
func FromConfig(pc config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for name, p := range pc.Models {
		rates.Models[name] = ModelRate{Input: p.Input, Output: p.Output}
	}
	return NewCalculator(rates)
}

// rate finds the price for a model. Ids that embed a priced model, such as
// "us.anthropic.claude-sonnet-4-5-20250929-v1:0", use the longest match.
func (c *Calculator) rate(modelID string) (ModelRate, bool) {
	if r, ok := c.rates.Models[modelID]; ok {
		return r, true
	}
	var best string
	for name := range c.rates.Models {
		if len(name) > len(best) && strings.Contains(modelID, name) {
			best = name
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates.Models[best], true
}

// Tokens computes the cost of input and output tokens on one model. Unknown
// models cost nothing.
func (c *Calculator) Tokens(modelID string, input, output int64) float64 {
	rate, ok := c.rate(modelID)
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Usage sums the cost of per-model usage.
func (c *Calculator) Usage(byModel map[string]model.TokenUsage) float64 {
	var total float64
	for m, u := range byModel {
		total += c.Tokens(m, u.InputTokens, u.OutputTokens)
	}
	return total
}

// Known reports whether a model has a price.
func (c *Calculator) Known(modelID string) bool {
	_, ok := c.rate(modelID)
	return ok
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
			"gemini-2.5-pro":             {Input: 1.25, Output: 10.00},
			"gemini-2.5-flash":           {Input: 0.30, Output: 2.50},
			"gpt-4.1":                    {Input: 2.00, Output: 8.00},
			"gpt-4.1-mini":               {Input: 0.40, Output: 1.60},
		},
	}
}
