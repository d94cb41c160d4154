package cost

import (
	"strings"

	"github.com/strata-dev/strata/pkg/provider"
)

// Pricing holds USD prices per million tokens for one model.
type Pricing struct {
	InputPerM      float64
	OutputPerM     float64
	CacheReadPerM  float64
	CacheWritePerM float64
}

// pricingTable maps model name prefixes to prices. Longest matching
// prefix wins; unknown models fall back to defaultPricing so spend is
// overestimated rather than silently zero.
var pricingTable = map[string]Pricing{
	"claude-opus-4":   {InputPerM: 15.00, OutputPerM: 75.00, CacheReadPerM: 1.50, CacheWritePerM: 18.75},
	"claude-sonnet-4": {InputPerM: 3.00, OutputPerM: 15.00, CacheReadPerM: 0.30, CacheWritePerM: 3.75},
	"claude-haiku-3":  {InputPerM: 0.80, OutputPerM: 4.00, CacheReadPerM: 0.08, CacheWritePerM: 1.00},
	"gpt-4o-mini":     {InputPerM: 0.15, OutputPerM: 0.60, CacheReadPerM: 0.075},
	"gpt-4o":          {InputPerM: 2.50, OutputPerM: 10.00, CacheReadPerM: 1.25},
	"gpt-4.1":         {InputPerM: 2.00, OutputPerM: 8.00, CacheReadPerM: 0.50},
	"o3":              {InputPerM: 2.00, OutputPerM: 8.00, CacheReadPerM: 0.50},
}

var defaultPricing = Pricing{InputPerM: 15.00, OutputPerM: 75.00, CacheReadPerM: 1.50, CacheWritePerM: 18.75}

// PriceFor returns the pricing for a bare model name.
func PriceFor(model string) Pricing {
	best := ""
	for prefix := range pricingTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultPricing
	}
	return pricingTable[best]
}

// Cost computes the USD cost of one call's usage.
func (p Pricing) Cost(usage provider.Usage) float64 {
	const million = 1_000_000
	return float64(usage.InputTokens)*p.InputPerM/million +
		float64(usage.OutputTokens)*p.OutputPerM/million +
		float64(usage.CacheReadTokens)*p.CacheReadPerM/million +
		float64(usage.CacheWriteTokens)*p.CacheWritePerM/million
}
