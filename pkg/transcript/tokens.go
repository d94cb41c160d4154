package transcript

import (
	"encoding/json"
	"unicode/utf8"
)

// perMessageOverhead approximates the framing tokens each message costs
// on the wire regardless of its content.
const perMessageOverhead = 4

// EstimateTokens gives a rough token count for text: one token per four
// characters, counting runes so multibyte text is not overcounted.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// MessageTokens estimates the cost of a full message including any tool
// call payloads.
func MessageTokens(m Message) int {
	total := perMessageOverhead + EstimateTokens(m.Content)
	for _, tc := range m.ToolCalls {
		total += EstimateTokens(tc.Name)
		if args, err := json.Marshal(tc.Arguments); err == nil {
			total += EstimateTokens(string(args))
		}
	}
	return total
}
