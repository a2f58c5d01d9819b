// Package pricing estimates what an agent call cost.
package pricing

import "strings"

// Rate is a model's price in USD per million tokens.
type Rate struct {
	Input  float64
	Output float64
}

var rates = map[string]Rate{
	"gemini-2.5-flash":      {0.075, 0.30},
	"gemini-2.5-flash-lite": {0.0, 0.0},
	"gemini-2.5-pro":        {1.25, 10.00},
	"claude-sonnet-4-5":     {3.00, 15.00},
	"claude-haiku-4-5":      {1.00, 5.00},
	"gpt-4o":                {2.50, 10.00},
	"gpt-4o-mini":           {0.15, 0.60},
}

// Usage is the token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Estimated    bool
}

// Estimate prices a call. When the provider reported no token counts
// (both zero) they are estimated from the prompt and reply text.
// Models may carry a provider prefix such as "googleai/"; unknown models
// cost zero.
func Estimate(model string, inputTokens, outputTokens int, prompt, reply string) Usage {
	u := Usage{InputTokens: inputTokens, OutputTokens: outputTokens}
	if inputTokens+outputTokens == 0 {
		u.InputTokens, u.OutputTokens = Tokens(prompt), Tokens(reply)
		u.Estimated = true
	}
	r, ok := rates[BareModel(model)]
	if !ok {
		return u
	}
	u.CostUSD = float64(u.InputTokens)/1_000_000*r.Input + float64(u.OutputTokens)/1_000_000*r.Output
	return u
}

// Known reports whether the model has a price.
func Known(model string) bool {
	_, ok := rates[BareModel(model)]
	return ok
}

// BareModel strips a "provider/" prefix.
func BareModel(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}

// Tokens approximates a token count: 1.33 per word, floored at one per
// four bytes so Python source and non-English text are not undercounted.
func Tokens(s string) int {
	if s == "" {
		return 0
	}
	byWords := int(float64(len(strings.Fields(s))) * 1.33)
	if byBytes := len(s) / 4; byBytes > byWords {
		return byBytes
	}
	return byWords
}
