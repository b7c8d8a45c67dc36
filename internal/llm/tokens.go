// ABOUTME: Best-effort token counting keyed by model name
// ABOUTME: Degrades to zero on unknown models; accounting is never correctness-critical

package llm

import (
	"github.com/tiktoken-go/tokenizer"
)

// CountTokens returns the token count of text under the named model's
// encoding. Any failure (unknown model, encoder error) yields zero:
// token accounting is best-effort and must never fail a chat turn.
func CountTokens(modelName, text string) int {
	if text == "" {
		return 0
	}

	codec, err := tokenizer.ForModel(tokenizer.Model(modelName))
	if err != nil {
		// Fall back to the common base encoding before giving up
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return 0
		}
	}

	count, err := codec.Count(text)
	if err != nil {
		return 0
	}
	return count
}
