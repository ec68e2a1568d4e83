// Package usage provides approximate token accounting for providers that do
// not report usage.
package usage

import (
	"unicode/utf8"

	"llmproxy/internal/core"
)

// charsPerToken is the length heuristic used when upstream omits usage.
const charsPerToken = 4

// Estimate returns floor(len(text)/4), counting characters rather than bytes.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return utf8.RuneCountInString(text) / charsPerToken
}

// Fill populates the token fields of result from the query and response text.
// It does nothing if the provider already reported a total.
func Fill(result *core.QueryResult, query, response string) {
	if result == nil || result.TotalTokens != 0 {
		return
	}
	input := Estimate(query)
	output := Estimate(response)

	result.InputTokens = input
	result.OutputTokens = output
	result.TotalTokens = input + output
	result.NumTokens = result.TotalTokens
}
