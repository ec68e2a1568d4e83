package providers

import (
	"errors"

	"github.com/tidwall/gjson"

	"llmproxy/internal/core"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat-completions body shared by OpenAI, Mistral and Claude.
type ChatRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
}

// NewChatRequest builds a single-turn user request with the default sampling parameters.
func NewChatRequest(model, prompt string) ChatRequest {
	return ChatRequest{
		Model:       model,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Messages:    []Message{{Role: "user", Content: prompt}},
	}
}

var errMalformedJSON = errors.New("malformed JSON body")

// ParseJSON validates an upstream body and returns its parsed form.
func ParseJSON(provider core.ProviderType, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, core.NewInvalidResponseError(provider.String(), errMalformedJSON)
	}
	return gjson.ParseBytes(body), nil
}

// ParseChatCompletion extracts the completion text and usage from an
// OpenAI-compatible chat-completions response.
func ParseChatCompletion(provider core.ProviderType, body []byte) (*core.QueryResult, error) {
	doc, err := ParseJSON(provider, body)
	if err != nil {
		return nil, err
	}

	text := doc.Get("choices.0.message.content").String()
	if text == "" {
		return nil, core.NewEmptyResponseError(provider.String())
	}

	total := int(doc.Get("usage.total_tokens").Int())
	return &core.QueryResult{
		Text:         text,
		InputTokens:  int(doc.Get("usage.prompt_tokens").Int()),
		OutputTokens: int(doc.Get("usage.completion_tokens").Int()),
		TotalTokens:  total,
		NumTokens:    total,
	}, nil
}
