package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ProviderType identifies one of the upstream completion services.
// The zero value means "not set".
type ProviderType string

const (
	ProviderOpenAI  ProviderType = "openai"
	ProviderGemini  ProviderType = "gemini"
	ProviderMistral ProviderType = "mistral"
	ProviderClaude  ProviderType = "claude"
)

// Providers returns every known provider in declaration order.
func Providers() []ProviderType {
	return []ProviderType{ProviderOpenAI, ProviderGemini, ProviderMistral, ProviderClaude}
}

// ParseProviderType parses a provider tag case-insensitively.
func ParseProviderType(s string) (ProviderType, bool) {
	p := ProviderType(strings.ToLower(strings.TrimSpace(s)))
	if p.Valid() {
		return p, true
	}
	return "", false
}

// Valid reports whether p is one of the four known providers.
func (p ProviderType) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderGemini, ProviderMistral, ProviderClaude:
		return true
	}
	return false
}

// String returns the stable lowercase form.
func (p ProviderType) String() string {
	return string(p)
}

// Name returns the upper-case wire name, e.g. "OPENAI".
func (p ProviderType) Name() string {
	return strings.ToUpper(string(p))
}

// DisplayName returns the human readable vendor name.
func (p ProviderType) DisplayName() string {
	switch p {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderGemini:
		return "Gemini"
	case ProviderMistral:
		return "Mistral"
	case ProviderClaude:
		return "Claude"
	}
	return string(p)
}

// MarshalJSON encodes the provider as its upper-case name.
func (p ProviderType) MarshalJSON() ([]byte, error) {
	if p == "" {
		return []byte("null"), nil
	}
	return json.Marshal(p.Name())
}

// UnmarshalJSON accepts "OPENAI", "openai" or any other casing.
// An unknown provider name is an error.
func (p *ProviderType) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("model must be a string: %w", err)
	}
	if s == nil || strings.TrimSpace(*s) == "" {
		*p = ""
		return nil
	}
	parsed, ok := ParseProviderType(*s)
	if !ok {
		return &UnknownProviderError{Value: *s}
	}
	*p = parsed
	return nil
}

// UnknownProviderError is returned when a request names a provider that does not exist.
type UnknownProviderError struct {
	Value string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown model %q", e.Value)
}

// TaskType classifies a request so the router can pick a preferred provider.
// The zero value means "not set".
type TaskType string

const (
	TaskTextGeneration    TaskType = "text_generation"
	TaskSummarization     TaskType = "summarization"
	TaskSentimentAnalysis TaskType = "sentiment_analysis"
	TaskQuestionAnswering TaskType = "question_answering"
	TaskOther             TaskType = "other"
)

// ParseTaskType maps unknown or missing input to TaskOther.
func ParseTaskType(s string) TaskType {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TaskTextGeneration, TaskSummarization, TaskSentimentAnalysis, TaskQuestionAnswering, TaskOther:
		return t
	}
	return TaskOther
}

func (t TaskType) String() string {
	return string(t)
}

// Name returns the upper-case wire name, e.g. "TEXT_GENERATION".
func (t TaskType) Name() string {
	return strings.ToUpper(string(t))
}

func (t TaskType) MarshalJSON() ([]byte, error) {
	if t == "" {
		return []byte("null"), nil
	}
	return json.Marshal(t.Name())
}

func (t *TaskType) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("taskType must be a string: %w", err)
	}
	if s == nil || strings.TrimSpace(*s) == "" {
		*t = ""
		return nil
	}
	*t = ParseTaskType(*s)
	return nil
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query        string       `json:"query"`
	Model        ProviderType `json:"model,omitempty"`
	ModelVersion string       `json:"modelVersion,omitempty"`
	TaskType     TaskType     `json:"taskType,omitempty"`
	RequestID    string       `json:"requestId,omitempty"`
}

// QueryResponse is returned for every completion request, successful or not.
// Error and ErrorType are only set on failures.
type QueryResponse struct {
	Response       string       `json:"response,omitempty"`
	Model          ProviderType `json:"model,omitempty"`
	OriginalModel  ProviderType `json:"originalModel,omitempty"`
	ResponseTimeMs int64        `json:"responseTimeMs"`
	Timestamp      time.Time    `json:"timestamp"`
	Cached         bool         `json:"cached"`
	Error          string       `json:"error,omitempty"`
	ErrorType      string       `json:"errorType,omitempty"`
	InputTokens    int          `json:"inputTokens"`
	OutputTokens   int          `json:"outputTokens"`
	TotalTokens    int          `json:"totalTokens"`
	NumTokens      int          `json:"numTokens"`
	NumRetries     int          `json:"numRetries"`
	RequestID      string       `json:"requestId,omitempty"`
}

// QueryResult is what a provider client returns for a single completion.
type QueryResult struct {
	Text           string
	Provider       ProviderType
	StatusCode     int
	ResponseTimeMs int64
	InputTokens    int
	OutputTokens   int
	TotalTokens    int
	// NumTokens mirrors TotalTokens for older callers.
	NumTokens  int
	NumRetries int
}

// StatusResponse reports the availability bit of every provider.
type StatusResponse struct {
	OpenAI  bool `json:"openai"`
	Gemini  bool `json:"gemini"`
	Mistral bool `json:"mistral"`
	Claude  bool `json:"claude"`
}

// NewStatusResponse builds a StatusResponse from an availability snapshot.
// Missing entries are reported as unavailable.
func NewStatusResponse(availability map[ProviderType]bool) StatusResponse {
	return StatusResponse{
		OpenAI:  availability[ProviderOpenAI],
		Gemini:  availability[ProviderGemini],
		Mistral: availability[ProviderMistral],
		Claude:  availability[ProviderClaude],
	}
}
