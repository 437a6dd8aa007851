// Package openrouter is a minimal client for the OpenRouter chat completion API.
package openrouter

import "encoding/json"

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the body of POST /chat/completions.
type ChatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// UserPrompt builds a request carrying a single user-role message.
func UserPrompt(model, prompt string) *ChatCompletionRequest {
	return &ChatCompletionRequest{
		Model: model,
		Messages: []Message{
			{Role: "user", Content: prompt},
		},
	}
}

// Choice is one completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage holds token counters. Any of them may be omitted by the upstream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is a successful completion payload.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`

	// RawBody is the undecoded response body; its size is logged per completion.
	RawBody []byte `json:"-"`
}

// ErrorResponse is the envelope OpenRouter uses for failures.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError is the error object inside ErrorResponse. Code is usually the
// HTTP status as a number but some upstream providers send strings.
type APIError struct {
	Code     json.RawMessage `json:"code,omitempty"`
	Message  string          `json:"message"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// ParseErrorResponse attempts to parse an error response from JSON.
// It returns nil, nil when the body is JSON but carries no error object.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	return errResp.Error, nil
}

// ErrorMessage returns the best human-readable message in an error body,
// or the empty string when there is none.
func ErrorMessage(data []byte) string {
	apiErr, err := ParseErrorResponse(data)
	if err != nil || apiErr == nil {
		return ""
	}
	return apiErr.Message
}
