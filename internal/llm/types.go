package llm

import (
	"fmt"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the provider for a constrained output shape.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest is an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatResponse keeps only what the translation adapters read.
type ChatResponse struct {
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Error   *Error   `json:"error,omitempty"`
}

type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Error is the provider's error body.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error: %s (type: %s, code: %v)", e.Message, e.Type, e.Code)
}

// ChatCompletionOptions override the client defaults for one call.
type ChatCompletionOptions struct {
	SystemPrompt string
	JSONMode     bool
}

func NewChatCompletionOptions() *ChatCompletionOptions {
	return &ChatCompletionOptions{}
}

func (o *ChatCompletionOptions) WithSystemPrompt(prompt string) *ChatCompletionOptions {
	o.SystemPrompt = prompt
	return o
}

// WithJSONMode requests a JSON object response.
func (o *ChatCompletionOptions) WithJSONMode(on bool) *ChatCompletionOptions {
	o.JSONMode = on
	return o
}
