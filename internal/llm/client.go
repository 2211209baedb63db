package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// Client is an OpenAI-compatible chat completions client.
// Thread-safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new LLM client with the given configuration
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Client{
		config:     config,
		baseURL:    strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

// ChatCompletion creates a chat completion request to the configured LLM API
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts *ChatCompletionOptions) (*ChatResponse, error) {
	if opts == nil {
		opts = NewChatCompletionOptions()
	}

	if opts.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: opts.SystemPrompt}}, messages...)
	}

	request := ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}
	if opts.JSONMode {
		request.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	response, err := c.makeRequest(ctx, http.MethodPost, "/chat/completions", request)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	return response, nil
}

// SimpleChat sends one user prompt and returns the first choice's content.
func (c *Client) SimpleChat(ctx context.Context, prompt string, opts *ChatCompletionOptions) (string, error) {
	response, err := c.ChatCompletion(ctx, []Message{{Role: "user", Content: prompt}}, opts)
	if err != nil {
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", &StatusError{StatusCode: http.StatusBadGateway, Body: "no choices in response"}
	}

	return response.Choices[0].Message.Content, nil
}

// makeRequest makes a raw HTTP request to the configured LLM API
func (c *Client) makeRequest(ctx context.Context, method, path string, payload any) (*ChatResponse, error) {
	url := c.baseURL + path

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	var chatResponse ChatResponse
	parseErr := json.Unmarshal(responseBody, &chatResponse)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(responseBody), 512)}
		if parseErr == nil && chatResponse.Error != nil {
			statusErr.APIError = chatResponse.Error
		}
		return nil, statusErr
	}

	if parseErr != nil {
		return nil, &StatusError{StatusCode: http.StatusBadGateway, Body: "failed to parse response: " + parseErr.Error()}
	}

	// some providers report errors with a 200 status
	if chatResponse.Error != nil && chatResponse.Error.Message != "" {
		return nil, &StatusError{StatusCode: http.StatusBadGateway, APIError: chatResponse.Error}
	}

	return &chatResponse, nil
}

// StatusError is a non-2xx (or unusable) response from the API.
type StatusError struct {
	StatusCode int
	Body       string
	APIError   *Error
}

func (e *StatusError) Error() string {
	if e.APIError != nil {
		return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.APIError.Message)
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return IsTemporaryStatus(e.StatusCode)
}

// TransportError wraps failures below HTTP: DNS, connect, timeouts, resets.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "failed to make request: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary is false only when the caller's context ended.
func (e *TransportError) Temporary() bool {
	return !errors.Is(e.Err, context.Canceled)
}

// Timeout reports whether the transport failure was a timeout.
func (e *TransportError) Timeout() bool {
	var netErr net.Error
	return errors.Is(e.Err, context.DeadlineExceeded) || (errors.As(e.Err, &netErr) && netErr.Timeout())
}

// IsTemporaryStatus classifies HTTP status codes: 408, 409, 425, 429 and 5xx are retryable.
func IsTemporaryStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
