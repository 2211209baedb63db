package llm

import (
	"fmt"
	"time"
)

// Config holds the configuration for one OpenAI-compatible chat endpoint.
// Local servers such as Ollama run without an API key; set KeyOptional for them.
type Config struct {
	APIKey      string        `json:"api_key"`
	APIURL      string        `json:"api_url"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
	SiteURL     string        `json:"site_url"`
	AppName     string        `json:"app_name"`
	KeyOptional bool          `json:"-"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" && !c.KeyOptional {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for the LLM API request
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if c.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.APIKey
	}
	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}

	return headers
}
