package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed engines.default.toml
var defaultEngineTable []byte

// Engine kinds understood by the engine package.
const (
	EngineKindChat  = "chat"
	EngineKindDeepL = "deepl"
	EngineKindLocal = "local"
)

// EngineConfig describes one translation backend.
type EngineConfig struct {
	Kind              string  `toml:"kind" json:"kind"`
	Endpoint          string  `toml:"endpoint" json:"endpoint"`
	Model             string  `toml:"model" json:"model"`
	APIKeyEnv         string  `toml:"api_key_env" json:"api_key_env"`
	APIKey            string  `toml:"api_key" json:"-"`
	RequestsPerMinute int     `toml:"requests_per_minute" json:"requests_per_minute"`
	TimeoutSeconds    int     `toml:"timeout_seconds" json:"timeout_seconds"`
	MaxTokens         int     `toml:"max_tokens" json:"max_tokens"`
	Temperature       float64 `toml:"temperature" json:"temperature"`
}

// Key resolves the credential: an inline key wins over the env reference.
func (e EngineConfig) Key() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	if e.APIKeyEnv != "" {
		return os.Getenv(e.APIKeyEnv)
	}
	return ""
}

func (e EngineConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func (e EngineConfig) validate(name string) error {
	switch e.Kind {
	case EngineKindChat, EngineKindLocal:
		if e.Model == "" {
			return fmt.Errorf("engine %q: model is required", name)
		}
	case EngineKindDeepL:
	default:
		return fmt.Errorf("engine %q: unknown kind %q", name, e.Kind)
	}
	if e.Endpoint == "" {
		return fmt.Errorf("engine %q: endpoint is required", name)
	}
	if e.RequestsPerMinute < 0 {
		return fmt.Errorf("engine %q: requests_per_minute must not be negative", name)
	}
	return nil
}

// RoutingConfig is the language-resource policy table.
type RoutingConfig struct {
	HighResource []string `toml:"high_resource" json:"high_resource"`
	CloudFamily  []string `toml:"cloud_family" json:"cloud_family"`
	LocalEngine  string   `toml:"local_engine" json:"local_engine"`
}

func (r RoutingConfig) validate(engines map[string]EngineConfig) error {
	for _, name := range r.CloudFamily {
		e, ok := engines[name]
		if !ok {
			return fmt.Errorf("routing: cloud engine %q is not configured", name)
		}
		if e.Kind == EngineKindLocal {
			return fmt.Errorf("routing: engine %q is local and cannot join the cloud family", name)
		}
	}
	if r.LocalEngine != "" {
		if _, ok := engines[r.LocalEngine]; !ok {
			return fmt.Errorf("routing: local engine %q is not configured", r.LocalEngine)
		}
	}
	return nil
}

// EngineTable is the TOML document behind ENGINES_FILE.
type EngineTable struct {
	Routing RoutingConfig           `toml:"routing"`
	Engines map[string]EngineConfig `toml:"engines"`
}

// LoadEngineTable decodes path, or the embedded default table when path is empty.
func LoadEngineTable(path string) (EngineTable, error) {
	data := defaultEngineTable
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return EngineTable{}, fmt.Errorf("open engines file: %w", err)
		}
		data = raw
	}

	var table EngineTable
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&table); err != nil {
		return EngineTable{}, fmt.Errorf("parse engines file: %w", err)
	}
	if len(table.Engines) == 0 {
		return EngineTable{}, fmt.Errorf("engines file declares no engines")
	}
	return table, nil
}

// DefaultEngineTable returns the embedded table as text.
func DefaultEngineTable() string {
	return string(defaultEngineTable)
}
