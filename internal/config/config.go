package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
//
// Environment Variables:
// Pipeline:
// - PIPELINE_CHUNK_SIZE: entries per chunk (default: 100)
// - PIPELINE_CONTEXT_WINDOW: neighbouring entries sent as context (default: 5)
// - PIPELINE_MAX_RETRIES: attempts per chunk (default: 3)
// - PIPELINE_RETRY_DELAY: delay between attempts (default: 5s)
// - PIPELINE_CALL_TIMEOUT: per backend call timeout (default: 60s)
// - PIPELINE_WORKERS: process-wide concurrent backend calls (default: 4)
// - PIPELINE_JOB_WORKERS: jobs processed concurrently (default: 2)
// - PIPELINE_DEFAULT_ENGINE: engine used when none is requested (default: mistral)
// - PIPELINE_START_ORDER: non_decreasing | strict (default: non_decreasing)
// - PIPELINE_PARTIAL_DELIVERY: keep source text for failed chunks (default: false)
//
// Engines:
// - ENGINES_FILE: TOML engine table (default: embedded table)
// - HIGH_RESOURCE_LANGS: comma separated languages routed to cloud engines
//
// Server:
// - HTTP_ADDR (default: :8080), JWT_SECRET, CORS_ORIGINS
// - DATA_DIR (default: /app/data), DOWNLOAD_BASE_URL, URL_EXPIRY_HOURS (default: 24)
// - NTFY_TOPIC, RETENTION_CRON (default: 0 3 * * *), RETENTION_DAYS (default: 7)
// - LOG_LEVEL, LOG_FORMAT
type Config struct {
	Pipeline PipelineConfig          `json:"pipeline"`
	Routing  RoutingConfig           `json:"routing"`
	Engines  map[string]EngineConfig `json:"engines"`
	HTTP     HTTPConfig              `json:"http"`
	System   SystemConfig            `json:"system"`
	Notify   NotifyConfig            `json:"notify"`
	Log      LogConfig               `json:"log"`
}

// PipelineConfig is threaded into the splitter, executor and runner at construction.
type PipelineConfig struct {
	ChunkSize       int           `json:"chunk_size"`
	ContextWindow   int           `json:"context_window"`
	MaxRetries      int           `json:"max_retries"`
	RetryDelay      time.Duration `json:"retry_delay"`
	CallTimeout     time.Duration `json:"call_timeout"`
	Workers         int           `json:"workers"`
	JobWorkers      int           `json:"job_workers"`
	DefaultEngine   string        `json:"default_engine"`
	StartOrder      string        `json:"start_order"`
	PartialDelivery bool          `json:"partial_delivery"`
}

type HTTPConfig struct {
	Addr        string   `json:"addr"`
	JWTSecret   string   `json:"-"`
	CORSOrigins []string `json:"cors_origins"`
}

type SystemConfig struct {
	DataDir       string `json:"data_dir"`
	RetentionCron string `json:"retention_cron"`
	RetentionDays int    `json:"retention_days"`
}

type NotifyConfig struct {
	DownloadBaseURL string        `json:"download_base_url"`
	URLExpiry       time.Duration `json:"url_expiry"`
	NtfyTopic       string        `json:"ntfy_topic"`
	NtfyTimeout     time.Duration `json:"ntfy_timeout"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DBPath is the SQLite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "subtrans.db")
}

// ResultsDir holds translated output files.
func (c *Config) ResultsDir() string {
	return filepath.Join(c.System.DataDir, "results")
}

// SettingsPath is the runtime settings override file.
func (c *Config) SettingsPath() string {
	return getEnvString("SETTINGS_FILE", filepath.Join(c.System.DataDir, "settings.json"))
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options.
// A .env file (ENV_FILE) is loaded first when present; real env vars win.
func NewFromEnv(opts ...Option) (*Config, error) {
	envFile := getEnvString("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	dataDir := getEnvString("DATA_DIR", "/app/data")
	config := &Config{
		Pipeline: PipelineConfig{
			ChunkSize:       getEnvInt("PIPELINE_CHUNK_SIZE", 100),
			ContextWindow:   getEnvInt("PIPELINE_CONTEXT_WINDOW", 5),
			MaxRetries:      getEnvInt("PIPELINE_MAX_RETRIES", 3),
			RetryDelay:      getEnvDuration("PIPELINE_RETRY_DELAY", 5*time.Second),
			CallTimeout:     getEnvDuration("PIPELINE_CALL_TIMEOUT", 60*time.Second),
			Workers:         getEnvInt("PIPELINE_WORKERS", 4),
			JobWorkers:      getEnvInt("PIPELINE_JOB_WORKERS", 2),
			DefaultEngine:   getEnvString("PIPELINE_DEFAULT_ENGINE", "mistral"),
			StartOrder:      getEnvString("PIPELINE_START_ORDER", "non_decreasing"),
			PartialDelivery: getEnvBool("PIPELINE_PARTIAL_DELIVERY", false),
		},
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8080"),
			JWTSecret:   getEnvString("JWT_SECRET", ""),
			CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		},
		System: SystemConfig{
			DataDir:       dataDir,
			RetentionCron: getEnvString("RETENTION_CRON", "0 3 * * *"),
			RetentionDays: getEnvInt("RETENTION_DAYS", 7),
		},
		Notify: NotifyConfig{
			DownloadBaseURL: getEnvString("DOWNLOAD_BASE_URL", "http://localhost:8080/api/downloads"),
			URLExpiry:       time.Duration(getEnvInt("URL_EXPIRY_HOURS", 24)) * time.Hour,
			NtfyTopic:       getEnvString("NTFY_TOPIC", ""),
			NtfyTimeout:     getEnvDuration("NTFY_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", ""),
		},
	}

	table, err := LoadEngineTable(getEnvString("ENGINES_FILE", ""))
	if err != nil {
		return nil, err
	}
	config.Engines = table.Engines
	config.Routing = table.Routing
	if langs := getEnvList("HIGH_RESOURCE_LANGS", nil); len(langs) > 0 {
		config.Routing.HighResource = langs
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.ChunkSize < 1 {
		return fmt.Errorf("PIPELINE_CHUNK_SIZE must be at least 1, got %d", p.ChunkSize)
	}
	if p.ContextWindow < 0 {
		return fmt.Errorf("PIPELINE_CONTEXT_WINDOW must not be negative, got %d", p.ContextWindow)
	}
	if p.MaxRetries < 1 {
		return fmt.Errorf("PIPELINE_MAX_RETRIES must be at least 1, got %d", p.MaxRetries)
	}
	if p.RetryDelay < 0 {
		return fmt.Errorf("PIPELINE_RETRY_DELAY must not be negative")
	}
	if p.CallTimeout <= 0 {
		return fmt.Errorf("PIPELINE_CALL_TIMEOUT must be positive")
	}
	if p.Workers < 1 || p.JobWorkers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS and PIPELINE_JOB_WORKERS must be at least 1")
	}
	switch p.StartOrder {
	case "non_decreasing", "strict":
	default:
		return fmt.Errorf("PIPELINE_START_ORDER must be non_decreasing or strict, got %q", p.StartOrder)
	}
	if _, ok := c.Engines[p.DefaultEngine]; !ok {
		return fmt.Errorf("default engine %q is not configured", p.DefaultEngine)
	}
	if err := c.Routing.validate(c.Engines); err != nil {
		return err
	}
	for name, e := range c.Engines {
		if err := e.validate(name); err != nil {
			return err
		}
	}
	if c.System.RetentionCron != "" {
		if _, err := cron.ParseStandard(c.System.RetentionCron); err != nil {
			return fmt.Errorf("invalid RETENTION_CRON: %w", err)
		}
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("5s") or plain seconds ("5").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
