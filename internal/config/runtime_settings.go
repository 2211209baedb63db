package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/MimeLyc/subtrans/pkg/file"
	"github.com/robfig/cron/v3"
)

// RuntimeSettings are the operator-editable overrides persisted under DATA_DIR.
// They are applied on top of the environment at startup.
type RuntimeSettings struct {
	DefaultEngine   string `json:"default_engine"`
	RetentionCron   string `json:"retention_cron"`
	RetentionDays   int    `json:"retention_days"`
	PartialDelivery bool   `json:"partial_delivery"`
	StartOrder      string `json:"start_order"`
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.DefaultEngine) == "" {
		return fmt.Errorf("default_engine is required")
	}
	if strings.TrimSpace(s.RetentionCron) == "" {
		return fmt.Errorf("retention_cron is required")
	}
	if _, err := cron.ParseStandard(s.RetentionCron); err != nil {
		return fmt.Errorf("invalid retention_cron: %w", err)
	}
	if s.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be at least 1")
	}
	switch s.StartOrder {
	case "non_decreasing", "strict":
	default:
		return fmt.Errorf("start_order must be non_decreasing or strict")
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		DefaultEngine:   c.Pipeline.DefaultEngine,
		RetentionCron:   c.System.RetentionCron,
		RetentionDays:   c.System.RetentionDays,
		PartialDelivery: c.Pipeline.PartialDelivery,
		StartOrder:      c.Pipeline.StartOrder,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.DefaultEngine) != "" {
			c.Pipeline.DefaultEngine = settings.DefaultEngine
		}
		if strings.TrimSpace(settings.RetentionCron) != "" {
			c.System.RetentionCron = settings.RetentionCron
		}
		if settings.RetentionDays > 0 {
			c.System.RetentionDays = settings.RetentionDays
		}
		if settings.StartOrder != "" {
			c.Pipeline.StartOrder = settings.StartOrder
		}
		c.Pipeline.PartialDelivery = settings.PartialDelivery
	}
}

// Load reads the environment, then reapplies it with the runtime settings
// file under DATA_DIR when one exists.
func Load() (*Config, error) {
	cfg, err := NewFromEnv()
	if err != nil {
		return nil, err
	}
	settings, err := LoadRuntimeSettingsFile(cfg.SettingsPath())
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return NewFromEnv(WithRuntimeSettings(settings))
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	return file.WriteAtomic(path, content, 0o600)
}

// RuntimeSettingsStore serves and persists RuntimeSettings. Updates take effect on the next start.
type RuntimeSettingsStore struct {
	path    string
	engines map[string]EngineConfig

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings, engines map[string]EngineConfig) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		engines: engines,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() RuntimeSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if s.engines != nil {
		if _, ok := s.engines[next.DefaultEngine]; !ok {
			return RuntimeSettings{}, fmt.Errorf("default_engine %q is not configured", next.DefaultEngine)
		}
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
