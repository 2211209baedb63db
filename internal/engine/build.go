package engine

import (
	"fmt"
	"sort"

	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/llm"
	"github.com/MimeLyc/subtrans/pkg/log"
)

// NewAdapters builds one rate-limited adapter per configured engine.
func NewAdapters(engines map[string]config.EngineConfig) (map[string]Adapter, error) {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)

	adapters := make(map[string]Adapter, len(engines))
	for _, name := range names {
		e := engines[name]
		var a Adapter
		switch e.Kind {
		case config.EngineKindChat, config.EngineKindLocal:
			client, err := llm.NewClient(&llm.Config{
				APIKey:      e.Key(),
				APIURL:      e.Endpoint,
				Model:       e.Model,
				MaxTokens:   e.MaxTokens,
				Temperature: e.Temperature,
				Timeout:     e.Timeout(),
				AppName:     "subtrans",
				KeyOptional: true,
			})
			if err != nil {
				return nil, fmt.Errorf("engine %q: %w", name, err)
			}
			log.Debug("Engine %s: %s model %s at %s", name, e.Kind, client.Model(), e.Endpoint)
			if e.Kind == config.EngineKindLocal {
				a = NewLocalAdapter(name, client)
			} else {
				a = NewChatAdapter(name, client)
			}
		case config.EngineKindDeepL:
			a = NewDeepLAdapter(name, e.Endpoint, e.Key(), e.Timeout())
		default:
			return nil, fmt.Errorf("engine %q: unknown kind %q", name, e.Kind)
		}
		adapters[name] = WithRateLimit(a, e.RequestsPerMinute)
	}
	return adapters, nil
}
