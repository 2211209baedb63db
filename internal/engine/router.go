package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/failure"
	"golang.org/x/text/language"
)

// Router applies the language-resource policy. Resolve is a pure lookup.
type Router struct {
	adapters      map[string]Adapter
	highResource  map[language.Base]bool
	cloud         map[string]bool
	defaultEngine string
	localEngine   string
}

// NewRouter validates the policy against the available adapters.
func NewRouter(routing config.RoutingConfig, defaultEngine string, adapters map[string]Adapter) (*Router, error) {
	r := &Router{
		adapters:      adapters,
		highResource:  make(map[language.Base]bool),
		cloud:         make(map[string]bool),
		defaultEngine: defaultEngine,
		localEngine:   routing.LocalEngine,
	}

	for _, lang := range routing.HighResource {
		base, ok := baseOf(lang)
		if !ok {
			return nil, fmt.Errorf("routing: invalid high-resource language %q", lang)
		}
		r.highResource[base] = true
	}

	for _, name := range routing.CloudFamily {
		a, ok := adapters[name]
		if !ok {
			return nil, fmt.Errorf("routing: cloud engine %q has no adapter", name)
		}
		if a.Family() != FamilyCloud {
			return nil, fmt.Errorf("routing: engine %q is not a cloud adapter", name)
		}
		r.cloud[name] = true
	}

	def, ok := adapters[defaultEngine]
	if !ok {
		return nil, fmt.Errorf("routing: default engine %q has no adapter", defaultEngine)
	}
	if def.Family() != FamilyCloud {
		return nil, fmt.Errorf("routing: default engine %q must be a cloud adapter", defaultEngine)
	}
	r.cloud[defaultEngine] = true

	if r.localEngine != "" {
		if _, ok := adapters[r.localEngine]; !ok {
			return nil, fmt.Errorf("routing: local engine %q has no adapter", r.localEngine)
		}
	}
	return r, nil
}

// Resolve picks the adapter for a language pair. High-resource pairs go to the
// cloud family, honouring requested when it names a cloud engine. Other pairs
// go to the local engine, or to the cloud rule when none is configured.
func (r *Router) Resolve(sourceLang, targetLang, requested string) (Adapter, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested != "" {
		if _, ok := r.adapters[requested]; !ok {
			return nil, failure.Newf(failure.KindPermanentBackend, "unknown engine %q", requested).
				WithContext(failure.CtxBackend, requested)
		}
	}
	if _, ok := baseOf(targetLang); !ok {
		return nil, failure.Newf(failure.KindPermanentBackend, "unsupported target language %q", targetLang)
	}

	if r.IsHighResource(sourceLang) || r.IsHighResource(targetLang) || r.localEngine == "" {
		if requested != "" && r.cloud[requested] {
			return r.adapters[requested], nil
		}
		return r.adapters[r.defaultEngine], nil
	}
	return r.adapters[r.localEngine], nil
}

// IsHighResource reports whether lang's base language is in the policy set.
func (r *Router) IsHighResource(lang string) bool {
	base, ok := baseOf(lang)
	return ok && r.highResource[base]
}

// Engines lists adapter names in sorted order.
func (r *Router) Engines() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func baseOf(lang string) (language.Base, bool) {
	lang = strings.TrimSpace(lang)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return language.Base{}, false
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return language.Base{}, false
	}
	base, conf := tag.Base()
	return base, conf != language.No
}
