package glossary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/text/language"
)

// Filename returns the glossary filename for a language pair, e.g. "term_map.en-zh.json".
// Uses 2-letter language base codes.
func Filename(sourceLang, targetLang string) string {
	src := NormalizeLanguageCode(sourceLang)
	tgt := NormalizeLanguageCode(targetLang)
	return "term_map." + src + "-" + tgt + ".json"
}

// FindInAncestors walks up from startDir looking for a glossary file for the pair.
// Returns the first found path or empty string.
func FindInAncestors(startDir, sourceLang, targetLang string) string {
	filename := Filename(sourceLang, targetLang)
	currentDir := startDir

	for {
		candidate := filepath.Join(currentDir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	return ""
}

// Load reads a glossary JSON file. Both a list of entries and a flat
// {"source": "target"} object are accepted.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func Decode(data []byte) ([]Entry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode glossary entries: %w", err)
		}
		return entries, nil
	}

	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("decode glossary map: %w", err)
	}
	entries := make([]Entry, 0, len(flat))
	for src, tgt := range flat {
		entries = append(entries, Entry{SourceTerm: src, TargetTerm: tgt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SourceTerm < entries[j].SourceTerm })
	return entries, nil
}

// Save writes entries as an indented JSON list.
func Save(path string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// NormalizeLanguageCode parses a language string and returns its 2-letter base code.
func NormalizeLanguageCode(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	base, _ := tag.Base()
	return base.String()
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (s *MemoryStore) Put(ref string, entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ref] = append([]Entry(nil), entries...)
}

func (s *MemoryStore) Entries(_ context.Context, ref string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.entries[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return append([]Entry(nil), entries...), nil
}
