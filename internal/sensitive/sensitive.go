// Package sensitive hides sensitive words from translation backends behind
// placeholder tokens and puts them back afterwards.
package sensitive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Source supplies the active sensitive word list.
type Source interface {
	Words(ctx context.Context) ([]string, error)
}

var placeholderRe = regexp.MustCompile(`%%sw_\d+%%`)

// Matcher finds sensitive words case-insensitively, longest word first.
// A nil or empty Matcher matches nothing.
type Matcher struct {
	re *regexp.Regexp
	// mask also matches literal placeholders already present in the text
	mask *regexp.Regexp
	n    int
}

func NewMatcher(words []string) *Matcher {
	uniq := make(map[string]bool)
	var cleaned []string
	for _, w := range words {
		w = strings.TrimSpace(w)
		key := strings.ToLower(w)
		if w == "" || uniq[key] {
			continue
		}
		uniq[key] = true
		cleaned = append(cleaned, w)
	}
	if len(cleaned) == 0 {
		return &Matcher{}
	}

	sort.Slice(cleaned, func(i, j int) bool {
		if len(cleaned[i]) != len(cleaned[j]) {
			return len(cleaned[i]) > len(cleaned[j])
		}
		return cleaned[i] < cleaned[j]
	})
	quoted := make([]string, len(cleaned))
	for i, w := range cleaned {
		quoted[i] = regexp.QuoteMeta(w)
	}
	alternation := strings.Join(quoted, "|")
	return &Matcher{
		re:   regexp.MustCompile(`(?i)(?:` + alternation + `)`),
		mask: regexp.MustCompile(`(?i)(?:` + placeholderRe.String() + `|` + alternation + `)`),
		n:    len(cleaned),
	}
}

// Len reports how many distinct words the matcher knows.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return m.n
}

// Contains reports whether text holds any sensitive word.
func (m *Matcher) Contains(text string) bool {
	return m != nil && m.re != nil && m.re.MatchString(text)
}

// NewMasker starts a masking session. Tokens are stable within a session:
// the same surface form always maps to the same placeholder.
func (m *Matcher) NewMasker() *Masker {
	return &Masker{
		matcher: m,
		byWord:  make(map[string]string),
		byToken: make(map[string]string),
	}
}

// Masker replaces sensitive words with %%sw_N%% placeholders.
type Masker struct {
	matcher *Matcher
	byWord  map[string]string
	byToken map[string]string
}

// Mask replaces sensitive words with placeholders. Text that already looks
// like a placeholder is masked too, so Restore gives it back verbatim.
func (k *Masker) Mask(text string) string {
	re := placeholderRe
	if k.matcher != nil && k.matcher.mask != nil {
		re = k.matcher.mask
	}
	return re.ReplaceAllStringFunc(text, func(word string) string {
		if token, ok := k.byWord[word]; ok {
			return token
		}
		token := fmt.Sprintf("%%%%sw_%d%%%%", len(k.byWord))
		k.byWord[word] = token
		k.byToken[token] = word
		return token
	})
}

func (k *Masker) MaskAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = k.Mask(t)
	}
	return out
}

// Restore puts the original words back. Unknown tokens are left untouched.
func (k *Masker) Restore(text string) string {
	if len(k.byToken) == 0 {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(token string) string {
		if word, ok := k.byToken[token]; ok {
			return word
		}
		return token
	})
}

// Masked reports how many distinct words were replaced so far.
func (k *Masker) Masked() int {
	return len(k.byToken)
}

// Missing lists placeholders present in masked that translated dropped.
func Missing(masked, translated string) []string {
	var missing []string
	for _, token := range placeholderRe.FindAllString(masked, -1) {
		if !strings.Contains(translated, token) {
			missing = append(missing, token)
		}
	}
	return missing
}

// ReadWords reads one word per line; blank lines and lines starting with # are skipped.
func ReadWords(r io.Reader) ([]string, error) {
	var words []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sensitive words: %w", err)
	}
	return words, nil
}

// StaticSource serves a fixed list.
type StaticSource []string

func (s StaticSource) Words(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// CachedMatcher rebuilds its Matcher only when the Source's word list changes.
type CachedMatcher struct {
	source Source

	mu      sync.Mutex
	key     string
	matcher *Matcher
}

func NewCachedMatcher(source Source) *CachedMatcher {
	return &CachedMatcher{source: source}
}

func (c *CachedMatcher) Matcher(ctx context.Context) (*Matcher, error) {
	if c == nil || c.source == nil {
		return NewMatcher(nil), nil
	}
	words, err := c.source.Words(ctx)
	if err != nil {
		return nil, err
	}
	sorted := append([]string(nil), words...)
	sort.Strings(sorted)
	key := strings.Join(sorted, "\x00")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.matcher == nil || key != c.key {
		c.matcher = NewMatcher(words)
		c.key = key
	}
	return c.matcher, nil
}
