package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/subtrans/internal/glossary"
	"github.com/MimeLyc/subtrans/internal/llm"
	"github.com/MimeLyc/subtrans/pkg/log"
)

const inlineBreakerPlaceholder = "%%inline_breaker%%"

// Completer is the part of llm.Client the chat adapter needs.
type Completer interface {
	SimpleChat(ctx context.Context, prompt string, opts *llm.ChatCompletionOptions) (string, error)
}

// ChatAdapter translates through an OpenAI-compatible chat endpoint using an
// indexed JSON line protocol.
type ChatAdapter struct {
	name   string
	family Family
	client Completer
}

func NewChatAdapter(name string, client Completer) *ChatAdapter {
	return &ChatAdapter{name: name, family: FamilyCloud, client: client}
}

// NewLocalAdapter is a chat adapter for a self-hosted model server.
func NewLocalAdapter(name string, client Completer) *ChatAdapter {
	return &ChatAdapter{name: name, family: FamilyLocal, client: client}
}

func (a *ChatAdapter) Name() string   { return a.name }
func (a *ChatAdapter) Family() Family { return a.family }

func (a *ChatAdapter) Translate(ctx context.Context, req Request) ([]string, error) {
	if len(req.Lines) == 0 {
		return []string{}, nil
	}

	source := make([]string, len(req.Lines))
	for i, line := range req.Lines {
		source[i] = strings.ReplaceAll(line, "\n", inlineBreakerPlaceholder)
	}

	userMessage, err := buildTranslationUserMessage(source, req.ContextBefore, req.ContextAfter)
	if err != nil {
		return nil, Permanent(a.name, err)
	}

	opts := llm.NewChatCompletionOptions().
		WithSystemPrompt(buildContextPrompt(req.SourceLang, req.TargetLang, req.Constraints)).
		WithJSONMode(true)

	content, err := a.client.SimpleChat(ctx, userMessage, opts)
	if err != nil {
		return nil, Classify(a.name, err)
	}

	translated, err := parseTranslationOutput(content, len(source))
	if err != nil {
		// malformed model output usually succeeds on a second attempt
		return nil, Transient(a.name, err)
	}

	fixInlineBreakers(source, translated)
	if err := validateTermMappings(source, translated, req.Constraints); err != nil {
		log.Warn("[%s] %v", a.name, err)
	}

	for i := range translated {
		translated[i] = strings.ReplaceAll(translated[i], inlineBreakerPlaceholder, "\n")
	}
	return translated, nil
}

type indexedLine struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type translationPayload struct {
	ContextBefore []string      `json:"context_before,omitempty"`
	Lines         []indexedLine `json:"lines"`
	ContextAfter  []string      `json:"context_after,omitempty"`
}

// buildTranslationUserMessage numbers the lines from 1 so the model can echo indexes back.
func buildTranslationUserMessage(lines, before, after []string) (string, error) {
	payload := translationPayload{
		ContextBefore: before,
		ContextAfter:  after,
		Lines:         make([]indexedLine, len(lines)),
	}
	for i, line := range lines {
		payload.Lines[i] = indexedLine{Index: i + 1, Text: line}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal translation payload: %w", err)
	}
	return string(data), nil
}

func buildContextPrompt(sourceLang, targetLang string, constraints []glossary.Entry) string {
	if sourceLang == "" || sourceLang == "auto" {
		sourceLang = "the detected source language"
	}

	var prompt strings.Builder
	prompt.WriteString("You are a professional subtitle translator. Translate subtitles from " + sourceLang + " to " + targetLang + ".\n\n")

	prompt.WriteString("=== INPUT ===\n")
	prompt.WriteString("A JSON object with \"lines\" (objects with index and text) to translate. ")
	prompt.WriteString("\"context_before\" and \"context_after\" are neighbouring subtitles for reference only; never translate or return them.\n")

	if len(constraints) > 0 {
		prompt.WriteString("\n=== TERM MAPPINGS ===\n")
		for _, c := range constraints {
			prompt.WriteString("- " + c.SourceTerm + " => " + c.TargetTerm)
			if c.ContextHint != "" {
				prompt.WriteString(" (" + c.ContextHint + ")")
			}
			prompt.WriteString("\n")
		}
		prompt.WriteString("When a mapped source term appears, you MUST use the mapped target term exactly.\n")
		prompt.WriteString("Priority: TERM MAPPINGS > official localized names > transliteration.\n")
	}

	prompt.WriteString("\n=== HARD RULES ===\n")
	prompt.WriteString("1. Do NOT merge, split, reorder, or drop lines. Return every index exactly once.\n")
	prompt.WriteString("2. You MUST preserve the count of " + inlineBreakerPlaceholder + " markers in each line.\n")
	prompt.WriteString("3. Tokens like %%sw_0%% are placeholders. Copy them unchanged.\n")
	prompt.WriteString("4. Do NOT output literal newline characters in JSON text.\n")
	prompt.WriteString("5. If an input line is empty, output text for that index MUST be an empty string.\n")
	prompt.WriteString("6. Keep subtitle length appropriate for screen reading.\n")

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY a JSON object: {\"lines\": [{\"index\": 1, \"text\": \"...\"}, ...]}. No explanations.\n")

	return prompt.String()
}

// parseTranslationOutput accepts {"lines":[...]}, a bare [{"index","text"}] array
// or a plain string array, optionally wrapped in prose or a code fence.
func parseTranslationOutput(content string, expected int) ([]string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty translation output")
	}

	for _, candidate := range jsonCandidates(content) {
		out, err := decodeTranslation(candidate, expected)
		if err == nil {
			return out, nil
		}
		if _, ok := err.(*contractError); ok {
			return nil, err
		}
	}
	return nil, fmt.Errorf("translation output is not valid json")
}

// contractError is well-formed JSON that breaks the line contract.
type contractError struct{ msg string }

func (e *contractError) Error() string { return e.msg }

func decodeTranslation(raw string, expected int) ([]string, error) {
	var wrapped struct {
		Lines        json.RawMessage `json:"lines"`
		Translations json.RawMessage `json:"translations"`
	}
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, err
		}
		switch {
		case len(wrapped.Lines) > 0:
			raw = string(wrapped.Lines)
		case len(wrapped.Translations) > 0:
			raw = string(wrapped.Translations)
		default:
			return nil, &contractError{msg: "json object has no lines"}
		}
	}

	var indexed []indexedLine
	if err := json.Unmarshal([]byte(raw), &indexed); err == nil && indexedShape(raw) {
		return orderIndexed(indexed, expected)
	}

	var plain []string
	if err := json.Unmarshal([]byte(raw), &plain); err != nil {
		return nil, err
	}
	if len(plain) != expected {
		return nil, &contractError{msg: fmt.Sprintf("translation count mismatch: got %d, want %d", len(plain), expected)}
	}
	return plain, nil
}

func indexedShape(raw string) bool {
	var probe []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return false
	}
	for _, item := range probe {
		if _, ok := item["index"]; !ok {
			return false
		}
	}
	return true
}

func orderIndexed(items []indexedLine, expected int) ([]string, error) {
	if len(items) != expected {
		return nil, &contractError{msg: fmt.Sprintf("translation count mismatch: got %d, want %d", len(items), expected)}
	}
	out := make([]string, expected)
	seen := make(map[int]bool, expected)
	for _, item := range items {
		if item.Index < 1 || item.Index > expected {
			return nil, &contractError{msg: fmt.Sprintf("translation index %d out of range", item.Index)}
		}
		if seen[item.Index] {
			return nil, &contractError{msg: fmt.Sprintf("duplicate translation index %d", item.Index)}
		}
		seen[item.Index] = true
		out[item.Index-1] = item.Text
	}
	return out, nil
}

// jsonCandidates yields the raw text, a fenced block, then the outermost JSON value.
func jsonCandidates(content string) []string {
	candidates := []string{content}

	if idx := strings.Index(content, "```"); idx >= 0 {
		inner := content[idx+3:]
		// skip language tag on the same line (e.g., ```json)
		if nl := strings.Index(inner, "\n"); nl >= 0 {
			inner = inner[nl+1:]
		}
		if end := strings.Index(inner, "```"); end >= 0 {
			inner = inner[:end]
		}
		candidates = append(candidates, strings.TrimSpace(inner))
	}

	if extracted := extractJSONValue(content); extracted != "" {
		candidates = append(candidates, extracted)
	}
	return candidates
}

// extractJSONValue finds the first balanced {...} or [...] block in s.
func extractJSONValue(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// fixInlineBreakers makes each translated line carry as many inline breakers as its source.
func fixInlineBreakers(source, translated []string) {
	for i := range translated {
		if i >= len(source) {
			return
		}
		want := strings.Count(source[i], inlineBreakerPlaceholder)
		got := strings.Count(translated[i], inlineBreakerPlaceholder)
		if want == got {
			continue
		}

		text := strings.ReplaceAll(translated[i], inlineBreakerPlaceholder, "")
		if want == 0 {
			translated[i] = text
			continue
		}

		runes := []rune(text)
		parts := want + 1
		var b strings.Builder
		for p := 0; p < parts; p++ {
			lo := p * len(runes) / parts
			hi := (p + 1) * len(runes) / parts
			if p > 0 {
				b.WriteString(inlineBreakerPlaceholder)
			}
			b.WriteString(string(runes[lo:hi]))
		}
		translated[i] = b.String()
	}
}

// validateTermMappings reports mapped terms present in a source line whose
// target term is missing from the translation.
func validateTermMappings(source, translated []string, constraints []glossary.Entry) error {
	var missing []string
	for i, line := range source {
		if i >= len(translated) {
			break
		}
		for _, c := range glossary.Match(constraints, []string{line}) {
			if !strings.Contains(translated[i], c.TargetTerm) {
				missing = append(missing, fmt.Sprintf("line %d: %s => %s", i+1, c.SourceTerm, c.TargetTerm))
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("term mappings not applied: %s", strings.Join(missing, "; "))
}
