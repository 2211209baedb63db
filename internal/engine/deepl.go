package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MimeLyc/subtrans/internal/llm"
)

// DeepLAdapter translates through the DeepL v2 form API. Context lines go in
// the "context" parameter, which DeepL uses for coherence without translating it.
type DeepLAdapter struct {
	name       string
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewDeepLAdapter(name, endpoint, apiKey string, timeout time.Duration) *DeepLAdapter {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &DeepLAdapter{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (d *DeepLAdapter) Name() string   { return d.name }
func (d *DeepLAdapter) Family() Family { return FamilyCloud }

func (d *DeepLAdapter) Translate(ctx context.Context, req Request) ([]string, error) {
	if d.apiKey == "" {
		return nil, Permanent(d.name, fmt.Errorf("DeepL API key not configured"))
	}
	if len(req.Lines) == 0 {
		return []string{}, nil
	}

	form := url.Values{}
	for _, line := range req.Lines {
		form.Add("text", line)
	}
	form.Set("target_lang", deeplLangCode(req.TargetLang, true))
	if req.SourceLang != "" && req.SourceLang != "auto" {
		form.Set("source_lang", deeplLangCode(req.SourceLang, false))
	}
	form.Set("preserve_formatting", "1")
	form.Set("split_sentences", "nonewlines")
	if c := deeplContext(req); c != "" {
		form.Set("context", c)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, Permanent(d.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "DeepL-Auth-Key "+d.apiKey)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, Classify(d.name, &llm.TransportError{Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(d.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, Classify(d.name, &llm.StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var deeplResp struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}
	if err := json.Unmarshal(body, &deeplResp); err != nil {
		return nil, Transient(d.name, fmt.Errorf("parse response: %w", err))
	}
	if len(deeplResp.Translations) != len(req.Lines) {
		return nil, Transient(d.name, fmt.Errorf("translation count mismatch: got %d, want %d",
			len(deeplResp.Translations), len(req.Lines)))
	}

	out := make([]string, len(req.Lines))
	for i, t := range deeplResp.Translations {
		out[i] = t.Text
	}
	return out, nil
}

func deeplContext(req Request) string {
	var parts []string
	parts = append(parts, req.ContextBefore...)
	parts = append(parts, req.ContextAfter...)
	if len(req.Constraints) > 0 {
		terms := make([]string, 0, len(req.Constraints))
		for _, c := range req.Constraints {
			terms = append(terms, c.SourceTerm+" = "+c.TargetTerm)
		}
		parts = append(parts, "Terminology: "+strings.Join(terms, "; "))
	}
	return strings.Join(parts, "\n")
}

// deeplLangCode converts ISO 639-1 codes to DeepL format. Some target codes need a variant.
func deeplLangCode(code string, target bool) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if target {
		switch code {
		case "en":
			return "EN-US"
		case "pt":
			return "PT-BR"
		}
	}
	return strings.ToUpper(code)
}
