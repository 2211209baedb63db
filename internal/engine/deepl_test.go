package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/glossary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepLAdapter_Translate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DeepL-Auth-Key secret", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, []string{"Hello", "World"}, r.PostForm["text"])
		assert.Equal(t, "ZH", r.PostForm.Get("target_lang"))
		assert.Equal(t, "EN", r.PostForm.Get("source_lang"))
		assert.Contains(t, r.PostForm.Get("context"), "Before line")
		assert.Contains(t, r.PostForm.Get("context"), "Terminology: World = 世界")

		_, _ = w.Write([]byte(`{"translations":[{"text":"你好"},{"text":"世界"}]}`))
	}))
	defer server.Close()

	a := NewDeepLAdapter("deepl", server.URL, "secret", time.Second)
	out, err := a.Translate(context.Background(), Request{
		SourceLang:    "en-US",
		TargetLang:    "zh",
		Lines:         []string{"Hello", "World"},
		ContextBefore: []string{"Before line"},
		Constraints:   []glossary.Entry{{SourceTerm: "World", TargetTerm: "世界"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"你好", "世界"}, out)
}

func TestDeepLAdapter_ErrorClassification(t *testing.T) {
	status := http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	a := NewDeepLAdapter("deepl", server.URL, "secret", time.Second)
	req := Request{TargetLang: "de", Lines: []string{"x"}}

	_, err := a.Translate(context.Background(), req)
	assert.Equal(t, failure.KindTransientBackend, failure.KindOf(err))

	status = 456 // quota exceeded
	_, err = a.Translate(context.Background(), req)
	assert.Equal(t, failure.KindPermanentBackend, failure.KindOf(err))

	_, err = NewDeepLAdapter("deepl", server.URL, "", time.Second).Translate(context.Background(), req)
	assert.Equal(t, failure.KindPermanentBackend, failure.KindOf(err))
}

func TestDeepLLangCode(t *testing.T) {
	assert.Equal(t, "EN-US", deeplLangCode("en", true))
	assert.Equal(t, "EN", deeplLangCode("en-GB", false))
	assert.Equal(t, "PT-BR", deeplLangCode("pt", true))
	assert.Equal(t, "JA", deeplLangCode("ja", true))
}
