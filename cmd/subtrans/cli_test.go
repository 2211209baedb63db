package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:02,000
Hello there

2
00:00:03,000 --> 00:00:04,000
General Kenobi

3
00:00:05,000 --> 00:00:06,000
You are a bold one
`

func setupCLIEnv(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("ENV_FILE", filepath.Join(dataDir, "missing.env"))
	t.Setenv("SETTINGS_FILE", filepath.Join(dataDir, "settings.json"))
	t.Setenv("JWT_SECRET", "cli-test-secret")
	t.Setenv("NTFY_TOPIC", "")
	t.Setenv("LOG_LEVEL", "error")
	return dataDir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGlossaryCommands(t *testing.T) {
	dataDir := setupCLIEnv(t)
	path := filepath.Join(dataDir, "terms.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Kenobi":"克诺比","Jedi":"绝地"}`), 0o644))

	out, err := runCLI(t, "glossary", "import", "starwars", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 entries into starwars")

	out, err = runCLI(t, "glossary", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "starwars")
	assert.Contains(t, out, "REF")

	out, err = runCLI(t, "glossary", "delete", "starwars")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted glossary starwars")

	_, err = runCLI(t, "glossary", "delete", "starwars")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSensitiveCommands(t *testing.T) {
	dataDir := setupCLIEnv(t)
	path := filepath.Join(dataDir, "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\n\nbeta\nalpha\n"), 0o644))

	out, err := runCLI(t, "sensitive", "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Added 2 of")

	out, err = runCLI(t, "sensitive", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "beta")

	_, err = runCLI(t, "sensitive", "remove", "alpha")
	require.NoError(t, err)
	_, err = runCLI(t, "sensitive", "remove", "alpha")
	require.Error(t, err)
}

func TestJobsList(t *testing.T) {
	dataDir := setupCLIEnv(t)
	store, err := persistence.NewSQLiteStore(filepath.Join(dataDir, "subtrans.db"))
	require.NoError(t, err)

	now := time.Now().UTC()
	ctx := context.Background()
	require.NoError(t, store.UpsertJob(ctx, &jobs.TranslationJob{
		ID: "job-done", Status: jobs.StatusCompleted, Filename: "a.srt",
		SourceLang: "en", TargetLang: "zh", CreatedAt: now, UpdatedAt: now,
		Chunks: []jobs.ChunkStatus{{Sequence: 0, State: jobs.ChunkDone}},
	}))
	require.NoError(t, store.UpsertJob(ctx, &jobs.TranslationJob{
		ID: "job-failed", Status: jobs.StatusFailed, Filename: "b.srt",
		TargetLang: "de", CreatedAt: now.Add(time.Second), UpdatedAt: now,
	}))
	require.NoError(t, store.Close())

	out, err := runCLI(t, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "job-done")
	assert.Contains(t, out, "job-failed")
	assert.Contains(t, out, "en -> zh")
	assert.Contains(t, out, "- -> de")
	assert.Less(t, strings.Index(out, "job-failed"), strings.Index(out, "job-done"))

	out, err = runCLI(t, "jobs", "list", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, "job-done")
	assert.NotContains(t, out, "job-failed")
}

func TestTokenCommand(t *testing.T) {
	setupCLIEnv(t)
	out, err := runCLI(t, "token", "alice", "--role", "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out), "."))
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	setupCLIEnv(t)
	out, err := runCLI(t, "test-notify")
	require.NoError(t, err)
	assert.Contains(t, out, "NTFY_TOPIC is not set")
}

func fakeDeepL(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !assert.NoError(t, r.ParseForm()) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		type translation struct {
			Text string `json:"text"`
		}
		var resp struct {
			Translations []translation `json:"translations"`
		}
		for _, text := range r.PostForm["text"] {
			resp.Translations = append(resp.Translations, translation{Text: strings.ToUpper(text)})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func translateConfig(endpoint string) *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			ChunkSize:     2,
			ContextWindow: 1,
			MaxRetries:    1,
			CallTimeout:   5 * time.Second,
			Workers:       2,
			JobWorkers:    1,
			DefaultEngine: "deepl",
			StartOrder:    "non_decreasing",
		},
		Engines: map[string]config.EngineConfig{
			"deepl": {Kind: config.EngineKindDeepL, Endpoint: endpoint, APIKey: "test"},
		},
	}
}

func TestRunTranslate_WritesTranslatedFile(t *testing.T) {
	var calls atomic.Int32
	server := fakeDeepL(t, &calls)

	dir := t.TempDir()
	input := filepath.Join(dir, "episode.srt")
	require.NoError(t, os.WriteFile(input, []byte(sampleSRT), 0o644))
	glossaryPath := filepath.Join(dir, "terms.json")
	require.NoError(t, os.WriteFile(glossaryPath, []byte(`[{"source_term":"Kenobi","target_term":"Kenobi"}]`), 0o644))

	var progress bytes.Buffer
	err := runTranslate(context.Background(), translateConfig(server.URL), input, translateOptions{
		source:   "en",
		target:   "de",
		glossary: glossaryPath,
	}, &progress)
	require.NoError(t, err)

	out := filepath.Join(dir, "episode.de.srt")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "HELLO THERE")
	assert.Contains(t, string(data), "GENERAL KENOBI")
	assert.Contains(t, string(data), "3\n00:00:05,000 --> 00:00:06,000\nYOU ARE A BOLD ONE")
	assert.EqualValues(t, 2, calls.Load())
	assert.Contains(t, progress.String(), "2/2 chunks")
	assert.Contains(t, progress.String(), "Wrote "+out)
}

func TestRunTranslate_RejectsMalformedInput(t *testing.T) {
	var calls atomic.Int32
	server := fakeDeepL(t, &calls)

	dir := t.TempDir()
	input := filepath.Join(dir, "broken.srt")
	require.NoError(t, os.WriteFile(input, []byte("1\nnot a timestamp\nHello\n"), 0o644))

	err := runTranslate(context.Background(), translateConfig(server.URL), input, translateOptions{
		source: "en",
		target: "de",
		out:    filepath.Join(dir, "out.srt"),
	}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Zero(t, calls.Load())
	assert.NoFileExists(t, filepath.Join(dir, "out.srt"))
}
