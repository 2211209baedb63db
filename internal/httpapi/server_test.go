package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MimeLyc/subtrans/internal/auth"
	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/engine"
	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/internal/notify"
	"github.com/MimeLyc/subtrans/internal/persistence"
	"github.com/MimeLyc/subtrans/internal/pipeline"
	"github.com/MimeLyc/subtrans/internal/sensitive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:02,000
Hello there

2
00:00:03,000 --> 00:00:04,500
General Kenobi
`

type upperAdapter struct{}

func (upperAdapter) Name() string          { return "fake" }
func (upperAdapter) Family() engine.Family { return engine.FamilyCloud }

func (upperAdapter) Translate(_ context.Context, req engine.Request) ([]string, error) {
	out := make([]string, len(req.Lines))
	for i, line := range req.Lines {
		out[i] = strings.ToUpper(line)
	}
	return out, nil
}

type fixedRouter struct{}

func (fixedRouter) Resolve(_, _, requested string) (engine.Adapter, error) {
	if requested != "" && requested != "fake" {
		return nil, engine.Permanent(requested, errors.New("engine is not configured"))
	}
	return upperAdapter{}, nil
}

type fakeSettingsStore struct {
	current config.RuntimeSettings
}

func (f *fakeSettingsStore) GetRuntimeSettings() config.RuntimeSettings {
	return f.current
}

func (f *fakeSettingsStore) UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error) {
	f.current = next
	return f.current, nil
}

type testEnv struct {
	server *Server
	tokens *auth.JWTService
	store  *persistence.SQLiteStore
}

func newTestEnv(t *testing.T, notifyCfg config.NotifyConfig, withAuth bool) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := persistence.NewSQLiteStore(filepath.Join(dir, "subtrans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if notifyCfg.DownloadBaseURL == "" {
		notifyCfg.DownloadBaseURL = "http://localhost/api/downloads"
	}
	broker := notify.NewBroker(64)
	notifier := notify.New(notifyCfg, broker)

	cfg := config.PipelineConfig{ChunkSize: 1, MaxRetries: 1, Workers: 2, CallTimeout: time.Second}
	tracker := jobs.NewTracker(1, store, jobs.WithObserver(notifier))
	runner, err := pipeline.NewRunner(cfg, pipeline.RunnerDeps{
		Tracker:    tracker,
		Router:     fixedRouter{},
		Executor:   pipeline.NewExecutor(cfg),
		Glossaries: store,
		Sensitive:  sensitive.NewCachedMatcher(store),
		ResultsDir: filepath.Join(dir, "results"),
	})
	require.NoError(t, err)
	tracker.Start(runner.Run)
	t.Cleanup(tracker.Stop)

	service := pipeline.NewService(tracker, runner, pipeline.RoleAuthorizer{})

	env := &testEnv{store: store}
	opts := []Option{
		WithRuntimeSettingsStore(&fakeSettingsStore{current: config.RuntimeSettings{
			DefaultEngine: "fake", RetentionCron: "0 3 * * *", RetentionDays: 7, StartOrder: "non_decreasing",
		}}),
		WithGlossaryStore(store),
		WithSensitiveWordStore(store),
	}
	if withAuth {
		env.tokens, err = auth.NewJWTService("test-secret", time.Hour)
		require.NoError(t, err)
		opts = append(opts, WithAuth(env.tokens))
	}
	env.server = NewServer(service, notifier, broker, opts...)
	return env
}

func (e *testEnv) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := e.tokens.GenerateToken(subject, role)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) submit(t *testing.T, header map[string]string, body map[string]any) jobView {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := e.do(t, http.MethodPost, "/api/jobs", raw, header)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var view jobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view
}

func (e *testEnv) waitTerminal(t *testing.T, id string, header map[string]string) jobView {
	t.Helper()
	var view jobView
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/api/jobs/"+id, nil, header)
		if rec.Code != http.StatusOK {
			return false
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &view)
		return view.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return view
}

func TestServer_SubmitAndDownload(t *testing.T) {
	env := newTestEnv(t, config.NotifyConfig{}, false)

	view := env.submit(t, nil, map[string]any{
		"filename":    "episode.srt",
		"content":     sampleSRT,
		"source_lang": "en",
		"target_lang": "zh",
	})
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "local", view.Owner)

	done := env.waitTerminal(t, view.ID, nil)
	require.Equal(t, jobs.StatusCompleted, done.Status)
	assert.InDelta(t, 1.0, done.Progress, 1e-9)
	assert.Equal(t, 2, done.Chunks.Done)
	assert.Equal(t, "http://localhost/api/downloads/"+view.ID+".srt", done.DownloadURL)
	require.NotNil(t, done.ExpiresAt)

	rec := env.do(t, http.MethodGet, "/api/jobs/"+view.ID+"/output", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-subrip; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "episode.zh.srt")
	assert.Contains(t, rec.Body.String(), "HELLO THERE")
	assert.Contains(t, rec.Body.String(), "00:00:03,000 --> 00:00:04,500")

	rec = env.do(t, http.MethodGet, "/api/downloads/"+view.ID+".srt", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "GENERAL KENOBI")

	rec = env.do(t, http.MethodGet, "/api/downloads/nope.srt", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs/"+view.ID+"/detail?limit=1&offset=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail jobDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Len(t, detail.ChunkStates, 2)
	assert.Equal(t, 2, detail.PreviewTotal)
	require.Len(t, detail.Preview, 1)
	assert.Equal(t, "GENERAL KENOBI", detail.Preview[0].TranslatedText)
	assert.Equal(t, 1, detail.Preview[0].Chunk)

	rec = env.do(t, http.MethodDelete, "/api/jobs/"+view.ID, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs?status=completed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []jobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestServer_ExpiredDownloadLink(t *testing.T) {
	env := newTestEnv(t, config.NotifyConfig{URLExpiry: time.Nanosecond}, false)

	view := env.submit(t, nil, map[string]any{"content": sampleSRT, "target_lang": "zh"})
	done := env.waitTerminal(t, view.ID, nil)
	require.Equal(t, jobs.StatusCompleted, done.Status)

	rec := env.do(t, http.MethodGet, "/api/downloads/"+view.ID+".srt", nil, nil)
	assert.Equal(t, http.StatusGone, rec.Code)

	// the authenticated output route does not expire
	rec = env.do(t, http.MethodGet, "/api/jobs/"+view.ID+"/output", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_SubmitRejectsMalformedInput(t *testing.T) {
	env := newTestEnv(t, config.NotifyConfig{}, false)

	bad := "1\n00:00:01,000 --> 00:00:02,000\nfine\n\n2\n00:00:05,000 --> 00:00:04,000\nbackwards\n"
	raw, _ := json.Marshal(map[string]any{"content": bad, "target_lang": "zh"})
	rec := env.do(t, http.MethodPost, "/api/jobs", raw, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Cause failure.Cause `json:"cause"`
		Job   jobView       `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "FormatError", body.Cause.Kind)
	assert.Equal(t, 6, body.Cause.Line)
	assert.Equal(t, 2, body.Cause.Entry)
	assert.Equal(t, jobs.StatusFailed, body.Job.Status)

	raw, _ = json.Marshal(map[string]any{"content": "", "target_lang": "zh"})
	rec = env.do(t, http.MethodPost, "/api/jobs", raw, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "EmptyInputError")

	raw, _ = json.Marshal(map[string]any{"content": sampleSRT})
	rec = env.do(t, http.MethodPost, "/api/jobs", raw, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	raw, _ = json.Marshal(map[string]any{"content": sampleSRT, "target_lang": "zh", "engine": "other"})
	rec = env.do(t, http.MethodPost, "/api/jobs", raw, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	raw, _ = json.Marshal(map[string]any{"content": sampleSRT, "target_lang": "zh", "glossary": "missing"})
	rec = env.do(t, http.MethodPost, "/api/jobs", raw, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/jobs", []byte("{"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_MultipartUpload(t *testing.T) {
	env := newTestEnv(t, config.NotifyConfig{}, false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "movie.srt")
	require.NoError(t, err)
	_, err = part.Write([]byte(sampleSRT))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("target_lang", "fr"))
	require.NoError(t, mw.Close())

	rec := env.do(t, http.MethodPost, "/api/jobs", buf.Bytes(), map[string]string{"Content-Type": mw.FormDataContentType()})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var view jobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "movie.srt", view.Filename)
	assert.Equal(t, "fr", view.TargetLang)
}

func TestServer_Authentication(t *testing.T) {
	env := newTestEnv(t, config.NotifyConfig{}, true)
	alice := map[string]string{"Authorization": "Bearer " + env.token(t, "alice", auth.RoleUser)}
	bob := map[string]string{"Authorization": "Bearer " + env.token(t, "bob", auth.RoleUser)}
	admin := map[string]string{"Authorization": "Bearer " + env.token(t, "root", auth.RoleAdmin)}

	rec := env.do(t, http.MethodGet, "/api/jobs", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/jobs", nil, map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/jobs", nil, map[string]string{"Authorization": "Bearer abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	view := env.submit(t, alice, map[string]any{"content": sampleSRT, "target_lang": "zh"})
	assert.Equal(t, "alice", view.Owner)

	rec = env.do(t, http.MethodGet, "/api/jobs/"+view.ID, nil, bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/jobs/"+view.ID, nil, admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs", nil, bob)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/jobs/"+view.ID+"?access_token="+env.token(t, "alice", auth.RoleUser), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/settings", nil, alice)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/settings", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"default_engine":"fake"`)
}

func TestServer_Settings(t *testing.T) {
	env := newTestEnv(t, config.NotifyConfig{}, false)
	var applied []config.RuntimeSettings
	WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
		applied = append(applied, next)
		return nil
	})(env.server)

	raw := []byte(`{"default_engine":"fake","retention_cron":"0 4 * * *","retention_days":3,"partial_delivery":true,"start_order":"strict"}`)
	rec := env.do(t, http.MethodPut, "/api/settings", raw, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, applied, 1)
	assert.Equal(t, "0 4 * * *", applied[0].RetentionCron)
	assert.True(t, applied[0].PartialDelivery)

	rec = env.do(t, http.MethodPut, "/api/settings", []byte(`{"default_engine":"fake","retention_cron":"bad","retention_days":3,"start_order":"strict"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, applied, 1)
}

func TestServer_GlossaryAndSensitiveWords(t *testing.T) {
	env := newTestEnv(t, config.NotifyConfig{}, false)

	rec := env.do(t, http.MethodPut, "/api/glossaries/show", []byte(`{"Kenobi": "克诺比"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/glossaries/show", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "克诺比")

	rec = env.do(t, http.MethodGet, "/api/glossaries", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ref":"show"`)

	rec = env.do(t, http.MethodGet, "/api/glossaries/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	view := env.submit(t, nil, map[string]any{"content": sampleSRT, "target_lang": "zh", "glossary": "show"})
	assert.Equal(t, "show", view.GlossaryRef)

	rec = env.do(t, http.MethodPost, "/api/sensitive-words", []byte("Kenobi\n# comment\nHello\n"),
		map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"added":2}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/sensitive-words", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["Hello","Kenobi"]`, rec.Body.String())

	rec = env.do(t, http.MethodDelete, "/api/sensitive-words/Hello", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/sensitive-words/Hello", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/glossaries/show", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_JobStream(t *testing.T) {
	env := newTestEnv(t, config.NotifyConfig{}, false)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/jobs/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "" && event != "":
				return event, data
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	event, data := next()
	assert.Equal(t, "snapshot", event)
	assert.Equal(t, "[]", data)

	view := env.submit(t, nil, map[string]any{"content": sampleSRT, "target_lang": "zh"})

	for {
		event, data = next()
		var ev notify.Event
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		assert.Equal(t, view.ID, ev.JobID)
		if event == "job_terminal" {
			assert.Equal(t, jobs.StatusCompleted, ev.Status)
			assert.NotEmpty(t, ev.DownloadURL)
			return
		}
		assert.Equal(t, "job_progress", event)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind failure.Kind
		want int
	}{
		{failure.KindFormat, http.StatusBadRequest},
		{failure.KindEmptyInput, http.StatusBadRequest},
		{failure.KindNotFound, http.StatusNotFound},
		{failure.KindForbidden, http.StatusForbidden},
		{failure.KindConflict, http.StatusConflict},
		{failure.KindPermanentBackend, http.StatusUnprocessableEntity},
		{failure.KindTransientBackend, http.StatusServiceUnavailable},
		{failure.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(failure.New(tt.kind, "x")))
		})
	}
}

func TestCORSOptions(t *testing.T) {
	assert.False(t, corsOptions(nil).AllowCredentials)
	assert.Equal(t, []string{"*"}, corsOptions(nil).AllowedOrigins)
	assert.True(t, corsOptions([]string{"https://app.example"}).AllowCredentials)
}
