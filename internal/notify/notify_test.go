package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ntfyRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func ntfyServer(t *testing.T, status int) (*httptest.Server, func() []ntfyRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []ntfyRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, ntfyRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []ntfyRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]ntfyRequest(nil), seen...)
	}
}

func completedJob() *jobs.TranslationJob {
	done := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &jobs.TranslationJob{
		ID:          "job-1",
		Status:      jobs.StatusCompleted,
		Filename:    "episode.srt",
		TargetLang:  "zh",
		Owner:       "alice",
		Chunks:      []jobs.ChunkStatus{{Sequence: 0, State: jobs.ChunkDone}},
		UpdatedAt:   done,
		CompletedAt: &done,
	}
}

func TestDownloadRef(t *testing.T) {
	n := New(config.NotifyConfig{DownloadBaseURL: "https://subs.example/api/downloads/", URLExpiry: 2 * time.Hour}, nil)

	job := completedJob()
	ref := n.DownloadRef(job)
	require.NotNil(t, ref)
	assert.Equal(t, "https://subs.example/api/downloads/job-1.srt", ref.URL)
	assert.Equal(t, job.CompletedAt.Add(2*time.Hour), ref.ExpiresAt)

	n.now = func() time.Time { return job.CompletedAt.Add(time.Hour) }
	assert.False(t, n.Expired(job))
	n.now = func() time.Time { return job.CompletedAt.Add(3 * time.Hour) }
	assert.True(t, n.Expired(job))

	job.Status = jobs.StatusFailed
	assert.Nil(t, n.DownloadRef(job))
	assert.True(t, n.Expired(job))
}

func TestNotifier_PublishesProgressAndTerminalEvents(t *testing.T) {
	broker := NewBroker(8)
	events, unsubscribe := broker.Subscribe()
	defer unsubscribe()

	n := New(config.NotifyConfig{DownloadBaseURL: "http://localhost/api/downloads"}, broker)

	running := &jobs.TranslationJob{
		ID:     "job-1",
		Status: jobs.StatusProcessing,
		Chunks: []jobs.ChunkStatus{
			{Sequence: 0, State: jobs.ChunkDone},
			{Sequence: 1, State: jobs.ChunkTranslating},
		},
	}
	n.JobChanged(running)
	n.JobChanged(completedJob())
	n.Close()

	ev := <-events
	assert.Equal(t, jobs.StatusProcessing, ev.Status)
	assert.InDelta(t, 0.5, ev.Progress, 1e-9)
	assert.Equal(t, 1, ev.Chunks.Done)
	assert.Empty(t, ev.DownloadURL)
	assert.False(t, ev.Terminal())

	ev = <-events
	assert.Equal(t, jobs.StatusCompleted, ev.Status)
	assert.Equal(t, "http://localhost/api/downloads/job-1.srt", ev.DownloadURL)
	require.NotNil(t, ev.ExpiresAt)
	assert.Equal(t, "alice", ev.Owner)
	assert.True(t, ev.Terminal())
}

func TestNotifier_SendsNtfyOnTerminalOnly(t *testing.T) {
	srv, seen := ntfyServer(t, http.StatusOK)
	n := New(config.NotifyConfig{
		DownloadBaseURL: "http://localhost/api/downloads",
		NtfyTopic:       srv.URL + "/subtrans",
		NtfyTimeout:     time.Second,
	}, nil)

	n.JobChanged(&jobs.TranslationJob{ID: "job-1", Status: jobs.StatusProcessing})
	n.JobChanged(completedJob())
	n.JobChanged(&jobs.TranslationJob{
		ID:       "job-2",
		Status:   jobs.StatusFailed,
		Filename: "movie.srt",
		Error:    failure.CauseFrom(failure.New(failure.KindPermanentBackend, "invalid api key")),
	})
	n.Close()

	requests := seen()
	require.Len(t, requests, 2)

	byTitle := map[string]ntfyRequest{}
	for _, r := range requests {
		byTitle[r.title] = r
	}
	ok := byTitle["subtrans - Job Complete"]
	assert.Contains(t, ok.body, "Translated episode.srt to zh")
	assert.Contains(t, ok.body, "http://localhost/api/downloads/job-1.srt")
	assert.Equal(t, "subtrans,job,completed", ok.tags)
	assert.Empty(t, ok.priority)

	failed := byTitle["subtrans - Job Failed"]
	assert.Contains(t, failed.body, "PermanentBackendError: invalid api key")
	assert.Equal(t, "high", failed.priority)
}

func TestNtfyPusher_ErrorStatus(t *testing.T) {
	srv, _ := ntfyServer(t, http.StatusForbidden)
	p := newPusher(srv.URL, time.Second)
	require.NotNil(t, p)

	err := p.send(t.Context(), payload{title: "t", message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ntfy returned 403")
}

func TestNewPusher_DisabledWithoutTopic(t *testing.T) {
	assert.Nil(t, newPusher("  ", time.Second))

	n := New(config.NotifyConfig{}, nil)
	assert.ErrorIs(t, n.SendTest(t.Context()), ErrPushDisabled)
}

func TestNotifier_SendTest(t *testing.T) {
	srv, seen := ntfyServer(t, http.StatusOK)
	n := New(config.NotifyConfig{NtfyTopic: srv.URL}, nil)

	require.NoError(t, n.SendTest(t.Context()))
	requests := seen()
	require.Len(t, requests, 1)
	assert.Equal(t, "subtrans - Test", requests[0].title)
	assert.Equal(t, "subtrans,test", requests[0].tags)
}

func TestBroker_DropsForSlowSubscriber(t *testing.T) {
	broker := NewBroker(1)
	slow, unsubscribeSlow := broker.Subscribe()
	fast, unsubscribeFast := broker.Subscribe()
	defer unsubscribeFast()
	assert.Equal(t, 2, broker.Subscribers())

	broker.Publish(Event{JobID: "a"})
	assert.Equal(t, "a", (<-fast).JobID)
	broker.Publish(Event{JobID: "b"})
	assert.Equal(t, "b", (<-fast).JobID)

	// slow never read: it keeps the first event, the second was dropped
	assert.Equal(t, "a", (<-slow).JobID)
	select {
	case ev := <-slow:
		t.Fatalf("unexpected event %q", ev.JobID)
	default:
	}

	unsubscribeSlow()
	unsubscribeSlow()
	_, open := <-slow
	assert.False(t, open)
	assert.Equal(t, 1, broker.Subscribers())
}
