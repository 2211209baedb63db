package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*TranslationJob
	inputs map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		jobs:   make(map[string]*TranslationJob),
		inputs: make(map[string][]byte),
	}
}

func (m *memoryStore) LoadJobs(_ context.Context) ([]*TranslationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*TranslationJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		ret = append(ret, cloneJob(j))
	}
	return ret, nil
}

func (m *memoryStore) UpsertJob(_ context.Context, job *TranslationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *memoryStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memoryStore) SaveInput(_ context.Context, jobID string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs[jobID] = append([]byte(nil), content...)
	return nil
}

func (m *memoryStore) LoadInput(_ context.Context, jobID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs[jobID], nil
}

func (m *memoryStore) DeleteJobData(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inputs, jobID)
	return nil
}

func (m *memoryStore) get(id string) *TranslationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneJob(m.jobs[id])
}

func TestTracker_RecoversJobsFromStore(t *testing.T) {
	store := newMemoryStore()
	now := time.Now()
	store.jobs["job-1"] = &TranslationJob{
		ID:         "job-1",
		Status:     StatusPending,
		TargetLang: "zh",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	store.inputs["job-1"] = []byte("pending input")
	store.jobs["job-2"] = &TranslationJob{
		ID:         "job-2",
		Status:     StatusProcessing,
		TargetLang: "zh",
		Chunks:     []ChunkStatus{{Sequence: 0, State: ChunkTranslating, AttemptCount: 1}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tr := NewTracker(1, store)

	interrupted, ok := tr.Get("job-2")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, interrupted.Status)
	require.NotNil(t, interrupted.Error)
	assert.Equal(t, "Interrupted", interrupted.Error.Kind)
	assert.Equal(t, StatusFailed, store.get("job-2").Status)

	inputs := make(chan string, 1)
	tr.Start(func(_ context.Context, job *TranslationJob, input []byte) error {
		inputs <- string(input)
		if err := tr.MarkProcessing(job.ID, 0, ""); err != nil {
			return err
		}
		return tr.Complete(job.ID, "out.srt", nil)
	})
	defer tr.Stop()

	select {
	case in := <-inputs:
		assert.Equal(t, "pending input", in)
	case <-time.After(time.Second):
		t.Fatal("pending job was not re-dispatched")
	}

	require.Eventually(t, func() bool {
		got := store.get("job-1")
		return got != nil && got.Status == StatusCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestTracker_PersistsInputAndChunks(t *testing.T) {
	store := newMemoryStore()
	tr := NewTracker(1, store)

	job, err := tr.Create(SubmitRequest{Content: []byte("1\n00:00:01,000 --> 00:00:02,000\nHi\n"), TargetLang: "fr"})
	require.NoError(t, err)
	require.NoError(t, tr.MarkProcessing(job.ID, 2, "en"))
	require.NoError(t, tr.UpdateChunk(job.ID, 1, func(c *ChunkStatus) {
		c.State = ChunkTranslating
		c.AttemptCount = 2
	}))

	stored := store.get(job.ID)
	require.NotNil(t, stored)
	assert.Equal(t, StatusProcessing, stored.Status)
	require.Len(t, stored.Chunks, 2)
	assert.Equal(t, 2, stored.Chunks[1].AttemptCount)
	assert.Contains(t, string(store.inputs[job.ID]), "Hi")

	_, err = tr.Cancel(job.ID)
	require.NoError(t, err)
	pruned, err := tr.Prune(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, pruned, 1)
	assert.Nil(t, store.get(job.ID))
	assert.Empty(t, store.inputs)
}
