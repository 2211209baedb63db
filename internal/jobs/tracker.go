package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/pkg/log"
	"github.com/google/uuid"
)

// Executor runs one dispatched job. ctx is cancelled when the job is cancelled
// or the tracker stops.
type Executor func(ctx context.Context, job *TranslationJob, input []byte) error

// Observer receives a snapshot after every recorded change, in commit order.
type Observer interface {
	JobChanged(job *TranslationJob)
}

type ObserverFunc func(job *TranslationJob)

func (f ObserverFunc) JobChanged(job *TranslationJob) { f(job) }

type Option func(*Tracker)

func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		t.observers = append(t.observers, o)
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// errNoChange aborts a mutation without persisting or notifying.
var errNoChange = errors.New("no change")

// Tracker owns the job records and dispatches pending jobs to a fixed set of workers.
type Tracker struct {
	workerCount int
	store       Store
	observers   []Observer
	now         func() time.Time

	// writeMu orders mutations with their persistence and notification.
	writeMu sync.Mutex

	mu         sync.RWMutex
	jobs       map[string]*TranslationJob
	inputs     map[string][]byte
	cancels    map[string]context.CancelFunc
	done       map[string]chan struct{}
	started    bool
	pendingIDs chan string

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewTracker(workerCount int, store Store, opts ...Option) *Tracker {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		workerCount: workerCount,
		store:       store,
		now:         time.Now,
		jobs:        make(map[string]*TranslationJob),
		inputs:      make(map[string][]byte),
		cancels:     make(map[string]context.CancelFunc),
		done:        make(map[string]chan struct{}),
		pendingIDs:  make(chan string, 1024),
		ctx:         ctx,
		cancel:      cancel,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.hydrateFromStore(context.Background())
	return t
}

// Create records a pending job without dispatching it.
func (t *Tracker) Create(req SubmitRequest) (*TranslationJob, error) {
	if req.TargetLang == "" {
		return nil, failure.New(failure.KindFormat, "target language is required")
	}
	now := t.now()
	job := &TranslationJob{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		Filename:    req.Filename,
		SourceLang:  req.SourceLang,
		TargetLang:  req.TargetLang,
		Engine:      req.Engine,
		GlossaryRef: req.GlossaryRef,
		Owner:       req.Owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.store != nil {
		if err := t.store.SaveInput(context.Background(), job.ID, req.Content); err != nil {
			return nil, fmt.Errorf("save job input: %w", err)
		}
	}

	t.mu.Lock()
	t.jobs[job.ID] = job
	t.inputs[job.ID] = append([]byte(nil), req.Content...)
	t.done[job.ID] = make(chan struct{})
	snapshot := cloneJob(job)
	t.mu.Unlock()

	t.commit(snapshot)
	log.Info("Job %s admitted (%s -> %s)", job.ID, displayLang(job.SourceLang), job.TargetLang)
	return snapshot, nil
}

// Dispatch hands a pending job to the workers.
func (t *Tracker) Dispatch(id string) error {
	t.mu.RLock()
	job, ok := t.jobs[id]
	if !ok {
		t.mu.RUnlock()
		return notFound(id)
	}
	if job.Status != StatusPending {
		status := job.Status
		t.mu.RUnlock()
		return failure.Newf(failure.KindConflict, "job %s is %s", id, status)
	}
	started := t.started
	t.mu.RUnlock()

	if started {
		t.enqueuePendingID(id)
	}
	return nil
}

// Submit creates and dispatches a job.
func (t *Tracker) Submit(req SubmitRequest) (*TranslationJob, error) {
	job, err := t.Create(req)
	if err != nil {
		return nil, err
	}
	if err := t.Dispatch(job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

func (t *Tracker) Get(id string) (*TranslationJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns all jobs, newest first.
func (t *Tracker) List() []*TranslationJob {
	t.mu.RLock()
	ret := make([]*TranslationJob, 0, len(t.jobs))
	for _, job := range t.jobs {
		ret = append(ret, cloneJob(job))
	}
	t.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret
}

// Wait blocks until the job is terminal or ctx ends.
func (t *Tracker) Wait(ctx context.Context, id string) (*TranslationJob, error) {
	t.mu.RLock()
	_, ok := t.jobs[id]
	ch := t.done[id]
	t.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	job, ok := t.Get(id)
	if !ok {
		return nil, notFound(id)
	}
	return job, nil
}

// MarkProcessing moves a pending job to processing with one queued status per chunk.
func (t *Tracker) MarkProcessing(id string, chunks int, sourceLang string) error {
	_, err := t.mutate(id, func(job *TranslationJob) error {
		if job.Status != StatusPending {
			return failure.Newf(failure.KindConflict, "job %s is %s", id, job.Status)
		}
		job.Status = StatusProcessing
		if sourceLang != "" {
			job.SourceLang = sourceLang
		}
		job.Chunks = make([]ChunkStatus, chunks)
		for i := range job.Chunks {
			job.Chunks[i] = ChunkStatus{Sequence: i, State: ChunkQueued}
		}
		return nil
	})
	return err
}

// UpdateChunk applies fn to one chunk of a processing job. Updates to a job
// that is no longer processing are dropped.
func (t *Tracker) UpdateChunk(id string, sequence int, fn func(*ChunkStatus)) error {
	_, err := t.mutate(id, func(job *TranslationJob) error {
		if job.Status != StatusProcessing {
			return errNoChange
		}
		if sequence < 0 || sequence >= len(job.Chunks) {
			return failure.Newf(failure.KindInternal, "job %s has no chunk %d", id, sequence)
		}
		fn(&job.Chunks[sequence])
		job.Chunks[sequence].Sequence = sequence
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

// Complete records the result of a processing job. warning, when set, marks a
// partial delivery.
func (t *Tracker) Complete(id, resultRef string, warning error) error {
	_, err := t.mutate(id, func(job *TranslationJob) error {
		if job.Status != StatusProcessing {
			return failure.Newf(failure.KindConflict, "job %s is %s", id, job.Status)
		}
		for _, c := range job.Chunks {
			if !c.State.Terminal() {
				return failure.Newf(failure.KindIncompleteJob, "chunk %d is %s", c.Sequence, c.State).
					WithContext(failure.CtxChunk, c.Sequence)
			}
		}
		job.Status = StatusCompleted
		job.ResultRef = resultRef
		job.Warning = failure.CauseFrom(warning)
		t.finishLocked(job)
		return nil
	})
	if err == nil {
		log.Info("Job %s completed", id)
	}
	return err
}

// Fail marks a non-terminal job failed and reports whether it changed.
func (t *Tracker) Fail(id string, cause error) bool {
	_, err := t.mutate(id, func(job *TranslationJob) error {
		if job.Status.Terminal() {
			return errNoChange
		}
		job.Status = StatusFailed
		job.Error = failure.CauseFrom(cause)
		t.finishLocked(job)
		return nil
	})
	if err != nil {
		return false
	}
	log.Warn("Job %s failed: %v", id, cause)
	return true
}

// Cancel fails a pending or processing job with a Cancelled cause. Chunk results
// that arrive afterwards are discarded.
func (t *Tracker) Cancel(id string) (*TranslationJob, error) {
	snapshot, err := t.mutate(id, func(job *TranslationJob) error {
		if job.Status.Terminal() {
			return failure.Newf(failure.KindConflict, "job %s is already %s", id, job.Status)
		}
		job.Status = StatusFailed
		job.Error = failure.CauseFrom(failure.ErrCancelled)
		t.finishLocked(job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("Job %s cancelled", id)
	return snapshot, nil
}

// Prune removes terminal jobs last updated before cutoff, with their stored data.
func (t *Tracker) Prune(ctx context.Context, cutoff time.Time) ([]*TranslationJob, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	var pruned []*TranslationJob
	for id, job := range t.jobs {
		if !job.Status.Terminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		pruned = append(pruned, cloneJob(job))
		delete(t.jobs, id)
		delete(t.done, id)
	}
	t.mu.Unlock()

	sort.Slice(pruned, func(i, j int) bool {
		return pruned[i].UpdatedAt.Before(pruned[j].UpdatedAt)
	})

	if t.store == nil {
		return pruned, nil
	}
	var errs []error
	for _, job := range pruned {
		if err := t.store.DeleteJobData(ctx, job.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete data for job %s: %w", job.ID, err))
		}
		if err := t.store.DeleteJob(ctx, job.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete job %s: %w", job.ID, err))
		}
	}
	return pruned, errors.Join(errs...)
}

func (t *Tracker) Start(exec Executor) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true

	pending := make([]*TranslationJob, 0)
	for _, job := range t.jobs {
		if job.Status == StatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	t.mu.Unlock()

	for _, job := range pending {
		t.enqueuePendingID(job.ID)
	}

	for range t.workerCount {
		t.wg.Add(1)
		go t.worker(exec)
	}
}

// Stop cancels running jobs, marks them interrupted and waits for the workers.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.cancel()
		t.wg.Wait()
	})
}

func (t *Tracker) worker(exec Executor) {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopCh:
			return
		case id := <-t.pendingIDs:
			job, input, ctx, ok := t.claim(id)
			if !ok {
				continue
			}

			err := exec(ctx, job, input)
			t.release(id)
			if err == nil {
				continue
			}
			if t.ctx.Err() != nil {
				err = failure.New(failure.KindInterrupted, "service stopped while the job was running")
			}
			t.Fail(id, err)
		}
	}
}

func (t *Tracker) claim(id string) (*TranslationJob, []byte, context.Context, bool) {
	t.mu.Lock()
	job, ok := t.jobs[id]
	if !ok || job.Status != StatusPending || t.cancels[id] != nil {
		t.mu.Unlock()
		return nil, nil, nil, false
	}
	ctx, cancel := context.WithCancel(t.ctx)
	t.cancels[id] = cancel
	input, cached := t.inputs[id]
	snapshot := cloneJob(job)
	t.mu.Unlock()

	if !cached && t.store != nil {
		loaded, err := t.store.LoadInput(ctx, id)
		if err != nil {
			t.release(id)
			t.Fail(id, fmt.Errorf("load job input: %w", err))
			return nil, nil, nil, false
		}
		input = loaded
	}
	return snapshot, input, ctx, true
}

func (t *Tracker) release(id string) {
	t.mu.Lock()
	cancel := t.cancels[id]
	delete(t.cancels, id)
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Tracker) enqueuePendingID(id string) {
	select {
	case t.pendingIDs <- id:
	default:
		go func() {
			select {
			case t.pendingIDs <- id:
			case <-t.stopCh:
			}
		}()
	}
}

// mutate applies fn under the write lock, then persists and publishes the result.
func (t *Tracker) mutate(id string, fn func(job *TranslationJob) error) (*TranslationJob, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	job, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return nil, notFound(id)
	}
	if err := fn(job); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	job.UpdatedAt = t.now()
	snapshot := cloneJob(job)
	t.mu.Unlock()

	t.commit(snapshot)
	return snapshot, nil
}

// finishLocked releases per-job resources once a job is terminal. Caller holds mu.
func (t *Tracker) finishLocked(job *TranslationJob) {
	now := t.now()
	job.CompletedAt = &now
	delete(t.inputs, job.ID)
	if cancel := t.cancels[job.ID]; cancel != nil {
		cancel()
	}
	if ch, ok := t.done[job.ID]; ok {
		close(ch)
		delete(t.done, job.ID)
	}
}

// commit persists and publishes a snapshot. Caller holds writeMu.
func (t *Tracker) commit(snapshot *TranslationJob) {
	if t.store != nil {
		if err := t.store.UpsertJob(context.Background(), snapshot); err != nil {
			log.Error("Failed to persist job %s: %v", snapshot.ID, err)
		}
	}
	for _, o := range t.observers {
		o.JobChanged(cloneJob(snapshot))
	}
}

func (t *Tracker) hydrateFromStore(ctx context.Context) {
	if t.store == nil {
		return
	}
	loaded, err := t.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	interrupted := make([]string, 0)
	t.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		t.jobs[job.ID] = job
		if !job.Status.Terminal() {
			t.done[job.ID] = make(chan struct{})
		}
		if job.Status == StatusProcessing {
			interrupted = append(interrupted, job.ID)
		}
	}
	t.mu.Unlock()

	for _, id := range interrupted {
		t.Fail(id, failure.New(failure.KindInterrupted, "service restarted while the job was processing"))
	}
}

func notFound(id string) error {
	return failure.Newf(failure.KindNotFound, "job %s not found", id)
}

func displayLang(lang string) string {
	if lang == "" {
		return "auto"
	}
	return lang
}
