// Package pipeline runs translation jobs: chunk translation with retry,
// reassembly and the job-level control flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/subtrans/internal/chunk"
	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/engine"
	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/glossary"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/internal/sensitive"
	"github.com/MimeLyc/subtrans/internal/subtitle"
	"github.com/MimeLyc/subtrans/pkg/log"
	"golang.org/x/sync/semaphore"
)

// Task is one chunk to translate with everything the backend call needs.
type Task struct {
	Chunk      chunk.Chunk
	SourceLang string
	TargetLang string
	Adapter    engine.Adapter
	Glossary   []glossary.Entry
	Sensitive  *sensitive.Matcher
}

// TranslatedChunk pairs the original chunk with its translated core entries.
type TranslatedChunk struct {
	Chunk   chunk.Chunk
	Entries []subtitle.Entry
	State   jobs.ChunkState
}

// Report receives chunk status changes. It is called only by the goroutine
// translating that chunk.
type Report func(status jobs.ChunkStatus)

// Executor translates chunks through a process-wide pool of backend call slots.
type Executor struct {
	pool        *semaphore.Weighted
	maxRetries  int
	retryDelay  time.Duration
	callTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewExecutor(cfg config.PipelineConfig) *Executor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Executor{
		pool:        semaphore.NewWeighted(int64(workers)),
		maxRetries:  maxRetries,
		retryDelay:  cfg.RetryDelay,
		callTimeout: cfg.CallTimeout,
		sleep:       sleepContext,
	}
}

// Translate runs one chunk to completion or exhaustion. Transient failures are
// retried up to maxRetries attempts with a fixed delay; anything else fails at once.
// Backend calls are detached from ctx cancellation; a result arriving after ctx
// ends is discarded.
func (e *Executor) Translate(ctx context.Context, task Task, report Report) (TranslatedChunk, error) {
	seq := task.Chunk.Sequence
	backend := task.Adapter.Name()
	status := jobs.ChunkStatus{Sequence: seq, State: jobs.ChunkQueued}

	masker := task.Sensitive.NewMasker()
	req := engine.Request{
		SourceLang:    task.SourceLang,
		TargetLang:    task.TargetLang,
		Lines:         masker.MaskAll(entryTexts(task.Chunk.Core)),
		ContextBefore: masker.MaskAll(entryTexts(task.Chunk.ContextBefore)),
		ContextAfter:  masker.MaskAll(entryTexts(task.Chunk.ContextAfter)),
	}
	// constraints are matched on masked text and must not carry a sensitive word either
	matchTexts := append(append(append([]string(nil), req.ContextBefore...), req.Lines...), req.ContextAfter...)
	req.Constraints = safeConstraints(glossary.Match(task.Glossary, matchTexts), task.Sensitive)
	first, last := task.Chunk.Range()

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return TranslatedChunk{}, err
		}

		status.State = jobs.ChunkTranslating
		status.AttemptCount = attempt
		report(status)

		translated, err := e.call(ctx, task.Adapter, req)
		if ctx.Err() != nil {
			return TranslatedChunk{}, ctx.Err()
		}
		if err == nil {
			err = checkPlaceholders(backend, req.Lines, translated)
		}
		if err == nil {
			err = checkLines(backend, translated)
		}
		if err == nil {
			entries := make([]subtitle.Entry, len(task.Chunk.Core))
			for i, src := range task.Chunk.Core {
				entries[i] = subtitle.Entry{
					Index: src.Index,
					Start: src.Start,
					End:   src.End,
					Lines: strings.Split(masker.Restore(translated[i]), "\n"),
				}
			}
			status.State = jobs.ChunkDone
			status.Error = nil
			status.TranslatedEntries = subtitle.CloneEntries(entries)
			report(status)
			log.Debug("Chunk %d (entries %d-%d) translated by %s on attempt %d, %d word(s) masked",
				seq, first, last, backend, attempt, masker.Masked())
			return TranslatedChunk{Chunk: task.Chunk, Entries: entries, State: jobs.ChunkDone}, nil
		}

		lastErr = annotate(engine.Classify(backend, err), seq, backend)
		status.Error = failure.CauseFrom(lastErr)
		if !failure.KindOf(lastErr).Retryable() {
			break
		}
		if attempt < e.maxRetries {
			log.Warn("Chunk %d (entries %d-%d) attempt %d/%d on %s failed, retrying in %s: %v",
				seq, first, last, attempt, e.maxRetries, backend, e.retryDelay, err)
			report(status)
			if err := e.sleep(ctx, e.retryDelay); err != nil {
				return TranslatedChunk{}, err
			}
		}
	}

	status.State = jobs.ChunkFailed
	report(status)
	log.Error("Chunk %d (entries %d-%d) failed after %d attempt(s) on %s: %v",
		seq, first, last, status.AttemptCount, backend, lastErr)
	return TranslatedChunk{Chunk: task.Chunk, State: jobs.ChunkFailed}, lastErr
}

// call holds one pool slot for the duration of a single backend request.
// Rate-limit waits happen before the slot is taken.
func (e *Executor) call(ctx context.Context, adapter engine.Adapter, req engine.Request) ([]string, error) {
	if err := engine.Wait(ctx, adapter); err != nil {
		return nil, err
	}
	if err := e.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.pool.Release(1)

	callCtx := context.WithoutCancel(ctx)
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.callTimeout)
		defer cancel()
	}

	translated, err := adapter.Translate(callCtx, req)
	if err != nil {
		return nil, err
	}
	if len(translated) != len(req.Lines) {
		return nil, engine.Transient(adapter.Name(),
			fmt.Errorf("translation count mismatch: got %d, want %d", len(translated), len(req.Lines)))
	}
	return translated, nil
}

// checkPlaceholders treats a dropped sensitive-word placeholder as a bad answer.
func checkPlaceholders(backend string, masked, translated []string) error {
	for i := range masked {
		if missing := sensitive.Missing(masked[i], translated[i]); len(missing) > 0 {
			return engine.Transient(backend,
				fmt.Errorf("line %d lost placeholder(s) %s", i+1, strings.Join(missing, ", ")))
		}
	}
	return nil
}

// checkLines rejects empty translations and blank lines inside one, since
// either would break entry boundaries in the serialized output.
func checkLines(backend string, translated []string) error {
	for i, text := range translated {
		if strings.TrimSpace(text) == "" {
			return engine.Transient(backend, fmt.Errorf("line %d is empty", i+1))
		}
		for _, line := range strings.Split(text, "\n") {
			if strings.TrimSpace(line) == "" {
				return engine.Transient(backend, fmt.Errorf("line %d contains a blank line", i+1))
			}
		}
	}
	return nil
}

// safeConstraints drops glossary entries mentioning a sensitive word.
func safeConstraints(entries []glossary.Entry, m *sensitive.Matcher) []glossary.Entry {
	if len(entries) == 0 || m.Len() == 0 {
		return entries
	}
	kept := make([]glossary.Entry, 0, len(entries))
	for _, c := range entries {
		if m.Contains(c.SourceTerm) || m.Contains(c.TargetTerm) || m.Contains(c.ContextHint) {
			continue
		}
		kept = append(kept, c)
	}
	if dropped := len(entries) - len(kept); dropped > 0 {
		log.Debug("Withheld %d glossary constraint(s) carrying sensitive words", dropped)
	}
	return kept
}

// annotate tags a backend failure with its chunk and backend. Errors the
// classifier could not place are not retried.
func annotate(err error, seq int, backend string) error {
	kind := failure.KindOf(err)
	if kind != failure.KindTransientBackend && kind != failure.KindPermanentBackend {
		kind = failure.KindPermanentBackend
	}
	message := err.Error()
	var fe *failure.Error
	if errors.As(err, &fe) {
		message = fe.Message
	}
	return failure.Wrap(err, kind, message).
		WithContext(failure.CtxChunk, seq).
		WithContext(failure.CtxBackend, backend)
}

func entryTexts(entries []subtitle.Entry) []string {
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text()
	}
	return texts
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
