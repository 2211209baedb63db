package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MimeLyc/subtrans/internal/chunk"
	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/engine"
	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/glossary"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/internal/sensitive"
	"github.com/MimeLyc/subtrans/internal/subtitle"
	"github.com/MimeLyc/subtrans/pkg/log"
	"golang.org/x/sync/errgroup"
)

// Resolver picks the backend adapter for a language pair.
type Resolver interface {
	Resolve(sourceLang, targetLang, requested string) (engine.Adapter, error)
}

type RunnerDeps struct {
	Tracker    *jobs.Tracker
	Router     Resolver
	Executor   *Executor
	Glossaries glossary.Store
	Sensitive  *sensitive.CachedMatcher
	ResultsDir string
}

// Runner drives one job from raw input to a written result.
type Runner struct {
	chunkSize       int
	contextWindow   int
	partialDelivery bool
	startOrder      subtitle.StartOrder

	tracker    *jobs.Tracker
	router     Resolver
	executor   *Executor
	glossaries glossary.Store
	sensitive  *sensitive.CachedMatcher
	resultsDir string
}

func NewRunner(cfg config.PipelineConfig, deps RunnerDeps) (*Runner, error) {
	order, ok := subtitle.ParseStartOrder(cfg.StartOrder)
	if !ok {
		return nil, fmt.Errorf("unknown start order policy %q", cfg.StartOrder)
	}
	if deps.Tracker == nil || deps.Router == nil || deps.Executor == nil {
		return nil, fmt.Errorf("runner needs a tracker, router and executor")
	}
	if deps.ResultsDir == "" {
		return nil, fmt.Errorf("results directory is required")
	}
	return &Runner{
		chunkSize:       cfg.ChunkSize,
		contextWindow:   cfg.ContextWindow,
		partialDelivery: cfg.PartialDelivery,
		startOrder:      order,
		tracker:         deps.Tracker,
		router:          deps.Router,
		executor:        deps.Executor,
		glossaries:      deps.Glossaries,
		sensitive:       deps.Sensitive,
		resultsDir:      deps.ResultsDir,
	}, nil
}

// Plan is a validated, split job ready for dispatch.
type Plan struct {
	Validation *subtitle.ValidationResult
	Chunks     []chunk.Chunk
	SourceLang string
	Adapter    engine.Adapter
	Glossary   []glossary.Entry
}

// Prepare runs every check that can fail before a backend is called.
func (r *Runner) Prepare(ctx context.Context, job *jobs.TranslationJob, input []byte) (*Plan, error) {
	result, err := subtitle.Validate(input, r.startOrder)
	if err != nil {
		return nil, err
	}
	chunks, err := chunk.Split(result.Entries, r.chunkSize, r.contextWindow)
	if err != nil {
		return nil, err
	}

	sourceLang := job.SourceLang
	if sourceLang == "" || sourceLang == "auto" {
		if detected := subtitle.DetectLanguage(result.Entries); detected != "" {
			sourceLang = detected
		}
	}

	adapter, err := r.router.Resolve(sourceLang, job.TargetLang, job.Engine)
	if err != nil {
		return nil, err
	}

	var terms []glossary.Entry
	if job.GlossaryRef != "" && r.glossaries != nil {
		terms, err = r.glossaries.Entries(ctx, job.GlossaryRef)
		if errors.Is(err, glossary.ErrNotFound) {
			return nil, failure.Newf(failure.KindNotFound, "glossary %q not found", job.GlossaryRef)
		}
		if err != nil {
			return nil, fmt.Errorf("load glossary %q: %w", job.GlossaryRef, err)
		}
	}

	return &Plan{
		Validation: result,
		Chunks:     chunks,
		SourceLang: sourceLang,
		Adapter:    adapter,
		Glossary:   terms,
	}, nil
}

// Run is the tracker's executor: prepare, fan out chunks, reassemble, write, complete.
// Any chunk that exhausts its attempts fails the job and no file is written,
// unless partial delivery is enabled.
func (r *Runner) Run(ctx context.Context, job *jobs.TranslationJob, input []byte) error {
	plan, err := r.Prepare(ctx, job, input)
	if err != nil {
		return err
	}
	matcher, err := r.sensitive.Matcher(ctx)
	if err != nil {
		return fmt.Errorf("load sensitive words: %w", err)
	}
	if n := matcher.Len(); n > 0 {
		log.Debug("Job %s: masking %d sensitive word(s)", job.ID, n)
	}

	if err := r.tracker.MarkProcessing(job.ID, len(plan.Chunks), plan.SourceLang); err != nil {
		return err
	}
	log.Info("Job %s: %d entries in %d chunk(s), %s -> %s via %s",
		job.ID, len(plan.Validation.Entries), len(plan.Chunks), plan.SourceLang, job.TargetLang, plan.Adapter.Name())

	results := make([]TranslatedChunk, len(plan.Chunks))
	var (
		mu     sync.Mutex
		failed []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range plan.Chunks {
		g.Go(func() error {
			task := Task{
				Chunk:      c,
				SourceLang: plan.SourceLang,
				TargetLang: job.TargetLang,
				Adapter:    plan.Adapter,
				Glossary:   plan.Glossary,
				Sensitive:  matcher,
			}
			tc, err := r.executor.Translate(gctx, task, r.reporter(job.ID))
			if err == nil {
				results[i] = tc
				return nil
			}
			if !r.partialDelivery || gctx.Err() != nil {
				return err
			}
			mu.Lock()
			failed = append(failed, err)
			mu.Unlock()
			results[i] = TranslatedChunk{Chunk: c, Entries: subtitle.CloneEntries(c.Core), State: jobs.ChunkDone}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(failed) == len(plan.Chunks) {
		return failed[0]
	}

	entries, err := Reassemble(results)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out := filepath.Join(r.resultsDir, job.ID+".srt")
	if err := WriteOutput(out, entries); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	var warning error
	if len(failed) > 0 {
		warning = failure.Wrap(failed[0], failure.KindOf(failed[0]),
			fmt.Sprintf("%d of %d chunks kept their source text", len(failed), len(plan.Chunks)))
	}
	if err := r.tracker.Complete(job.ID, out, warning); err != nil {
		// the job went terminal meanwhile (cancelled); its result must not be served
		_ = os.Remove(out)
		return err
	}
	return nil
}

func (r *Runner) reporter(jobID string) Report {
	return func(status jobs.ChunkStatus) {
		err := r.tracker.UpdateChunk(jobID, status.Sequence, func(c *jobs.ChunkStatus) {
			*c = status
		})
		if err != nil {
			log.Error("Failed to record chunk %d of job %s: %v", status.Sequence, jobID, err)
		}
	}
}
