package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/pkg/file"
	"github.com/MimeLyc/subtrans/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

type pruner interface {
	Prune(ctx context.Context, cutoff time.Time) ([]*jobs.TranslationJob, error)
}

type cronScheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Remove(id cron.EntryID)
}

// retention drops terminal jobs and their result files once they are older
// than the configured number of days.
type retention struct {
	tracker    pruner
	resultsDir string
	cron       cronScheduler
	now        func() time.Time
	group      singleflight.Group

	mu    sync.Mutex
	spec  string
	days  int
	entry cron.EntryID
}

func newRetention(tracker pruner, resultsDir string, sched cronScheduler, spec string, days int) *retention {
	return &retention{
		tracker:    tracker,
		resultsDir: resultsDir,
		cron:       sched,
		now:        time.Now,
		spec:       spec,
		days:       days,
	}
}

func (r *retention) Schedule(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spec == "" {
		log.Info("Retention sweep disabled")
		return nil
	}
	id, err := r.cron.AddFunc(r.spec, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			log.Error("Retention sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention %q: %w", r.spec, err)
	}
	r.entry = id
	log.Info("Retention sweep scheduled at %q, keeping %d day(s)", r.spec, r.days)
	return nil
}

// Apply reschedules the sweep with updated runtime settings.
func (r *retention) Apply(ctx context.Context, next config.RuntimeSettings) error {
	r.mu.Lock()
	if r.entry != 0 {
		r.cron.Remove(r.entry)
		r.entry = 0
	}
	r.spec = next.RetentionCron
	r.days = next.RetentionDays
	r.mu.Unlock()
	return r.Schedule(ctx)
}

// RunOnce prunes expired jobs and sweeps orphaned result files. Overlapping
// runs share one sweep.
func (r *retention) RunOnce(ctx context.Context) (int, error) {
	v, err, _ := r.group.Do("retention", func() (any, error) {
		r.mu.Lock()
		days := r.days
		r.mu.Unlock()
		if days <= 0 {
			return 0, nil
		}
		cutoff := r.now().Add(-time.Duration(days) * 24 * time.Hour)

		pruned, err := r.tracker.Prune(ctx, cutoff)
		if err != nil {
			return 0, err
		}
		removed := 0
		for _, job := range pruned {
			if job.ResultRef == "" {
				continue
			}
			if err := os.Remove(job.ResultRef); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("Failed to remove result of job %s: %v", job.ID, err)
				continue
			}
			removed++
		}

		stale, err := file.FindModifiedBefore(r.resultsDir, cutoff)
		if err != nil {
			return removed, fmt.Errorf("scan results: %w", err)
		}
		for _, path := range stale {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("Failed to remove stale result %s: %v", path, err)
				continue
			}
			removed++
		}
		log.Info("Retention sweep pruned %d job(s), removed %d file(s)", len(pruned), removed)
		return removed, nil
	})
	n, _ := v.(int)
	return n, err
}
