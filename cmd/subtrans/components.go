package main

import (
	"fmt"
	"strings"

	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/engine"
	"github.com/MimeLyc/subtrans/internal/glossary"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/internal/pipeline"
	"github.com/MimeLyc/subtrans/internal/sensitive"
	"github.com/MimeLyc/subtrans/pkg/log"
)

type pipelineDeps struct {
	Store      jobs.Store
	Glossaries glossary.Store
	Words      sensitive.Source
	Authorizer pipeline.Authorizer
	ResultsDir string
	Observers  []jobs.Observer
}

type pipelineParts struct {
	tracker *jobs.Tracker
	runner  *pipeline.Runner
	service *pipeline.Service
}

// buildPipeline wires adapters, router, executor, tracker, runner and service.
// The tracker is not started.
func buildPipeline(cfg *config.Config, deps pipelineDeps) (*pipelineParts, error) {
	adapters, err := engine.NewAdapters(cfg.Engines)
	if err != nil {
		return nil, err
	}
	router, err := engine.NewRouter(cfg.Routing, cfg.Pipeline.DefaultEngine, adapters)
	if err != nil {
		return nil, fmt.Errorf("build engine router: %w", err)
	}
	log.Debug("Routing across engines %s", strings.Join(router.Engines(), ", "))

	opts := make([]jobs.Option, 0, len(deps.Observers))
	for _, o := range deps.Observers {
		opts = append(opts, jobs.WithObserver(o))
	}
	tracker := jobs.NewTracker(cfg.Pipeline.JobWorkers, deps.Store, opts...)

	runner, err := pipeline.NewRunner(cfg.Pipeline, pipeline.RunnerDeps{
		Tracker:    tracker,
		Router:     router,
		Executor:   pipeline.NewExecutor(cfg.Pipeline),
		Glossaries: deps.Glossaries,
		Sensitive:  sensitive.NewCachedMatcher(deps.Words),
		ResultsDir: deps.ResultsDir,
	})
	if err != nil {
		return nil, err
	}

	return &pipelineParts{
		tracker: tracker,
		runner:  runner,
		service: pipeline.NewService(tracker, runner, deps.Authorizer),
	}, nil
}
