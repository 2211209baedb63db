package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MimeLyc/subtrans/internal/auth"
	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/httpapi"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/internal/notify"
	"github.com/MimeLyc/subtrans/internal/persistence"
	"github.com/MimeLyc/subtrans/internal/pipeline"
	"github.com/MimeLyc/subtrans/pkg/log"
	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the translation service and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(runCtx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.ResultsDir(), 0o755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}

	lockPath := filepath.Join(cfg.System.DataDir, "subtrans.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another subtrans instance is using %s", cfg.System.DataDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("Failed to release lock %s: %v", lockPath, err)
		}
	}()

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := config.NewRuntimeSettingsStore(cfg.SettingsPath(), cfg.RuntimeSettings(), cfg.Engines)
	if err != nil {
		return err
	}

	broker := notify.NewBroker(64)
	notifier := notify.New(cfg.Notify, broker)
	defer notifier.Close()

	parts, err := buildPipeline(cfg, pipelineDeps{
		Store:      store,
		Glossaries: store,
		Words:      store,
		Authorizer: pipeline.RoleAuthorizer{},
		ResultsDir: cfg.ResultsDir(),
		Observers:  []jobs.Observer{notifier},
	})
	if err != nil {
		return err
	}

	var tokens *auth.JWTService
	if cfg.HTTP.JWTSecret != "" {
		if tokens, err = auth.NewJWTService(cfg.HTTP.JWTSecret, 24*time.Hour); err != nil {
			return err
		}
	} else {
		log.Warn("JWT_SECRET is empty; API authentication is disabled")
	}

	cronEng := cron.New()
	sweeper := newRetention(parts.tracker, cfg.ResultsDir(), cronEng, cfg.System.RetentionCron, cfg.System.RetentionDays)

	server := httpapi.NewServer(parts.service, notifier, broker,
		httpapi.WithAuth(tokens),
		httpapi.WithCORS(cfg.HTTP.CORSOrigins),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			return sweeper.Apply(ctx, next)
		}),
		httpapi.WithGlossaryStore(store),
		httpapi.WithSensitiveWordStore(store),
	)

	parts.tracker.Start(parts.runner.Run)
	defer parts.tracker.Stop()

	log.Info("subtrans listening on %s (data dir %s)", cfg.HTTP.Addr, cfg.System.DataDir)
	return runWithComponents(ctx, cfg, sweeper, cronEng, server)
}

// runWithComponents runs the scheduler and HTTP server until ctx ends or the
// server fails, then shuts both down.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, cronEng cronEngine, httpSrv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}
	cronEng.Start()
	defer func() {
		select {
		case <-cronEng.Stop().Done():
		case <-time.After(shutdownTimeout):
			log.Warn("Timed out waiting for scheduled tasks to finish")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
