package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/glossary"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/internal/pipeline"
	"github.com/MimeLyc/subtrans/internal/sensitive"
	"github.com/MimeLyc/subtrans/pkg/file"
	"github.com/MimeLyc/subtrans/pkg/log"
	"github.com/spf13/cobra"
)

const cliGlossaryRef = "cli"

type translateOptions struct {
	source    string
	target    string
	engine    string
	glossary  string
	sensitive string
	out       string
}

func newTranslateCommand(ctx *commandContext) *cobra.Command {
	opts := translateOptions{}
	cmd := &cobra.Command{
		Use:   "translate <file.srt>",
		Short: "Translate one subtitle file in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTranslate(runCtx, cfg, args[0], opts, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.source, "source", "auto", "Source language code, or auto to detect")
	cmd.Flags().StringVar(&opts.target, "target", "", "Target language code")
	cmd.Flags().StringVar(&opts.engine, "engine", "", "Engine name, overrides routing")
	cmd.Flags().StringVar(&opts.glossary, "glossary", "", "Glossary JSON file")
	cmd.Flags().StringVar(&opts.sensitive, "sensitive", "", "Sensitive words file, one per line")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output path (default: <input>.<target>.srt)")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func runTranslate(ctx context.Context, cfg *config.Config, input string, opts translateOptions, progress io.Writer) error {
	content, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read %s: %w", input, err)
	}

	glossaries := glossary.NewMemoryStore()
	glossaryRef := ""
	if opts.glossary != "" {
		entries, err := glossary.Load(opts.glossary)
		if err != nil {
			return err
		}
		glossaries.Put(cliGlossaryRef, entries)
		glossaryRef = cliGlossaryRef
	}

	var words sensitive.StaticSource
	if opts.sensitive != "" {
		f, err := os.Open(opts.sensitive)
		if err != nil {
			return fmt.Errorf("open sensitive words: %w", err)
		}
		words, err = sensitive.ReadWords(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	resultsDir, err := os.MkdirTemp("", "subtrans-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(resultsDir)

	parts, err := buildPipeline(cfg, pipelineDeps{
		Glossaries: glossaries,
		Words:      words,
		Authorizer: pipeline.AllowAll{},
		ResultsDir: resultsDir,
		Observers:  []jobs.Observer{progressPrinter(progress)},
	})
	if err != nil {
		return err
	}
	parts.tracker.Start(parts.runner.Run)
	defer parts.tracker.Stop()

	local := pipeline.Principal{Subject: "local", Role: pipeline.RoleAdmin}
	job, err := parts.service.Submit(ctx, local, jobs.SubmitRequest{
		Filename:    filepath.Base(input),
		Content:     content,
		SourceLang:  opts.source,
		TargetLang:  opts.target,
		GlossaryRef: glossaryRef,
		Engine:      opts.engine,
	})
	if err != nil {
		return err
	}

	done, err := parts.service.Wait(ctx, local, job.ID)
	if err != nil {
		if _, cancelErr := parts.service.Cancel(context.Background(), local, job.ID); cancelErr != nil {
			log.Debug("Cancel job %s: %v", job.ID, cancelErr)
		}
		return err
	}
	if done.Status != jobs.StatusCompleted {
		return done.Error.Err()
	}
	if done.Warning != nil {
		log.Warn("%s", done.Warning.Message)
	}

	data, err := parts.service.Output(ctx, local, job.ID)
	if err != nil {
		return err
	}
	out := opts.out
	if out == "" {
		out = file.WithLanguageSuffix(input, opts.target)
	}
	if err := file.WriteAtomic(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(progress, "Wrote %s\n", out)
	return nil
}

// progressPrinter reports chunk progress of a foreground job.
func progressPrinter(w io.Writer) jobs.ObserverFunc {
	last := -1
	return func(job *jobs.TranslationJob) {
		if job.Status.Terminal() {
			if last >= 0 {
				fmt.Fprintln(w)
			}
			return
		}
		s := job.Summary()
		if s.Total == 0 || s.Done+s.Failed == last {
			return
		}
		last = s.Done + s.Failed
		fmt.Fprintf(w, "\r%d/%d chunks (%.0f%%)", last, s.Total, job.Progress()*100)
	}
}
