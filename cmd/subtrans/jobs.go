package main

import (
	"fmt"
	"sort"

	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/internal/persistence"
	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect stored translation jobs",
	}

	var status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs recorded under DATA_DIR",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *persistence.SQLiteStore) error {
				all, err := store.LoadJobs(cmd.Context())
				if err != nil {
					return err
				}
				filtered := filterJobs(all, jobs.Status(status))
				if len(filtered) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJobs(filtered))
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Only show jobs with this status")
	cmd.AddCommand(listCmd)
	return cmd
}

func filterJobs(all []*jobs.TranslationJob, status jobs.Status) []*jobs.TranslationJob {
	out := make([]*jobs.TranslationJob, 0, len(all))
	for _, job := range all {
		if status == "" || job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func renderJobs(list []*jobs.TranslationJob) string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		s := job.Summary()
		rows = append(rows, []string{
			job.ID,
			string(job.Status),
			job.Filename,
			fmt.Sprintf("%s -> %s", orDash(job.SourceLang), job.TargetLang),
			fmt.Sprintf("%d/%d", s.Done, s.Total),
			job.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable([]string{"ID", "STATUS", "FILE", "LANGS", "PROGRESS", "UPDATED"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
