package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"barsync/internal/app"
	"barsync/internal/domain"
)

var jobsStatus []string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List fetch jobs and their checkpoints",
	Example: `  barsync jobs
  barsync jobs --status failed,running`,
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().StringSliceVar(&jobsStatus, "status", nil, "filter by status: pending, running, completed, failed")
}

func runJobs(cmd *cobra.Command, _ []string) error {
	statuses := make([]domain.JobStatus, 0, len(jobsStatus))
	for _, s := range jobsStatus {
		st := domain.JobStatus(strings.ToLower(strings.TrimSpace(s)))
		switch st {
		case domain.JobPending, domain.JobRunning, domain.JobCompleted, domain.JobFailed:
			statuses = append(statuses, st)
		default:
			return fmt.Errorf("unknown status %q", s)
		}
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		jobs, err := a.Orchestrator.Tracker.ListJobs(ctx, statuses...)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSYMBOL\tWINDOW\tSTATUS\tBARS\tCHECKPOINT\tERROR")
		for _, j := range jobs {
			checkpoint := "-"
			if j.LastBarTime != nil {
				checkpoint = j.LastBarTime.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s..%s\t%s\t%d\t%s\t%s\n",
				j.ID, j.Symbol, j.StartDate.Format("2006-01-02"), j.EndDate.Format("2006-01-02"),
				j.Status, j.BarsLoaded, checkpoint, j.ErrorMessage)
		}
		return tw.Flush()
	})
}
