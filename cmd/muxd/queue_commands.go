package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"muxd/internal/queue"
)

func newQueueCommand(cmdCtx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the job queue",
	}
	cmd.AddCommand(
		newQueueListCommand(cmdCtx),
		newQueueRetryCommand(cmdCtx),
		newQueueClearCommand(cmdCtx),
	)
	return cmd
}

func newQueueListCommand(cmdCtx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			jobs, err := newAPIClient(cfg).listQueue(statusFilter)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				detail := job.ResultURL
				if job.ErrorKind != "" {
					detail = job.ErrorKind + ": " + job.ErrorMessage
				}
				rows = append(rows, []string{
					job.JobID,
					colorStatus(job.Status),
					job.ProgressStage,
					strconv.Itoa(job.Attempts),
					truncate(detail, 60),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "STATUS", "STAGE", "ATTEMPTS", "DETAIL"},
				rows, 3))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "comma-separated status filter (queued,fetching,encoding,publishing,done,failed)")
	return cmd
}

// Retry and clear operate on the database directly so they work while the
// daemon is down.
func newQueueRetryCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Requeue failed jobs; all failed jobs when no ids are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			retried, err := store.RetryFailed(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d jobs\n", retried)
			return nil
		},
	}
}

func newQueueClearCommand(cmdCtx *commandContext) *cobra.Command {
	var (
		doneOnly   bool
		failedOnly bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var (
				removed int64
				what    string
			)
			switch {
			case doneOnly && failedOnly:
				return fmt.Errorf("choose one of --done or --failed")
			case doneOnly:
				removed, err = store.ClearDone(cmd.Context())
				what = "done"
			case failedOnly:
				removed, err = store.ClearFailed(cmd.Context())
				what = "failed"
			default:
				removed, err = store.Clear(cmd.Context())
				what = "all"
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d %s jobs\n", removed, strings.TrimSpace(what))
			return nil
		},
	}

	cmd.Flags().BoolVar(&doneOnly, "done", false, "remove only done jobs")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "remove only failed jobs")
	return cmd
}
