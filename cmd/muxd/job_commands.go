package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSubmitCommand(cmdCtx *commandContext) *cobra.Command {
	var (
		videoURL  string
		audioURLs []string
		webhook   string
		idemKey   string
		mode      string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a merge job to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(videoURL) == "" {
				return errors.New("--video is required")
			}
			if len(audioURLs) == 0 {
				return errors.New("at least one --audio is required")
			}

			client := newAPIClient(cfg)
			resp, err := client.submit(submitRequest{
				VideoURL:   videoURL,
				AudioURLs:  audioURLs,
				WebhookURL: webhook,
				ID:         idemKey,
				Options:    submitOptions{Mode: mode, Format: format},
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "job %s %s\n", resp.JobID, resp.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&videoURL, "video", "", "video source URL (http, https, or s3)")
	cmd.Flags().StringArrayVar(&audioURLs, "audio", nil, "audio source URL (repeatable)")
	cmd.Flags().StringVar(&webhook, "webhook", "", "webhook URL for the terminal-state callback")
	cmd.Flags().StringVar(&idemKey, "id", "", "idempotency key; resubmitting the same key returns the existing job")
	cmd.Flags().StringVar(&mode, "mode", "", "merge mode: replace or mix")
	cmd.Flags().StringVar(&format, "format", "", "output container: mp4 or mkv")
	return cmd
}

func newStatusCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show daemon health, or the current state of a job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			client := newAPIClient(cfg)
			if len(args) == 0 {
				health, err := client.health()
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderHealth(health))
				return nil
			}
			view, err := client.jobStatus(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderJob(view))
			return nil
		},
	}
}

func newCancelCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or in-flight job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			view, err := newAPIClient(cfg).cancelJob(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s %s\n", view.JobID, view.Status)
			return nil
		},
	}
}
