package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"muxd/internal/config"
)

func newConfigCommand(cmdCtx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the muxd configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigShowCommand(cmdCtx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample config",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(path)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				target = defaultPath
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "destination path (defaults to ~/.config/muxd/config.toml)")
	return cmd
}

func newConfigShowCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scratch_dir      = %s\n", cfg.Paths.ScratchDir)
			fmt.Fprintf(out, "log_dir          = %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "api_bind         = %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "api_key set      = %s\n", yesNo(strings.TrimSpace(cfg.Paths.APIKey) != ""))
			fmt.Fprintf(out, "storage endpoint = %s\n", cfg.Storage.Endpoint)
			fmt.Fprintf(out, "storage bucket   = %s\n", cfg.Storage.Bucket)
			fmt.Fprintf(out, "storage prefix   = %s\n", cfg.Storage.Prefix)
			fmt.Fprintf(out, "fetch timeout    = %s\n", cfg.FetchTimeout())
			fmt.Fprintf(out, "fetch cap        = %d MiB\n", cfg.Fetch.MaxDownloadMiB)
			fmt.Fprintf(out, "encode timeout   = %s\n", cfg.EncodeTimeout())
			fmt.Fprintf(out, "default mode     = %s\n", cfg.Encode.DefaultMode)
			fmt.Fprintf(out, "default format   = %s\n", cfg.Encode.DefaultFormat)
			fmt.Fprintf(out, "workers          = %d\n", cfg.Workflow.WorkerCount)
			fmt.Fprintf(out, "retention        = %s\n", cfg.RetentionWindow())
			fmt.Fprintf(out, "ntfy enabled     = %s\n", yesNo(strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""))
			return nil
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
