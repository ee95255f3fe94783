package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"muxd/internal/config"
)

var version = "0.1.0"

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "muxd",
		Short:         "Asynchronous audio/video merge service",
		Long:          "muxd fetches remote video and audio, merges the audio track into the video with ffmpeg, and publishes the result to object storage.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "path to config.toml")

	cmdCtx := newCommandContext(&configFlag)

	root.AddCommand(
		newServeCommand(cmdCtx),
		newSubmitCommand(cmdCtx),
		newStatusCommand(cmdCtx),
		newCancelCommand(cmdCtx),
		newQueueCommand(cmdCtx),
		newConfigCommand(cmdCtx),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the muxd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "muxd %s\n", version)
			return nil
		},
	}
}
