package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"muxd/internal/api"
	"muxd/internal/daemon"
	"muxd/internal/encode"
	"muxd/internal/fetch"
	"muxd/internal/logging"
	"muxd/internal/orchestrator"
	"muxd/internal/publish"
	"muxd/internal/queue"
)

func newServeCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the merge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      cfg.Logging.Format,
				OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "muxd.log")},
			})
			if err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}

			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			fetcher, err := fetch.New(cfg, logger)
			if err != nil {
				return err
			}
			publisher, err := publish.New(cfg, logger)
			if err != nil {
				return err
			}

			manager := orchestrator.NewManager(cfg, store, logger, orchestrator.Deps{
				Fetcher:   fetcher,
				Encoder:   encode.New(cfg, logger),
				Publisher: publisher,
				Callbacks: publish.NewCallbackSender(cfg, logger),
			})
			server := api.NewServer(cfg, manager, logger)

			d, err := daemon.New(cfg, store, logger, manager, server)
			if err != nil {
				return err
			}
			if err := d.Start(cmd.Context()); err != nil {
				return err
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-signals:
				logger.Info("shutdown signal received", logging.String("signal", sig.String()))
			case <-cmd.Context().Done():
			}

			d.Stop()
			return nil
		},
	}
}
