// SPDX-License-Identifier: GPL-3.0-or-later

// Command umay runs the TLS-terminating Layer-4 reverse proxy described by a
// configuration document, or validates one without binding any listeners.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hippalus/umay/internal/config"
	"github.com/hippalus/umay/internal/netx"
	"github.com/hippalus/umay/internal/supervisor"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitConfigError)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "umay",
		Short:         "TLS-terminating Layer-4 reverse proxy",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration document")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newValidateCmd(&configPath))
	root.AddCommand(newVersionCmd())

	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the proxy until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(*configPath)
		},
	}
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration document and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			if cfg.Stream != nil {
				fmt.Printf("stream: %d upstream(s), %d listener(s)\n", len(cfg.Stream.Upstreams), len(cfg.Stream.Servers))
			}
			if cfg.HTTP != nil {
				fmt.Printf("http: %d upstream(s), %d listener(s) (not implemented)\n", len(cfg.HTTP.Upstreams), len(cfg.HTTP.Servers))
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

// exitConfigError is the process exit status for any failed command
// (configuration, credential, and bind problems alike), distinct from the
// 0 of a clean shutdown.
const exitConfigError = 1

func runProxy(configPath string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("configLoadFailed", slog.Any("err", err))
		return err
	}
	if cfg.WorkerThreads > 0 {
		runtime.GOMAXPROCS(cfg.WorkerThreads)
	}

	sup, err := supervisor.New(cfg, logger)
	if err != nil {
		logger.Error("supervisorBuildFailed", slog.Any("err", err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	select {
	case err := <-runDone:
		if err != nil {
			logger.Error("supervisorRunFailed", slog.Any("err", err))
			return err
		}
		runDone <- nil
		<-ctx.Done()
	case <-ctx.Done():
	}
	logger.Info("shutdownSignalReceived")

	exitCtx, cancel := context.WithTimeout(context.Background(), cfg.ExitTimeoutDuration())
	defer cancel()
	if err := sup.Shutdown(exitCtx); err != nil {
		logger.Error("shutdownFailed", slog.Any("err", err))
	}

	select {
	case err := <-runDone:
		return err
	case <-exitCtx.Done():
		return exitCtx.Err()
	}
}

var _ netx.SLogger = (*slog.Logger)(nil)
