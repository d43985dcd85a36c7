package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/linbuild/linbuild/internal/build"
	"github.com/linbuild/linbuild/internal/config"
	"github.com/linbuild/linbuild/internal/logging"
)

const defaultLogLevel = "info"

// version is overridden at release time via -ldflags.
var version = "dev"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(&levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		logger = slog.Default()
		switch {
		case errors.Is(err, context.Canceled):
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		case isValidationError(err):
			logger.Error("configuration is invalid", "error", err)
			os.Exit(2)
		default:
			logger.Error("command execution failed", "error", err)
			os.Exit(1)
		}
	}
}

func isValidationError(err error) bool {
	var verr *config.ValidationError
	return errors.As(err, &verr)
}

func newRootCommand(levelVar *slog.LevelVar) *cobra.Command {
	logLevel := defaultLogLevel
	jsonLogs := false

	root := &cobra.Command{
		Use:           "linbuild",
		Short:         "Automate Linux kernel builds from a declarative configuration",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "Emit log records as JSON")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		if jsonLogs {
			slog.SetDefault(logging.NewJSON(os.Stderr, levelVar))
		}
		return nil
	}

	root.AddCommand(
		newBuildCommand(),
		newValidateCommand(),
		newVersionCommand(),
	)
	return root
}

func newBuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build <config-file>",
		Args:  cobra.ExactArgs(1),
		Short: "Run the build pipeline described by the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Default()

			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}

			pipeline := build.New(cfg, logger.With("component", "pipeline"))
			if err := pipeline.Run(cmd.Context()); err != nil {
				return err
			}
			logger.Info("build finished", "target", cfg.TargetDir)
			return nil
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Args:  cobra.ExactArgs(1),
		Short: "Check a configuration file without running any build stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid; build directory: %s\n", cfg.TargetDir)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the linbuild version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
