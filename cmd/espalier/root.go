package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/cli"
	"github.com/aretw0/espalier/internal/config"
)

// app carries what PersistentPreRunE resolved for the subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

var state app

var rootCmd = &cobra.Command{
	Use:   "espalier",
	Short: "Espalier orchestrates analytical questions through a checkpointed workflow",
	Long: `Espalier turns a natural-language analytical question into a validated query,
pauses for human review, and produces a report. Every step is checkpointed, so
sessions survive restarts and can be resumed from the CLI, HTTP or MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.Log.Level, _ = flags.GetString("log-level")
		}
		if flags.Changed("log-format") {
			cfg.Log.Format, _ = flags.GetString("log-format")
		}
		if flags.Changed("store") {
			cfg.Store.Driver, _ = flags.GetString("store")
		}
		if flags.Changed("store-path") {
			cfg.Store.Path, _ = flags.GetString("store-path")
		}

		logger, err := cli.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		state = app{cfg: cfg, logger: logger}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx := cli.NewSignalContext(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	ctx.Cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withEngine builds the engine for one command and closes it afterwards.
func withEngine(cmd *cobra.Command, fn func(context.Context, *espalier.Engine) error) error {
	ctx := cmd.Context()
	eng, err := cli.BuildEngine(ctx, state.cfg, state.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			state.logger.Error("failed to close engine", "err", err)
		}
	}()
	return fn(ctx, eng)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", os.Getenv("ESPALIER_CONFIG"), "Path to the YAML configuration file")
	pf.String("log-level", "info", "Log level: debug, info, warn or error")
	pf.String("log-format", "text", "Log format: text, json or pretty")
	pf.String("store", config.DriverFile, "Checkpoint store: memory, file, redis or postgres")
	pf.String("store-path", ".espalier/sessions", "Directory of the file store")
}
