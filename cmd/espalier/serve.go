package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/espalier/internal/cli"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the engine in server mode. The REST API is described by /openapi.yaml,
the MCP streamable endpoint is mounted at /mcp and Prometheus metrics at /metrics
(or on --metrics-addr when set).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		cfg := state.cfg
		if flags.Changed("addr") {
			cfg.HTTP.Addr, _ = flags.GetString("addr")
		}
		if flags.Changed("metrics-addr") {
			cfg.HTTP.MetricsAddr, _ = flags.GetString("metrics-addr")
		}
		recoverSessions, _ := flags.GetBool("recover")

		err := cli.Serve(cmd.Context(), cfg, state.logger, cli.ServeOptions{
			Recover: recoverSessions,
			Banner:  os.Stderr,
		})
		if sc, ok := cmd.Context().(*cli.SignalContext); ok && sc.Signal() != nil {
			state.logger.Info("server stopped", "signal", sc.Signal().String())
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address of the HTTP API")
	serveCmd.Flags().String("metrics-addr", "", "Serve /metrics on a separate address")
	serveCmd.Flags().Bool("recover", false, "Resume sessions interrupted by a previous crash before serving")
}
