package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/adapters/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server over stdio",
	Long: `Starts the engine as an MCP server on standard input and output, so agents can
start, inspect and resume sessions as tools. Logs go to stderr to keep the
JSON-RPC stream clean. For remote agents use "espalier serve", which mounts
the same server at /mcp.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *espalier.Engine) error {
			srv := mcp.NewServer(eng, espalier.Version, mcp.WithLogger(state.logger))
			state.logger.Info("starting MCP server (stdio)")
			return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
