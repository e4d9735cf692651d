package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/espalier"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the workflow graph as Mermaid",
	Long: `Outputs a Mermaid diagram (graph TD) of the workflow. With --session the
visited nodes and the current position of that session are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("session")
		return withEngine(cmd, func(ctx context.Context, eng *espalier.Engine) error {
			out, err := eng.Mermaid(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("session", "s", "", "Highlight the path of this session")
}
