package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/cli"
	"github.com/aretw0/espalier/internal/presentation/tui"
	"github.com/aretw0/espalier/pkg/domain"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Start a session for an analytical question",
	Long:  `Creates a session and runs it until it needs a human decision or finishes.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *espalier.Engine) error {
			id, err := eng.Start(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printStatus(ctx, cmd, eng, id)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the state of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *espalier.Engine) error {
			return printStatus(ctx, cmd, eng, args[0])
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Answer a pending review and continue the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("decision")
		decision, err := domain.ParseDecision(raw)
		if err != nil {
			return err
		}
		notes, _ := cmd.Flags().GetString("notes")
		chart, _ := cmd.Flags().GetString("chart")

		return withEngine(cmd, func(ctx context.Context, eng *espalier.Engine) error {
			hd := domain.HumanDecision{
				Decision: decision,
				Notes:    notes,
				Chart:    chart,
			}
			if err := eng.Resume(ctx, args[0], hd); err != nil {
				return err
			}
			return printStatus(ctx, cmd, eng, args[0])
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a session waiting for input",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *espalier.Engine) error {
			if err := eng.Cancel(ctx, args[0]); err != nil {
				return err
			}
			return printStatus(ctx, cmd, eng, args[0])
		})
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <session-id>",
	Short: "Print the report of a finished session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *espalier.Engine) error {
			report, err := eng.Result(ctx, args[0])
			out := cmd.OutOrStdout()
			return cli.PrintResult(out, report, err, tui.NewRenderer(out))
		})
	},
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *espalier.Engine) error {
			views, err := eng.Sessions(ctx)
			if err != nil {
				return err
			}
			cli.PrintSessions(cmd.OutOrStdout(), views)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "List the checkpoints of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *espalier.Engine) error {
			cps, err := eng.History(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, cp := range cps {
				fmt.Fprintf(out, "v%-3d %-12s %-20s %s\n", cp.Version, cp.Node, cp.Reason, cp.CreatedAt.Local().Format("15:04:05.000"))
			}
			return nil
		})
	},
}

func printStatus(ctx context.Context, cmd *cobra.Command, eng *espalier.Engine, id string) error {
	view, err := eng.Status(ctx, id)
	if err != nil {
		return err
	}
	cli.PrintSession(cmd.OutOrStdout(), view)
	return nil
}

func init() {
	rootCmd.AddCommand(askCmd, statusCmd, resumeCmd, cancelCmd, resultCmd, sessionsCmd, historyCmd)

	resumeCmd.Flags().StringP("decision", "d", "", "Decision: approve, revise or reject")
	resumeCmd.Flags().StringP("notes", "n", "", "Notes for the next attempt (revise) or a revised question (clarification)")
	resumeCmd.Flags().String("chart", "", "Preferred chart: table, bar, line or pie")
	_ = resumeCmd.MarkFlagRequired("decision")
}
