package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inkquest/inkquest/config"
	"github.com/inkquest/inkquest/internal/application/command"
	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/internal/interface/http/handlers"
)

// noConfig marks commands that run without loading the environment config.
var noConfig = map[string]string{"config": "none"}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <user-id>",
	Short: "Run one achievement evaluation pass and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			result, err := a.flow.Evaluate(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var (
	awardAction   string
	awardCategory string
	awardAmount   int64
	awardReason   string
)

var awardCmd = &cobra.Command{
	Use:   "award <user-id>",
	Short: "Award experience to a user",
	Long: `Award experience to a user, either through a named rule (--action) or
as an explicit --category and --amount.`,
	Example: `  inkquest award 6f1c... --action post_published
  inkquest award 6f1c... --category engagement --amount 25 --reason "featured post"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			result, err := a.awardXP.Handle(ctx, command.AwardXPCommand{
				UserID:   args[0],
				Action:   awardAction,
				Category: progression.XPCategory(awardCategory),
				Amount:   awardAmount,
				Reason:   awardReason,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <user-id>",
	Short: "Zero a user's experience and delete their achievement progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		operator := os.Getenv("USER")
		if operator == "" {
			operator = "cli"
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			result, err := a.resetStats.Handle(ctx, command.ResetStatsCommand{
				UserID:      args[0],
				RequestedBy: operator,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var levelCmd = &cobra.Command{
	Use:         "level <total-xp>",
	Short:       "Print the level breakdown for an XP total",
	Args:        cobra.ExactArgs(1),
	Annotations: noConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		xp, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid XP total %q: %w", args[0], err)
		}
		return printJSON(cmd.OutOrStdout(), progression.Describe(xp))
	},
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key <admin-key>",
	Short: "Print the bcrypt hash to put into ADMIN_KEY_HASH",
	Long: `Print the bcrypt hash to put into ADMIN_KEY_HASH. The key itself is
never stored; clients send it in the X-Admin-Key header.`,
	Args:        cobra.ExactArgs(1),
	Annotations: noConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := handlers.HashAdminKey(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
		return err
	},
}

var featuresCmd = &cobra.Command{
	Use:         "features",
	Short:       "List feature flags as resolved from the environment",
	Args:        cobra.NoArgs,
	Annotations: noConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FEATURE\tENABLED\tROLLOUT\tDESCRIPTION")
		for _, f := range config.LoadFeatureFlags().Snapshot() {
			fmt.Fprintf(w, "%s\t%t\t%d%%\t%s\n", f.Name, f.Enabled(), f.RolloutPercent, f.Description)
		}
		return w.Flush()
	},
}

var runJobCmd = &cobra.Command{
	Use:       "run-job <name>",
	Short:     "Run one background job now, bypassing its schedule and lock",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"evaluation_sweep", "level_repair"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			sched, err := buildScheduler(a)
			if err != nil {
				return err
			}
			defer func() { _ = sched.Stop() }()

			result, err := sched.RunNow(ctx, args[0])
			if result.JobName != "" {
				log.Info("job finished",
					"job", result.JobName,
					"success", result.Success,
					"duration", result.Duration,
				)
			}
			return err
		})
	},
}

func init() {
	awardCmd.Flags().StringVar(&awardAction, "action", "", "XP rule name (e.g. post_published)")
	awardCmd.Flags().StringVar(&awardCategory, "category", "", "XP category when no --action is given")
	awardCmd.Flags().Int64Var(&awardAmount, "amount", 0, "XP amount when no --action is given")
	awardCmd.Flags().StringVar(&awardReason, "reason", "", "reason stored in the audit log")
	awardCmd.MarkFlagsMutuallyExclusive("action", "category")
	awardCmd.MarkFlagsMutuallyExclusive("action", "amount")
	awardCmd.MarkFlagsRequiredTogether("category", "amount")
}

// withApp builds the engine, runs fn and shuts everything down, waiting for
// background evaluations fn may have scheduled.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)

	shutdownCtx, cancel := a.shutdownContext()
	defer cancel()
	a.close(shutdownCtx)

	return runErr
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
