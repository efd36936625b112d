package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// withComponents builds the components, runs fn under a context cancelled on
// SIGINT/SIGTERM, then closes them.
func withComponents(cmd *cobra.Command, needTracker bool, fn func(ctx context.Context, c *components) error) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	c, err := build(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if needTracker {
		if err := c.requireTracker(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, c)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Collect and classify recent meetings and sent emails",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, false, func(ctx context.Context, c *components) error {
			res, err := c.app.Refresh(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Batch %s: %d meeting(s), %d email(s), %d classified\n",
				res.BatchID, res.Meetings, res.Emails, res.Classified)
			return nil
		})
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Match customers to tracker projects by priority",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, true, func(ctx context.Context, c *components) error {
			res, err := c.app.Enrich(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, sel := range res.Selections {
				if sel.Err != nil {
					fmt.Fprintf(out, "  %-12s %s\n", sel.HomeID, sel.Err)
				}
			}
			fmt.Fprintf(out, "Resolved %d customer(s), %d left for review\n", res.Resolved, res.Unresolved)
			return nil
		})
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Fit the latest batch into the day and commit it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, true, func(ctx context.Context, c *components) error {
			rep, err := c.app.Log(ctx)
			if len(rep.Outcomes) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), formatOutcomes(rep.Outcomes))
				fmt.Fprintln(cmd.OutOrStdout(), formatSummary(rep))
			}
			return err
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Refresh, then log, holding the run lock",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, true, func(ctx context.Context, c *components) error {
			rep, err := c.app.Run(ctx)
			if len(rep.Outcomes) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), formatOutcomes(rep.Outcomes))
				fmt.Fprintln(cmd.OutOrStdout(), formatSummary(rep))
			}
			return err
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <directory.yaml>",
	Short: "Load customer domains and SKU priorities from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, false, func(_ context.Context, c *components) error {
			res, err := c.app.Import(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d customer domain(s), %d priority row(s)\n", res.Customers, res.Priorities)
			return nil
		})
	},
}

var customersCmd = &cobra.Command{
	Use:   "customers",
	Short: "List the customer directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, false, func(_ context.Context, c *components) error {
			entries, err := c.store.ListCustomers()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatCustomers(entries))
			return nil
		})
	},
}

var outcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Show recorded outcomes (latest run by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		run, _ := cmd.Flags().GetString("run")
		limit, _ := cmd.Flags().GetInt("limit")
		all, _ := cmd.Flags().GetBool("all")
		return withComponents(cmd, false, func(_ context.Context, c *components) error {
			if run == "" && !all {
				latest, err := c.store.LatestRun()
				if err != nil {
					return err
				}
				if latest == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
					return nil
				}
				run = latest
			}
			outs, err := c.store.ListOutcomes(run, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatOutcomes(outs))
			return nil
		})
	},
}

func init() {
	outcomesCmd.Flags().String("run", "", "run id")
	outcomesCmd.Flags().Bool("all", false, "list across runs")
	outcomesCmd.Flags().Int("limit", 0, "maximum rows (0 for all)")

	rootCmd.AddCommand(refreshCmd, enrichCmd, logCmd, runCmd, importCmd, customersCmd, outcomesCmd, serveCmd)
}
