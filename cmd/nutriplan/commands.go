package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"diet-plan-delivery/internal/api"
	"diet-plan-delivery/internal/app"
	"diet-plan-delivery/internal/config"
	"diet-plan-delivery/internal/delivery"
	"diet-plan-delivery/internal/pipeline"
)

// printOutcome prints the outcome of a pipeline entry point. The
// outcome is printed on failure too, so the correlation id is never lost.
func printOutcome(cmd *cobra.Command, out pipeline.Outcome, err error) error {
	if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
		return perr
	}
	return err
}

func processPaymentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-payment [payment-id]",
		Short: "Run the pipeline for a payment, as the webhook would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out, err := a.Pipeline().HandlePayment(ctx, args[0])
				return printOutcome(cmd, out, err)
			})
		},
	}
}

func fullProcessCmd() *cobra.Command {
	var userData, channel string
	cmd := &cobra.Command{
		Use:   "full-process",
		Short: "Generate, render and deliver a plan without a payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := readAttributes(userData)
			if err != nil {
				return err
			}
			pref, err := delivery.ParseKind(channel)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out, err := a.Pipeline().RunFullProcess(ctx, attrs, pref)
				return printOutcome(cmd, out, err)
			})
		},
	}

	cmd.Flags().StringVarP(&userData, "user-data", "u", "-", "JSON file with user attributes (- for stdin)")
	cmd.Flags().StringVarP(&channel, "channel", "c", "", "Delivery channel (mail, direct_message)")
	return cmd
}

func generateCmd() *cobra.Command {
	var userData string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a plan and print it without rendering or delivering",
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := readAttributes(userData)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				plan, err := a.Pipeline().Generate(ctx, attrs)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), plan)
			})
		},
	}

	cmd.Flags().StringVarP(&userData, "user-data", "u", "-", "JSON file with user attributes (- for stdin)")
	return cmd
}

func retryDeliveryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-delivery [correlation-id]",
		Short: "Deliver the stored document of a DELIVERY_FAILED run again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out, err := a.Pipeline().RetryDelivery(ctx, args[0])
				return printOutcome(cmd, out, err)
			})
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [correlation-id]",
		Short: "Restart a failed or stale run from the stage that is missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out, err := a.Pipeline().Resume(ctx, args[0])
				return printOutcome(cmd, out, err)
			})
		},
	}
}

func showRunCmd() *cobra.Command {
	var byPayment bool
	cmd := &cobra.Command{
		Use:   "show-run [correlation-id]",
		Short: "Print a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var run *pipeline.Run
				var err error
				if byPayment {
					run, err = a.Runs().GetByPayment(ctx, args[0])
				} else {
					run, err = a.Pipeline().Run(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), run)
			})
		},
	}

	cmd.Flags().BoolVarP(&byPayment, "payment", "p", false, "Look the run up by payment id")
	return cmd
}

func failedRunsCmd() *cobra.Command {
	var state string
	var limit int
	cmd := &cobra.Command{
		Use:   "failed-runs",
		Short: "List the most recent runs in a failure state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := pipeline.State(state)
			if !s.Failed() {
				return fmt.Errorf("%q is not a failure state", state)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				runs, err := a.Runs().ListByState(ctx, s, limit)
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-18s %-12s %s  %s\n",
						r.UpdatedAt.Format(time.RFC3339), r.State, r.ErrorKind, r.CorrelationID, r.PaymentID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&state, "state", "s", string(pipeline.StateDeliveryFailed), "Failure state to list")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs")
	return cmd
}

func metricsCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "metrics-cleanup",
		Short: "Delete usage metrics older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Metrics().Cleanup(ctx, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d metrics older than %d days.\n", n, days)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 30, "Retention in days")
	return cmd
}

func metricsReportCmd() *cobra.Command {
	var days int
	var send bool
	cmd := &cobra.Command{
		Use:   "metrics-report",
		Short: "Print model usage and system health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.UsageReport(ctx, days, send)
				fmt.Fprintln(cmd.OutOrStdout(), report)
				return err
			})
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 7, "Days to report")
	cmd.Flags().BoolVar(&send, "send", false, "Also post the report to the admin Telegram chat")
	return cmd
}

func adminTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Issue a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			token, err := api.IssueAdminToken(cfg.AdminJWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
