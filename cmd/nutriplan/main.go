package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"diet-plan-delivery/internal/app"
	"diet-plan-delivery/internal/config"
	"diet-plan-delivery/internal/nutrition"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "nutriplan",
		Short:         "Operate the nutrition plan delivery pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(processPaymentCmd())
	rootCmd.AddCommand(fullProcessCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(retryDeliveryCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(showRunCmd())
	rootCmd.AddCommand(failedRunsCmd())
	rootCmd.AddCommand(metricsCleanupCmd())
	rootCmd.AddCommand(metricsReportCmd())
	rootCmd.AddCommand(adminTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads the configuration, builds the application and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// readAttributes reads user attributes from a JSON file, or stdin for "-".
func readAttributes(path string) (nutrition.UserAttributes, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nutrition.UserAttributes{}, fmt.Errorf("failed to open user data: %w", err)
		}
		defer f.Close()
		r = f
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nutrition.UserAttributes{}, fmt.Errorf("failed to read user data: %w", err)
	}
	return nutrition.ParseAttributes(raw)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
