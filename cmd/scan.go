// File: cmd/scan.go
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/observability"
)

// newScanCmd creates the one-shot `scan` command: score a single URL and
// print the result as JSON.
func newScanCmd() *cobra.Command {
	var explainVerdict bool

	scanCmd := &cobra.Command{
		Use:   "scan [url]",
		Short: "Scores a single URL and prints the scan result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			components, err := initializeComponents(ctx, cfg, logger, false)
			if err != nil {
				components.Shutdown()
				return fmt.Errorf("failed to initialize scan components: %w", err)
			}
			defer components.Shutdown()

			scanCtx, cancel := context.WithTimeout(ctx, cfg.Engine.ScanTimeout)
			defer cancel()

			result, err := components.Engine.Scan(scanCtx, args[0])
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Scan aborted gracefully", zap.String("url", args[0]))
					return fmt.Errorf("scan aborted by user signal")
				}
				return fmt.Errorf("scan failed: %w", err)
			}

			// Persist when a database is configured; one-shot scans work
			// without one.
			if components.Store != nil {
				persistCtx, cancelPersist := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancelPersist()
				if err := components.Store.SaveResult(persistCtx, result); err != nil {
					logger.Error("Failed to persist scan result.", zap.Error(err))
				}
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal scan result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if explainVerdict {
				resp, err := components.Explainer.Explain(ctx, schemas.ConsensusRequest{Result: result})
				if err != nil {
					return fmt.Errorf("failed to build explanation: %w", err)
				}
				explanation, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal explanation: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(explanation))
			}

			return nil
		},
	}

	scanCmd.Flags().BoolVar(&explainVerdict, "explain", false, "Also print a consensus explanation of the verdict.")

	return scanCmd
}
