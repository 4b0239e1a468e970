// File: cmd/intel.go
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/intel"
	"github.com/elara-sec/verdict/internal/observability"
)

// newIntelCmd creates the `intel` command group.
func newIntelCmd() *cobra.Command {
	intelCmd := &cobra.Command{
		Use:   "intel",
		Short: "Manages the threat intelligence feed store",
	}
	intelCmd.AddCommand(newIntelSyncCmd())
	return intelCmd
}

// newIntelSyncCmd runs a one-shot sync of one source, or all of them.
func newIntelSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [source]",
		Short: "Fetches threat intel feeds and upserts them into the store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			components, err := initializeComponents(ctx, cfg, logger, true)
			if err != nil {
				components.Shutdown()
				return fmt.Errorf("failed to initialize intel components: %w", err)
			}
			defer components.Shutdown()

			aggregator := intel.NewAggregator(logger, cfg.Intel, components.IntelStore)

			var reports []*schemas.SyncReport
			if len(args) == 1 {
				report, err := aggregator.Sync(ctx, args[0])
				if err != nil {
					return fmt.Errorf("sync of source %q failed: %w", args[0], err)
				}
				reports = append(reports, report)
			} else {
				reports, err = aggregator.SyncAll(ctx)
				if err != nil {
					return fmt.Errorf("sync failed: %w", err)
				}
			}

			out, err := json.MarshalIndent(reports, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal sync reports: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
