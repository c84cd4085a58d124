package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	pruneTokenRetention time.Duration
	pruneAuditRetention time.Duration
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired refresh tokens and old audit events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
			tokens, err := app.Ledger.Prune(ctx, pruneTokenRetention)
			if err != nil {
				return fmt.Errorf("prune refresh tokens: %w", err)
			}
			app.Logger.Info("pruned refresh tokens", "deleted", tokens, "retention", pruneTokenRetention)

			if pruneAuditRetention <= 0 {
				return nil
			}
			entries, err := app.AuditService.Prune(ctx, pruneAuditRetention)
			if err != nil {
				return fmt.Errorf("prune audit events: %w", err)
			}
			app.Logger.Info("pruned audit events", "deleted", entries, "retention", pruneAuditRetention)
			return nil
		})
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneTokenRetention, "token-retention", 24*time.Hour, "keep expired refresh tokens this long past expiry")
	pruneCmd.Flags().DurationVar(&pruneAuditRetention, "audit-retention", 0, "delete audit events older than this, disabled when zero")
}
