// The provision command prepares a fresh deployment: it creates the store
// database and containers and fills the signing key pool. With --prune it
// also retires pool keys that can no longer have valid tokens.

package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// provisionCmd is safe to run repeatedly: containers are created only when
// missing and the key pool is only filled when no usable key remains.
func provisionCmd(envFile *string) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the store containers and the signing key pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			// opening the repository provisions it
			if _, err := openRepository(ctx, cfg); err != nil {
				return err
			}
			log.Info().Str("database", cfg.Store.Database).Msg("store provisioned")

			keys, err := openKeyVault(ctx, cfg)
			if err != nil {
				return err
			}
			// picking a key fills an empty pool as a side effect
			key, err := keys.GetOrCreateRandomKey(ctx, cfg.KeyVault.PoolSize)
			if err != nil {
				return fmt.Errorf("key pool: %w", err)
			}
			log.Info().Str("key", key.Name).Time("expires_at", key.ExpiresAt).Msg("signing key pool ready")

			// Tokens live at most TokenTTL, so a key expired for longer
			// than that signs nothing still valid.
			if prune {
				retired, err := keys.ScheduleExpiredKeyDeletion(ctx, cfg.KeyVault.TokenTTL)
				if err != nil {
					return fmt.Errorf("prune keys: %w", err)
				}
				log.Info().Strs("keys", retired).Msg("expired signing keys scheduled for deletion")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "schedule deletion of signing keys that expired more than one token TTL ago")
	return cmd
}
