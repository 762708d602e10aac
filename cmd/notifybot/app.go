// Shared construction helpers for the subcommands.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"

	"github.com/tbourn/notify-bot/internal/auth"
	"github.com/tbourn/notify-bot/internal/config"
	"github.com/tbourn/notify-bot/internal/docstore"
	"github.com/tbourn/notify-bot/internal/keyvault"
	"github.com/tbourn/notify-bot/internal/repo"
	"github.com/tbourn/notify-bot/internal/sysutil"
)

// loadConfig reads envFile when present, then the process environment, and
// sets up logging. Variables already set in the environment win.
func loadConfig(envFile string) (config.Config, error) {
	// godotenv.Load never overrides variables that are already set.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	// nil writer means stderr
	sysutil.ConfigureLogging(nil, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	return cfg, nil
}

// openRepository opens the document store and provisions every container.
func openRepository(ctx context.Context, cfg config.Config) (*repo.Repository, error) {
	db, err := docstore.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// Provision below creates the database and containers when missing.
	store, err := docstore.New(db)
	if err != nil {
		return nil, err
	}
	r := repo.New(store, repo.Options{
		Database: cfg.Store.Database,
		TenantID: cfg.Bot.TenantID,
		MaxTries: cfg.Store.MaxTries,
		PageSize: cfg.Store.PageSize,
	})
	if err := r.Provision(ctx); err != nil {
		return nil, fmt.Errorf("provision store: %w", err)
	}
	return r, nil
}

// openKeyVault builds the KMS and Secrets Manager adapter from the default
// AWS credential chain.
func openKeyVault(ctx context.Context, cfg config.Config) (*keyvault.Adapter, error) {
	kv := cfg.KeyVault
	return keyvault.NewFromAWS(ctx, kv.Region, kv.Retries, keyvault.Options{
		AliasPrefix: kv.AliasPrefix,
		KeyLifetime: kv.KeyLifetime,
		Workers:     kv.Workers,
	})
}

// newTokenService signs with keys and reads the admin credentials from the
// configured secrets.
func newTokenService(keys *keyvault.Adapter, cfg config.Config) *auth.TokenService {
	kv := cfg.KeyVault
	return auth.NewTokenService(keys, auth.Options{
		TTL:            kv.TokenTTL,
		PoolSize:       kv.PoolSize,
		LoginSecret:    kv.LoginSecret,
		PasswordSecret: kv.PasswordSecret,
		CacheTTL:       kv.SecretCacheTTL,
		Retries:        kv.Retries,
	})
}
