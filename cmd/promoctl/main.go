// Command promoctl runs operator tasks against the promo code inventory.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kkkkikiki/burnpromo/internal/config"
	"github.com/kkkkikiki/burnpromo/internal/database"
	"github.com/kkkkikiki/burnpromo/internal/logger"
	"github.com/kkkkikiki/burnpromo/internal/repository"
)

const operator = "promoctl"

var (
	rootCmd = &cobra.Command{
		Use:           "promoctl",
		Short:         "Burn promo inventory administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE:  cmdMigrate,
	}

	cfg *config.Config
)

func main() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}
		cfg = loaded
		logger.Init(logger.Config{Level: cfg.App.LogLevel, Environment: cfg.App.Environment})
		return nil
	}

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportRedemptionsCmd)
	exportCmd.AddCommand(exportCodesCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(legacyCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(tokenCmd)

	importCmd.Flags().StringVar(&importFlags.campaign, "campaign", "", "campaign for rows that do not name one (default CAMPAIGN_DEFAULT)")
	importCmd.Flags().StringVar(&importFlags.batch, "batch", "", "batch id, generated when empty")
	legacyCmd.Flags().StringVar(&legacyFlags.policy, "policy", "", "how to resolve ALLOCATED rows: redeemed or available")
	_ = legacyCmd.MarkFlagRequired("policy")
	tokenCmd.Flags().StringVar(&tokenFlags.role, "role", "admin", "token role: admin or wallet")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("promoctl failed")
		os.Exit(1)
	}
}

func cmdMigrate(cmd *cobra.Command, args []string) error {
	return withDB(cmd.Context(), func(db *sqlx.DB) error {
		return database.Migrate(cmd.Context(), db)
	})
}

// withDB opens the PostgreSQL pool for the duration of fn
func withDB(ctx context.Context, fn func(db *sqlx.DB) error) error {
	db, err := database.ConnectPostgres(ctx, cfg.Database.GetDatabaseURL(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

// withStore is withDB with the inventory store built on top
func withStore(ctx context.Context, fn func(store *repository.PostgresStore, db *sqlx.DB) error) error {
	return withDB(ctx, func(db *sqlx.DB) error {
		return fn(repository.NewPostgresStore(db), db)
	})
}

var errInvalidUsage = errors.New("invalid usage")

func errUsage(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errInvalidUsage, fmt.Sprintf(format, args...))
}
