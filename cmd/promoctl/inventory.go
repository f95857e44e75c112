package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kkkkikiki/burnpromo/internal/codes"
	"github.com/kkkkikiki/burnpromo/internal/importer"
	"github.com/kkkkikiki/burnpromo/internal/maintenance"
	"github.com/kkkkikiki/burnpromo/internal/objstore"
	"github.com/kkkkikiki/burnpromo/internal/ratelimit"
	"github.com/kkkkikiki/burnpromo/internal/repository"
)

var (
	importCmd = &cobra.Command{
		Use:   "import <file|s3://bucket/key|->",
		Short: "Import promo codes from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdImport,
	}

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export inventory data",
	}

	exportRedemptionsCmd = &cobra.Command{
		Use:   "redemptions <file|s3://bucket/key|->",
		Short: "Export every redemption as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdExportRedemptions,
	}

	exportCodesCmd = &cobra.Command{
		Use:   "codes <file|s3://bucket/key|->",
		Short: "Export every promo code hash with status and first redemption as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdExportCodes,
	}

	expireCmd = &cobra.Command{
		Use:   "expire",
		Short: "Mark available codes past their expiry as EXPIRED",
		Args:  cobra.NoArgs,
		RunE:  cmdExpire,
	}

	legacyCmd = &cobra.Command{
		Use:   "migrate-legacy",
		Short: "Resolve codes left in the legacy ALLOCATED status",
		Args:  cobra.NoArgs,
		RunE:  cmdMigrateLegacy,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep-ratelimits",
		Short: "Delete lapsed rate limit windows",
		Args:  cobra.NoArgs,
		RunE:  cmdSweep,
	}

	importFlags struct {
		campaign string
		batch    string
	}

	legacyFlags struct {
		policy string
	}
)

func cmdImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sealer, err := codes.NewSealer(cfg.Codes.Secret)
	if err != nil {
		return err
	}

	src, err := objstore.New(cfg.S3).Open(ctx, args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	rows, err := importer.ParseCSV(src)
	if err != nil {
		return err
	}

	campaign := importFlags.campaign
	if campaign == "" {
		campaign = cfg.Campaign.Default
	}

	return withStore(ctx, func(store *repository.PostgresStore, _ *sqlx.DB) error {
		summary, err := importer.New(store, sealer).Import(ctx, rows, importer.Options{
			BatchID:         importFlags.batch,
			AdminID:         operator,
			DefaultCampaign: campaign,
		})
		if err != nil {
			return err
		}
		for _, w := range summary.Warnings {
			log.Warn().Str("batch_id", summary.BatchID).Msg(w)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "batch %s: imported %d, duplicates %d, expired %d\n",
			summary.BatchID, summary.Imported, summary.Duplicates, summary.Expired)
		return nil
	})
}

func cmdExportRedemptions(cmd *cobra.Command, args []string) error {
	return export(cmd.Context(), args[0], "redemptions", importer.ExportRedemptions)
}

func cmdExportCodes(cmd *cobra.Command, args []string) error {
	return export(cmd.Context(), args[0], "promo codes", importer.ExportCodes)
}

type exportFunc func(ctx context.Context, src importer.ExportSource, w io.Writer) (int, error)

func export(ctx context.Context, dest, what string, run exportFunc) error {
	return withStore(ctx, func(store *repository.PostgresStore, _ *sqlx.DB) error {
		dst, err := objstore.New(cfg.S3).Create(ctx, dest, "text/csv")
		if err != nil {
			return err
		}
		n, err := run(ctx, store, dst)
		if err != nil {
			dst.Close()
			return err
		}
		if err := dst.Close(); err != nil {
			return err
		}
		log.Info().Int("rows", n).Str("dest", dest).Msgf("Exported %s", what)
		return nil
	})
}

func cmdExpire(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	return withStore(ctx, func(store *repository.PostgresStore, _ *sqlx.DB) error {
		n, err := maintenance.ExpireCodes(ctx, store, operator, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d codes\n", n)
		return nil
	})
}

func cmdMigrateLegacy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	policy := repository.LegacyPolicy(legacyFlags.policy)
	if policy != repository.LegacyAsRedeemed && policy != repository.LegacyAsAvailable {
		return errUsage("--policy must be %q or %q", repository.LegacyAsRedeemed, repository.LegacyAsAvailable)
	}

	return withStore(ctx, func(store *repository.PostgresStore, _ *sqlx.DB) error {
		n, err := maintenance.ResolveLegacy(ctx, store, policy, operator, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "resolved %d legacy codes as %s\n", n, policy)
		return nil
	})
}

func cmdSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	return withDB(ctx, func(db *sqlx.DB) error {
		n, err := ratelimit.NewPostgresStore(db).Sweep(ctx, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d rate limit windows\n", n)
		return nil
	})
}
