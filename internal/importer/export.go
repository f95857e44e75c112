package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kkkkikiki/burnpromo/internal/repository"
)

const exportPageSize = 500

// ExportSource is the read side an export pages through
type ExportSource interface {
	repository.Reporter
}

// ExportRedemptions writes every redemption as CSV, newest first, with the
// hash of the code it consumed. Plaintext codes are never exported.
func ExportRedemptions(ctx context.Context, src ExportSource, w io.Writer) (int, error) {
	out := csv.NewWriter(w)
	if err := out.Write([]string{"wallet_address", "tx_hash", "burn_amount", "promo_code_hash", "created_at"}); err != nil {
		return 0, err
	}

	hashes := make(map[string]string)
	written := 0
	for offset := 0; ; offset += exportPageSize {
		page, err := src.ListRedemptions(ctx, offset, exportPageSize)
		if err != nil {
			return written, fmt.Errorf("failed to list redemptions: %w", err)
		}
		for _, r := range page {
			id := r.PromoCodeID.String()
			hash, ok := hashes[id]
			if !ok {
				code, err := src.GetCode(ctx, r.PromoCodeID)
				switch {
				case err == nil:
					hash = code.CodeHash
				case errors.Is(err, repository.ErrNotFound):
					hash = ""
				default:
					return written, fmt.Errorf("failed to read promo code %s: %w", id, err)
				}
				hashes[id] = hash
			}
			if err := out.Write([]string{r.WalletAddress, r.TxHash, r.BurnAmount, hash, r.CreatedAt.UTC().Format(time.RFC3339)}); err != nil {
				return written, err
			}
			written++
		}
		if len(page) < exportPageSize {
			break
		}
	}

	out.Flush()
	return written, out.Error()
}

// ExportCodes writes every code as CSV, newest first, with the wallet and time
// of its first redemption. Sealed and plaintext codes are never exported.
func ExportCodes(ctx context.Context, src ExportSource, w io.Writer) (int, error) {
	out := csv.NewWriter(w)
	header := []string{"code_hash", "status", "batch_id", "campaign", "used_count", "max_uses", "expires_at", "redeemed_by", "redeemed_at"}
	if err := out.Write(header); err != nil {
		return 0, err
	}

	written := 0
	for offset := 0; ; offset += exportPageSize {
		page, err := src.ListCodes(ctx, offset, exportPageSize)
		if err != nil {
			return written, fmt.Errorf("failed to list promo codes: %w", err)
		}
		for _, c := range page {
			redeemedBy := ""
			if c.RedeemedBy != nil {
				redeemedBy = *c.RedeemedBy
			}
			if err := out.Write([]string{
				c.CodeHash,
				string(c.Status),
				c.BatchID,
				c.CampaignName(),
				strconv.Itoa(c.UsedCount),
				strconv.Itoa(c.MaxUses),
				formatTime(c.ExpiresAt),
				redeemedBy,
				formatTime(c.RedeemedAt),
			}); err != nil {
				return written, err
			}
			written++
		}
		if len(page) < exportPageSize {
			break
		}
	}

	out.Flush()
	return written, out.Error()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
