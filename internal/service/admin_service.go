package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/kkkkikiki/burnpromo/internal/importer"
	"github.com/kkkkikiki/burnpromo/internal/logger"
	"github.com/kkkkikiki/burnpromo/internal/maintenance"
	"github.com/kkkkikiki/burnpromo/internal/model"
	"github.com/kkkkikiki/burnpromo/internal/redeem"
	"github.com/kkkkikiki/burnpromo/internal/repository"
	"github.com/kkkkikiki/burnpromo/internal/session"
)

const (
	defaultPageSize     = 20
	defaultCodePageSize = 100
)

// AdminStore is the inventory access AdminService needs
type AdminStore interface {
	repository.Reporter
	maintenance.Store
}

// AdminServer implements AdminService
type AdminServer struct {
	store    AdminStore
	importer *importer.Importer
	flow     *redeem.Flow
	decimals int32
	now      func() time.Time
}

// NewAdminServer creates a new AdminServer instance
func NewAdminServer(store AdminStore, im *importer.Importer, flow *redeem.Flow, tokenDecimals int32) *AdminServer {
	return &AdminServer{
		store:    store,
		importer: im,
		flow:     flow,
		decimals: tokenDecimals,
		now:      time.Now,
	}
}

// GetInventory returns the dashboard counters
func (s *AdminServer) GetInventory(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[CampaignStatsResponse], error) {
	stats, err := s.flow.CampaignStats(ctx)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("failed to read inventory")
		return nil, connect.NewError(connect.CodeInternal, errors.New("Failed to fetch inventory"))
	}
	return connect.NewResponse(statsResponse(stats)), nil
}

// ImportCodes imports a CSV body as one batch
func (s *AdminServer) ImportCodes(
	ctx context.Context,
	req *connect.Request[ImportCodesRequest],
) (*connect.Response[ImportCodesResponse], error) {
	if err := validateRequest(req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	rows, err := importer.ParseCSV(strings.NewReader(req.Msg.CSV))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if len(rows) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("CSV contains no codes"))
	}

	summary, err := s.importer.Import(ctx, rows, importer.Options{
		BatchID:         req.Msg.BatchID,
		AdminID:         adminID(ctx),
		DefaultCampaign: req.Msg.Campaign,
	})
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("code import failed")
		return nil, connect.NewError(connect.CodeInternal, errors.New("Import failed"))
	}

	warnings := summary.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return connect.NewResponse(&ImportCodesResponse{
		BatchID:    summary.BatchID,
		Imported:   summary.Imported,
		Duplicates: summary.Duplicates,
		Expired:    summary.Expired,
		Warnings:   warnings,
	}), nil
}

// ListRedemptions pages through redemptions, or looks one up by wallet
// address or transaction hash when Search is set
func (s *AdminServer) ListRedemptions(
	ctx context.Context,
	req *connect.Request[ListRedemptionsRequest],
) (*connect.Response[ListRedemptionsResponse], error) {
	if err := validateRequest(req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if search := strings.ToLower(strings.TrimSpace(req.Msg.Search)); search != "" {
		return s.searchRedemption(ctx, search)
	}

	page, limit := req.Msg.Page, req.Msg.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	offset := (page - 1) * limit

	redemptions, err := s.store.ListRedemptions(ctx, offset, limit)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("failed to list redemptions")
		return nil, connect.NewError(connect.CodeInternal, errors.New("Failed to fetch redemptions"))
	}
	total, err := s.store.CountRedemptions(ctx)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("failed to count redemptions")
		return nil, connect.NewError(connect.CodeInternal, errors.New("Failed to fetch redemptions"))
	}

	records := make([]RedemptionRecord, 0, len(redemptions))
	for _, r := range redemptions {
		records = append(records, s.record(r))
	}
	return connect.NewResponse(&ListRedemptionsResponse{
		Redemptions: records,
		Total:       total,
		Page:        page,
		Limit:       limit,
		HasMore:     int64(offset+limit) < total,
	}), nil
}

func (s *AdminServer) searchRedemption(ctx context.Context, query string) (*connect.Response[ListRedemptionsResponse], error) {
	r, err := s.store.SearchRedemption(ctx, query)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, errors.New("No redemption found"))
	}
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("failed to search redemptions")
		return nil, connect.NewError(connect.CodeInternal, errors.New("Failed to fetch redemptions"))
	}

	record := s.record(*r)
	code, err := s.store.GetCode(ctx, r.PromoCodeID)
	switch {
	case err == nil:
		record.CodeStatus = string(code.Status)
		record.CodeExpiresAt = code.ExpiresAt
	case !errors.Is(err, repository.ErrNotFound):
		logger.FromContext(ctx).Error().Err(err).Msg("failed to read promo code")
		return nil, connect.NewError(connect.CodeInternal, errors.New("Failed to fetch redemptions"))
	}

	return connect.NewResponse(&ListRedemptionsResponse{
		Redemptions: []RedemptionRecord{record},
		Total:       1,
		Page:        1,
		Limit:       1,
	}), nil
}

// ExpireCodes marks past-expiry codes as EXPIRED
func (s *AdminServer) ExpireCodes(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[ExpireCodesResponse], error) {
	n, err := maintenance.ExpireCodes(ctx, s.store, adminID(ctx), s.now())
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("failed to expire codes")
		return nil, connect.NewError(connect.CodeInternal, errors.New("Failed to expire codes"))
	}
	return connect.NewResponse(&ExpireCodesResponse{Expired: n}), nil
}

// ListCodes pages through the inventory newest first. Codes are identified by
// hash only.
func (s *AdminServer) ListCodes(
	ctx context.Context,
	req *connect.Request[ListCodesRequest],
) (*connect.Response[ListCodesResponse], error) {
	if err := validateRequest(req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	page, limit := req.Msg.Page, req.Msg.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultCodePageSize
	}

	// One extra row tells whether another page exists
	reports, err := s.store.ListCodes(ctx, (page-1)*limit, limit+1)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("failed to list promo codes")
		return nil, connect.NewError(connect.CodeInternal, errors.New("Failed to fetch promo codes"))
	}
	hasMore := len(reports) > limit
	if hasMore {
		reports = reports[:limit]
	}

	records := make([]CodeRecord, 0, len(reports))
	for _, c := range reports {
		record := CodeRecord{
			ID:         c.ID.String(),
			CodeHash:   c.CodeHash,
			Status:     string(c.Status),
			UsedCount:  c.UsedCount,
			MaxUses:    c.MaxUses,
			Campaign:   c.CampaignName(),
			IsActive:   c.IsActive,
			ExpiresAt:  c.ExpiresAt,
			BatchID:    c.BatchID,
			CreatedAt:  c.CreatedAt,
			RedeemedAt: c.RedeemedAt,
		}
		if c.RedeemedBy != nil {
			record.RedeemedBy = *c.RedeemedBy
		}
		records = append(records, record)
	}
	return connect.NewResponse(&ListCodesResponse{
		Codes:   records,
		Page:    page,
		Limit:   limit,
		HasMore: hasMore,
	}), nil
}

func (s *AdminServer) record(r model.Redemption) RedemptionRecord {
	return RedemptionRecord{
		ID:            r.ID.String(),
		WalletAddress: r.WalletAddress,
		TxHash:        r.TxHash,
		BurnAmount:    redeem.FormatAmount(r.BurnAmount, s.decimals),
		BurnAmountRaw: r.BurnAmount,
		PromoCodeID:   r.PromoCodeID.String(),
		CreatedAt:     r.CreatedAt,
	}
}

func adminID(ctx context.Context) string {
	if p, ok := session.FromContext(ctx); ok {
		return p.Subject
	}
	return ""
}
