package service

import (
	"context"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/kkkkikiki/burnpromo/internal/ledger"
	"github.com/kkkkikiki/burnpromo/internal/logger"
	"github.com/kkkkikiki/burnpromo/internal/middleware"
	"github.com/kkkkikiki/burnpromo/internal/redeem"
)

// RedemptionServer implements RedemptionService
type RedemptionServer struct {
	flow *redeem.Flow
}

// NewRedemptionServer creates a new RedemptionServer instance
func NewRedemptionServer(flow *redeem.Flow) *RedemptionServer {
	return &RedemptionServer{flow: flow}
}

// GetEligibility reports every reason the signed-in wallet may not redeem
func (s *RedemptionServer) GetEligibility(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[GetEligibilityResponse], error) {
	wallet, err := walletFrom(ctx)
	if err != nil {
		return nil, err
	}

	status, err := s.flow.Eligibility(ctx, wallet)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("eligibility check failed")
		return nil, toConnectError(err, "Failed to check eligibility")
	}

	balance := "0"
	if status.Balance != nil {
		balance = status.Balance.String()
	}
	return connect.NewResponse(&GetEligibilityResponse{
		Eligible:       status.Eligible,
		Balance:        balance,
		Reasons:        status.Reasons,
		LastRedemption: status.LastRedemption,
		NextEligible:   status.NextEligible,
	}), nil
}

// VerifyBurn is the pre-claim dry run
func (s *RedemptionServer) VerifyBurn(
	ctx context.Context,
	req *connect.Request[VerifyBurnRequest],
) (*connect.Response[VerifyBurnResponse], error) {
	wallet, err := walletFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	txHash, err := ledger.ParseTxHash(req.Msg.TxHash)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	result, err := s.flow.PreClaim(ctx, redeem.PreClaimRequest{
		Wallet:       wallet,
		TxHash:       txHash,
		CaptchaToken: req.Msg.CaptchaToken,
		ClientIP:     middleware.ClientIP(req.Peer().Addr),
	})
	if err != nil {
		return nil, toConnectError(err, "Verification failed")
	}

	return connect.NewResponse(&VerifyBurnResponse{
		Verified:   result.Verified,
		BurnAmount: result.BurnAmount.String(),
	}), nil
}

// Claim verifies the burn again and hands out a code
func (s *RedemptionServer) Claim(
	ctx context.Context,
	req *connect.Request[ClaimRequest],
) (*connect.Response[ClaimResponse], error) {
	wallet, err := walletFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	txHash, err := ledger.ParseTxHash(req.Msg.TxHash)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	result, err := s.flow.Claim(ctx, redeem.ClaimRequest{
		Wallet:   wallet,
		TxHash:   txHash,
		Campaign: req.Msg.Campaign,
	})
	if err != nil {
		return nil, toConnectError(err, "Claim failed")
	}

	return connect.NewResponse(&ClaimResponse{
		Success:      true,
		PromoCode:    result.Code,
		BurnAmount:   result.BurnAmount.String(),
		ExpiresAt:    result.ExpiresAt,
		RedemptionID: result.Redemption.ID.String(),
	}), nil
}

// GetStatus returns the signed-in wallet's latest redemption
func (s *RedemptionServer) GetStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[GetStatusResponse], error) {
	wallet, err := walletFrom(ctx)
	if err != nil {
		return nil, err
	}

	status, err := s.flow.Status(ctx, wallet)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("failed to fetch redemption status")
		return nil, toConnectError(err, "Failed to fetch status")
	}

	res := &GetStatusResponse{HasRedeemed: status.HasRedeemed}
	if status.HasRedeemed {
		res.Redemption = &RedemptionSummary{
			TxHash:        status.TxHash,
			BurnAmount:    status.BurnAmount,
			BurnAmountRaw: status.BurnAmountRaw,
			CreatedAt:     status.CreatedAt,
			ExpiresAt:     status.ExpiresAt,
		}
	}
	return connect.NewResponse(res), nil
}

// GetCampaignStats is public
func (s *RedemptionServer) GetCampaignStats(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[CampaignStatsResponse], error) {
	stats, err := s.flow.CampaignStats(ctx)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("failed to fetch campaign stats")
		return nil, toConnectError(err, "Failed to fetch stats")
	}
	return connect.NewResponse(statsResponse(stats)), nil
}

func statsResponse(stats redeem.CampaignStats) *CampaignStatsResponse {
	return &CampaignStatsResponse{
		Total:         stats.Total,
		Available:     stats.Available,
		Allocated:     stats.Allocated,
		Exhausted:     stats.Exhausted,
		Expired:       stats.Expired,
		Redeemed:      stats.Redeemed,
		BurnAmount:    stats.BurnAmount,
		DaysLeft:      stats.DaysLeft,
		CampaignStart: stats.CampaignStart,
		CampaignEnd:   stats.CampaignEnd,
	}
}
