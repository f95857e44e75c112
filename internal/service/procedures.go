package service

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
)

const (
	RedemptionServiceName = "promo.v1.RedemptionService"
	AdminServiceName      = "promo.v1.AdminService"
)

const (
	RedemptionServiceGetEligibilityProcedure   = "/promo.v1.RedemptionService/GetEligibility"
	RedemptionServiceVerifyBurnProcedure       = "/promo.v1.RedemptionService/VerifyBurn"
	RedemptionServiceClaimProcedure            = "/promo.v1.RedemptionService/Claim"
	RedemptionServiceGetStatusProcedure        = "/promo.v1.RedemptionService/GetStatus"
	RedemptionServiceGetCampaignStatsProcedure = "/promo.v1.RedemptionService/GetCampaignStats"

	AdminServiceGetInventoryProcedure    = "/promo.v1.AdminService/GetInventory"
	AdminServiceImportCodesProcedure     = "/promo.v1.AdminService/ImportCodes"
	AdminServiceListRedemptionsProcedure = "/promo.v1.AdminService/ListRedemptions"
	AdminServiceExpireCodesProcedure     = "/promo.v1.AdminService/ExpireCodes"
	AdminServiceListCodesProcedure       = "/promo.v1.AdminService/ListCodes"
)

// NewRedemptionServiceHandler builds the HTTP handler for RedemptionService
// and returns the path to mount it on
func NewRedemptionServiceHandler(svc *RedemptionServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(RedemptionServiceGetEligibilityProcedure, connect.NewUnaryHandler(RedemptionServiceGetEligibilityProcedure, svc.GetEligibility, opts...))
	mux.Handle(RedemptionServiceVerifyBurnProcedure, connect.NewUnaryHandler(RedemptionServiceVerifyBurnProcedure, svc.VerifyBurn, opts...))
	mux.Handle(RedemptionServiceClaimProcedure, connect.NewUnaryHandler(RedemptionServiceClaimProcedure, svc.Claim, opts...))
	mux.Handle(RedemptionServiceGetStatusProcedure, connect.NewUnaryHandler(RedemptionServiceGetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(RedemptionServiceGetCampaignStatsProcedure, connect.NewUnaryHandler(RedemptionServiceGetCampaignStatsProcedure, svc.GetCampaignStats, opts...))
	return "/" + RedemptionServiceName + "/", mux
}

// NewAdminServiceHandler builds the HTTP handler for AdminService. Every
// procedure requires an admin principal, so opts must include the auth
// interceptor.
func NewAdminServiceHandler(svc *AdminServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	opts = append(opts, connect.WithInterceptors(requireAdmin()))

	mux := http.NewServeMux()
	mux.Handle(AdminServiceGetInventoryProcedure, connect.NewUnaryHandler(AdminServiceGetInventoryProcedure, svc.GetInventory, opts...))
	mux.Handle(AdminServiceImportCodesProcedure, connect.NewUnaryHandler(AdminServiceImportCodesProcedure, svc.ImportCodes, opts...))
	mux.Handle(AdminServiceListRedemptionsProcedure, connect.NewUnaryHandler(AdminServiceListRedemptionsProcedure, svc.ListRedemptions, opts...))
	mux.Handle(AdminServiceExpireCodesProcedure, connect.NewUnaryHandler(AdminServiceExpireCodesProcedure, svc.ExpireCodes, opts...))
	mux.Handle(AdminServiceListCodesProcedure, connect.NewUnaryHandler(AdminServiceListCodesProcedure, svc.ListCodes, opts...))
	return "/" + AdminServiceName + "/", mux
}

// RedemptionClient calls RedemptionService
type RedemptionClient struct {
	getEligibility   *connect.Client[emptypb.Empty, GetEligibilityResponse]
	verifyBurn       *connect.Client[VerifyBurnRequest, VerifyBurnResponse]
	claim            *connect.Client[ClaimRequest, ClaimResponse]
	getStatus        *connect.Client[emptypb.Empty, GetStatusResponse]
	getCampaignStats *connect.Client[emptypb.Empty, CampaignStatsResponse]
}

// NewRedemptionClient creates a client for the server at baseURL
func NewRedemptionClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *RedemptionClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &RedemptionClient{
		getEligibility:   connect.NewClient[emptypb.Empty, GetEligibilityResponse](httpClient, baseURL+RedemptionServiceGetEligibilityProcedure, opts...),
		verifyBurn:       connect.NewClient[VerifyBurnRequest, VerifyBurnResponse](httpClient, baseURL+RedemptionServiceVerifyBurnProcedure, opts...),
		claim:            connect.NewClient[ClaimRequest, ClaimResponse](httpClient, baseURL+RedemptionServiceClaimProcedure, opts...),
		getStatus:        connect.NewClient[emptypb.Empty, GetStatusResponse](httpClient, baseURL+RedemptionServiceGetStatusProcedure, opts...),
		getCampaignStats: connect.NewClient[emptypb.Empty, CampaignStatsResponse](httpClient, baseURL+RedemptionServiceGetCampaignStatsProcedure, opts...),
	}
}

func (c *RedemptionClient) GetEligibility(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[GetEligibilityResponse], error) {
	return c.getEligibility.CallUnary(ctx, req)
}

func (c *RedemptionClient) VerifyBurn(ctx context.Context, req *connect.Request[VerifyBurnRequest]) (*connect.Response[VerifyBurnResponse], error) {
	return c.verifyBurn.CallUnary(ctx, req)
}

func (c *RedemptionClient) Claim(ctx context.Context, req *connect.Request[ClaimRequest]) (*connect.Response[ClaimResponse], error) {
	return c.claim.CallUnary(ctx, req)
}

func (c *RedemptionClient) GetStatus(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[GetStatusResponse], error) {
	return c.getStatus.CallUnary(ctx, req)
}

func (c *RedemptionClient) GetCampaignStats(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[CampaignStatsResponse], error) {
	return c.getCampaignStats.CallUnary(ctx, req)
}

// AdminClient calls AdminService
type AdminClient struct {
	getInventory    *connect.Client[emptypb.Empty, CampaignStatsResponse]
	importCodes     *connect.Client[ImportCodesRequest, ImportCodesResponse]
	listRedemptions *connect.Client[ListRedemptionsRequest, ListRedemptionsResponse]
	expireCodes     *connect.Client[emptypb.Empty, ExpireCodesResponse]
	listCodes       *connect.Client[ListCodesRequest, ListCodesResponse]
}

// NewAdminClient creates a client for the server at baseURL
func NewAdminClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AdminClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &AdminClient{
		getInventory:    connect.NewClient[emptypb.Empty, CampaignStatsResponse](httpClient, baseURL+AdminServiceGetInventoryProcedure, opts...),
		importCodes:     connect.NewClient[ImportCodesRequest, ImportCodesResponse](httpClient, baseURL+AdminServiceImportCodesProcedure, opts...),
		listRedemptions: connect.NewClient[ListRedemptionsRequest, ListRedemptionsResponse](httpClient, baseURL+AdminServiceListRedemptionsProcedure, opts...),
		expireCodes:     connect.NewClient[emptypb.Empty, ExpireCodesResponse](httpClient, baseURL+AdminServiceExpireCodesProcedure, opts...),
		listCodes:       connect.NewClient[ListCodesRequest, ListCodesResponse](httpClient, baseURL+AdminServiceListCodesProcedure, opts...),
	}
}

func (c *AdminClient) GetInventory(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[CampaignStatsResponse], error) {
	return c.getInventory.CallUnary(ctx, req)
}

func (c *AdminClient) ImportCodes(ctx context.Context, req *connect.Request[ImportCodesRequest]) (*connect.Response[ImportCodesResponse], error) {
	return c.importCodes.CallUnary(ctx, req)
}

func (c *AdminClient) ListRedemptions(ctx context.Context, req *connect.Request[ListRedemptionsRequest]) (*connect.Response[ListRedemptionsResponse], error) {
	return c.listRedemptions.CallUnary(ctx, req)
}

func (c *AdminClient) ExpireCodes(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[ExpireCodesResponse], error) {
	return c.expireCodes.CallUnary(ctx, req)
}

func (c *AdminClient) ListCodes(ctx context.Context, req *connect.Request[ListCodesRequest]) (*connect.Response[ListCodesResponse], error) {
	return c.listCodes.CallUnary(ctx, req)
}
