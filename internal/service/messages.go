package service

import "time"

// Request and response messages. Field names follow the JSON the UI
// layer consumes.

type GetEligibilityResponse struct {
	Eligible       bool       `json:"eligible"`
	Balance        string     `json:"balance"`
	Reasons        []string   `json:"reasons"`
	LastRedemption *time.Time `json:"lastRedemption,omitempty"`
	NextEligible   *time.Time `json:"nextEligible,omitempty"`
}

type VerifyBurnRequest struct {
	TxHash       string `json:"txHash" validate:"required,txhash"`
	CaptchaToken string `json:"captchaToken" validate:"required,max=2048"`
}

type VerifyBurnResponse struct {
	Verified   bool   `json:"verified"`
	BurnAmount string `json:"burnAmount"`
}

type ClaimRequest struct {
	TxHash   string `json:"txHash" validate:"required,txhash"`
	Campaign string `json:"campaign,omitempty" validate:"max=64"`
}

type ClaimResponse struct {
	Success      bool       `json:"success"`
	PromoCode    string     `json:"promoCode"`
	BurnAmount   string     `json:"burnAmount"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	RedemptionID string     `json:"redemptionId"`
}

type RedemptionSummary struct {
	TxHash        string     `json:"txHash"`
	BurnAmount    string     `json:"burnAmount"`
	BurnAmountRaw string     `json:"burnAmountRaw"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

type GetStatusResponse struct {
	HasRedeemed bool               `json:"hasRedeemed"`
	Redemption  *RedemptionSummary `json:"redemption,omitempty"`
}

type CampaignStatsResponse struct {
	Total         int64      `json:"total"`
	Available     int64      `json:"available"`
	Allocated     int64      `json:"allocated"`
	Exhausted     int64      `json:"exhausted"`
	Expired       int64      `json:"expired"`
	Redeemed      int64      `json:"redeemed"`
	BurnAmount    string     `json:"burnAmount"`
	DaysLeft      *int64     `json:"daysLeft"`
	CampaignStart *time.Time `json:"campaignStart,omitempty"`
	CampaignEnd   *time.Time `json:"campaignEnd,omitempty"`
}

type ImportCodesRequest struct {
	CSV      string `json:"csv" validate:"required"`
	Campaign string `json:"campaign,omitempty" validate:"max=64"`
	BatchID  string `json:"batchId,omitempty" validate:"max=64"`
}

type ImportCodesResponse struct {
	BatchID    string   `json:"batchId"`
	Imported   int      `json:"imported"`
	Duplicates int      `json:"duplicates"`
	Expired    int      `json:"expired"`
	Warnings   []string `json:"warnings"`
}

type ListRedemptionsRequest struct {
	Page   int    `json:"page,omitempty" validate:"min=0"`
	Limit  int    `json:"limit,omitempty" validate:"min=0,max=100"`
	Search string `json:"search,omitempty" validate:"max=66"`
}

type RedemptionRecord struct {
	ID            string     `json:"id"`
	WalletAddress string     `json:"walletAddress"`
	TxHash        string     `json:"txHash"`
	BurnAmount    string     `json:"burnAmount"`
	BurnAmountRaw string     `json:"burnAmountRaw"`
	PromoCodeID   string     `json:"promoCodeId"`
	CodeStatus    string     `json:"codeStatus,omitempty"`
	CodeExpiresAt *time.Time `json:"codeExpiresAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type ListRedemptionsResponse struct {
	Redemptions []RedemptionRecord `json:"redemptions"`
	Total       int64              `json:"total"`
	Page        int                `json:"page"`
	Limit       int                `json:"limit"`
	HasMore     bool               `json:"hasMore"`
}

type ListCodesRequest struct {
	Page  int `json:"page,omitempty" validate:"min=0"`
	Limit int `json:"limit,omitempty" validate:"min=0,max=100"`
}

type CodeRecord struct {
	ID         string     `json:"id"`
	CodeHash   string     `json:"codeHash"`
	Status     string     `json:"status"`
	UsedCount  int        `json:"usedCount"`
	MaxUses    int        `json:"maxUses"`
	Campaign   string     `json:"campaign,omitempty"`
	IsActive   bool       `json:"isActive"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	BatchID    string     `json:"batchId"`
	CreatedAt  time.Time  `json:"createdAt"`
	RedeemedBy string     `json:"redeemedBy,omitempty"`
	RedeemedAt *time.Time `json:"redeemedAt,omitempty"`
}

type ListCodesResponse struct {
	Codes   []CodeRecord `json:"codes"`
	Page    int          `json:"page"`
	Limit   int          `json:"limit"`
	HasMore bool         `json:"hasMore"`
}

type ExpireCodesResponse struct {
	Expired int64 `json:"expired"`
}
