package config

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Redis configuration, only needed for the redis rate-limit backend
	Redis RedisConfig `env:",prefix=REDIS_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	Chain       ChainConfig       `env:",prefix=CHAIN_"`
	Eligibility EligibilityConfig `env:",prefix=ELIGIBILITY_"`
	RateLimit   RateLimitConfig   `env:",prefix=RATE_LIMIT_"`
	Captcha     CaptchaConfig     `env:",prefix=CAPTCHA_"`
	Codes       CodesConfig       `env:",prefix=CODES_"`
	Session     SessionConfig     `env:",prefix=SESSION_"`
	Campaign    CampaignConfig    `env:",prefix=CAMPAIGN_"`
	S3          S3Config          `env:",prefix=S3_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `env:"PORT,default=8080"`
	Host           string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout    int      `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout   int      `env:"WRITE_TIMEOUT,default=30"` // seconds
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=burn_promo"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
	Migrate  bool   `env:"MIGRATE,default=false"`
}

// RedisConfig holds the optional Redis connection
type RedisConfig struct {
	URL string `env:"URL"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	Debug       bool   `env:"DEBUG,default=false"`
}

// ChainConfig describes the ledger and the token being burned
type ChainConfig struct {
	RPCURL        string        `env:"RPC_URL"`
	ChainID       int64         `env:"ID,default=11155111"`
	TokenAddress  string        `env:"TOKEN_ADDRESS"`
	RPCRate       float64       `env:"RPC_RATE,default=10"` // requests per second
	Confirmations uint64        `env:"CONFIRMATIONS,default=1"`
	CallTimeout   time.Duration `env:"CALL_TIMEOUT,default=10s"`
}

// EligibilityConfig holds amounts in the token's smallest unit as base-10 strings
type EligibilityConfig struct {
	MinBalance    string `env:"MIN_BALANCE,default=1000000000000000000"`
	BurnAmount    string `env:"BURN_AMOUNT,default=1000000000000000000"`
	TokenDecimals int32  `env:"TOKEN_DECIMALS,default=18"`
	CooldownHours int    `env:"COOLDOWN_HOURS,default=24"`
}

// RateLimitConfig holds the two fixed-window scopes
type RateLimitConfig struct {
	Backend        string        `env:"BACKEND,default=postgres"` // postgres, redis or memory
	IPRequests     int           `env:"IP_REQUESTS,default=5"`
	IPWindow       time.Duration `env:"IP_WINDOW,default=1m"`
	WalletRequests int           `env:"WALLET_REQUESTS,default=3"`
	WalletWindow   time.Duration `env:"WALLET_WINDOW,default=1h"`
}

// CaptchaConfig holds the challenge verification endpoint
type CaptchaConfig struct {
	SecretKey string        `env:"SECRET_KEY"`
	VerifyURL string        `env:"VERIFY_URL,default=https://challenges.cloudflare.com/turnstile/v0/siteverify"`
	Timeout   time.Duration `env:"TIMEOUT,default=5s"`
}

// CodesConfig holds the master secret promo codes are sealed with
type CodesConfig struct {
	Secret string `env:"SECRET"`
}

// SessionConfig holds the key shared with the wallet-login layer
type SessionConfig struct {
	Secret string        `env:"SECRET"`
	Issuer string        `env:"ISSUER"`
	TTL    time.Duration `env:"TTL,default=1h"` // lifetime of tokens issued by promoctl
}

// CampaignConfig holds campaign-wide settings
type CampaignConfig struct {
	Default   string    `env:"DEFAULT"`
	StartDate time.Time `env:"START_DATE"`
	EndDate   time.Time `env:"END_DATE"`
}

// S3Config holds object storage settings used by promoctl
type S3Config struct {
	Region    string `env:"REGION,default=us-east-1"`
	Endpoint  string `env:"ENDPOINT"`
	PathStyle bool   `env:"PATH_STYLE,default=false"`
}

var (
	// ErrInvalidConfig is wrapped by every Validate failure
	ErrInvalidConfig = errors.New("invalid configuration")

	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// Load loads configuration from environment variables, reading a .env file
// first when one exists
func Load(ctx context.Context) (*Config, error) {
	// Missing .env is the normal case outside development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}

// LoadFrom loads configuration from the given lookuper
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings the redemption path cannot run without
func (c *Config) Validate() error {
	var errs []error
	if !addressPattern.MatchString(c.Chain.TokenAddress) {
		errs = append(errs, fmt.Errorf("CHAIN_TOKEN_ADDRESS %q is not a 0x-prefixed 20-byte address", c.Chain.TokenAddress))
	}
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("CHAIN_RPC_URL is required"))
	}
	if _, err := parseAmount(c.Eligibility.MinBalance); err != nil {
		errs = append(errs, fmt.Errorf("ELIGIBILITY_MIN_BALANCE: %w", err))
	}
	if amount, err := parseAmount(c.Eligibility.BurnAmount); err != nil {
		errs = append(errs, fmt.Errorf("ELIGIBILITY_BURN_AMOUNT: %w", err))
	} else if amount.Sign() == 0 {
		errs = append(errs, errors.New("ELIGIBILITY_BURN_AMOUNT must be positive"))
	}
	if c.Codes.Secret == "" {
		errs = append(errs, errors.New("CODES_SECRET is required"))
	}
	if c.Session.Secret == "" {
		errs = append(errs, errors.New("SESSION_SECRET is required"))
	}
	if c.Captcha.SecretKey == "" {
		errs = append(errs, errors.New("CAPTCHA_SECRET_KEY is required"))
	}
	if c.RateLimit.IPRequests <= 0 || c.RateLimit.WalletRequests <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.RateLimit.IPWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_IP_WINDOW must be positive"))
	}
	if c.RateLimit.WalletWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WALLET_WINDOW must be positive"))
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, errors.New("CHAIN_ID must be positive"))
	}
	if c.Eligibility.CooldownHours <= 0 {
		errs = append(errs, errors.New("ELIGIBILITY_COOLDOWN_HOURS must be positive"))
	}
	switch c.RateLimit.Backend {
	case "postgres", "memory":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis rate-limit backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimit.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Token returns the configured token contract
func (c *ChainConfig) Token() common.Address {
	return common.HexToAddress(c.TokenAddress)
}

// ChainIDBig returns the chain id used for sender recovery
func (c *ChainConfig) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}

// MinBalanceAmount returns the minimum holding, zero if unparsable
func (c *EligibilityConfig) MinBalanceAmount() *big.Int {
	v, err := parseAmount(c.MinBalance)
	if err != nil {
		return new(big.Int)
	}
	return v
}

// BurnAmountValue returns the exact quantity a claim must burn
func (c *EligibilityConfig) BurnAmountValue() *big.Int {
	v, err := parseAmount(c.BurnAmount)
	if err != nil {
		return new(big.Int)
	}
	return v
}

// Cooldown returns the minimum gap between successful redemptions of a wallet
func (c *EligibilityConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownHours) * time.Hour
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not a base-10 integer", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%q is negative", s)
	}
	return v, nil
}
