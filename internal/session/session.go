// Package session verifies the bearer tokens minted by the wallet-login layer.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kkkkikiki/burnpromo/internal/ledger"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingToken = errors.New("missing bearer token")
)

// Role is what a token holder may do
type Role string

const (
	RoleWallet Role = "wallet"
	RoleAdmin  Role = "admin"
)

// Claims are the JWT claims. Subject is the wallet address for RoleWallet
// and an operator id for RoleAdmin.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal is an authenticated caller
type Principal struct {
	Subject string
	Role    Role
	// Wallet is set for RoleWallet
	Wallet common.Address
}

// IsAdmin reports whether the principal holds the admin role
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Service signs and verifies HS256 session tokens
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewService creates a session service. An empty issuer disables the
// issuer check.
func NewService(secret, issuer string, ttl time.Duration) *Service {
	return &Service{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue signs a token for subject. Used by promoctl and tests; wallets get
// their tokens from the login layer.
func (s *Service) Issue(subject string, role Role) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify validates a token and returns its principal
func (s *Service) Verify(tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	principal := &Principal{Subject: claims.Subject, Role: claims.Role}
	switch claims.Role {
	case RoleWallet:
		wallet, err := ledger.ParseAddress(claims.Subject)
		if err != nil {
			return nil, ErrInvalidToken
		}
		principal.Wallet = wallet
	case RoleAdmin:
	default:
		return nil, ErrInvalidToken
	}
	return principal, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(parts[1]), nil
}

type contextKey struct{}

// WithPrincipal attaches p to ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal attached to ctx, if any
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok && p != nil
}
