package service

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kkkkikiki/burnpromo/internal/logger"
	"github.com/kkkkikiki/burnpromo/internal/session"
)

// TokenVerifier turns a bearer token into a principal
type TokenVerifier interface {
	Verify(token string) (*session.Principal, error)
}

// NewAuthInterceptor attaches the caller's principal to the context when an
// Authorization header is present. A present but invalid token is rejected;
// procedures decide for themselves whether a principal is required.
func NewAuthInterceptor(verifier TokenVerifier) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			header := req.Header().Get("Authorization")
			if header == "" {
				return next(ctx, req)
			}

			token, err := session.BearerToken(header)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			principal, err := verifier.Verify(token)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			ctx = session.WithPrincipal(ctx, principal)
			ctx = logger.With(ctx, "principal", principal.Subject)
			return next(ctx, req)
		}
	}
}

// requireAdmin rejects every call without an admin principal
func requireAdmin() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			principal, ok := session.FromContext(ctx)
			if !ok {
				return nil, connect.NewError(connect.CodeUnauthenticated, errUnauthorized)
			}
			if !principal.IsAdmin() {
				return nil, connect.NewError(connect.CodePermissionDenied, errors.New("admin role required"))
			}
			return next(ctx, req)
		}
	}
}

// walletFrom returns the signed-in wallet
func walletFrom(ctx context.Context) (common.Address, error) {
	principal, ok := session.FromContext(ctx)
	if !ok {
		return common.Address{}, connect.NewError(connect.CodeUnauthenticated, errUnauthorized)
	}
	if principal.Role != session.RoleWallet {
		return common.Address{}, connect.NewError(connect.CodePermissionDenied, errors.New("wallet session required"))
	}
	return principal.Wallet, nil
}
