package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned by a Reader for unknown transactions
var ErrNotFound = ethereum.NotFound

// Reader is the read-only surface of the ledger
type Reader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// EthReader reads the ledger over JSON-RPC. Calls are paced by a token bucket
// so a burst of claims cannot exhaust the provider quota, and each call is
// bounded by timeout.
type EthReader struct {
	client  *ethclient.Client
	limiter *rate.Limiter
	timeout time.Duration
}

var _ Reader = (*EthReader)(nil)

// Dial connects to the RPC endpoint at url
func Dial(ctx context.Context, url string, rps float64, timeout time.Duration) (*EthReader, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}
	return NewEthReader(client, rps, timeout), nil
}

// NewEthReader wraps an existing client
func NewEthReader(client *ethclient.Client, rps float64, timeout time.Duration) *EthReader {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &EthReader{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

func (r *EthReader) call(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rpc rate limiter: %w", err)
	}
	if r.timeout <= 0 {
		ctx, cancel := context.WithCancel(ctx)
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	return ctx, cancel, nil
}

func (r *EthReader) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel, err := r.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return r.client.TransactionReceipt(ctx, hash)
}

// TransactionByHash returns ErrNotFound for pending transactions, which have
// no receipt to verify against
func (r *EthReader) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	ctx, cancel, err := r.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	tx, pending, err := r.client.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrNotFound
	}
	return tx, nil
}

func (r *EthReader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := PackBalanceOf(owner)
	if err != nil {
		return nil, fmt.Errorf("failed to encode balanceOf: %w", err)
	}

	ctx, cancel, err := r.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	return UnpackBalanceOf(out)
}

func (r *EthReader) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel, err := r.call(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	return r.client.BlockNumber(ctx)
}

// Close closes the RPC connection
func (r *EthReader) Close() {
	r.client.Close()
}

// IsNotFound reports whether err means the ledger has no such transaction
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
