// Package ledger reads burn transactions and token balances from an
// EVM-compatible chain.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/kkkkikiki/burnpromo/internal/metrics"
)

// Verification outcomes, used as metric labels
const (
	OutcomeValid          = "valid"
	OutcomeNotFound       = "not_found"
	OutcomeFailed         = "failed"
	OutcomeBadSignature   = "bad_signature"
	OutcomeSenderMismatch = "sender_mismatch"
	OutcomeWrongContract  = "wrong_contract"
	OutcomeNoBurnEvent    = "no_burn_event"
	OutcomeAmountMismatch = "amount_mismatch"
	OutcomeUnconfirmed    = "unconfirmed"
	OutcomeUnavailable    = "unavailable"
)

// BurnResult is the verdict on one burn transaction. A false Valid always
// carries a Reason suitable for the caller.
type BurnResult struct {
	Valid      bool
	BurnAmount *big.Int
	Outcome    string
	Reason     string
}

// Verifier confirms that a transaction burned an exact amount of the token
type Verifier struct {
	reader        Reader
	token         common.Address
	signer        types.Signer
	confirmations uint64
}

// NewVerifier creates a verifier for token on the chain chainID.
// confirmations above 1 require that many blocks including the burn block.
func NewVerifier(reader Reader, token common.Address, chainID *big.Int, confirmations uint64) *Verifier {
	return &Verifier{
		reader:        reader,
		token:         token,
		signer:        types.LatestSignerForChainID(chainID),
		confirmations: confirmations,
	}
}

// Token returns the token contract being verified against
func (v *Verifier) Token() common.Address {
	return v.token
}

// VerifyBurn checks that txHash succeeded, was sent by sender to the token
// contract, and emitted a Transfer of exactly expected to the zero address.
// The error is non-nil only when the ledger could not be read.
func (v *Verifier) VerifyBurn(ctx context.Context, txHash common.Hash, sender common.Address, expected *big.Int) (BurnResult, error) {
	result, err := v.verify(ctx, txHash, sender, expected)
	if err != nil {
		metrics.RecordVerification(OutcomeUnavailable)
		return BurnResult{}, err
	}
	metrics.RecordVerification(result.Outcome)
	return result, nil
}

func (v *Verifier) verify(ctx context.Context, txHash common.Hash, sender common.Address, expected *big.Int) (BurnResult, error) {
	receipt, err := v.reader.TransactionReceipt(ctx, txHash)
	if IsNotFound(err) || (err == nil && receipt == nil) {
		return reject(OutcomeNotFound, "Transaction not found"), nil
	}
	if err != nil {
		return BurnResult{}, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return reject(OutcomeFailed, "Transaction failed"), nil
	}

	tx, err := v.reader.TransactionByHash(ctx, txHash)
	if IsNotFound(err) || (err == nil && tx == nil) {
		return reject(OutcomeNotFound, "Transaction not found"), nil
	}
	if err != nil {
		return BurnResult{}, fmt.Errorf("failed to fetch transaction: %w", err)
	}

	from, err := types.Sender(v.signer, tx)
	if err != nil {
		return reject(OutcomeBadSignature, "Transaction signature is invalid"), nil
	}
	if from != sender {
		return reject(OutcomeSenderMismatch, fmt.Sprintf(
			"Transaction from address %s does not match expected %s", from.Hex(), sender.Hex())), nil
	}

	if to := tx.To(); to == nil || *to != v.token {
		return reject(OutcomeWrongContract, "Transaction is not to the configured token contract"), nil
	}

	burn, ok := v.firstBurn(receipt)
	if !ok {
		return reject(OutcomeNoBurnEvent, "No burn event found in transaction"), nil
	}

	if burn.Value.Cmp(expected) != 0 {
		result := reject(OutcomeAmountMismatch, fmt.Sprintf(
			"Burn amount %s does not match expected %s", burn.Value, expected))
		result.BurnAmount = burn.Value
		return result, nil
	}

	if v.confirmations > 1 {
		depth, err := v.depth(ctx, receipt)
		if err != nil {
			return BurnResult{}, err
		}
		if depth < v.confirmations {
			result := reject(OutcomeUnconfirmed, "Transaction not yet confirmed")
			result.BurnAmount = burn.Value
			return result, nil
		}
	}

	return BurnResult{Valid: true, BurnAmount: burn.Value, Outcome: OutcomeValid}, nil
}

// Confirmed reports whether txHash is buried under at least required blocks,
// counting the block that includes it
func (v *Verifier) Confirmed(ctx context.Context, txHash common.Hash, required uint64) (bool, error) {
	receipt, err := v.reader.TransactionReceipt(ctx, txHash)
	if IsNotFound(err) || (err == nil && receipt == nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to fetch receipt: %w", err)
	}
	depth, err := v.depth(ctx, receipt)
	if err != nil {
		return false, err
	}
	return depth >= required, nil
}

// Balance returns the live token balance of owner
func (v *Verifier) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return v.reader.BalanceOf(ctx, v.token, owner)
}

func (v *Verifier) depth(ctx context.Context, receipt *types.Receipt) (uint64, error) {
	if receipt.BlockNumber == nil {
		return 0, nil
	}
	head, err := v.reader.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch block number: %w", err)
	}
	block := receipt.BlockNumber.Uint64()
	if head < block {
		return 0, nil
	}
	return head - block + 1, nil
}

func (v *Verifier) firstBurn(receipt *types.Receipt) (Transfer, bool) {
	for _, log := range receipt.Logs {
		if log == nil || log.Address != v.token {
			continue
		}
		transfer, ok := DecodeTransfer(log)
		if ok && transfer.To == BurnAddress {
			return transfer, true
		}
	}
	return Transfer{}, false
}

func reject(outcome, reason string) BurnResult {
	return BurnResult{Outcome: outcome, Reason: reason}
}
