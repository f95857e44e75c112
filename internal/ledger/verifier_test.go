package ledger_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/burnpromo/internal/ledger"
)

var (
	chainID    = big.NewInt(11155111)
	token      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	burnAmount = mustBig("1000000000000000000")
)

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

type fakeReader struct {
	receipts map[common.Hash]*types.Receipt
	txs      map[common.Hash]*types.Transaction
	balances map[common.Address]*big.Int
	head     uint64
	err      error
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		receipts: make(map[common.Hash]*types.Receipt),
		txs:      make(map[common.Hash]*types.Transaction),
		balances: make(map[common.Address]*big.Int),
		head:     100,
	}
}

func (f *fakeReader) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return r, nil
}

func (f *fakeReader) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[hash]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return tx, nil
}

func (f *fakeReader) BalanceOf(_ context.Context, _, owner common.Address) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.balances[owner]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) {
	return f.head, f.err
}

func transferLog(contract, from, to common.Address, value *big.Int) *types.Log {
	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			ledger.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}

// burnTx signs a burn call from key to `to` and registers it with a
// successful receipt carrying logs.
func burnTx(t *testing.T, reader *fakeReader, key *ecdsa.PrivateKey, to common.Address, logs ...*types.Log) common.Hash {
	t.Helper()

	data, err := ledger.PackBurn(burnAmount)
	require.NoError(t, err)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     uint64(len(reader.txs)),
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(10),
		Gas:       60000,
		To:        &to,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	require.NoError(t, err)

	reader.txs[signed.Hash()] = signed
	reader.receipts[signed.Hash()] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		Logs:        logs,
	}
	return signed.Hash()
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func TestVerifyBurnValid(t *testing.T) {
	reader := newFakeReader()
	key, wallet := newKey(t)
	hash := burnTx(t, reader, key, token, transferLog(token, wallet, ledger.BurnAddress, burnAmount))

	// the sender is compared by address, not by letter case
	sender, err := ledger.ParseAddress(strings.ToLower(wallet.Hex()))
	require.NoError(t, err)

	v := ledger.NewVerifier(reader, token, chainID, 1)
	result, err := v.VerifyBurn(context.Background(), hash, sender, burnAmount)
	require.NoError(t, err)
	assert.True(t, result.Valid, result.Reason)
	assert.Equal(t, 0, burnAmount.Cmp(result.BurnAmount))
	assert.Equal(t, ledger.OutcomeValid, result.Outcome)
}

func TestVerifyBurnRejections(t *testing.T) {
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")

	tests := []struct {
		name    string
		setup   func(t *testing.T, reader *fakeReader, key *ecdsa.PrivateKey, wallet common.Address) (common.Hash, common.Address)
		outcome string
		reason  string
	}{
		{
			name: "receipt missing",
			setup: func(t *testing.T, _ *fakeReader, _ *ecdsa.PrivateKey, wallet common.Address) (common.Hash, common.Address) {
				return common.HexToHash("0xdeadbeef"), wallet
			},
			outcome: ledger.OutcomeNotFound,
			reason:  "Transaction not found",
		},
		{
			name: "reverted",
			setup: func(t *testing.T, reader *fakeReader, key *ecdsa.PrivateKey, wallet common.Address) (common.Hash, common.Address) {
				hash := burnTx(t, reader, key, token, transferLog(token, wallet, ledger.BurnAddress, burnAmount))
				reader.receipts[hash].Status = types.ReceiptStatusFailed
				return hash, wallet
			},
			outcome: ledger.OutcomeFailed,
			reason:  "Transaction failed",
		},
		{
			name: "sender mismatch",
			setup: func(t *testing.T, reader *fakeReader, key *ecdsa.PrivateKey, wallet common.Address) (common.Hash, common.Address) {
				hash := burnTx(t, reader, key, token, transferLog(token, wallet, ledger.BurnAddress, burnAmount))
				return hash, other
			},
			outcome: ledger.OutcomeSenderMismatch,
			reason:  "does not match expected " + other.Hex(),
		},
		{
			name: "wrong contract",
			setup: func(t *testing.T, reader *fakeReader, key *ecdsa.PrivateKey, wallet common.Address) (common.Hash, common.Address) {
				hash := burnTx(t, reader, key, other, transferLog(token, wallet, ledger.BurnAddress, burnAmount))
				return hash, wallet
			},
			outcome: ledger.OutcomeWrongContract,
			reason:  "Transaction is not to the configured token contract",
		},
		{
			name: "plain transfer is not a burn",
			setup: func(t *testing.T, reader *fakeReader, key *ecdsa.PrivateKey, wallet common.Address) (common.Hash, common.Address) {
				hash := burnTx(t, reader, key, token, transferLog(token, wallet, other, burnAmount))
				return hash, wallet
			},
			outcome: ledger.OutcomeNoBurnEvent,
			reason:  "No burn event found in transaction",
		},
		{
			name: "burn emitted by another contract",
			setup: func(t *testing.T, reader *fakeReader, key *ecdsa.PrivateKey, wallet common.Address) (common.Hash, common.Address) {
				hash := burnTx(t, reader, key, token, transferLog(other, wallet, ledger.BurnAddress, burnAmount))
				return hash, wallet
			},
			outcome: ledger.OutcomeNoBurnEvent,
			reason:  "No burn event found in transaction",
		},
		{
			name: "under burn",
			setup: func(t *testing.T, reader *fakeReader, key *ecdsa.PrivateKey, wallet common.Address) (common.Hash, common.Address) {
				hash := burnTx(t, reader, key, token, transferLog(token, wallet, ledger.BurnAddress, big.NewInt(999)))
				return hash, wallet
			},
			outcome: ledger.OutcomeAmountMismatch,
			reason:  "Burn amount 999 does not match expected 1000000000000000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := newFakeReader()
			key, wallet := newKey(t)
			hash, sender := tt.setup(t, reader, key, wallet)

			v := ledger.NewVerifier(reader, token, chainID, 1)
			result, err := v.VerifyBurn(context.Background(), hash, sender, burnAmount)
			require.NoError(t, err)
			assert.False(t, result.Valid)
			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Contains(t, result.Reason, tt.reason)
		})
	}
}

func TestVerifyBurnUsesFirstBurnEvent(t *testing.T) {
	reader := newFakeReader()
	key, wallet := newKey(t)
	hash := burnTx(t, reader, key, token,
		transferLog(token, wallet, common.HexToAddress("0x3333333333333333333333333333333333333333"), big.NewInt(5)),
		transferLog(token, wallet, ledger.BurnAddress, burnAmount),
		transferLog(token, wallet, ledger.BurnAddress, big.NewInt(7)),
	)

	v := ledger.NewVerifier(reader, token, chainID, 1)
	result, err := v.VerifyBurn(context.Background(), hash, wallet, burnAmount)
	require.NoError(t, err)
	assert.True(t, result.Valid, result.Reason)
}

func TestVerifyBurnConfirmations(t *testing.T) {
	reader := newFakeReader()
	key, wallet := newKey(t)
	hash := burnTx(t, reader, key, token, transferLog(token, wallet, ledger.BurnAddress, burnAmount))
	v := ledger.NewVerifier(reader, token, chainID, 3)

	reader.head = 101
	result, err := v.VerifyBurn(context.Background(), hash, wallet, burnAmount)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "Transaction not yet confirmed", result.Reason)

	reader.head = 102
	result, err = v.VerifyBurn(context.Background(), hash, wallet, burnAmount)
	require.NoError(t, err)
	assert.True(t, result.Valid, result.Reason)

	ok, err := v.Confirmed(context.Background(), hash, 4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyBurnFailsClosedOnRPCError(t *testing.T) {
	reader := newFakeReader()
	reader.err = errors.New("connection refused")
	_, wallet := newKey(t)

	v := ledger.NewVerifier(reader, token, chainID, 1)
	result, err := v.VerifyBurn(context.Background(), common.HexToHash("0x01"), wallet, burnAmount)
	require.Error(t, err)
	assert.False(t, result.Valid)
}

func TestBalance(t *testing.T) {
	reader := newFakeReader()
	_, wallet := newKey(t)
	reader.balances[wallet] = big.NewInt(42)

	v := ledger.NewVerifier(reader, token, chainID, 1)
	balance, err := v.Balance(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance.Int64())
}

func TestParseHelpers(t *testing.T) {
	_, err := ledger.ParseAddress("0xABC")
	assert.ErrorIs(t, err, ledger.ErrInvalidAddress)

	_, err = ledger.ParseAddress("1111111111111111111111111111111111111111")
	assert.ErrorIs(t, err, ledger.ErrInvalidAddress)

	addr, err := ledger.ParseAddress("0xAbCdEf0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", ledger.CanonicalAddress(addr))

	_, err = ledger.ParseTxHash("0xdeadbeef")
	assert.ErrorIs(t, err, ledger.ErrInvalidTxHash)

	hash, err := ledger.ParseTxHash("0x" + strings.Repeat("AB", 32))
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("ab", 32), ledger.CanonicalTxHash(hash))
}

func TestDecodeTransferRejectsMalformedLogs(t *testing.T) {
	_, ok := ledger.DecodeTransfer(&types.Log{Topics: []common.Hash{ledger.TransferTopic}})
	assert.False(t, ok)

	log := transferLog(token, token, ledger.BurnAddress, burnAmount)
	log.Data = []byte{1, 2, 3}
	_, ok = ledger.DecodeTransfer(log)
	assert.False(t, ok)
}
