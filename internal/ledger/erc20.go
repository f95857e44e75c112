package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const erc20JSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"burn","stateMutability":"nonpayable",
	 "inputs":[{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Transfer","anonymous":false,
	 "inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]}
]`

var (
	erc20ABI = mustParseABI(erc20JSON)

	// TransferTopic is the keccak256 id of Transfer(address,address,uint256)
	TransferTopic = erc20ABI.Events["Transfer"].ID

	// BurnAddress is the destination of a burn transfer
	BurnAddress = common.Address{}
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("ledger: invalid ERC-20 ABI: %v", err))
	}
	return parsed
}

// Transfer is a decoded ERC-20 Transfer event
type Transfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// DecodeTransfer decodes an ERC-20 Transfer log. ok is false for any log
// that is not a well-formed Transfer.
func DecodeTransfer(log *types.Log) (Transfer, bool) {
	if len(log.Topics) != 3 || log.Topics[0] != TransferTopic {
		return Transfer{}, false
	}
	values, err := erc20ABI.Unpack("Transfer", log.Data)
	if err != nil || len(values) != 1 {
		return Transfer{}, false
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return Transfer{}, false
	}
	return Transfer{
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: value,
	}, true
}

// PackBalanceOf encodes a balanceOf(owner) call
func PackBalanceOf(owner common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", owner)
}

// UnpackBalanceOf decodes the balanceOf return data
func UnpackBalanceOf(data []byte) (*big.Int, error) {
	values, err := erc20ABI.Unpack("balanceOf", data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balanceOf result: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("balanceOf returned %d values", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", values[0])
	}
	return balance, nil
}

// PackBurn encodes a burn(amount) call
func PackBurn(amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("burn", amount)
}
