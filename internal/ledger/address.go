package ledger

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidAddress is returned for strings that are not 20-byte hex addresses
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidTxHash is returned for strings that are not 32-byte hex hashes
	ErrInvalidTxHash = errors.New("invalid transaction hash")

	txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// ParseAddress parses a 0x-prefixed address in any letter case
func ParseAddress(s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return common.Address{}, ErrInvalidAddress
	}
	return common.HexToAddress(s), nil
}

// ParseTxHash parses a 0x-prefixed transaction hash in any letter case
func ParseTxHash(s string) (common.Hash, error) {
	if !txHashPattern.MatchString(s) {
		return common.Hash{}, ErrInvalidTxHash
	}
	return common.HexToHash(s), nil
}

// CanonicalAddress is the stored form of a wallet address: lower-case hex
func CanonicalAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// CanonicalTxHash is the stored form of a transaction hash: lower-case hex
func CanonicalTxHash(hash common.Hash) string {
	return hash.Hex()
}
