package web3

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrInvalidAddress is returned when a payee address is not a 20-byte hex address.
var ErrInvalidAddress = errors.New("web3: invalid address")

// ChainSnapshot represents summarized network metadata attached to payment quotes.
type ChainSnapshot struct {
	ChainID     string `json:"chainId"`
	BlockNumber string `json:"blockNumber"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines what the router needs from a ledger node.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}

// ChecksumAddress validates raw and returns its EIP-55 checksum form.
func ChecksumAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(raw).Hex(), nil
}

// EncodeAmount renders a non-negative amount as a 0x-prefixed quantity.
func EncodeAmount(amount *big.Int) string {
	if amount == nil || amount.Sign() < 0 {
		return "0x0"
	}
	return hexutil.EncodeBig(amount)
}
