package booking

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"StayRelay/internal/web3"
)

// Quote 是交给调用方支付流程的付款信息，路由本身不执行结算。
type Quote struct {
	Payee       string `json:"payee"`
	Amount      string `json:"amount"`
	AmountHex   string `json:"amountHex"`
	Currency    string `json:"currency,omitempty"`
	Reference   string `json:"reference"`
	ChainID     string `json:"chainId,omitempty"`
	BlockNumber string `json:"blockNumber,omitempty"`
}

// NewQuote 根据预订信息与收款地址生成报价。snapshot 为空时不附带链信息。
// Reference 是预订关键字段的 keccak256 摘要，可用于对账。
func NewQuote(details Details, payee, currency string, snapshot *web3.ChainSnapshot) (*Quote, error) {
	if details.TotalValueMinorUnits == nil || details.TotalValueMinorUnits.Sign() <= 0 {
		return nil, ErrInvalidBooking
	}
	checksummed, err := web3.ChecksumAddress(payee)
	if err != nil {
		return nil, fmt.Errorf("收款地址无效: %w", err)
	}

	reference := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s|%d|%d|%s|%s",
		details.EntityID,
		details.CheckinEpochMillis,
		details.CheckoutEpochMillis,
		details.TotalValueMinorUnits.String(),
		checksummed,
	)))

	quote := &Quote{
		Payee:     checksummed,
		Amount:    details.TotalValueMinorUnits.String(),
		AmountHex: web3.EncodeAmount(details.TotalValueMinorUnits),
		Currency:  currency,
		Reference: reference.Hex(),
	}
	if snapshot != nil {
		quote.ChainID = snapshot.ChainID
		quote.BlockNumber = snapshot.BlockNumber
	}
	return quote, nil
}
