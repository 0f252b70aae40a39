// Package booking 计算入住晚数与总价，并生成交给调用方支付流程的报价。
package booking

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	xerrors "StayRelay/internal/errors"
)

// MillisPerDay 是一天的毫秒数。
const MillisPerDay int64 = 86_400_000

// CodeInvalidBooking 表示日期或价格无法得到正数的晚数与总价。
const CodeInvalidBooking xerrors.Code = "INVALID_BOOKING"

// ErrInvalidBooking 可用于 errors.Is 判断。
var ErrInvalidBooking = xerrors.New(CodeInvalidBooking, "")

func init() {
	xerrors.Register(CodeInvalidBooking, xerrors.Attributes{
		Message:     "invalid booking dates or rate",
		Severity:    xerrors.SeverityInfo,
		Recoverable: true,
	})
}

// Details 是推导出的预订信息，创建后不再修改。
type Details struct {
	EntityID            string `json:"entityId"`
	CheckinEpochMillis  int64  `json:"checkinEpochMillis"`
	CheckoutEpochMillis int64  `json:"checkoutEpochMillis"`
	Nights              int64  `json:"nights"`
	// NightlyRate 与 TotalValueMinorUnits 以最小货币单位表示。
	NightlyRate          *big.Int `json:"nightlyRate"`
	TotalValueMinorUnits *big.Int `json:"totalValueMinorUnits"`
}

// Derive 计算 nights = ceil((checkout-checkin)/1 天) 与 total = rate * nights。
// nights <= 0 或 rate <= 0 时返回 ErrInvalidBooking，不会产生零或负数总价。
func Derive(entityID string, checkinMillis, checkoutMillis int64, nightlyRate *big.Int) (Details, error) {
	span := checkoutMillis - checkinMillis
	if span <= 0 {
		return Details{}, xerrors.New(CodeInvalidBooking, "checkout must be after checkin")
	}
	nights := span / MillisPerDay
	if span%MillisPerDay != 0 {
		nights++
	}
	if nightlyRate == nil || nightlyRate.Sign() <= 0 {
		return Details{}, xerrors.New(CodeInvalidBooking, "nightly rate must be positive")
	}

	rate := new(big.Int).Set(nightlyRate)
	total := new(big.Int).Mul(rate, big.NewInt(nights))
	return Details{
		EntityID:             entityID,
		CheckinEpochMillis:   checkinMillis,
		CheckoutEpochMillis:  checkoutMillis,
		Nights:               nights,
		NightlyRate:          rate,
		TotalValueMinorUnits: total,
	}, nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"Jan 2 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"01/02/2006",
}

// ParseDate 把模型给出的日期转换为 epoch 毫秒。仅含日期的格式按 UTC 零点处理。
func ParseDate(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, xerrors.New(CodeInvalidBooking, "date is empty")
	}
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		if layout != time.RFC3339 {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		}
		return parsed.UnixMilli(), nil
	}
	return 0, xerrors.New(CodeInvalidBooking, fmt.Sprintf("unrecognised date %q", value))
}
