package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"StayRelay/internal/booking"
	"StayRelay/internal/catalog"
	"StayRelay/internal/intent"
	"StayRelay/internal/llm"
	"StayRelay/internal/notify"
	"StayRelay/internal/web3"
)

const (
	askEntityMessage = "Which hotel would you like to book? Please tell me its name."
	askDatesMessage  = "Great choice. Which dates would you like to stay at %s? Please give me a check-in and a check-out date."
	badDatesMessage  = "I could not use those dates for %s. Please give me a valid check-in date and a later check-out date, for example 2025-03-01 to 2025-03-03."
	noRateMessage    = "I found %s, but its nightly rate is not available, so I cannot prepare the booking yet."
)

// bookingQuoted 是 booking.quoted 事件的载荷。
type bookingQuoted struct {
	HotelName string           `json:"hotelName"`
	Booking   *booking.Details `json:"booking"`
	Payment   *booking.Quote   `json:"payment,omitempty"`
}

// confirmBooking 在本地完成预订确认，从不触发跨服务转发。
func (a *Agent) confirmBooking(ctx context.Context, exec *execution, history string) {
	reply := exec.reply
	reply.RequiresRouting = false

	hotel, ok := a.bookingEntity(ctx, exec, history)
	if !ok {
		reply.TargetEntityID = nil
		reply.Message = askEntityMessage
		return
	}
	reply.TargetEntityID = intent.StringPtr(hotel.ID)
	reply.TargetEntityName = intent.StringPtr(hotel.Name)

	raw, err := a.generate(ctx, llm.Request{
		Purpose: llm.PurposeBookingDates,
		History: history,
		Catalog: catalog.Summary([]catalog.Hotel{hotel}),
		Query:   exec.req.Text(),
	})
	if err != nil {
		exec.log.Warn("提取预订日期失败", slog.Any("error", err))
	}
	checkinText, checkoutText := intent.ParseBookingDates(raw)
	if checkinText == "" || checkoutText == "" {
		reply.Message = fmt.Sprintf(askDatesMessage, hotel.Name)
		return
	}

	checkin, errIn := booking.ParseDate(checkinText)
	checkout, errOut := booking.ParseDate(checkoutText)
	if errIn != nil || errOut != nil {
		exec.log.Info("预订日期无法解析", slog.String("checkin", checkinText), slog.String("checkout", checkoutText))
		reply.Message = fmt.Sprintf(badDatesMessage, hotel.Name)
		return
	}
	if hotel.PricePerNight <= 0 {
		reply.Message = fmt.Sprintf(noRateMessage, hotel.Name)
		return
	}

	details, err := booking.Derive(hotel.ID, checkin, checkout, big.NewInt(hotel.PricePerNight))
	if err != nil {
		exec.log.Info("预订信息无效", slog.Any("error", err))
		reply.Message = fmt.Sprintf(badDatesMessage, hotel.Name)
		return
	}
	reply.Booking = &details
	reply.Payment = a.quote(ctx, exec, hotel, details)
	reply.Message = bookingSummary(hotel, details)

	a.publishQuoted(ctx, exec, hotel, reply)
}

// bookingEntity 依次使用分类器给出的 ID、名称，最后再调用一次分类器推断目标酒店。
func (a *Agent) bookingEntity(ctx context.Context, exec *execution, history string) (catalog.Hotel, bool) {
	reply := exec.reply
	if hotel, ok := findByID(exec.hotels, reply.EntityID()); ok {
		return hotel, true
	}
	if hotel, ok := MatchEntity(exec.hotels, reply.EntityName()); ok {
		return hotel, true
	}
	if len(exec.hotels) == 0 {
		return catalog.Hotel{}, false
	}

	raw, err := a.generate(ctx, llm.Request{
		Purpose: llm.PurposeEntityLookup,
		History: history,
		Catalog: catalog.Summary(exec.hotels),
		Query:   exec.req.Text(),
	})
	if err != nil {
		exec.log.Warn("推断预订酒店失败", slog.Any("error", err))
		return catalog.Hotel{}, false
	}
	name, ok := intent.ParseEntityLookup(raw)
	if !ok {
		return catalog.Hotel{}, false
	}
	return MatchEntity(exec.hotels, name)
}

// quote 在酒店配置了收款地址时生成报价；链上快照失败只记录日志。
func (a *Agent) quote(ctx context.Context, exec *execution, hotel catalog.Hotel, details booking.Details) *booking.Quote {
	if strings.TrimSpace(hotel.WalletAddress) == "" {
		return nil
	}
	var snapshot *web3.ChainSnapshot
	if a.ledger != nil {
		current, err := a.ledger.FetchChainSnapshot(ctx)
		if err != nil {
			exec.log.Warn("获取链上快照失败", slog.Any("error", err))
		} else {
			snapshot = &current
		}
	}
	q, err := booking.NewQuote(details, hotel.WalletAddress, currencyOf(hotel), snapshot)
	if err != nil {
		exec.log.Warn("生成付款报价失败", slog.String("hotel", hotel.ID), slog.Any("error", err))
		return nil
	}
	return q
}

func (a *Agent) publishQuoted(ctx context.Context, exec *execution, hotel catalog.Hotel, reply *Reply) {
	if a.publisher == nil {
		return
	}
	event, err := notify.NewEvent(notify.TypeBookingQuoted, bookingQuoted{
		HotelName: hotel.Name,
		Booking:   reply.Booking,
		Payment:   reply.Payment,
	})
	if err != nil {
		exec.log.Warn("构造预订事件失败", slog.Any("error", err))
		return
	}
	event.TaskID = exec.req.TaskID
	event.ContextID = exec.req.ContextID
	if err := a.publisher.Publish(ctx, event); err != nil {
		exec.log.Warn("发布预订事件失败", slog.Any("error", err))
	}
}

func bookingSummary(hotel catalog.Hotel, details booking.Details) string {
	checkin := time.UnixMilli(details.CheckinEpochMillis).UTC().Format("2006-01-02")
	checkout := time.UnixMilli(details.CheckoutEpochMillis).UTC().Format("2006-01-02")
	return fmt.Sprintf("Booking summary for %s: %d night(s) from %s to %s at %s %s per night, total %s %s.",
		hotel.Name, details.Nights, checkin, checkout,
		details.NightlyRate.String(), currencyOf(hotel),
		details.TotalValueMinorUnits.String(), currencyOf(hotel))
}

func currencyOf(hotel catalog.Hotel) string {
	if c := strings.TrimSpace(hotel.Currency); c != "" {
		return c
	}
	return "units"
}

func encodeJSON(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
