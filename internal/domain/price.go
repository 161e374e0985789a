package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventPriceUpdate is the push event name carrying ticks.
const EventPriceUpdate = "price_update"

var (
	ErrMalformedTick = errors.New("malformed tick")
)

// PriceTick is one accepted price update for one exchange/symbol.
type PriceTick struct {
	Exchange   ExchangeID
	Symbol     string // raw symbol as sent by the server, e.g. "BTC-USDT"
	Current    decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Floor      decimal.NullDecimal // optional
	ReceivedAt time.Time
}

// tickPayload 推送消息中的 data 字段，价格可以是数字或数字字符串
type tickPayload struct {
	Exchange string              `json:"exchange"`
	Symbol   string              `json:"symbol"`
	Current  decimal.NullDecimal `json:"current_price"`
	High     decimal.NullDecimal `json:"high_price"`
	Low      decimal.NullDecimal `json:"low_price"`
	Floor    decimal.NullDecimal `json:"floor_price"`
}

// DecodeTick parses a price_update payload. Any missing or non-numeric
// required field yields ErrMalformedTick.
func DecodeTick(b []byte, receivedAt time.Time) (PriceTick, error) {
	var p tickPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return PriceTick{}, fmt.Errorf("%w: %v", ErrMalformedTick, err)
	}

	ex := strings.TrimSpace(p.Exchange)
	sym := strings.TrimSpace(p.Symbol)
	switch {
	case ex == "":
		return PriceTick{}, fmt.Errorf("%w: exchange missing", ErrMalformedTick)
	case sym == "":
		return PriceTick{}, fmt.Errorf("%w: symbol missing", ErrMalformedTick)
	case !p.Current.Valid:
		return PriceTick{}, fmt.Errorf("%w: current_price missing", ErrMalformedTick)
	case !p.High.Valid:
		return PriceTick{}, fmt.Errorf("%w: high_price missing", ErrMalformedTick)
	case !p.Low.Valid:
		return PriceTick{}, fmt.Errorf("%w: low_price missing", ErrMalformedTick)
	}

	return PriceTick{
		Exchange:   ExchangeID(ex),
		Symbol:     sym,
		Current:    p.Current.Decimal,
		High:       p.High.Decimal,
		Low:        p.Low.Decimal,
		Floor:      p.Floor,
		ReceivedAt: receivedAt,
	}, nil
}
