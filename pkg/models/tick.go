package models

import (
	"errors"
	"fmt"
	"time"
)

// TypeMarketData is the discriminator carried by every tick on the wire.
const TypeMarketData = "market_data"

const (
	snapshotKeyPrefix = "tick:"
	channelPrefix     = "ticks."
)

var ErrInvalidTick = errors.New("invalid market tick")

// MarketTick represents a single market data record for one symbol.
// Timestamp marshals as RFC 3339 with offset.
type MarketTick struct {
	Type      string    `json:"type"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  int64     `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMarketTick builds a validated tick stamped with ts.
func NewMarketTick(symbol string, price float64, quantity int64, ts time.Time) (MarketTick, error) {
	t := MarketTick{
		Type:      TypeMarketData,
		Symbol:    symbol,
		Price:     price,
		Quantity:  quantity,
		Timestamp: ts,
	}
	if err := t.Validate(); err != nil {
		return MarketTick{}, err
	}
	return t, nil
}

func (t MarketTick) Validate() error {
	switch {
	case t.Type != TypeMarketData:
		return fmt.Errorf("%w: type %q", ErrInvalidTick, t.Type)
	case t.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidTick)
	case t.Price < 0:
		return fmt.Errorf("%w: negative price %v", ErrInvalidTick, t.Price)
	case t.Quantity < 0:
		return fmt.Errorf("%w: negative quantity %d", ErrInvalidTick, t.Quantity)
	case t.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidTick)
	}
	return nil
}

// Restamp returns a copy of t carrying ts.
func (t MarketTick) Restamp(ts time.Time) MarketTick {
	t.Timestamp = ts
	return t
}

// SnapshotKey is the Redis key holding the latest tick for symbol.
func SnapshotKey(symbol string) string { return snapshotKeyPrefix + symbol }

// TickChannel is the Redis pub/sub channel the processor announces each stored
// tick on. The gateway reads snapshots and never subscribes.
func TickChannel(symbol string) string { return channelPrefix + symbol }
