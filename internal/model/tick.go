package model

import (
	"time"
)

// Tick modes, named after the subscription mode that produces each layout.
const (
	ModeLTP   = "ltp"
	ModeQuote = "quote"
	ModeFull  = "full"
)

// OHLC carries the day's open/high/low/close in rupees.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// DepthLevel is one price level of the order book.
type DepthLevel struct {
	Quantity uint32  `json:"quantity"`
	Price    float64 `json:"price"`
	Orders   uint16  `json:"orders"`
}

// MarketDepth holds the five best levels on each side of the book.
type MarketDepth struct {
	Buy  [5]DepthLevel `json:"buy"`
	Sell [5]DepthLevel `json:"sell"`
}

// Tick is the normalized representation of one market update.
//
// Prices are converted into rupees (the wire carries paise as integers).
// Wire timestamps are UNIX seconds and only present in full mode; the
// pointer fields are nil when the producing layout does not carry them.
type Tick struct {
	InstrumentToken uint32 `json:"instrument_token"`
	Mode            string `json:"mode"`
	IsIndex         bool   `json:"is_index"`

	LastPrice float64 `json:"last_price"`

	// Quote and full fields.
	LastQuantity       uint32  `json:"last_quantity"`
	AverageTradedPrice float64 `json:"average_traded_price"`
	VolumeTraded       uint32  `json:"volume_traded"`
	TotalBuyQuantity   uint32  `json:"total_buy_quantity"`
	TotalSellQuantity  uint32  `json:"total_sell_quantity"`
	OHLC               *OHLC   `json:"ohlc,omitempty"`
	Change             float64 `json:"change"`

	// Full-only fields.
	LastTradeTime     *time.Time   `json:"last_trade_time,omitempty"`
	OpenInterest      uint32       `json:"open_interest"`
	OIDayHigh         uint32       `json:"oi_day_high"`
	OIDayLow          uint32       `json:"oi_day_low"`
	ExchangeTimestamp *time.Time   `json:"exchange_timestamp,omitempty"`
	Depth             *MarketDepth `json:"depth,omitempty"`

	// When this process received the tick.
	ReceivedAt time.Time `json:"received_at"`
}

// HasVolume reports whether the layout that produced the tick carries
// traded-volume fields. Index quotes and LTP packets do not.
func (t *Tick) HasVolume() bool {
	if t.IsIndex {
		return false
	}
	return t.Mode == ModeQuote || t.Mode == ModeFull
}

// HasOI reports whether the tick carries open interest (full mode only).
func (t *Tick) HasOI() bool {
	return t.Mode == ModeFull
}
