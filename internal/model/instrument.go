package model

import (
	"time"
)

// Instrument is one row of the broker's instrument dump, as stored in
// trade.instrument.
type Instrument struct {
	InstrumentToken uint32  `json:"instrument_token"`
	ExchangeToken   uint32  `json:"exchange_token"`
	TradingSymbol   string  `json:"tradingsymbol"`
	Name            string  `json:"name"`
	Expiry          string  `json:"expiry"`
	Strike          float64 `json:"strike"`
	TickSize        float64 `json:"tick_size"`
	LotSize         uint32  `json:"lot_size"`
	InstrumentType  string  `json:"instrument_type"`
	Segment         string  `json:"segment"`
	Exchange        string  `json:"exchange"`
}

// ExpiryDate parses the expiry column (yyyy-mm-dd). The second return is
// false for instruments without an expiry, such as indices and equities.
func (i Instrument) ExpiryDate() (time.Time, bool) {
	if i.Expiry == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", i.Expiry)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
