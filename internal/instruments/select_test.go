package instruments

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"kitefeed/internal/model"
)

var selectNow = time.Date(2025, 6, 10, 12, 0, 0, 0, marketTZ)

func TestSelectWeeklyNearestExpiry(t *testing.T) {
	dump := []model.Instrument{
		opt(101, "NIFTY2561222000CE", "2025-06-12"),
		opt(102, "NIFTY2561222000PE", "2025-06-12"),
		opt(201, "NIFTY2561922100CE", "2025-06-19"),
		opt(301, "NIFTY2560522000CE", "2025-06-05"), // already expired
	}

	got, err := SelectWeekly(dump, Selection{Underlying: "NIFTY", Now: selectNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Expiry != "2025-06-12" {
		t.Fatalf("expiry = %s, want 2025-06-12", got.Expiry)
	}
	if got.AnchorToken != 256265 {
		t.Fatalf("anchor = %d", got.AnchorToken)
	}
	want := []uint32{101, 102, 256265}
	if !reflect.DeepEqual(got.Tokens, want) {
		t.Fatalf("tokens = %v, want %v", got.Tokens, want)
	}
	if len(got.Instruments) != 2 {
		t.Fatalf("chain rows = %d, want 2", len(got.Instruments))
	}
}

func TestSelectWeeklyExpiryTodayStillCounts(t *testing.T) {
	dump := []model.Instrument{
		opt(101, "NIFTY2561022000CE", "2025-06-10"), // expires today
		opt(201, "NIFTY2561722100CE", "2025-06-17"),
	}

	got, err := SelectWeekly(dump, Selection{Underlying: "NIFTY", Now: selectNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Expiry != "2025-06-10" {
		t.Fatalf("expiry = %s, want today's chain", got.Expiry)
	}
}

func TestSelectWeeklyExcludesUnrelatedPrefix(t *testing.T) {
	dump := []model.Instrument{
		opt(101, "NIFTY2561222000CE", "2025-06-12"),
		opt(901, "NIFTYNXT502561124000CE", "2025-06-11"), // nearer, but a different product
	}

	got, err := SelectWeekly(dump, Selection{
		Underlying:      "NIFTY",
		ExcludePrefixes: []string{"NIFTYNXT"},
		Now:             selectNow,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Expiry != "2025-06-12" {
		t.Fatalf("excluded product chose the expiry: %s", got.Expiry)
	}
	for _, token := range got.Tokens {
		if token == 901 {
			t.Fatalf("excluded token subscribed: %v", got.Tokens)
		}
	}
}

func TestSelectWeeklyIgnoresOtherUnderlyingsAndSegments(t *testing.T) {
	dump := []model.Instrument{
		opt(101, "NIFTY2561222000CE", "2025-06-12"),
		opt(401, "BANKNIFTY2561248000CE", "2025-06-12"),
		{InstrumentToken: 501, TradingSymbol: "NIFTY25JUNFUT", Expiry: "2025-06-26", Segment: "NFO-FUT", Exchange: "NFO"},
		{InstrumentToken: 256265, TradingSymbol: "NIFTY 50", Segment: "INDICES", Exchange: "NSE"},
	}

	got, err := SelectWeekly(dump, Selection{Underlying: "NIFTY", Now: selectNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []uint32{101, 256265}
	if !reflect.DeepEqual(got.Tokens, want) {
		t.Fatalf("tokens = %v, want %v", got.Tokens, want)
	}
}

func TestSelectWeeklyEmptyUniverse(t *testing.T) {
	dump := []model.Instrument{
		opt(301, "NIFTY2560522000CE", "2025-06-05"), // everything expired
	}

	_, err := SelectWeekly(dump, Selection{Underlying: "NIFTY", Now: selectNow})
	if !errors.Is(err, ErrEmptyUniverse) {
		t.Fatalf("want ErrEmptyUniverse, got %v", err)
	}

	_, err = SelectWeekly(nil, Selection{Underlying: "NIFTY", Now: selectNow})
	if !errors.Is(err, ErrEmptyUniverse) {
		t.Fatalf("want ErrEmptyUniverse for empty dump, got %v", err)
	}
}

func TestSelectWeeklyAnchorOverride(t *testing.T) {
	dump := []model.Instrument{
		opt(101, "SENSEX2561280000CE", "2025-06-12"),
	}
	dump[0].Segment = "BFO-OPT"
	dump[0].Exchange = "BFO"

	got, err := SelectWeekly(dump, Selection{Underlying: "SENSEX", Now: selectNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.AnchorToken != 265 {
		t.Fatalf("derived anchor = %d, want 265", got.AnchorToken)
	}

	got, err = SelectWeekly(dump, Selection{Underlying: "SENSEX", AnchorToken: 424242, Now: selectNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.AnchorToken != 424242 {
		t.Fatalf("anchor override ignored: %d", got.AnchorToken)
	}
}

func TestSelectWeeklyUnknownUnderlyingNeedsAnchor(t *testing.T) {
	dump := []model.Instrument{
		opt(101, "CRUDEOIL25JUN6000CE", "2025-06-12"),
	}

	if _, err := SelectWeekly(dump, Selection{Underlying: "CRUDEOIL", Now: selectNow}); err == nil {
		t.Fatalf("want error for unknown underlying without anchor")
	}
}

func opt(token uint32, symbol, expiry string) model.Instrument {
	return model.Instrument{
		InstrumentToken: token,
		ExchangeToken:   token / 256,
		TradingSymbol:   symbol,
		Name:            "NIFTY",
		Expiry:          expiry,
		Strike:          22000,
		TickSize:        0.05,
		LotSize:         75,
		InstrumentType:  "CE",
		Segment:         "NFO-OPT",
		Exchange:        "NFO",
	}
}
