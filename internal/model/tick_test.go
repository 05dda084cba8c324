package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTickFieldPresenceByMode(t *testing.T) {
	ltp := Tick{Mode: ModeLTP}
	if ltp.HasVolume() || ltp.HasOI() {
		t.Fatalf("ltp tick should carry neither volume nor oi")
	}

	quote := Tick{Mode: ModeQuote}
	if !quote.HasVolume() {
		t.Fatalf("quote tick should carry volume")
	}
	if quote.HasOI() {
		t.Fatalf("quote tick should not carry oi")
	}

	index := Tick{Mode: ModeQuote, IsIndex: true}
	if index.HasVolume() {
		t.Fatalf("index quote should not carry volume")
	}

	full := Tick{Mode: ModeFull}
	if !full.HasVolume() || !full.HasOI() {
		t.Fatalf("full tick should carry volume and oi")
	}
}

func TestTickJSONOmitsAbsentSections(t *testing.T) {
	tick := Tick{
		InstrumentToken: 256265,
		Mode:            ModeLTP,
		LastPrice:       22050.75,
		ReceivedAt:      time.Date(2025, 6, 12, 9, 15, 0, 0, time.UTC),
	}

	data, err := json.Marshal(tick)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, key := range []string{"ohlc", "depth", "last_trade_time", "exchange_timestamp"} {
		if _, ok := decoded[key]; ok {
			t.Fatalf("%s should be omitted for an ltp tick", key)
		}
	}
	if decoded["instrument_token"].(float64) != 256265 {
		t.Fatalf("instrument_token mismatch: %v", decoded["instrument_token"])
	}
	if decoded["last_price"].(float64) != 22050.75 {
		t.Fatalf("last_price mismatch: %v", decoded["last_price"])
	}
}

func TestInstrumentExpiryDate(t *testing.T) {
	inst := Instrument{Expiry: "2025-06-12"}
	got, ok := inst.ExpiryDate()
	if !ok {
		t.Fatalf("expected a parsed expiry")
	}
	want := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expiry mismatch: %v != %v", got, want)
	}

	if _, ok := (Instrument{}).ExpiryDate(); ok {
		t.Fatalf("index rows have no expiry")
	}
	if _, ok := (Instrument{Expiry: "12-06-2025"}).ExpiryDate(); ok {
		t.Fatalf("malformed expiry should not parse")
	}
}

func TestCredentialsEqual(t *testing.T) {
	a := Credentials{APIKey: "key", AccessToken: "tok"}
	if !a.Equal(Credentials{APIKey: "key", AccessToken: "tok"}) {
		t.Fatalf("identical pairs should be equal")
	}
	if a.Equal(Credentials{APIKey: "key", AccessToken: "fresh"}) {
		t.Fatalf("rotated token should not compare equal")
	}
}
