// Package instruments resolves the option universe the ticker subscribes
// to and keeps the reference dump in Postgres fresh.
package instruments

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"kitefeed/internal/model"
)

// ErrEmptyUniverse means the subscription filter matched nothing. It is a
// configuration problem and must surface before any connection attempt.
var ErrEmptyUniverse = errors.New("subscription universe is empty")

// Index anchor tokens by underlying name.
var indexTokens = map[string]uint32{
	"NIFTY":      256265,
	"BANKNIFTY":  260105,
	"FINNIFTY":   257801,
	"MIDCPNIFTY": 288009,
	"SENSEX":     265,
}

// Option segments carried by the reference dump.
var optionSegments = map[string]struct{}{
	"NFO-OPT": {},
	"BFO-OPT": {},
}

// marketTZ is the exchange timezone used for expiry-date comparisons.
var marketTZ = time.FixedZone("IST", 5*3600+30*60)

// AnchorToken returns the index token for a known underlying.
func AnchorToken(underlying string) (uint32, bool) {
	token, ok := indexTokens[strings.ToUpper(underlying)]
	return token, ok
}

// Selection describes which weekly chain to subscribe.
type Selection struct {
	// Underlying index name, e.g. "NIFTY". Tradingsymbol prefix matching
	// starts from this.
	Underlying string
	// AnchorToken is the index token included alongside the chain. Zero
	// derives it from Underlying.
	AnchorToken uint32
	// ExcludePrefixes drops unrelated products that share the underlying's
	// symbol prefix, e.g. "NIFTYNXT" when the underlying is NIFTY.
	ExcludePrefixes []string
	// Now anchors the expiry comparison; zero means the current time.
	Now time.Time
}

// Universe is the resolved subscription set for one weekly expiry.
type Universe struct {
	Underlying  string
	Expiry      string
	AnchorToken uint32
	Tokens      []uint32
	Instruments []model.Instrument
}

// SelectWeekly picks the nearest not-yet-expired weekly option chain for the
// underlying and returns its tokens plus the index anchor.
//
// Candidates are rows in the option segments whose tradingsymbol starts with
// the underlying name, minus exclusions. An expiry equal to today's date
// still counts; markets trade the chain through expiry day.
func SelectWeekly(instruments []model.Instrument, sel Selection) (Universe, error) {
	underlying := strings.ToUpper(strings.TrimSpace(sel.Underlying))
	if underlying == "" {
		return Universe{}, fmt.Errorf("underlying is required")
	}

	anchor := sel.AnchorToken
	if anchor == 0 {
		token, ok := AnchorToken(underlying)
		if !ok {
			return Universe{}, fmt.Errorf("no known index token for %q; set one explicitly", underlying)
		}
		anchor = token
	}

	now := sel.Now
	if now.IsZero() {
		now = time.Now()
	}
	today := dateOnly(now.In(marketTZ))

	var nearest time.Time
	byExpiry := make(map[string][]model.Instrument)

	for _, inst := range instruments {
		if !isCandidate(inst, underlying, sel.ExcludePrefixes) {
			continue
		}
		expiry, ok := inst.ExpiryDate()
		if !ok || expiry.Before(today) {
			continue
		}
		byExpiry[inst.Expiry] = append(byExpiry[inst.Expiry], inst)
		if nearest.IsZero() || expiry.Before(nearest) {
			nearest = expiry
		}
	}

	if nearest.IsZero() {
		return Universe{}, fmt.Errorf("%w: no %s options expiring on or after %s",
			ErrEmptyUniverse, underlying, today.Format("2006-01-02"))
	}

	expiryKey := nearest.Format("2006-01-02")
	chain := byExpiry[expiryKey]

	tokens := make([]uint32, 0, len(chain)+1)
	tokens = append(tokens, anchor)
	for _, inst := range chain {
		if inst.InstrumentToken != anchor {
			tokens = append(tokens, inst.InstrumentToken)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	sort.Slice(chain, func(i, j int) bool { return chain[i].InstrumentToken < chain[j].InstrumentToken })

	return Universe{
		Underlying:  underlying,
		Expiry:      expiryKey,
		AnchorToken: anchor,
		Tokens:      tokens,
		Instruments: chain,
	}, nil
}

func isCandidate(inst model.Instrument, underlying string, excludePrefixes []string) bool {
	if _, ok := optionSegments[inst.Segment]; !ok {
		return false
	}
	if !strings.HasPrefix(inst.TradingSymbol, underlying) {
		return false
	}
	for _, prefix := range excludePrefixes {
		if prefix != "" && strings.HasPrefix(inst.TradingSymbol, prefix) {
			return false
		}
	}
	return true
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
