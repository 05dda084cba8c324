package ticker

import (
	"sync"

	"kitefeed/internal/model"
)

// DerivedMetrics are computed incrementally as ticks replace each other.
// A value persists until the next tick that can recompute it, so a quote
// tick does not wipe the spread learned from an earlier full tick.
type DerivedMetrics struct {
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	Spread    float64 `json:"spread"`
	SpreadBps float64 `json:"spread_bps"`

	PriceROCPerSec  float64 `json:"price_roc_per_s"`
	OIROCPerSec     float64 `json:"oi_roc_per_s"`
	VolumeROCPerSec float64 `json:"vol_roc_per_s"`
}

// TokenState is the per-token state downstream consumers read.
type TokenState struct {
	Meta     *model.Instrument `json:"meta,omitempty"`
	LastTick *model.Tick       `json:"last_tick,omitempty"`
	Derived  DerivedMetrics    `json:"derived"`
}

// Store keeps the latest tick per instrument token. A single session
// goroutine writes while any number of readers take snapshots.
//
// Writes carry a generation number. The supervisor advances the generation
// when a session closes, so updates still in flight from a dead session are
// discarded instead of racing the next one. Stored ticks are never mutated
// after insertion, which makes the shallow copies handed out by Get and
// Snapshot safe to share.
type Store struct {
	mu      sync.RWMutex
	gen     uint64
	byToken map[uint32]*TokenState
}

func NewStore() *Store {
	return &Store{byToken: make(map[uint32]*TokenState)}
}

// SeedMeta installs reference metadata for the subscribed instruments.
// Call it before a session starts so consumers can resolve token names
// from the first tick onward. Existing state is kept.
func (s *Store) SeedMeta(instruments []model.Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range instruments {
		meta := instruments[i]
		state, ok := s.byToken[meta.InstrumentToken]
		if !ok {
			s.byToken[meta.InstrumentToken] = &TokenState{Meta: &meta}
			continue
		}
		if state.Meta == nil {
			state.Meta = &meta
		}
	}
}

// Generation returns the current write generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// AdvanceGeneration invalidates writes from sessions that have closed and
// returns the new generation for the next session.
func (s *Store) AdvanceGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// Apply records ticks written under the given generation and returns how
// many were applied. Ticks from a stale generation are dropped wholesale.
func (s *Store) Apply(gen uint64, ticks []model.Tick) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return 0
	}
	for _, tick := range ticks {
		s.applyLocked(tick)
	}
	return len(ticks)
}

func (s *Store) applyLocked(tick model.Tick) {
	state, ok := s.byToken[tick.InstrumentToken]
	if !ok {
		// Unknown token: insert bare state so the tick is not lost.
		state = &TokenState{}
		s.byToken[tick.InstrumentToken] = state
	}
	updateDerived(&state.Derived, state.LastTick, &tick)
	state.LastTick = &tick
}

func updateDerived(d *DerivedMetrics, prev, cur *model.Tick) {
	if prev != nil {
		dt := cur.ReceivedAt.Sub(prev.ReceivedAt).Seconds()
		if dt > 0 {
			d.PriceROCPerSec = (cur.LastPrice - prev.LastPrice) / dt
			if cur.HasOI() && prev.HasOI() {
				d.OIROCPerSec = (float64(cur.OpenInterest) - float64(prev.OpenInterest)) / dt
			}
			if cur.HasVolume() && prev.HasVolume() {
				d.VolumeROCPerSec = (float64(cur.VolumeTraded) - float64(prev.VolumeTraded)) / dt
			}
		}
	}

	if cur.Depth != nil {
		bid := cur.Depth.Buy[0].Price
		ask := cur.Depth.Sell[0].Price
		d.BestBid = bid
		d.BestAsk = ask
		d.Spread = ask - bid
		if cur.LastPrice > 0 {
			d.SpreadBps = (d.Spread / cur.LastPrice) * 10_000
		}
	}
}

// Get returns a copy of the state for one token.
func (s *Store) Get(token uint32) (TokenState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.byToken[token]
	if !ok {
		return TokenState{}, false
	}
	return *state, true
}

// Snapshot returns a copy of every token state.
func (s *Store) Snapshot() map[uint32]TokenState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint32]TokenState, len(s.byToken))
	for token, state := range s.byToken {
		out[token] = *state
	}
	return out
}

// Symbol resolves a token to its tradingsymbol, or "" when the token was
// never seeded.
func (s *Store) Symbol(token uint32) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.byToken[token]
	if !ok || state.Meta == nil {
		return ""
	}
	return state.Meta.TradingSymbol
}

// ReceivedTokenCount counts tokens that have seen at least one tick.
func (s *Store) ReceivedTokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, state := range s.byToken {
		if state.LastTick != nil {
			count++
		}
	}
	return count
}

// Len returns the number of tracked tokens, seeded or received.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byToken)
}
