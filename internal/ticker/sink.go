package ticker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"kitefeed/internal/metrics"
	"kitefeed/internal/model"
)

const sinkBuffer = 64

// PrintSink logs a rate-limited view of the stream so an operator can
// eyeball liveness without drowning the log.
//
// The throttle is global: at most one line per interval across all tokens,
// with the exception that a token's first tick is always printed so every
// subscribed instrument shows up at least once. A global window keeps total
// output bounded regardless of universe size; per-token fairness beyond the
// first line is not a goal here.
//
// Offer never blocks. When the buffer is full the batch is dropped and
// counted; the read loop must not wait on logging.
type PrintSink struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger

	ch      chan []model.Tick
	printed atomic.Int64

	// Consume-side state, touched only by Run.
	lastLog time.Time
	seen    map[uint32]struct{}
}

func NewPrintSink(store *Store, interval time.Duration, logger *zap.Logger) *PrintSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &PrintSink{
		store:    store,
		interval: interval,
		logger:   logger,
		ch:       make(chan []model.Tick, sinkBuffer),
		seen:     make(map[uint32]struct{}),
	}
}

// Offer hands a batch to the sink, dropping it if the sink is behind.
func (p *PrintSink) Offer(ticks []model.Tick) {
	select {
	case p.ch <- ticks:
	default:
		metrics.DroppedSinkTicks.Add(float64(len(ticks)))
	}
}

// Printed returns how many tick lines have been written.
func (p *PrintSink) Printed() int64 {
	return p.printed.Load()
}

// Run consumes batches until the context ends.
func (p *PrintSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ticks := <-p.ch:
			p.process(ticks, time.Now())
		}
	}
}

func (p *PrintSink) process(ticks []model.Tick, now time.Time) {
	for i := range ticks {
		tick := &ticks[i]
		if !p.shouldPrint(tick.InstrumentToken, now) {
			continue
		}
		symbol := ""
		if p.store != nil {
			symbol = p.store.Symbol(tick.InstrumentToken)
		}
		p.logger.Info("tick",
			zap.Uint32("instrument_token", tick.InstrumentToken),
			zap.String("tradingsymbol", symbol),
			zap.String("mode", tick.Mode),
			zap.Float64("last_price", tick.LastPrice),
			zap.Uint32("volume", tick.VolumeTraded),
			zap.Uint32("oi", tick.OpenInterest),
		)
		p.printed.Add(1)
	}
}

// shouldPrint applies the global throttle. Any printed line, including a
// first-per-token one, restarts the interval window.
func (p *PrintSink) shouldPrint(token uint32, now time.Time) bool {
	_, known := p.seen[token]
	if !known {
		p.seen[token] = struct{}{}
	}
	if !known || now.Sub(p.lastLog) >= p.interval {
		p.lastLog = now
		return true
	}
	return false
}
