package ticker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"kitefeed/internal/model"
)

func TestPrintSinkThrottleBound(t *testing.T) {
	sink := NewPrintSink(nil, 100*time.Millisecond, zap.NewNop())
	start := time.Unix(1_700_000_000, 0)

	// One token ticking every 10ms across a 1s window. The global throttle
	// allows at most window/interval + 1 lines.
	for i := 0; i <= 100; i++ {
		now := start.Add(time.Duration(i) * 10 * time.Millisecond)
		sink.process([]model.Tick{tickAt(1, 10, now)}, now)
	}

	if got := sink.Printed(); got != 11 {
		t.Fatalf("printed %d lines, want 11 (window/interval + 1)", got)
	}
}

func TestPrintSinkFirstTickPerTokenAlwaysPrints(t *testing.T) {
	sink := NewPrintSink(nil, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	batch := []model.Tick{
		tickAt(1, 10, now),
		tickAt(2, 20, now),
		tickAt(3, 30, now),
	}
	sink.process(batch, now)
	if got := sink.Printed(); got != 3 {
		t.Fatalf("first ticks printed: %d, want 3", got)
	}

	// Repeats inside the window stay silent.
	sink.process(batch, now.Add(time.Second))
	if got := sink.Printed(); got != 3 {
		t.Fatalf("printed %d after repeat, want 3", got)
	}

	// A new token still breaks through.
	sink.process([]model.Tick{tickAt(4, 40, now.Add(2*time.Second))}, now.Add(2*time.Second))
	if got := sink.Printed(); got != 4 {
		t.Fatalf("printed %d after new token, want 4", got)
	}
}

func TestPrintSinkOfferNeverBlocks(t *testing.T) {
	sink := NewPrintSink(nil, time.Millisecond, zap.NewNop())

	// No consumer running; far more batches than the buffer holds.
	batch := []model.Tick{tickAt(1, 10, time.Now())}
	for i := 0; i < sinkBuffer*4; i++ {
		sink.Offer(batch)
	}
}

func TestPrintSinkRunConsumes(t *testing.T) {
	store := NewStore()
	store.SeedMeta([]model.Instrument{{InstrumentToken: 9, TradingSymbol: "FINNIFTY25JUN21000CE"}})

	sink := NewPrintSink(store, time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	sink.Offer([]model.Tick{tickAt(9, 10, time.Now())})
	waitUntil(t, 2*time.Second, func() bool { return sink.Printed() > 0 })
}

func TestStatsReporterStopsOnCancel(t *testing.T) {
	store := NewStore()
	reporter := NewStatsReporter(store, 10, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Bool
	go func() {
		reporter.Run(ctx)
		done.Store(true)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	waitUntil(t, 2*time.Second, func() bool { return done.Load() })
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
