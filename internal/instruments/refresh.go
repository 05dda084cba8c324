package instruments

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"kitefeed/internal/model"
)

// allowedExchanges guards against rows from other exchanges that share an
// option segment suffix.
var allowedExchanges = map[string]struct{}{
	"NFO": {},
	"BFO": {},
}

// indexNameByToken inverts indexTokens so dump rows for the tracked
// indices can be normalized to their canonical names.
var indexNameByToken = invertIndexTokens()

func invertIndexTokens() map[uint32]string {
	m := make(map[uint32]string, len(indexTokens))
	for name, token := range indexTokens {
		m[token] = name
	}
	return m
}

// CSVSource provides the raw instrument dump.
type CSVSource interface {
	InstrumentsCSV(ctx context.Context) ([]byte, error)
}

// ReplaceStore persists a refreshed instrument set. deleteAll signals a
// full-table replace rather than a refresh of the selected rows only.
type ReplaceStore interface {
	ReplaceInstruments(ctx context.Context, rows []model.Instrument, deleteAll bool) (int64, error)
}

// RefreshConfig tunes a dump refresh.
type RefreshConfig struct {
	// ExpiryDays keeps only option rows expiring within
	// [today, today+ExpiryDays]. Zero disables the window, and the refresh
	// then replaces the whole stored set.
	ExpiryDays int
	Now        func() time.Time
}

// Refresher downloads the instrument dump and replaces the stored subset
// the feed cares about.
type Refresher struct {
	source CSVSource
	store  ReplaceStore
	cfg    RefreshConfig
	logger *zap.Logger
}

func NewRefresher(source CSVSource, store ReplaceStore, cfg RefreshConfig, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Refresher{source: source, store: store, cfg: cfg, logger: logger}
}

// Refresh fetches, filters, and stores the instrument set. It returns the
// number of rows written.
func (r *Refresher) Refresh(ctx context.Context) (int64, error) {
	started := time.Now()

	raw, err := r.source.InstrumentsCSV(ctx)
	if err != nil {
		return 0, fmt.Errorf("download instrument dump: %w", err)
	}
	r.logger.Info("instrument dump downloaded",
		zap.Int("bytes", len(raw)),
		zap.Duration("elapsed", time.Since(started)))

	rows, err := ParseCSV(raw)
	if err != nil {
		return 0, fmt.Errorf("parse instrument dump: %w", err)
	}

	kept := FilterTradable(rows, r.cfg.ExpiryDays, r.cfg.Now())
	indexRows := 0
	for _, row := range kept {
		if _, ok := indexNameByToken[row.InstrumentToken]; ok {
			indexRows++
		}
	}
	r.logger.Info("instrument dump filtered",
		zap.Int("parsed", len(rows)),
		zap.Int("kept", len(kept)),
		zap.Int("index_rows", indexRows),
		zap.Int("option_rows", len(kept)-indexRows),
		zap.Int("expiry_days", r.cfg.ExpiryDays))

	deleteAll := r.cfg.ExpiryDays <= 0
	n, err := r.store.ReplaceInstruments(ctx, kept, deleteAll)
	if err != nil {
		return 0, fmt.Errorf("replace instruments: %w", err)
	}
	r.logger.Info("instrument refresh done",
		zap.Int64("rows", n),
		zap.Bool("delete_all", deleteAll),
		zap.Duration("elapsed", time.Since(started)))
	return n, nil
}

// ParseCSV decodes the instrument dump. Columns are resolved by header
// name, unknown columns are ignored, and rows without a numeric
// instrument_token are skipped.
func ParseCSV(data []byte) ([]model.Instrument, error) {
	rd := csv.NewReader(bytes.NewReader(data))
	rd.FieldsPerRecord = -1

	header, err := rd.Read()
	if err != nil {
		return nil, fmt.Errorf("read dump header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	if _, ok := col["instrument_token"]; !ok {
		return nil, errors.New("instrument dump has no instrument_token column")
	}

	var out []model.Instrument
	for {
		rec, err := rd.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dump row: %w", err)
		}

		field := func(name string) string {
			idx, ok := col[name]
			if !ok || idx >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[idx])
		}

		token, err := strconv.ParseUint(field("instrument_token"), 10, 32)
		if err != nil {
			continue
		}

		out = append(out, model.Instrument{
			InstrumentToken: uint32(token),
			ExchangeToken:   parseDumpUint32(field("exchange_token")),
			TradingSymbol:   field("tradingsymbol"),
			Name:            field("name"),
			Expiry:          field("expiry"),
			Strike:          parseDumpFloat(field("strike")),
			TickSize:        parseDumpFloat(field("tick_size")),
			LotSize:         parseDumpUint32(field("lot_size")),
			InstrumentType:  field("instrument_type"),
			Segment:         field("segment"),
			Exchange:        field("exchange"),
		})
	}
	return out, nil
}

// FilterTradable keeps the rows the feed tracks: the index rows for the
// known underlyings plus their option chains on the allowed segments and
// exchanges. Index rows bypass the expiry window; expiryDays <= 0 disables
// the window for option rows too.
func FilterTradable(rows []model.Instrument, expiryDays int, now time.Time) []model.Instrument {
	today := dateOnly(now.In(marketTZ))
	var windowEnd time.Time
	if expiryDays > 0 {
		windowEnd = today.AddDate(0, 0, expiryDays)
	}

	kept := make([]model.Instrument, 0, len(rows))
	for _, row := range rows {
		if name, ok := indexNameByToken[row.InstrumentToken]; ok {
			row.Name = name
			kept = append(kept, row)
			continue
		}
		if !isIndexOption(row) {
			continue
		}
		if expiryDays > 0 {
			expiry, ok := row.ExpiryDate()
			if !ok || expiry.Before(today) || expiry.After(windowEnd) {
				continue
			}
		}
		kept = append(kept, row)
	}
	return kept
}

func isIndexOption(row model.Instrument) bool {
	if _, ok := optionSegments[row.Segment]; !ok {
		return false
	}
	if _, ok := allowedExchanges[row.Exchange]; !ok {
		return false
	}
	_, ok := indexTokens[row.Name]
	return ok
}

func parseDumpFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseDumpUint32(s string) uint32 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
