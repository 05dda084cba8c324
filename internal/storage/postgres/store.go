// Package postgres persists broker profiles and the instrument reference
// set in the trade schema (trade.profile, trade.instrument).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kitefeed/internal/model"
)

// Store provides Postgres persistence for credentials and instruments.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetProfile returns the credential row for a user and OS pair.
func (s *Store) GetProfile(ctx context.Context, userID, osType string) (model.Profile, bool, error) {
	if userID == "" {
		return model.Profile{}, false, fmt.Errorf("user id required")
	}
	var p model.Profile
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, os_type, api_key, api_secret,
		       COALESCE(access_token, ''), COALESCE(public_token, ''),
		       COALESCE(updated_at, 'epoch'::timestamptz)
		FROM trade.profile
		WHERE user_id = $1 AND os_type = $2
	`, userID, osType)
	if err := row.Scan(&p.UserID, &p.OSType, &p.APIKey, &p.APISecret, &p.AccessToken, &p.PublicToken, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Profile{}, false, nil
		}
		return model.Profile{}, false, err
	}
	return p, true, nil
}

// UpdateSessionTokens stores the tokens from a completed login exchange.
// It returns the number of profile rows updated; zero means no profile
// exists for the pair.
func (s *Store) UpdateSessionTokens(ctx context.Context, userID, osType, requestToken, accessToken, publicToken string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id required")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE trade.profile
		SET request_token = $1, access_token = $2, public_token = $3, updated_at = now()
		WHERE user_id = $4 AND os_type = $5
	`, requestToken, accessToken, publicToken, userID, osType)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReplaceInstruments swaps the stored instrument set for rows. With
// deleteAll the whole table is cleared first; otherwise only the incoming
// tokens are deleted, so rows outside the refresh window survive.
func (s *Store) ReplaceInstruments(ctx context.Context, rows []model.Instrument, deleteAll bool) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if deleteAll {
		if _, err := tx.Exec(ctx, `DELETE FROM trade.instrument`); err != nil {
			return 0, err
		}
	} else {
		tokens := make([]int64, 0, len(rows))
		for _, row := range rows {
			tokens = append(tokens, int64(row.InstrumentToken))
		}
		if _, err := tx.Exec(ctx, `DELETE FROM trade.instrument WHERE instrument_token = ANY($1)`, tokens); err != nil {
			return 0, err
		}
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO trade.instrument (
				instrument_token, exchange_token, tradingsymbol, name, expiry,
				strike, tick_size, lot_size, instrument_type, segment, exchange, fetched_at
			) VALUES ($1, $2, $3, $4, NULLIF($5, '')::date, $6, $7, $8, $9, $10, $11, now())
			ON CONFLICT (instrument_token)
			DO UPDATE SET
				exchange_token = EXCLUDED.exchange_token,
				tradingsymbol = EXCLUDED.tradingsymbol,
				name = EXCLUDED.name,
				expiry = EXCLUDED.expiry,
				strike = EXCLUDED.strike,
				tick_size = EXCLUDED.tick_size,
				lot_size = EXCLUDED.lot_size,
				instrument_type = EXCLUDED.instrument_type,
				segment = EXCLUDED.segment,
				exchange = EXCLUDED.exchange,
				fetched_at = now()
		`,
			int64(row.InstrumentToken),
			int64(row.ExchangeToken),
			row.TradingSymbol,
			row.Name,
			row.Expiry,
			row.Strike,
			row.TickSize,
			int64(row.LotSize),
			row.InstrumentType,
			row.Segment,
			row.Exchange,
		)
	}

	br := tx.SendBatch(ctx, batch)
	var n int64
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, err
		}
		n++
	}
	if err := br.Close(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// LoadInstruments returns the stored rows for the given segments, every
// row when segments is empty, ordered by token.
func (s *Store) LoadInstruments(ctx context.Context, segments []string) ([]model.Instrument, error) {
	query := `
		SELECT instrument_token, exchange_token,
		       COALESCE(tradingsymbol, ''), COALESCE(name, ''),
		       COALESCE(expiry::text, ''), COALESCE(strike, 0),
		       COALESCE(tick_size, 0), COALESCE(lot_size, 0),
		       COALESCE(instrument_type, ''), COALESCE(segment, ''), COALESCE(exchange, '')
		FROM trade.instrument
	`
	args := []any{}
	if len(segments) > 0 {
		query += ` WHERE segment = ANY($1)`
		args = append(args, segments)
	}
	query += ` ORDER BY instrument_token`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var (
			inst          model.Instrument
			token, exchTk int64
			lotSize       int64
		)
		if err := rows.Scan(&token, &exchTk, &inst.TradingSymbol, &inst.Name, &inst.Expiry,
			&inst.Strike, &inst.TickSize, &lotSize, &inst.InstrumentType, &inst.Segment, &inst.Exchange); err != nil {
			return nil, err
		}
		inst.InstrumentToken = uint32(token)
		inst.ExchangeToken = uint32(exchTk)
		inst.LotSize = uint32(lotSize)
		out = append(out, inst)
	}
	return out, rows.Err()
}

// CountInstruments returns the stored row count.
func (s *Store) CountInstruments(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trade.instrument`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RedactDSN masks the password in a connection string for logs.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
