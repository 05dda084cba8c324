package ticker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kitefeed/internal/metrics"
	"kitefeed/internal/model"
)

// CloseReason classifies why a streaming session ended.
type CloseReason string

const (
	CloseTransportError     CloseReason = "transport_error"
	CloseAuthRejected       CloseReason = "auth_rejected"
	CloseStopRequested      CloseReason = "stop_requested"
	CloseRunDurationElapsed CloseReason = "run_duration_elapsed"
)

// Outcome is the terminal result of one session run. Err carries the
// underlying cause for transport and auth failures and is nil for clean
// closes.
type Outcome struct {
	Reason CloseReason
	Err    error
}

// SessionState tracks where a session is in its lifecycle.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateConnecting
	StateAuthenticating
	StateSubscribing
	StateStreaming
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TickSink receives decoded tick batches. Implementations must not block;
// the session calls Offer from the read loop.
type TickSink interface {
	Offer(ticks []model.Tick)
}

const (
	defaultStreamURL = "wss://ws.kite.trade"
	streamOrigin     = "https://kite.zerodha.com"
	kiteVersion      = "3"
	userAgent        = "kitefeed/0.1"

	subscribeChunkSize = 300
	handshakeTimeout   = 10 * time.Second
	defaultReadTimeout = 15 * time.Second
	writeWait          = 5 * time.Second
	maxFrameSize       = 1 << 20
)

// SessionConfig holds everything one session run needs.
type SessionConfig struct {
	// URL of the websocket endpoint without credentials. Empty selects the
	// production endpoint.
	URL         string
	Credentials model.Credentials
	Tokens      []uint32
	Mode        string
	// ReadTimeout is the liveness window: if no frame arrives within it the
	// connection is treated as dead. The server heartbeats every second.
	ReadTimeout time.Duration
}

// Session is one websocket connection to the tick feed: dial, subscribe,
// then pump binary frames into the store until something ends it. A session
// runs at most once; the supervisor builds a fresh one per attempt.
type Session struct {
	cfg    SessionConfig
	store  *Store
	gen    uint64
	sink   TickSink
	logger *zap.Logger

	state   atomic.Int32
	ticks   atomic.Int64
	allowed map[uint32]struct{}
}

// NewSession builds a session writing to store under the given generation.
// sink may be nil.
func NewSession(cfg SessionConfig, store *Store, gen uint64, sink TickSink, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = defaultStreamURL
	}
	if cfg.Mode == "" {
		cfg.Mode = model.ModeFull
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	allowed := make(map[uint32]struct{}, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		allowed[token] = struct{}{}
	}

	return &Session{
		cfg:     cfg,
		store:   store,
		gen:     gen,
		sink:    sink,
		logger:  logger,
		allowed: allowed,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// TicksReceived returns how many ticks this session applied to the store.
func (s *Session) TicksReceived() int64 {
	return s.ticks.Load()
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

// Run drives the session to completion and reports why it closed.
func (s *Session) Run(ctx context.Context) Outcome {
	outcome := s.run(ctx)
	s.setState(StateClosed)
	metrics.SessionsTotal.WithLabelValues(string(outcome.Reason)).Inc()
	s.logger.Info("session closed",
		zap.String("close_reason", string(outcome.Reason)),
		zap.Int64("ticks", s.ticks.Load()),
		zap.Error(outcome.Err),
	)
	return outcome
}

func (s *Session) run(ctx context.Context) Outcome {
	if len(s.cfg.Tokens) == 0 {
		return Outcome{Reason: CloseTransportError, Err: fmt.Errorf("no tokens to subscribe")}
	}

	s.setState(StateConnecting)
	s.logger.Info("connecting ticker websocket", zap.Int("token_count", len(s.cfg.Tokens)), zap.String("mode", s.cfg.Mode))

	conn, outcome := s.dial(ctx)
	if conn == nil {
		return outcome
	}
	defer conn.Close()

	s.setState(StateSubscribing)
	if err := s.subscribe(conn); err != nil {
		return Outcome{Reason: CloseTransportError, Err: fmt.Errorf("subscribe: %w", err)}
	}
	s.logger.Info("subscribed", zap.Int("token_count", len(s.cfg.Tokens)), zap.String("mode", s.cfg.Mode))

	s.setState(StateStreaming)
	return s.readLoop(ctx, conn)
}

// dial connects and interprets the handshake verdict. The endpoint expects
// a browser-like handshake; without Origin it rejects with HTTP 400.
func (s *Session) dial(ctx context.Context) (*websocket.Conn, Outcome) {
	header := http.Header{}
	header.Set("Origin", streamOrigin)
	header.Set("X-Kite-Version", kiteVersion)
	header.Set("User-Agent", userAgent)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.streamURL(), header)

	s.setState(StateAuthenticating)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if ctx.Err() != nil {
			return nil, outcomeFromContext(ctx)
		}
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil && isAuthStatus(resp.StatusCode) {
			return nil, Outcome{
				Reason: CloseAuthRejected,
				Err:    fmt.Errorf("handshake rejected: %s", resp.Status),
			}
		}
		return nil, Outcome{Reason: CloseTransportError, Err: fmt.Errorf("dial: %w", err)}
	}

	return conn, Outcome{}
}

func (s *Session) streamURL() string {
	q := url.Values{}
	q.Set("api_key", s.cfg.Credentials.APIKey)
	q.Set("access_token", s.cfg.Credentials.AccessToken)
	return s.cfg.URL + "/?" + q.Encode()
}

// isAuthStatus reports whether a handshake status means the credentials
// were refused rather than the transport failing.
func isAuthStatus(code int) bool {
	return code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden
}

type wsRequest struct {
	Action string      `json:"a"`
	Value  interface{} `json:"v"`
}

// subscribe registers the universe in chunks to keep message sizes
// reasonable, then switches each chunk to the configured mode.
func (s *Session) subscribe(conn *websocket.Conn) error {
	tokens := s.cfg.Tokens
	for start := 0; start < len(tokens); start += subscribeChunkSize {
		end := start + subscribeChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]

		if err := conn.WriteJSON(wsRequest{Action: "subscribe", Value: chunk}); err != nil {
			return err
		}
		if err := conn.WriteJSON(wsRequest{Action: "mode", Value: []interface{}{s.cfg.Mode, chunk}}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) Outcome {
	conn.SetReadLimit(maxFrameSize)
	resetDeadline := func() {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	resetDeadline()
	conn.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	// Unblock the reader when the context ends so stop and run-duration are
	// honored promptly.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeWait)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.SetReadDeadline(time.Now())
		case <-stopped:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return outcomeFromContext(ctx)
			}
			return Outcome{Reason: CloseTransportError, Err: fmt.Errorf("read: %w", err)}
		}
		resetDeadline()

		switch msgType {
		case websocket.BinaryMessage:
			s.handleBinary(data)
		case websocket.TextMessage:
			s.handleText(data)
		}
	}
}

// handleText surfaces JSON control frames. The feed pushes postbacks and
// notices this way; error notices deserve a warn, the rest stay at debug.
func (s *Session) handleText(data []byte) {
	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Debug("ticker text frame", zap.ByteString("message", data))
		return
	}
	if frame.Type == "error" {
		s.logger.Warn("ticker error frame", zap.ByteString("data", frame.Data))
		return
	}
	s.logger.Debug("ticker text frame", zap.String("type", frame.Type), zap.ByteString("data", frame.Data))
}

func (s *Session) handleBinary(data []byte) {
	ticks, decodeErrs := DecodeFrame(data, time.Now())
	for _, derr := range decodeErrs {
		metrics.DecodeErrorsTotal.Inc()
		s.logger.Warn("decode packet failed",
			zap.Int("packet_index", derr.PacketIndex),
			zap.Int("packet_length", derr.Length),
			zap.String("reason", derr.Reason),
		)
	}
	if len(ticks) == 0 {
		return
	}

	// Keep memory bounded even if the server echoes unexpected tokens.
	kept := ticks[:0]
	for _, tick := range ticks {
		if _, ok := s.allowed[tick.InstrumentToken]; ok {
			kept = append(kept, tick)
		}
	}
	if len(kept) == 0 {
		return
	}

	applied := s.store.Apply(s.gen, kept)
	if applied > 0 {
		s.ticks.Add(int64(applied))
		metrics.TicksTotal.Add(float64(applied))
	}
	if s.sink != nil {
		s.sink.Offer(kept)
	}
}

func outcomeFromContext(ctx context.Context) Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Outcome{Reason: CloseRunDurationElapsed}
	}
	return Outcome{Reason: CloseStopRequested}
}
