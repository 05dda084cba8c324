package ticker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"kitefeed/internal/model"
)

// tickServer is a scriptable stand-in for the tick feed endpoint.
type tickServer struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	dials       int
	subscribes  [][]uint32
	rejectCode  int
	accessToken string
	onConn      func(conn *websocket.Conn)
}

func newTickServer(t *testing.T) *tickServer {
	ts := &tickServer{t: t}
	ts.srv = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *tickServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *tickServer) dialCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.dials
}

func (ts *tickServer) subscribedBatches() [][]uint32 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([][]uint32, len(ts.subscribes))
	copy(out, ts.subscribes)
	return out
}

func (ts *tickServer) handle(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	ts.dials++
	reject := ts.rejectCode
	wantToken := ts.accessToken
	script := ts.onConn
	ts.mu.Unlock()

	if reject > 0 {
		http.Error(w, "handshake rejected", reject)
		return
	}
	if wantToken != "" && r.URL.Query().Get("access_token") != wantToken {
		http.Error(w, "invalid access token", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Capture the subscribe and mode messages the client sends per chunk.
	for i := 0; i < 2; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Action string          `json:"a"`
			Value  json.RawMessage `json:"v"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		if req.Action == "subscribe" {
			var tokens []uint32
			if err := json.Unmarshal(req.Value, &tokens); err == nil {
				ts.mu.Lock()
				ts.subscribes = append(ts.subscribes, tokens)
				ts.mu.Unlock()
			}
		}
	}

	if script != nil {
		script(conn)
		return
	}
	// Default: hold the connection open until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func ltpFrame(token uint32, paise int32) []byte {
	packet := appendUint32(nil, token)
	packet = appendInt32(packet, paise)
	return buildFrame(packet)
}

func testSessionConfig(ts *tickServer, tokens []uint32) SessionConfig {
	return SessionConfig{
		URL:         ts.url(),
		Credentials: model.Credentials{APIKey: "key", AccessToken: "token"},
		Tokens:      tokens,
		Mode:        model.ModeFull,
		ReadTimeout: 5 * time.Second,
	}
}

func TestSessionStreamsTicksIntoStore(t *testing.T) {
	ts := newTickServer(t)
	ts.onConn = func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, ltpFrame(42, 1_050))
		conn.WriteMessage(websocket.BinaryMessage, ltpFrame(43, 2_025))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}

	store := NewStore()
	session := NewSession(testSessionConfig(ts, []uint32{42, 43}), store, store.Generation(), nil, nil)

	outcome := session.Run(context.Background())
	if outcome.Reason != CloseTransportError {
		t.Fatalf("server close should surface as transport error, got %v", outcome.Reason)
	}
	if session.State() != StateClosed {
		t.Fatalf("state = %v, want closed", session.State())
	}
	if session.TicksReceived() != 2 {
		t.Fatalf("ticks received = %d", session.TicksReceived())
	}

	state, ok := store.Get(42)
	if !ok || state.LastTick == nil || state.LastTick.LastPrice != 10.50 {
		t.Fatalf("tick 42 missing or wrong: %+v", state.LastTick)
	}
	state, _ = store.Get(43)
	if state.LastTick == nil || state.LastTick.LastPrice != 20.25 {
		t.Fatalf("tick 43 missing or wrong: %+v", state.LastTick)
	}

	batches := ts.subscribedBatches()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("subscribe batches: %+v", batches)
	}
}

func TestSessionAuthRejected(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		ts := newTickServer(t)
		ts.rejectCode = code

		session := NewSession(testSessionConfig(ts, []uint32{1}), NewStore(), 0, nil, nil)
		outcome := session.Run(context.Background())
		if outcome.Reason != CloseAuthRejected {
			t.Fatalf("status %d: reason = %v, want auth_rejected", code, outcome.Reason)
		}
		if outcome.Err == nil {
			t.Fatalf("status %d: want underlying error", code)
		}
	}
}

func TestSessionServerErrorIsTransport(t *testing.T) {
	ts := newTickServer(t)
	ts.rejectCode = http.StatusBadGateway

	session := NewSession(testSessionConfig(ts, []uint32{1}), NewStore(), 0, nil, nil)
	outcome := session.Run(context.Background())
	if outcome.Reason != CloseTransportError {
		t.Fatalf("reason = %v, want transport_error", outcome.Reason)
	}
}

func TestSessionStopRequested(t *testing.T) {
	ts := newTickServer(t)

	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	session := NewSession(testSessionConfig(ts, []uint32{42}), store, store.Generation(), nil, nil)

	done := make(chan Outcome, 1)
	go func() { done <- session.Run(ctx) }()

	waitUntil(t, 2*time.Second, func() bool { return ts.dialCount() == 1 })
	cancel()

	select {
	case outcome := <-done:
		if outcome.Reason != CloseStopRequested {
			t.Fatalf("reason = %v, want stop_requested", outcome.Reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("session did not stop after cancel")
	}
}

func TestSessionRunDurationElapsed(t *testing.T) {
	ts := newTickServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	store := NewStore()
	session := NewSession(testSessionConfig(ts, []uint32{42}), store, store.Generation(), nil, nil)
	outcome := session.Run(ctx)
	if outcome.Reason != CloseRunDurationElapsed {
		t.Fatalf("reason = %v, want run_duration_elapsed", outcome.Reason)
	}
}

func TestSessionFiltersUnsubscribedTokens(t *testing.T) {
	ts := newTickServer(t)
	ts.onConn = func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x00}) // heartbeat
		conn.WriteMessage(websocket.BinaryMessage, ltpFrame(999, 5_000))
		conn.WriteMessage(websocket.BinaryMessage, ltpFrame(42, 1_000))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}

	store := NewStore()
	session := NewSession(testSessionConfig(ts, []uint32{42}), store, store.Generation(), nil, nil)
	session.Run(context.Background())

	if _, ok := store.Get(999); ok {
		t.Fatalf("unsubscribed token reached the store")
	}
	if state, ok := store.Get(42); !ok || state.LastTick == nil {
		t.Fatalf("subscribed token missing")
	}
	if session.TicksReceived() != 1 {
		t.Fatalf("ticks received = %d, want 1", session.TicksReceived())
	}
}

func TestSessionLivenessWindow(t *testing.T) {
	ts := newTickServer(t)
	// Server accepts and then stays silent.

	cfg := testSessionConfig(ts, []uint32{42})
	cfg.ReadTimeout = 150 * time.Millisecond

	store := NewStore()
	session := NewSession(cfg, store, store.Generation(), nil, nil)

	start := time.Now()
	outcome := session.Run(context.Background())
	if outcome.Reason != CloseTransportError {
		t.Fatalf("reason = %v, want transport_error on silent feed", outcome.Reason)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("liveness window did not fire in time: %v", elapsed)
	}
}

func TestSessionEmptyUniverse(t *testing.T) {
	ts := newTickServer(t)
	session := NewSession(testSessionConfig(ts, nil), NewStore(), 0, nil, nil)

	outcome := session.Run(context.Background())
	if outcome.Reason != CloseTransportError || outcome.Err == nil {
		t.Fatalf("want transport error for empty universe, got %+v", outcome)
	}
	if ts.dialCount() != 0 {
		t.Fatalf("dialed despite empty universe")
	}
}
