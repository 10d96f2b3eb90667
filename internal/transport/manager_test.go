package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duvallglobal/theportal-sub000/internal/config"
	"github.com/duvallglobal/theportal-sub000/internal/protocol"
	"github.com/duvallglobal/theportal-sub000/pkg/errcode"
)

// testServer is a scripted portal endpoint: it performs the auth
// handshake and hands each accepted connection to the session func.
type testServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	accepted int
	reject   bool
}

func newTestServer(t *testing.T, session func(conn *websocket.Conn)) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		frame, err := protocol.ParseFrame(raw)
		if err != nil || frame.ReqIdentifier != protocol.WSAuth {
			conn.Close()
			return
		}

		ts.mu.Lock()
		reject := ts.reject
		ts.accepted++
		ts.mu.Unlock()

		result := &protocol.AuthResult{OK: !reject}
		if reject {
			result.ErrMsg = "bad credential"
		}
		resp, _ := protocol.MarshalFrame(protocol.WSAuthResult, frame.OperationId, result)
		if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
			conn.Close()
			return
		}
		if reject {
			conn.Close()
			return
		}

		if session != nil {
			session(conn)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) setReject(reject bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.reject = reject
}

func (ts *testServer) acceptedCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.accepted
}

func testConfig(wsURL string) *config.Config {
	cfg := config.Default()
	cfg.Server.WSURL = wsURL
	cfg.Reconnect.BaseDelay = 10 * time.Millisecond
	cfg.Reconnect.MaxDelay = 100 * time.Millisecond
	return cfg
}

func TestManager_ConnectAndDeliverFrames(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		frame, _ := protocol.MarshalFrame(protocol.WSNewMsg, "", &protocol.NewMsg{
			ServerMsgId:    1,
			ConversationId: "c1",
			SenderId:       "alice",
			Content:        "hi",
		})
		conn.WriteMessage(websocket.TextMessage, frame)
		// Hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var mu sync.Mutex
	var frames [][]byte
	m := NewManager(testConfig(ts.wsURL()), func() string { return "token" },
		func(ctx context.Context, raw []byte) {
			mu.Lock()
			frames = append(frames, raw)
			mu.Unlock()
		}, nil)
	defer m.Close()

	require.NoError(t, m.Connect())

	require.Eventually(t, m.IsConnected, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, m.Err())
	assert.Equal(t, 0, m.RetryAttempt())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Idempotent while up
	require.NoError(t, m.Connect())
	assert.Equal(t, 1, ts.acceptedCount())
}

func TestManager_AuthRejectDoesNotRetry(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.setReject(true)

	m := NewManager(testConfig(ts.wsURL()), func() string { return "bad" }, func(context.Context, []byte) {}, nil)
	defer m.Close()

	require.NoError(t, m.Connect())

	require.Eventually(t, func() bool {
		return m.State() == StateDisconnected && m.Err() != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, errcode.ErrAuthentication.Is(m.Err()))

	// No reconnect is scheduled for a credential problem
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, ts.acceptedCount())
	assert.Equal(t, 0, m.RetryAttempt())
}

func TestManager_SendFailsFastWhileOffline(t *testing.T) {
	m := NewManager(testConfig("ws://127.0.0.1:1/ws"), func() string { return "token" }, func(context.Context, []byte) {}, nil)
	defer m.Close()

	err := m.Send([]byte("{}"))
	require.Error(t, err)
	assert.True(t, errcode.ErrNotConnected.Is(err))
}

func TestManager_ReconnectAfterDrop(t *testing.T) {
	first := true
	var firstMu sync.Mutex
	ts := newTestServer(t, func(conn *websocket.Conn) {
		firstMu.Lock()
		dropNow := first
		first = false
		firstMu.Unlock()
		if dropNow {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var mu sync.Mutex
	var states []State
	m := NewManager(testConfig(ts.wsURL()), func() string { return "token" },
		func(context.Context, []byte) {}, func(state State, err error) {
			mu.Lock()
			states = append(states, state)
			mu.Unlock()
		})
	defer m.Close()

	require.NoError(t, m.Connect())

	// The connection drops, is restored with a fresh handshake, and the
	// attempt counter resets on success.
	require.Eventually(t, func() bool {
		return ts.acceptedCount() >= 2 && m.IsConnected()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, m.RetryAttempt())
	assert.NoError(t, m.Err())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range states {
			if s == StateDegraded {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ConnectDuringBackoffNoSecondDial(t *testing.T) {
	first := true
	var firstMu sync.Mutex
	ts := newTestServer(t, func(conn *websocket.Conn) {
		firstMu.Lock()
		dropNow := first
		first = false
		firstMu.Unlock()
		if dropNow {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := testConfig(ts.wsURL())
	cfg.Reconnect.BaseDelay = 500 * time.Millisecond
	cfg.Reconnect.MaxDelay = 2 * time.Second

	m := NewManager(cfg, func() string { return "token" }, func(context.Context, []byte) {}, nil)
	defer m.Close()

	require.NoError(t, m.Connect())
	require.Eventually(t, func() bool {
		return m.State() == StateDegraded
	}, 2*time.Second, 5*time.Millisecond)

	// An explicit connect inside the backoff window supersedes the
	// scheduled retry
	require.NoError(t, m.Connect())
	require.Eventually(t, m.IsConnected, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, ts.acceptedCount())

	// The cancelled timer must not produce a third dial later
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 2, ts.acceptedCount())
	assert.True(t, m.IsConnected())
}

func TestManager_StateTransitionsOrdered(t *testing.T) {
	first := true
	var firstMu sync.Mutex
	ts := newTestServer(t, func(conn *websocket.Conn) {
		firstMu.Lock()
		dropNow := first
		first = false
		firstMu.Unlock()
		if dropNow {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var mu sync.Mutex
	var states []State
	m := NewManager(testConfig(ts.wsURL()), func() string { return "token" },
		func(context.Context, []byte) {}, func(state State, err error) {
			mu.Lock()
			states = append(states, state)
			mu.Unlock()
		})
	defer m.Close()

	require.NoError(t, m.Connect())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 5
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	got := append([]State(nil), states[:5]...)
	mu.Unlock()
	want := []State{StateConnecting, StateAuthenticated, StateDegraded, StateConnecting, StateAuthenticated}
	assert.Equal(t, want, got)
}

func TestManager_CloseCancelsReconnect(t *testing.T) {
	m := NewManager(testConfig("ws://127.0.0.1:1/ws"), func() string { return "token" }, func(context.Context, []byte) {}, nil)
	require.NoError(t, m.Connect())

	require.Eventually(t, func() bool {
		return m.RetryAttempt() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Close())
	attempts := m.RetryAttempt()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, attempts, m.RetryAttempt())

	assert.ErrorIs(t, m.Connect(), errcode.ErrConnClosed)
}

func TestBackoffDelayMonotonic(t *testing.T) {
	cfg := config.ReconnectConfig{
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.2,
	}

	prev := time.Duration(0)
	for attempt := 0; attempt <= 12; attempt++ {
		d := backoffDelay(cfg, attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, cfg.MaxDelay)
		prev = d
	}
	assert.Equal(t, cfg.MaxDelay, backoffDelay(cfg, 100))
}

func TestNextDelayJitterBounds(t *testing.T) {
	cfg := config.ReconnectConfig{
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.2,
	}

	for i := 0; i < 100; i++ {
		d := nextDelay(cfg, 2)
		raw := backoffDelay(cfg, 2)
		min := time.Duration(float64(raw) * (1 - cfg.JitterFraction))
		max := time.Duration(float64(raw) * (1 + cfg.JitterFraction))
		require.GreaterOrEqual(t, d, min)
		require.LessOrEqual(t, d, max)
	}
}
