package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"

	"github.com/duvallglobal/theportal-sub000/internal/config"
	"github.com/duvallglobal/theportal-sub000/internal/protocol"
	"github.com/duvallglobal/theportal-sub000/pkg/errcode"
)

// State is the connection lifecycle state
type State int32

const (
	StateDisconnected  State = 0 // no connection, no reconnect pending
	StateConnecting    State = 1 // dial or handshake in flight
	StateAuthenticated State = 2 // handshake accepted, frames flowing
	StateDegraded      State = 3 // connection lost, automatic reconnect pending
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// FrameHandler receives every inbound frame after the handshake,
// in the order read from the transport.
type FrameHandler func(ctx context.Context, raw []byte)

// StateHandler observes health transitions. err is the last terminal
// error, nil once (re)authentication succeeds. Transitions are
// delivered one at a time, in the order they occurred.
type StateHandler func(state State, err error)

type stateEvent struct {
	state State
	err   error
}

// TokenProvider supplies the current session credential at handshake
// time, so a refreshed token is picked up across reconnects.
type TokenProvider func() string

// Manager owns the single live transport connection: it establishes
// it, authenticates it, detects loss and restores it with backoff.
// No other component touches the socket.
type Manager struct {
	cfg     *config.Config
	token   TokenProvider
	onFrame FrameHandler
	onState StateHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	lastErr      error
	conn         *wsConn
	retryAttempt int
	retryTimer   *time.Timer
	hadAuth      bool
	closed       bool

	stateQMu   sync.Mutex
	stateQueue []stateEvent
	stateSig   chan struct{}

	dialer *websocket.Dialer
}

// NewManager creates a connection manager. Connect must be called to
// bring the connection up.
func NewManager(cfg *config.Config, token TokenProvider, onFrame FrameHandler, onState StateHandler) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		token:    token,
		onFrame:  onFrame,
		onState:  onState,
		ctx:      ctx,
		cancel:   cancel,
		stateSig: make(chan struct{}, 1),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		},
	}
	if onState != nil {
		go m.stateLoop()
	}
	return m
}

// Connect brings the connection up. Idempotent: a no-op while already
// connecting or authenticated. Returns before the connection is
// established; completion is observable via the state handler.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errcode.ErrConnClosed
	}
	if m.state == StateConnecting || m.state == StateAuthenticated {
		m.mu.Unlock()
		return nil
	}
	// An explicit connect supersedes any scheduled retry; the pending
	// timer must not dial a second connection later.
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.setStateLocked(StateConnecting, m.lastErr)
	m.mu.Unlock()

	go m.run()
	return nil
}

// Send transmits an encoded frame. Fails fast with ErrNotConnected
// while not authenticated; callers own any queue/retry policy.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	ok := m.state == StateAuthenticated && conn != nil
	m.mu.Unlock()

	if !ok {
		return errcode.ErrNotConnected
	}
	return conn.Write(data)
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the connection is authenticated
func (m *Manager) IsConnected() bool {
	return m.State() == StateAuthenticated
}

// Err returns the last terminal error, nil after a successful
// (re)authentication
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// RetryAttempt returns the current reconnect attempt counter
func (m *Manager) RetryAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryAttempt
}

// NotePong records a heartbeat reply. The read deadline is already
// extended by the read itself, so this is observability only.
func (m *Manager) NotePong() {
	log.CtxDebug(m.ctx, "heartbeat pong received")
}

// Close tears the connection down and cancels any pending reconnect
// timer. The manager cannot be reused afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateDisconnected, m.lastErr)
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		conn.Close()
	}
	return nil
}

// run performs one dial + handshake cycle and then pumps inbound
// frames until the connection dies.
func (m *Manager) run() {
	conn, err := m.dialAndAuthenticate()
	if err != nil {
		if errcode.ErrAuthentication.Is(err) {
			// Credential problems are not transient: surface the error
			// and stay down without scheduling a retry.
			m.mu.Lock()
			m.setStateLocked(StateDisconnected, err)
			m.mu.Unlock()
			log.CtxWarn(m.ctx, "authentication rejected: %v", err)
			return
		}
		m.scheduleReconnect(errcode.ErrTransport.Wrap(err))
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.retryAttempt = 0
	m.hadAuth = true
	m.setStateLocked(StateAuthenticated, nil)
	m.mu.Unlock()

	log.CtxInfo(m.ctx, "connection authenticated")

	err = m.readLoop(conn)

	m.mu.Lock()
	closed := m.closed
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	conn.Close()

	if closed {
		return
	}
	log.CtxWarn(m.ctx, "connection lost: %v", err)
	m.scheduleReconnect(errcode.ErrTransport.Wrap(err))
}

// dialAndAuthenticate dials the server and performs the auth
// handshake as the first exchange on the socket.
func (m *Manager) dialAndAuthenticate() (*wsConn, error) {
	ws, _, err := m.dialer.DialContext(m.ctx, m.cfg.Server.WSURL, nil)
	if err != nil {
		return nil, err
	}

	authFrame, err := protocol.MarshalFrame(protocol.WSAuth, uuid.NewString(), &protocol.AuthReq{
		Token:      m.token(),
		PlatformId: m.cfg.Server.PlatformId,
	})
	if err != nil {
		ws.Close()
		return nil, err
	}

	ws.SetWriteDeadline(time.Now().Add(m.cfg.WebSocket.WriteWait))
	if err := ws.WriteMessage(websocket.TextMessage, authFrame); err != nil {
		ws.Close()
		return nil, err
	}

	ws.SetReadDeadline(time.Now().Add(m.cfg.WebSocket.HandshakeTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, err
	}

	frame, err := protocol.ParseFrame(raw)
	if err != nil {
		ws.Close()
		return nil, errcode.ErrProtocol.Wrap(err)
	}
	if frame.ReqIdentifier != protocol.WSAuthResult {
		ws.Close()
		return nil, errcode.ErrProtocol
	}

	var result protocol.AuthResult
	if err := protocol.Decode(frame.Data, &result); err != nil {
		ws.Close()
		return nil, errcode.ErrProtocol.Wrap(err)
	}
	if !result.OK {
		ws.Close()
		if result.ErrMsg != "" {
			return nil, errcode.New(errcode.ErrAuthentication.Code, result.ErrMsg)
		}
		return nil, errcode.ErrAuthentication
	}

	wsCfg := m.cfg.WebSocket
	return newWSConn(ws, wsCfg.MaxMessageSize, wsCfg.WriteWait, wsCfg.PongWait, wsCfg.PingPeriod, wsCfg.WriteChannelSize), nil
}

// readLoop delivers inbound frames in read order until the connection
// errors out
func (m *Manager) readLoop(conn *wsConn) error {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.onFrame(m.ctx, raw)
	}
}

// scheduleReconnect arms the backoff timer for the next attempt
func (m *Manager) scheduleReconnect(cause error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.retryAttempt++
	delay := nextDelay(m.cfg.Reconnect, m.retryAttempt)

	// Degraded rather than plain disconnected once we have been
	// authenticated this session: recovery is in progress.
	next := StateDisconnected
	if m.hadAuth {
		next = StateDegraded
	}
	m.setStateLocked(next, cause)

	log.CtxInfo(m.ctx, "reconnect scheduled: attempt=%d, delay=%v", m.retryAttempt, delay)

	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		// A connect attempt may already be in flight (explicit Connect,
		// or the timer fired while Stop raced it). Only one dial wins.
		if m.closed || m.state == StateConnecting || m.state == StateAuthenticated {
			m.mu.Unlock()
			return
		}
		m.retryTimer = nil
		m.setStateLocked(StateConnecting, m.lastErr)
		m.mu.Unlock()
		m.run()
	})
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(state State, err error) {
	m.state = state
	m.lastErr = err
	if m.onState == nil {
		return
	}
	m.stateQMu.Lock()
	m.stateQueue = append(m.stateQueue, stateEvent{state: state, err: err})
	m.stateQMu.Unlock()
	select {
	case m.stateSig <- struct{}{}:
	default:
	}
}

// stateLoop drains queued transitions and delivers them in order from
// a single goroutine. The handler must not call back into methods that
// hold mu for long, but it sees every transition exactly once.
func (m *Manager) stateLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.stateSig:
			for {
				m.stateQMu.Lock()
				if len(m.stateQueue) == 0 {
					m.stateQMu.Unlock()
					break
				}
				ev := m.stateQueue[0]
				m.stateQueue = m.stateQueue[1:]
				m.stateQMu.Unlock()
				m.onState(ev.state, ev.err)
			}
		}
	}
}

// backoffDelay computes min(maxDelay, base*2^attempt)
func backoffDelay(cfg config.ReconnectConfig, attempt int) time.Duration {
	if attempt > 20 {
		attempt = 20
	}
	delay := cfg.BaseDelay << uint(attempt)
	if delay <= 0 || delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// nextDelay adds symmetric jitter to the backoff delay so a fleet of
// clients does not reconnect in lockstep.
func nextDelay(cfg config.ReconnectConfig, attempt int) time.Duration {
	delay := backoffDelay(cfg, attempt)
	jitter := time.Duration((rand.Float64()*2 - 1) * cfg.JitterFraction * float64(delay))
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return delay
}
