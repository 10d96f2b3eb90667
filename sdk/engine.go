package sdk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbeoliero/kit/log"

	"github.com/duvallglobal/theportal-sub000/internal/cache"
	"github.com/duvallglobal/theportal-sub000/internal/config"
	"github.com/duvallglobal/theportal-sub000/internal/dispatch"
	"github.com/duvallglobal/theportal-sub000/internal/entity"
	"github.com/duvallglobal/theportal-sub000/internal/protocol"
	"github.com/duvallglobal/theportal-sub000/internal/reconcile"
	"github.com/duvallglobal/theportal-sub000/internal/store"
	"github.com/duvallglobal/theportal-sub000/internal/transport"
	"github.com/duvallglobal/theportal-sub000/pkg/errcode"
	"github.com/duvallglobal/theportal-sub000/pkg/jwt"
)

// Re-exported domain types; presentation code imports only this
// package.
type (
	Conversation = entity.Conversation
	Message      = entity.Message
)

// Engine is the composition root the presentation layer talks to. It
// owns no business logic itself. Conversations, connection health and
// message delivery state all come from the components it wires.
type Engine struct {
	cfg  *config.Config
	rest *RestClient

	store *store.Store
	rec   *reconcile.Reconciler
	tm    *transport.Manager
	disp  *dispatch.Dispatcher
	cache *cache.Cache

	onPresence dispatch.PresenceHandler

	mu      sync.Mutex
	token   string
	selfId  string
	started bool
	closed  bool
	cancel  context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// Option configures the engine
type Option func(*Engine)

// WithToken sets the session credential up front, skipping Login
func WithToken(token string) Option {
	return func(e *Engine) {
		e.token = token
	}
}

// WithPresenceHandler forwards opaque presence events to the host
// application
func WithPresenceHandler(h dispatch.PresenceHandler) Option {
	return func(e *Engine) {
		e.onPresence = h
	}
}

// NewEngine creates the sync engine. Call Login (or pass WithToken)
// and then Start.
func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	rest, err := NewRestClient(cfg.Server.APIBaseURL)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:  cfg,
		rest: rest,
		subs: make(map[int]chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}
	rest.SetToken(e.token)

	e.store = store.New("")
	e.tm = transport.NewManager(cfg, e.currentToken, e.handleFrame, e.handleState)
	e.rec = reconcile.New(e.store, e.tm, "", cfg.Reconcile.AckTimeout)
	e.disp = dispatch.New(e.rec, e.store, e.tm.NotePong, e.onPresence, e.saveSnapshot)

	return e, nil
}

// Login authenticates against the portal API and adopts the returned
// session credential for the live connection.
func (e *Engine) Login(ctx context.Context, userId, password string) (*UserInfo, error) {
	resp, err := e.rest.Login(ctx, userId, password, e.cfg.Server.PlatformId)
	if err != nil {
		return nil, errcode.ErrLoginFailed.Wrap(err)
	}

	e.mu.Lock()
	e.token = resp.Token
	e.mu.Unlock()

	return resp.UserInfo, nil
}

// Start brings the engine up: credential pre-flight, cached and REST
// cold-start hydration, the pending-message sweeper and the live
// connection. Returns before the connection is established.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return errcode.ErrInvalidParam.Wrap(errcode.ErrConnClosed)
	}
	token := e.token
	e.mu.Unlock()

	claims, err := jwt.Inspect(token)
	if err != nil {
		return err
	}
	if err := jwt.CheckNotExpired(claims, time.Now()); err != nil {
		return err
	}

	e.mu.Lock()
	e.started = true
	e.selfId = claims.UserId
	e.mu.Unlock()

	e.store.SetSelf(claims.UserId)
	e.rec.SetSelf(claims.UserId)
	e.rest.SetToken(token)

	if e.cfg.Cache.Path != "" {
		c, err := cache.Open(e.cfg.Cache.Path)
		if err != nil {
			log.CtxWarn(ctx, "snapshot cache unavailable: %v", err)
		} else {
			e.cache = c
			if convs, err := c.LoadSnapshot(); err != nil {
				log.CtxWarn(ctx, "snapshot cache read failed: %v", err)
			} else if len(convs) > 0 {
				e.store.Hydrate(convs)
				log.CtxInfo(ctx, "hydrated from cache: conversations=%d", len(convs))
			}
		}
	}

	if infos, err := e.rest.FetchConversations(ctx); err != nil {
		// Offline start is fine; the live snapshot will catch up.
		log.CtxWarn(ctx, "cold-start fetch failed: %v", err)
	} else {
		e.store.Hydrate(conversationsFromAPI(infos))
		log.CtxInfo(ctx, "hydrated from api: conversations=%d", len(infos))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	go e.rec.Run(runCtx, e.cfg.Reconcile.SweepInterval)
	go e.forwardStoreSignals(runCtx)

	return e.tm.Connect()
}

// SendMessage sends content to a conversation, returning the
// optimistic message immediately. A NotConnected rejection yields the
// message in failed state plus the error.
func (e *Engine) SendMessage(ctx context.Context, conversationId, content string) (*Message, error) {
	if conversationId == "" || content == "" {
		return nil, errcode.ErrInvalidParam
	}
	return e.rec.SendMessage(ctx, conversationId, content)
}

// MarkRead zeroes a conversation's unread count and emits a read
// receipt when the connection is up; purely local otherwise.
func (e *Engine) MarkRead(ctx context.Context, conversationId string) error {
	e.store.MarkRead(conversationId)

	if !e.tm.IsConnected() {
		return nil
	}
	frame, err := protocol.MarshalFrame(protocol.WSReadAck, uuid.NewString(), &protocol.ReadAckReq{
		ConversationId: conversationId,
	})
	if err != nil {
		return err
	}
	if err := e.tm.Send(frame); err != nil {
		log.CtxDebug(ctx, "read receipt not sent: %v", err)
	}
	return nil
}

// SetFocus marks the conversation currently open in the UI
func (e *Engine) SetFocus(conversationId string) {
	e.store.SetFocus(conversationId)
}

// Conversations returns the ordered conversation list
func (e *Engine) Conversations() []*Conversation {
	return e.store.Conversations()
}

// Messages returns one conversation's visible history
func (e *Engine) Messages(conversationId string) []*Message {
	return e.store.Messages(conversationId)
}

// IsConnected reports whether the live connection is authenticated
func (e *Engine) IsConnected() bool {
	return e.tm.IsConnected()
}

// Err returns the last terminal connection error, nil after a
// successful (re)authentication
func (e *Engine) Err() error {
	return e.tm.Err()
}

// Subscribe registers a listener signalled after every observable
// state change (store mutations and connection health transitions)
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	id := e.nextSub
	e.nextSub++
	ch := make(chan struct{}, 1)
	e.subs[id] = ch

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.subs, id)
	}
}

// Close tears down the engine: the reconnect timer is cancelled, the
// connection closed and the cache flushed. Pending messages are left
// in their terminal state for the caller to resend or discard.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := e.tm.Close()
	if e.cache != nil {
		if cerr := e.cache.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (e *Engine) currentToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

func (e *Engine) handleFrame(ctx context.Context, raw []byte) {
	e.disp.HandleFrame(ctx, raw)
}

func (e *Engine) handleState(state transport.State, err error) {
	e.notify()
}

func (e *Engine) saveSnapshot(convs []*entity.Conversation) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SaveSnapshot(convs); err != nil {
		log.Warn("snapshot cache write failed: %v", err)
	}
}

// forwardStoreSignals fans store mutations into the engine's own
// subscriber set, alongside connection health transitions
func (e *Engine) forwardStoreSignals(ctx context.Context) {
	ch, unsubscribe := e.store.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			e.notify()
		}
	}
}

func (e *Engine) notify() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func conversationsFromAPI(infos []*ConversationInfo) []*entity.Conversation {
	convs := make([]*entity.Conversation, 0, len(infos))
	for _, info := range infos {
		convs = append(convs, &entity.Conversation{
			Id:            info.ConversationId,
			Participants:  info.Participants,
			LastMessage:   info.LastMessage,
			LastMessageAt: info.LastMessageAt,
			UnreadCount:   info.UnreadCount,
		})
	}
	return convs
}
