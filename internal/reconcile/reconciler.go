package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbeoliero/kit/log"

	"github.com/duvallglobal/theportal-sub000/internal/entity"
	"github.com/duvallglobal/theportal-sub000/internal/protocol"
	"github.com/duvallglobal/theportal-sub000/internal/store"
	"github.com/duvallglobal/theportal-sub000/pkg/errcode"
	"github.com/duvallglobal/theportal-sub000/pkg/idgen"
)

// Sender transmits an encoded frame, failing fast while offline
type Sender interface {
	Send(data []byte) error
}

// Reconciler gives the UI an immediate optimistic view of sent
// messages while guaranteeing eventual consistency with the server's
// record. It owns the short-lived clientMsgId → deadline map and is
// the only component that transitions a local message to confirmed.
type Reconciler struct {
	store  *store.Store
	sender Sender

	mu      sync.Mutex
	selfId  string
	pending map[string]time.Time // clientMsgId -> registered at

	ackTimeout time.Duration
}

// New creates a reconciler. selfId is the local sender identity.
func New(st *store.Store, sender Sender, selfId string, ackTimeout time.Duration) *Reconciler {
	return &Reconciler{
		store:      st,
		sender:     sender,
		selfId:     selfId,
		pending:    make(map[string]time.Time),
		ackTimeout: ackTimeout,
	}
}

// SetSelf updates the local sender identity (known after login)
func (r *Reconciler) SetSelf(userId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selfId = userId
}

// SendMessage inserts an optimistic pending message and forwards it
// to the connection. When the connection rejects the send the message
// is marked failed immediately instead of being queued, and the error
// is returned alongside it so the UI can offer an explicit retry.
func (r *Reconciler) SendMessage(ctx context.Context, conversationId, content string) (*entity.Message, error) {
	clientMsgId, err := idgen.NextID()
	if err != nil {
		return nil, errcode.ErrSendFailed.Wrap(err)
	}

	r.mu.Lock()
	selfId := r.selfId
	r.mu.Unlock()

	msg := &entity.Message{
		ClientMsgId:    clientMsgId,
		ConversationId: conversationId,
		SenderId:       selfId,
		Content:        content,
		SentAt:         time.Now().UnixMilli(),
		State:          entity.MessagePending,
	}
	// The store gets its own copy; msg stays private to this caller so
	// a fast ack on the read loop cannot race the return value.
	r.store.ApplyLocal(msg.Clone())

	frame, err := protocol.MarshalFrame(protocol.WSSendMsg, uuid.NewString(), &protocol.SendMsgReq{
		ClientMsgId:    clientMsgId,
		ConversationId: conversationId,
		Content:        content,
	})
	if err != nil {
		r.store.MarkFailed(clientMsgId)
		msg.State = entity.MessageFailed
		return msg, errcode.ErrSendFailed.Wrap(err)
	}

	r.mu.Lock()
	r.pending[clientMsgId] = time.Now()
	r.mu.Unlock()

	if err := r.sender.Send(frame); err != nil {
		r.mu.Lock()
		delete(r.pending, clientMsgId)
		r.mu.Unlock()
		r.store.MarkFailed(clientMsgId)
		msg.State = entity.MessageFailed
		log.CtxWarn(ctx, "send rejected: client_msg_id=%s, error=%v", clientMsgId, err)
		return msg, err
	}

	return msg, nil
}

// HandleAck resolves a server confirmation against its pending entry.
// This is the only path by which a locally originated message becomes
// confirmed. A duplicate ack finds the message already confirmed and
// is discarded without side effects.
func (r *Reconciler) HandleAck(ctx context.Context, ack *protocol.MsgAck) {
	r.mu.Lock()
	delete(r.pending, ack.ClientMsgId)
	r.mu.Unlock()

	if !r.store.Confirm(ack.ClientMsgId, ack.ServerMsgId, ack.ConfirmedAt) {
		log.CtxDebug(ctx, "duplicate or unknown ack discarded: client_msg_id=%s, server_msg_id=%d",
			ack.ClientMsgId, ack.ServerMsgId)
	}
}

// HandleNew applies a broadcast message. Anything arriving here did
// not originate from this client instance (or its mapping already
// expired) and is inserted directly as confirmed; the store dedupes
// by server id.
func (r *Reconciler) HandleNew(ctx context.Context, msg *protocol.NewMsg) {
	applied := r.store.ApplyInbound(&entity.Message{
		Id:             msg.ServerMsgId,
		ConversationId: msg.ConversationId,
		SenderId:       msg.SenderId,
		Content:        msg.Content,
		ConfirmedAt:    msg.ConfirmedAt,
		State:          entity.MessageConfirmed,
	})
	if !applied {
		log.CtxDebug(ctx, "duplicate message discarded: server_msg_id=%d", msg.ServerMsgId)
	}
}

// Sweep forcibly fails pending entries older than the ack timeout,
// bounding map growth and giving the UI a deterministic failure
// instead of an indefinite spinner. Returns the failed ids.
func (r *Reconciler) Sweep(now time.Time) []string {
	r.mu.Lock()
	var expired []string
	for clientMsgId, registered := range r.pending {
		if now.Sub(registered) >= r.ackTimeout {
			expired = append(expired, clientMsgId)
			delete(r.pending, clientMsgId)
		}
	}
	r.mu.Unlock()

	for _, clientMsgId := range expired {
		r.store.MarkFailed(clientMsgId)
		log.Warn("%v: client_msg_id=%s", errcode.ErrMessageTimeout, clientMsgId)
	}
	return expired
}

// Run sweeps on an interval until the context is cancelled
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// PendingCount reports the current mapping size
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
