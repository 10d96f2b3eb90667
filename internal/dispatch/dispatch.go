package dispatch

import (
	"context"
	"encoding/json"

	"github.com/mbeoliero/kit/log"

	"github.com/duvallglobal/theportal-sub000/internal/entity"
	"github.com/duvallglobal/theportal-sub000/internal/protocol"
	"github.com/duvallglobal/theportal-sub000/internal/reconcile"
	"github.com/duvallglobal/theportal-sub000/internal/store"
	"github.com/duvallglobal/theportal-sub000/pkg/errcode"
)

// PresenceHandler receives auxiliary presence events as opaque
// payloads; they are outside the sync core's scope.
type PresenceHandler func(data json.RawMessage)

// SnapshotSink is notified with each authoritative snapshot after the
// store has absorbed it (used for the local cache).
type SnapshotSink func(convs []*entity.Conversation)

// Dispatcher demultiplexes inbound frames into typed events and
// routes them. Frames are handled in the order received from the
// transport; a malformed frame is dropped without tearing down the
// connection.
type Dispatcher struct {
	rec        *reconcile.Reconciler
	store      *store.Store
	notePong   func()
	onPresence PresenceHandler
	onSnapshot SnapshotSink
}

// New creates a dispatcher. notePong, onPresence and onSnapshot may
// be nil.
func New(rec *reconcile.Reconciler, st *store.Store, notePong func(), onPresence PresenceHandler, onSnapshot SnapshotSink) *Dispatcher {
	return &Dispatcher{
		rec:        rec,
		store:      st,
		notePong:   notePong,
		onPresence: onPresence,
		onSnapshot: onSnapshot,
	}
}

// HandleFrame routes one raw frame from the transport
func (d *Dispatcher) HandleFrame(ctx context.Context, raw []byte) {
	frame, err := protocol.ParseFrame(raw)
	if err != nil {
		log.CtxWarn(ctx, "%v: %v", errcode.ErrProtocol, err)
		return
	}

	switch frame.ReqIdentifier {
	case protocol.WSMsgAck:
		var ack protocol.MsgAck
		if err := protocol.Decode(frame.Data, &ack); err != nil {
			log.CtxWarn(ctx, "%v: ack: %v", errcode.ErrInvalidFrame, err)
			return
		}
		d.rec.HandleAck(ctx, &ack)

	case protocol.WSNewMsg:
		var msg protocol.NewMsg
		if err := protocol.Decode(frame.Data, &msg); err != nil {
			log.CtxWarn(ctx, "%v: message: %v", errcode.ErrInvalidFrame, err)
			return
		}
		d.rec.HandleNew(ctx, &msg)

	case protocol.WSSnapshot:
		var snapshot protocol.Snapshot
		if err := protocol.Decode(frame.Data, &snapshot); err != nil {
			log.CtxWarn(ctx, "%v: snapshot: %v", errcode.ErrInvalidFrame, err)
			return
		}
		convs := make([]*entity.Conversation, 0, len(snapshot.Conversations))
		for _, c := range snapshot.Conversations {
			convs = append(convs, &entity.Conversation{
				Id:            c.ConversationId,
				Participants:  c.Participants,
				LastMessage:   c.LastMessage,
				LastMessageAt: c.LastMessageAt,
				UnreadCount:   c.UnreadCount,
			})
		}
		d.store.Hydrate(convs)
		log.CtxInfo(ctx, "snapshot applied: conversations=%d", len(convs))
		if d.onSnapshot != nil {
			d.onSnapshot(convs)
		}

	case protocol.WSHeartbeatPong:
		if d.notePong != nil {
			d.notePong()
		}

	case protocol.WSPresence:
		if d.onPresence != nil {
			d.onPresence(frame.Data)
		}

	case protocol.WSAuthResult:
		// Consumed during the handshake; a stray one is harmless
		log.CtxDebug(ctx, "auth result outside handshake dropped")

	default:
		log.CtxWarn(ctx, "%v: unknown identifier %d", errcode.ErrProtocol, frame.ReqIdentifier)
	}
}
