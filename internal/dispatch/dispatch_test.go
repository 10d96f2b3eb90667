package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duvallglobal/theportal-sub000/internal/entity"
	"github.com/duvallglobal/theportal-sub000/internal/protocol"
	"github.com/duvallglobal/theportal-sub000/internal/reconcile"
	"github.com/duvallglobal/theportal-sub000/internal/store"
)

type nopSender struct{}

func (nopSender) Send([]byte) error { return nil }

func newTestDispatcher(t *testing.T, onPresence PresenceHandler, onSnapshot SnapshotSink, notePong func()) (*Dispatcher, *store.Store) {
	t.Helper()
	st := store.New("me")
	rec := reconcile.New(st, nopSender{}, "me", 30*time.Second)
	return New(rec, st, notePong, onPresence, onSnapshot), st
}

func mustFrame(t *testing.T, identifier int32, payload interface{}) []byte {
	t.Helper()
	raw, err := protocol.MarshalFrame(identifier, "op-1", payload)
	require.NoError(t, err)
	return raw
}

func TestDispatcher_RoutesNewMessage(t *testing.T) {
	d, st := newTestDispatcher(t, nil, nil, nil)

	d.HandleFrame(context.Background(), mustFrame(t, protocol.WSNewMsg, &protocol.NewMsg{
		ServerMsgId:    1,
		ConversationId: "c1",
		SenderId:       "alice",
		Content:        "hi",
		ConfirmedAt:    100,
	}))

	require.Len(t, st.Messages("c1"), 1)
	assert.Equal(t, entity.MessageConfirmed, st.Messages("c1")[0].State)
}

func TestDispatcher_RoutesSnapshot(t *testing.T) {
	var sunk []*entity.Conversation
	d, st := newTestDispatcher(t, nil, func(convs []*entity.Conversation) { sunk = convs }, nil)

	d.HandleFrame(context.Background(), mustFrame(t, protocol.WSSnapshot, &protocol.Snapshot{
		Conversations: []*protocol.ConversationData{
			{ConversationId: "c1", Participants: []string{"me", "alice"}, LastMessage: "hi", LastMessageAt: 100, UnreadCount: 2},
			{ConversationId: "c2", LastMessage: "yo", LastMessageAt: 200},
		},
	}))

	convs := st.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[0].Id)
	assert.Equal(t, int64(2), st.Conversation("c1").UnreadCount)

	// The sink sees the applied snapshot for caching
	require.Len(t, sunk, 2)
}

func TestDispatcher_MalformedFrameDropped(t *testing.T) {
	d, st := newTestDispatcher(t, nil, nil, nil)

	d.HandleFrame(context.Background(), []byte("{not json"))
	d.HandleFrame(context.Background(), mustFrame(t, protocol.WSNewMsg, json.RawMessage(`"not an object"`)))

	assert.Empty(t, st.Conversations())
}

func TestDispatcher_UnknownIdentifierDropped(t *testing.T) {
	d, st := newTestDispatcher(t, nil, nil, nil)

	d.HandleFrame(context.Background(), mustFrame(t, 9999, nil))

	assert.Empty(t, st.Conversations())
}

func TestDispatcher_PongAndPresenceCallbacks(t *testing.T) {
	var pongs int
	var presence json.RawMessage
	d, _ := newTestDispatcher(t,
		func(data json.RawMessage) { presence = data },
		nil,
		func() { pongs++ },
	)

	d.HandleFrame(context.Background(), mustFrame(t, protocol.WSHeartbeatPong, nil))
	d.HandleFrame(context.Background(), mustFrame(t, protocol.WSPresence, map[string]string{"user_id": "alice", "status": "online"}))

	assert.Equal(t, 1, pongs)
	assert.JSONEq(t, `{"user_id":"alice","status":"online"}`, string(presence))
}
