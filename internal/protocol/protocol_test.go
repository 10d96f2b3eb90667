package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalFrameRoundTrip(t *testing.T) {
	raw, err := MarshalFrame(WSSendMsg, "op-1", &SendMsgReq{
		ClientMsgId:    "c-1",
		ConversationId: "conv-1",
		Content:        "hello",
	})
	require.NoError(t, err)

	frame, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, int32(WSSendMsg), frame.ReqIdentifier)
	assert.Equal(t, "op-1", frame.OperationId)

	var req SendMsgReq
	require.NoError(t, Decode(frame.Data, &req))
	assert.Equal(t, "c-1", req.ClientMsgId)
	assert.Equal(t, "conv-1", req.ConversationId)
	assert.Equal(t, "hello", req.Content)
}

func TestMarshalFrameNilPayload(t *testing.T) {
	raw, err := MarshalFrame(WSHeartbeat, "", nil)
	require.NoError(t, err)

	frame, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, int32(WSHeartbeat), frame.ReqIdentifier)
	assert.Empty(t, frame.Data)
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	_, err := ParseFrame([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseFrame([]byte(`{"req_identifier": "string"}`))
	assert.Error(t, err)
}

func TestParseFramePreservesRawData(t *testing.T) {
	// Payload decoding is the router's job; the envelope keeps it opaque.
	frame, err := ParseFrame([]byte(`{"req_identifier":2003,"operation_id":"","data":{"server_msg_id":42}}`))
	require.NoError(t, err)
	assert.Equal(t, int32(WSNewMsg), frame.ReqIdentifier)

	var msg NewMsg
	require.NoError(t, Decode(frame.Data, &msg))
	assert.Equal(t, int64(42), msg.ServerMsgId)
}
