package protocol

import "encoding/json"

// Frame is the envelope shared by every message on the wire
type Frame struct {
	ReqIdentifier int32           `json:"req_identifier"` // Frame type
	OperationId   string          `json:"operation_id"`   // Trace Id
	Data          json.RawMessage `json:"data,omitempty"` // Business data
}

// AuthReq carries the session credential in the handshake
type AuthReq struct {
	Token      string `json:"token"`
	PlatformId int    `json:"platform_id"`
}

// AuthResult is the server's answer to the handshake
type AuthResult struct {
	OK      bool   `json:"ok"`
	ErrCode int    `json:"err_code,omitempty"`
	ErrMsg  string `json:"err_msg,omitempty"`
}

// SendMsgReq represents send message request data
type SendMsgReq struct {
	ClientMsgId    string `json:"client_msg_id"`
	ConversationId string `json:"conversation_id"`
	Content        string `json:"content"`
}

// MsgAck confirms a locally originated message
type MsgAck struct {
	ClientMsgId    string `json:"client_msg_id"`
	ServerMsgId    int64  `json:"server_msg_id"`
	ConversationId string `json:"conversation_id"`
	ConfirmedAt    int64  `json:"confirmed_at"` // unix millis
}

// NewMsg is a broadcast message from any participant
type NewMsg struct {
	ServerMsgId    int64  `json:"server_msg_id"`
	ConversationId string `json:"conversation_id"`
	SenderId       string `json:"sender_id"`
	Content        string `json:"content"`
	ConfirmedAt    int64  `json:"confirmed_at"` // unix millis
}

// ReadAckReq marks a conversation read up to now
type ReadAckReq struct {
	ConversationId string `json:"conversation_id"`
}

// ConversationData represents one conversation in a snapshot
type ConversationData struct {
	ConversationId string   `json:"conversation_id"`
	Participants   []string `json:"participants"`
	LastMessage    string   `json:"last_message"`
	LastMessageAt  int64    `json:"last_message_at"`
	UnreadCount    int64    `json:"unread_count"`
}

// Snapshot is the full authoritative conversation list, pushed after
// each successful handshake
type Snapshot struct {
	Conversations []*ConversationData `json:"conversations"`
}

// Encode encodes data to JSON bytes
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to struct
func Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// MarshalFrame wraps a payload in a Frame and encodes it
func MarshalFrame(identifier int32, operationId string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		encoded, err := Encode(payload)
		if err != nil {
			return nil, err
		}
		data = encoded
	}
	return Encode(&Frame{
		ReqIdentifier: identifier,
		OperationId:   operationId,
		Data:          data,
	})
}

// ParseFrame decodes a raw frame from the wire
func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := Decode(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
