package entity

// MessageState tracks where a message sits in its delivery lifecycle
type MessageState int32

const (
	MessagePending   MessageState = 0 // sent optimistically, not yet confirmed
	MessageConfirmed MessageState = 1 // acknowledged by the server
	MessageFailed    MessageState = 2 // rejected or timed out
)

// String returns the state name
func (s MessageState) String() string {
	switch s {
	case MessagePending:
		return "pending"
	case MessageConfirmed:
		return "confirmed"
	case MessageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message represents one message in a conversation's history.
// Id is server-authoritative and zero until confirmed; ClientMsgId is
// the locally generated provisional identity and is what ties an
// optimistic copy to its server echo.
type Message struct {
	Id             int64        `json:"id,omitempty"`
	ClientMsgId    string       `json:"client_msg_id,omitempty"`
	ConversationId string       `json:"conversation_id"`
	SenderId       string       `json:"sender_id"`
	Content        string       `json:"content"`
	SentAt         int64        `json:"sent_at"`
	ConfirmedAt    int64        `json:"confirmed_at,omitempty"`
	State          MessageState `json:"state"`
}

// OrderKey returns the timestamp this message sorts by: the server
// confirmation time when present, else the client-observed send time.
func (m *Message) OrderKey() int64 {
	if m.ConfirmedAt > 0 {
		return m.ConfirmedAt
	}
	return m.SentAt
}

// Clone returns a copy safe to hand to observers
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}
