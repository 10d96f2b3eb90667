package cache

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/duvallglobal/theportal-sub000/internal/entity"
)

type conversationRecord struct {
	Id            string   `msgpack:"id"`
	Participants  []string `msgpack:"participants"`
	LastMessage   string   `msgpack:"lastMessage"`
	LastMessageAt int64    `msgpack:"lastMessageAt"`
	UnreadCount   int64    `msgpack:"unreadCount"`
}

func newConversationRecord(conv *entity.Conversation) *conversationRecord {
	return &conversationRecord{
		Id:            conv.Id,
		Participants:  conv.Participants,
		LastMessage:   conv.LastMessage,
		LastMessageAt: conv.LastMessageAt,
		UnreadCount:   conv.UnreadCount,
	}
}

func (r *conversationRecord) toEntity() *entity.Conversation {
	return &entity.Conversation{
		Id:            r.Id,
		Participants:  r.Participants,
		LastMessage:   r.LastMessage,
		LastMessageAt: r.LastMessageAt,
		UnreadCount:   r.UnreadCount,
	}
}

func (r *conversationRecord) MarshalBinary() ([]byte, error) {
	type alias conversationRecord
	return msgpack.Marshal((*alias)(r))
}

func (r *conversationRecord) UnmarshalBinary(data []byte) error {
	type alias conversationRecord
	return msgpack.Unmarshal(data, (*alias)(r))
}
