package entity

// Conversation represents one thread as seen by the local client.
// Id is opaque and server-assigned; Participants is immutable for the
// life of the conversation.
type Conversation struct {
	Id            string   `json:"conversation_id"`
	Participants  []string `json:"participants"`
	LastMessage   string   `json:"last_message"`
	LastMessageAt int64    `json:"last_message_at"`
	UnreadCount   int64    `json:"unread_count"`
}

// Clone returns a copy safe to hand to observers
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp
}
