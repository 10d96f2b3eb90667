package store

import (
	"sort"
	"sync"

	"github.com/duvallglobal/theportal-sub000/internal/entity"
)

// Store is the single mutable source of truth for conversation and
// message state. Every mutation is applied atomically under one mutex
// so an observer can never see a half-updated conversation.
type Store struct {
	mu      sync.RWMutex
	selfId  string
	focused string

	convs   map[string]*entity.Conversation
	order   []string
	history map[string][]*entity.Message

	byServerId map[string]map[int64]*entity.Message
	byClientId map[string]*entity.Message

	subs    map[int]chan struct{}
	nextSub int
}

// New creates an empty store. selfId is the local user: messages from
// it never count towards unread totals.
func New(selfId string) *Store {
	return &Store{
		selfId:     selfId,
		convs:      make(map[string]*entity.Conversation),
		history:    make(map[string][]*entity.Message),
		byServerId: make(map[string]map[int64]*entity.Message),
		byClientId: make(map[string]*entity.Message),
		subs:       make(map[int]chan struct{}),
	}
}

// SetSelf updates the local user identity (known after login)
func (s *Store) SetSelf(userId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfId = userId
}

// SetFocus marks the conversation currently open in the UI. Inbound
// messages for the focused conversation do not increment unread.
func (s *Store) SetFocus(conversationId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = conversationId
}

// Focused returns the focused conversation id
func (s *Store) Focused() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focused
}

// ApplyLocal inserts an optimistic pending message from the local
// user and bumps its conversation to the top.
func (s *Store) ApplyLocal(msg *entity.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertLocked(msg)
	s.byClientId[msg.ClientMsgId] = msg
	s.touchConversationLocked(msg, false)
	s.notifyLocked()
}

// ApplyInbound inserts a server-confirmed message. Returns false when
// the message's server id is already known (duplicate delivery), in
// which case the store is left untouched.
func (s *Store) ApplyInbound(msg *entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ids := s.byServerId[msg.ConversationId]; ids != nil {
		if _, ok := ids[msg.Id]; ok {
			return false
		}
	}

	s.insertLocked(msg)
	s.indexServerIdLocked(msg)

	countUnread := msg.SenderId != s.selfId && msg.ConversationId != s.focused
	s.touchConversationLocked(msg, countUnread)
	s.notifyLocked()
	return true
}

// Confirm resolves a pending local message against its server ack.
// The optimistic copy and the ack are the same logical entity; no new
// history entry is created. When the broadcast echo carrying the same
// server id arrived before the ack, the optimistic copy is dropped and
// resolved against that entry instead. Returns false when no pending
// copy exists or the message is already confirmed (duplicate ack).
func (s *Store) Confirm(clientMsgId string, serverId, confirmedAt int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byClientId[clientMsgId]
	if !ok || msg.State == entity.MessageConfirmed {
		return false
	}

	if existing := s.byServerId[msg.ConversationId][serverId]; existing != nil && existing != msg {
		existing.ClientMsgId = clientMsgId
		s.removeFromHistoryLocked(msg)
		s.byClientId[clientMsgId] = existing
		s.notifyLocked()
		return true
	}

	msg.Id = serverId
	msg.ConfirmedAt = confirmedAt
	msg.State = entity.MessageConfirmed
	s.indexServerIdLocked(msg)
	s.sortHistoryLocked(msg.ConversationId)
	s.touchConversationLocked(msg, false)
	s.notifyLocked()
	return true
}

// MarkFailed transitions a pending local message to failed. Returns
// false when the message is unknown or already terminal.
func (s *Store) MarkFailed(clientMsgId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byClientId[clientMsgId]
	if !ok || msg.State != entity.MessagePending {
		return false
	}

	msg.State = entity.MessageFailed
	s.notifyLocked()
	return true
}

// MarkRead resets a conversation's unread count to zero
func (s *Store) MarkRead(conversationId string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[conversationId]
	if !ok || conv.UnreadCount == 0 {
		return
	}
	conv.UnreadCount = 0
	s.notifyLocked()
}

// Hydrate replaces the conversation list with an authoritative server
// snapshot. The snapshot wins on conversation data. Local pending and
// failed messages not reflected in it are preserved until the
// reconciler resolves them. Confirmed history is kept only for
// conversations the snapshot still lists.
func (s *Store) Hydrate(snapshot []*entity.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs := make(map[string]*entity.Conversation, len(snapshot))
	for _, c := range snapshot {
		convs[c.Id] = c.Clone()
	}

	history := make(map[string][]*entity.Message, len(convs))
	byServerId := make(map[string]map[int64]*entity.Message, len(convs))
	byClientId := make(map[string]*entity.Message)

	for convId, msgs := range s.history {
		_, inSnapshot := convs[convId]
		for _, msg := range msgs {
			if msg.State == entity.MessageConfirmed && !inSnapshot {
				continue
			}
			history[convId] = append(history[convId], msg)
			if msg.Id != 0 {
				ids := byServerId[convId]
				if ids == nil {
					ids = make(map[int64]*entity.Message)
					byServerId[convId] = ids
				}
				ids[msg.Id] = msg
			}
			if msg.ClientMsgId != "" && msg.State != entity.MessageConfirmed {
				byClientId[msg.ClientMsgId] = msg
			}
			if !inSnapshot {
				// A local unresolved message keeps its conversation
				// materialized until the server knows about it.
				conv, ok := convs[convId]
				if !ok {
					conv = &entity.Conversation{Id: convId}
					convs[convId] = conv
				}
				if key := msg.OrderKey(); key >= conv.LastMessageAt {
					conv.LastMessage = msg.Content
					conv.LastMessageAt = key
				}
			}
		}
	}

	s.convs = convs
	s.history = history
	s.byServerId = byServerId
	s.byClientId = byClientId
	s.resortLocked()
	s.notifyLocked()
}

// Conversations returns the ordered conversation list as copies
func (s *Store) Conversations() []*entity.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*entity.Conversation, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.convs[id].Clone())
	}
	return result
}

// Conversation returns one conversation, or nil when unknown
func (s *Store) Conversation(conversationId string) *entity.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[conversationId]
	if !ok {
		return nil
	}
	return conv.Clone()
}

// Messages returns a conversation's visible history in order, as
// copies
func (s *Store) Messages(conversationId string) []*entity.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.history[conversationId]
	result := make([]*entity.Message, 0, len(msgs))
	for _, m := range msgs {
		result = append(result, m.Clone())
	}
	return result
}

// Subscribe registers a state-change listener. The returned channel
// receives a signal (coalesced, never blocking the store) after each
// mutation; the func unregisters it.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) insertLocked(msg *entity.Message) {
	s.history[msg.ConversationId] = append(s.history[msg.ConversationId], msg)
	s.sortHistoryLocked(msg.ConversationId)
}

func (s *Store) removeFromHistoryLocked(msg *entity.Message) {
	msgs := s.history[msg.ConversationId]
	for i, m := range msgs {
		if m == msg {
			s.history[msg.ConversationId] = append(msgs[:i], msgs[i+1:]...)
			return
		}
	}
}

func (s *Store) indexServerIdLocked(msg *entity.Message) {
	ids := s.byServerId[msg.ConversationId]
	if ids == nil {
		ids = make(map[int64]*entity.Message)
		s.byServerId[msg.ConversationId] = ids
	}
	ids[msg.Id] = msg
}

// touchConversationLocked upserts the conversation entry for msg and
// refreshes its preview, unread count and position.
func (s *Store) touchConversationLocked(msg *entity.Message, countUnread bool) {
	conv, ok := s.convs[msg.ConversationId]
	if !ok {
		conv = &entity.Conversation{Id: msg.ConversationId}
		s.convs[msg.ConversationId] = conv
	}
	if key := msg.OrderKey(); key >= conv.LastMessageAt {
		conv.LastMessage = msg.Content
		conv.LastMessageAt = key
	}
	if countUnread {
		conv.UnreadCount++
	}
	s.resortLocked()
}

// sortHistoryLocked keeps a conversation's history totally ordered by
// confirmation time (send time while pending), with a deterministic
// tie-break.
func (s *Store) sortHistoryLocked(conversationId string) {
	msgs := s.history[conversationId]
	sort.SliceStable(msgs, func(i, j int) bool {
		ki, kj := msgs[i].OrderKey(), msgs[j].OrderKey()
		if ki != kj {
			return ki < kj
		}
		if msgs[i].Id != msgs[j].Id {
			return msgs[i].Id < msgs[j].Id
		}
		return msgs[i].ClientMsgId < msgs[j].ClientMsgId
	})
}

// resortLocked orders conversations by last activity descending,
// tie-break on id to keep ordering deterministic under same-timestamp
// events.
func (s *Store) resortLocked() {
	s.order = s.order[:0]
	for id := range s.convs {
		s.order = append(s.order, id)
	}
	sort.SliceStable(s.order, func(i, j int) bool {
		ci, cj := s.convs[s.order[i]], s.convs[s.order[j]]
		if ci.LastMessageAt != cj.LastMessageAt {
			return ci.LastMessageAt > cj.LastMessageAt
		}
		return ci.Id < cj.Id
	})
}

func (s *Store) notifyLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
