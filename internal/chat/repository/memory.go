package repository

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"medichat/internal/common"
	"medichat/internal/dbmongo"
)

// MemoryStore is a channel-backed implementation of both repositories. It
// mimics the snapshot-listener behavior of the real store: a new watcher
// first receives the existing backlog as "added" events and then the live
// feed. Used by tests and as an embedded store for single-process runs.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	conversations map[string]*dbmongo.Conversation
	messages      map[string][]*dbmongo.Message // keyed by conversation ID
	seq           int64

	nextSubID int
	convSubs  map[int]*convSubscriber
	msgSubs   map[int]*msgSubscriber
}

type convSubscriber struct {
	hospitalID    string
	participantID string
	ch            chan ConversationChange
}

type msgSubscriber struct {
	hospitalID     string
	conversationID string
	ch             chan *dbmongo.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		conversations: make(map[string]*dbmongo.Conversation),
		messages:      make(map[string][]*dbmongo.Message),
		convSubs:      make(map[int]*convSubscriber),
		msgSubs:       make(map[int]*msgSubscriber),
	}
}

// SetClock replaces the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) FindOrCreate(ctx context.Context, hospitalID, selfID, otherID string) (*dbmongo.Conversation, error) {
	key := dbmongo.ConversationKey(selfID, otherID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[key]; ok {
		return cloneConversation(conv), nil
	}

	conv := &dbmongo.Conversation{
		ID:           key,
		HospitalID:   hospitalID,
		Participants: []string{selfID, otherID},
		CreatedAt:    s.now().UTC(),
		UnreadCount:  map[string]int64{selfID: 0, otherID: 0},
	}
	s.conversations[key] = conv
	s.broadcastConvLocked(ConversationChange{Type: ChangeAdded, Conversation: cloneConversation(conv)})

	return cloneConversation(conv), nil
}

func (s *MemoryStore) Get(ctx context.Context, hospitalID, conversationID string) (*dbmongo.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok || conv.HospitalID != hospitalID {
		return nil, common.ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) ListForParticipant(ctx context.Context, hospitalID, participantID string) ([]*dbmongo.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*dbmongo.Conversation
	for _, conv := range s.conversations {
		if conv.HospitalID == hospitalID && conv.HasParticipant(participantID) {
			out = append(out, cloneConversation(conv))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.LastMessageTime != nil && b.LastMessageTime != nil:
			return a.LastMessageTime.After(*b.LastMessageTime)
		case a.LastMessageTime != nil:
			return true
		case b.LastMessageTime != nil:
			return false
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})

	return out, nil
}

func (s *MemoryStore) UpdateSummary(ctx context.Context, hospitalID, conversationID, lastMessage, recipientID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok || conv.HospitalID != hospitalID {
		return common.ErrNotFound
	}

	conv.LastMessage = lastMessage
	t := at
	conv.LastMessageTime = &t
	conv.UnreadCount[recipientID]++
	s.broadcastConvLocked(ConversationChange{Type: ChangeModified, Conversation: cloneConversation(conv)})

	return nil
}

func (s *MemoryStore) ResetUnread(ctx context.Context, hospitalID, conversationID, readerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok || conv.HospitalID != hospitalID {
		// Safe to call for a conversation that does not exist yet.
		return nil
	}

	conv.UnreadCount[readerID] = 0
	s.broadcastConvLocked(ConversationChange{Type: ChangeModified, Conversation: cloneConversation(conv)})

	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, hospitalID, participantID string) (<-chan ConversationChange, error) {
	s.mu.Lock()

	sub := &convSubscriber{
		hospitalID:    hospitalID,
		participantID: participantID,
		ch:            make(chan ConversationChange, 256),
	}
	id := s.nextSubID
	s.nextSubID++
	s.convSubs[id] = sub

	// Replay the current conversation set as "added", like a snapshot
	// listener attach.
	for _, conv := range s.conversations {
		if conv.HospitalID == hospitalID && conv.HasParticipant(participantID) {
			sub.ch <- ConversationChange{Type: ChangeAdded, Conversation: cloneConversation(conv)}
		}
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.convSubs, id)
		s.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

func (s *MemoryStore) Append(ctx context.Context, msg *dbmongo.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotent on the client key.
	for _, existing := range s.messages[msg.ConversationID] {
		if msg.ClientKey != "" && existing.ClientKey == msg.ClientKey {
			*msg = *cloneMessage(existing)
			return nil
		}
	}

	s.seq++
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg-%06d", s.seq)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}

	stored := cloneMessage(msg)
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], stored)

	for _, sub := range s.msgSubs {
		if sub.hospitalID == msg.HospitalID && sub.conversationID == msg.ConversationID {
			select {
			case sub.ch <- cloneMessage(stored):
			default:
				log.Printf("message watch buffer full, dropping event for conversation %s", msg.ConversationID)
			}
		}
	}

	return nil
}

func (s *MemoryStore) History(ctx context.Context, hospitalID, conversationID string) ([]*dbmongo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*dbmongo.Message
	for _, msg := range s.messages[conversationID] {
		if msg.HospitalID == hospitalID {
			out = append(out, cloneMessage(msg))
		}
	}

	// Ascending by timestamp; insertion order (the ID sequence) breaks
	// ties so equal timestamps stay stable.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	return out, nil
}

func (s *MemoryStore) WatchMessages(ctx context.Context, hospitalID, conversationID string) (<-chan *dbmongo.Message, error) {
	s.mu.Lock()

	sub := &msgSubscriber{
		hospitalID:     hospitalID,
		conversationID: conversationID,
		ch:             make(chan *dbmongo.Message, 256),
	}
	id := s.nextSubID
	s.nextSubID++
	s.msgSubs[id] = sub

	// Backlog replay, oldest first.
	for _, msg := range s.messages[conversationID] {
		if msg.HospitalID == hospitalID {
			sub.ch <- cloneMessage(msg)
		}
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.msgSubs, id)
		s.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

func (s *MemoryStore) Stats(ctx context.Context, hospitalID, participantID string) (*MessageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &MessageStats{}
	for convID, msgs := range s.messages {
		conv, ok := s.conversations[convID]
		if !ok || conv.HospitalID != hospitalID || !conv.HasParticipant(participantID) {
			continue
		}
		for _, msg := range msgs {
			if msg.SenderID == participantID {
				stats.Sent++
			} else {
				stats.Received++
			}
		}
	}
	return stats, nil
}

func (s *MemoryStore) broadcastConvLocked(change ConversationChange) {
	for _, sub := range s.convSubs {
		if sub.hospitalID != change.Conversation.HospitalID || !change.Conversation.HasParticipant(sub.participantID) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			log.Printf("conversation watch buffer full, dropping event for %s", change.Conversation.ID)
		}
	}
}

func cloneConversation(c *dbmongo.Conversation) *dbmongo.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.UnreadCount = make(map[string]int64, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		out.UnreadCount[k] = v
	}
	if c.LastMessageTime != nil {
		t := *c.LastMessageTime
		out.LastMessageTime = &t
	}
	return &out
}

func cloneMessage(m *dbmongo.Message) *dbmongo.Message {
	out := *m
	return &out
}

// MemoryConversations and MemoryMessages adapt one MemoryStore to the two
// repository interfaces.
type MemoryConversations struct{ *MemoryStore }

type MemoryMessages struct{ *MemoryStore }

func (m MemoryMessages) Watch(ctx context.Context, hospitalID, conversationID string) (<-chan *dbmongo.Message, error) {
	return m.WatchMessages(ctx, hospitalID, conversationID)
}

var (
	_ ConversationRepository = MemoryConversations{}
	_ MessageRepository      = MemoryMessages{}
)
