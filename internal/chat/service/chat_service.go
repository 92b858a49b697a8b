package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"medichat/internal/chat/repository"
	"medichat/internal/common"
	"medichat/internal/dbmongo"
)

var (
	ErrEmptyMessage       = errors.New("message text cannot be empty")
	ErrMissingSender      = errors.New("sender ID cannot be empty")
	ErrMissingParticipant = errors.New("participant ID cannot be empty")
	ErrNotParticipant     = errors.New("sender is not a participant of this conversation")
	// ErrSummaryStale means the message was appended but the conversation
	// summary update failed. The send is reported as failed; a retry with
	// the same client key reconciles without duplicating the message.
	ErrSummaryStale = errors.New("conversation summary update failed")
)

// SendInput carries one send attempt. ClientKey is optional; a fresh key is
// assigned when empty, and retries should reuse the key they got back.
type SendInput struct {
	HospitalID     string
	ConversationID string
	SenderID       string
	SenderName     string
	Text           string
	ClientKey      string
}

// ChatService is the message channel exposed to the handler layer.
type ChatService interface {
	OpenConversation(ctx context.Context, hospitalID, selfID, otherID string) (*dbmongo.Conversation, error)
	ListConversations(ctx context.Context, hospitalID, selfID string) ([]*dbmongo.Conversation, error)
	Send(ctx context.Context, in SendInput) (*dbmongo.Message, error)
	MarkRead(ctx context.Context, hospitalID, conversationID, readerID string) error
	History(ctx context.Context, hospitalID, conversationID string) ([]*dbmongo.Message, error)
	Subscribe(ctx context.Context, hospitalID, conversationID string) (<-chan *dbmongo.Message, error)
	Stats(ctx context.Context, hospitalID, selfID string) (*repository.MessageStats, error)
}

type chatService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	now           func() time.Time
}

// Constructor used in DI/wire
func NewChatService(conversations repository.ConversationRepository, messages repository.MessageRepository) ChatService {
	return &chatService{
		conversations: conversations,
		messages:      messages,
		now:           time.Now,
	}
}

func (s *chatService) OpenConversation(ctx context.Context, hospitalID, selfID, otherID string) (*dbmongo.Conversation, error) {
	if selfID == "" || otherID == "" {
		return nil, ErrMissingParticipant
	}
	if selfID == otherID {
		return nil, errors.New("cannot open a conversation with yourself")
	}
	return s.conversations.FindOrCreate(ctx, hospitalID, selfID, otherID)
}

func (s *chatService) ListConversations(ctx context.Context, hospitalID, selfID string) ([]*dbmongo.Conversation, error) {
	if selfID == "" {
		return nil, ErrMissingParticipant
	}
	return s.conversations.ListForParticipant(ctx, hospitalID, selfID)
}

// Send appends a message and updates the conversation summary. The two
// writes are not transactional: when the summary update fails the message
// may already be persisted, so the error wraps ErrSummaryStale and the
// caller retries with the same client key.
func (s *chatService) Send(ctx context.Context, in SendInput) (*dbmongo.Message, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if in.SenderID == "" {
		return nil, ErrMissingSender
	}
	if in.ConversationID == "" {
		return nil, errors.New("conversation ID cannot be empty")
	}

	conv, err := s.conversations.Get(ctx, in.HospitalID, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(in.SenderID) {
		return nil, ErrNotParticipant
	}

	clientKey := in.ClientKey
	if clientKey == "" {
		clientKey = uuid.NewString()
	}

	msg := &dbmongo.Message{
		ConversationID: in.ConversationID,
		HospitalID:     in.HospitalID,
		Text:           text,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Timestamp:      s.now().UTC(),
		Type:           dbmongo.MessageTypeText,
		ClientKey:      clientKey,
	}

	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	recipient := conv.OtherParticipant(in.SenderID)
	if err := s.conversations.UpdateSummary(ctx, in.HospitalID, in.ConversationID, text, recipient, msg.Timestamp); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrSummaryStale, err)
	}

	messagesSent.Inc()
	return msg, nil
}

func (s *chatService) MarkRead(ctx context.Context, hospitalID, conversationID, readerID string) error {
	if conversationID == "" || readerID == "" {
		return ErrMissingParticipant
	}
	return s.conversations.ResetUnread(ctx, hospitalID, conversationID, readerID)
}

func (s *chatService) History(ctx context.Context, hospitalID, conversationID string) ([]*dbmongo.Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation ID is required")
	}
	return s.messages.History(ctx, hospitalID, conversationID)
}

func (s *chatService) Subscribe(ctx context.Context, hospitalID, conversationID string) (<-chan *dbmongo.Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation ID is required")
	}
	if _, err := s.conversations.Get(ctx, hospitalID, conversationID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return s.messages.Watch(ctx, hospitalID, conversationID)
}

func (s *chatService) Stats(ctx context.Context, hospitalID, selfID string) (*repository.MessageStats, error) {
	if selfID == "" {
		return nil, ErrMissingParticipant
	}
	return s.messages.Stats(ctx, hospitalID, selfID)
}
