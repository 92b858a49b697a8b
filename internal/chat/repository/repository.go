package repository

import (
	"context"
	"time"

	"medichat/internal/dbmongo"
)

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// ConversationChange is one entry of the conversation-set feed a watcher
// receives. Removed changes may carry only the conversation ID.
type ConversationChange struct {
	Type         ChangeType
	Conversation *dbmongo.Conversation
}

type MessageStats struct {
	Sent     int64 `json:"sent"`
	Received int64 `json:"received"`
}

// ConversationRepository owns the conversation documents. FindOrCreate is
// idempotent: the conversation ID is derived from the sorted participant
// pair, so concurrent callers converge on one document. The participants
// array is never mutated after creation.
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, hospitalID, selfID, otherID string) (*dbmongo.Conversation, error)
	Get(ctx context.Context, hospitalID, conversationID string) (*dbmongo.Conversation, error)
	ListForParticipant(ctx context.Context, hospitalID, participantID string) ([]*dbmongo.Conversation, error)
	// UpdateSummary sets lastMessage/lastMessageTime and atomically
	// increments the recipient's unread counter. The sender's own counter
	// is never touched here.
	UpdateSummary(ctx context.Context, hospitalID, conversationID, lastMessage, recipientID string, at time.Time) error
	// ResetUnread zeroes the reader's counter. Idempotent.
	ResetUnread(ctx context.Context, hospitalID, conversationID, readerID string) error
	// Watch delivers the conversation-set feed for a participant with
	// snapshot semantics: the current set is replayed as added changes on
	// attach, then live changes follow. A conversation may be delivered as
	// added more than once; consumers must treat re-adds as no-ops. The
	// returned channel is closed when ctx is cancelled.
	Watch(ctx context.Context, hospitalID, participantID string) (<-chan ConversationChange, error)
}

// MessageRepository owns the message documents of all conversations.
type MessageRepository interface {
	// Append stores a message. Appending the same ClientKey twice is a
	// no-op that reports success, which is what makes a retried send safe.
	Append(ctx context.Context, msg *dbmongo.Message) error
	// History returns all messages of a conversation ordered ascending by
	// timestamp, stable under equal timestamps (insertion-order tiebreak).
	History(ctx context.Context, hospitalID, conversationID string) ([]*dbmongo.Message, error)
	// Watch delivers one conversation's messages with snapshot semantics:
	// the stored backlog is replayed in order on attach, then newly
	// appended messages follow. The channel is closed when ctx is
	// cancelled.
	Watch(ctx context.Context, hospitalID, conversationID string) (<-chan *dbmongo.Message, error)
	Stats(ctx context.Context, hospitalID, participantID string) (*MessageStats, error)
}
