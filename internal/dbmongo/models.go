package dbmongo

import (
	"sort"
	"strings"
	"time"
)

const (
	UsersCollection         = "users"
	HospitalsCollection     = "hospitals"
	DoctorsCollection       = "doctors"
	PatientsCollection      = "patients"
	ConversationsCollection = "conversations"
	MessagesCollection      = "messages"
)

// Conversation is the durable 1:1 channel document. Its ID is the
// deterministic pair key, so conversation creation is idempotent and two
// racing creators converge on the same document.
type Conversation struct {
	ID              string           `bson:"_id" json:"id"`
	HospitalID      string           `bson:"hospitalId" json:"hospital_id"`
	Participants    []string         `bson:"participants" json:"participants"`
	CreatedAt       time.Time        `bson:"createdAt" json:"created_at"`
	LastMessage     string           `bson:"lastMessage,omitempty" json:"last_message,omitempty"`
	LastMessageTime *time.Time       `bson:"lastMessageTime,omitempty" json:"last_message_time,omitempty"`
	UnreadCount     map[string]int64 `bson:"unreadCount" json:"unread_count"`
}

// ConversationKey derives the canonical conversation ID for a pair of
// participants. Order-independent: ConversationKey(a, b) == ConversationKey(b, a).
func ConversationKey(a, b string) string {
	participants := []string{a, b}
	sort.Strings(participants)
	return strings.Join(participants, "_")
}

// OtherParticipant returns the participant that is not selfID, or "" when
// selfID is not part of the conversation.
func (c *Conversation) OtherParticipant(selfID string) string {
	for _, p := range c.Participants {
		if p != selfID {
			return p
		}
	}
	return ""
}

// HasParticipant reports whether id is one of the two parties.
func (c *Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Message is immutable once created. SenderName is a snapshot taken at send
// time; it is not live-updated if the sender renames.
type Message struct {
	ID             string    `bson:"_id,omitempty" json:"id"`
	ConversationID string    `bson:"conversationId" json:"conversation_id"`
	HospitalID     string    `bson:"hospitalId" json:"hospital_id"`
	Text           string    `bson:"text" json:"text"`
	SenderID       string    `bson:"senderId" json:"sender_id"`
	SenderName     string    `bson:"senderName" json:"sender_name"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	Type           string    `bson:"type" json:"type"`
	// ClientKey is the sender-generated idempotency token. A retried send
	// after a partial failure reuses the key and cannot duplicate the
	// message.
	ClientKey string `bson:"clientKey" json:"client_key"`
}

const MessageTypeText = "text"

// Directory documents. Doctors and patients are hospital-scoped; users is
// the global account registry.
type User struct {
	ID          string `bson:"_id" json:"id"`
	DisplayName string `bson:"displayName" json:"display_name"`
	Name        string `bson:"name,omitempty" json:"name,omitempty"`
	Role        string `bson:"role,omitempty" json:"role,omitempty"`
	Email       string `bson:"email,omitempty" json:"email,omitempty"`
	AvatarURL   string `bson:"profileImageUrl,omitempty" json:"avatar_url,omitempty"`
}

type Hospital struct {
	ID         string `bson:"_id" json:"id"`
	Name       string `bson:"name" json:"name"`
	AdminID    string `bson:"adminId" json:"admin_id"`
	AdminName  string `bson:"adminName,omitempty" json:"admin_name,omitempty"`
	AdminEmail string `bson:"adminEmail,omitempty" json:"admin_email,omitempty"`
}

type Doctor struct {
	ID         string `bson:"_id" json:"id"`
	HospitalID string `bson:"hospitalId" json:"hospital_id"`
	AuthUID    string `bson:"authUid,omitempty" json:"auth_uid,omitempty"`
	Name       string `bson:"name" json:"name"`
	Email      string `bson:"email,omitempty" json:"email,omitempty"`
	AvatarURL  string `bson:"profileImageUrl,omitempty" json:"avatar_url,omitempty"`
	Status     string `bson:"status,omitempty" json:"status,omitempty"`
}

type Patient struct {
	ID         string `bson:"_id" json:"id"`
	HospitalID string `bson:"hospitalId" json:"hospital_id"`
	AuthUID    string `bson:"authUid,omitempty" json:"auth_uid,omitempty"`
	Name       string `bson:"name" json:"name"`
	Email      string `bson:"email,omitempty" json:"email,omitempty"`
	AvatarURL  string `bson:"profileImageUrl,omitempty" json:"avatar_url,omitempty"`
}
