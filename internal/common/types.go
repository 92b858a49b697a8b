package common

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a participant cannot be matched in any
// directory collection. Callers treat it as a miss, not a failure.
var ErrNotFound = errors.New("not found")

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Participant is a resolved directory entry: an admin, doctor or patient
// addressed by a stable opaque ID.
type Participant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	Email      string `json:"email,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	HasAccount bool   `json:"has_account"`
}

type NotificationType string

const (
	MessageNotification NotificationType = "message"
)

// Notification is session-local state. It is never written to the store;
// the durable per-conversation unread counters live on the conversation
// document and are tracked separately.
type Notification struct {
	ID             string           `json:"id"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	SenderID       string           `json:"sender_id"`
	SenderName     string           `json:"sender_name"`
	ConversationID string           `json:"conversation_id"`
	Timestamp      time.Time        `json:"timestamp"`
	Read           bool             `json:"read"`
}

// NotificationEvent is what observers receive on emission.
type NotificationEvent struct {
	Notification Notification
	// DocumentVisible reports whether the dashboard tab was foregrounded
	// when the notification was emitted. Observers use it to pick between
	// an in-app toast and an OS-level notification.
	DocumentVisible bool
}
