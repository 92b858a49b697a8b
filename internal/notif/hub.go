package notif

import (
	"context"
	"fmt"
	"sync"
	"time"

	"medichat/internal/chat/repository"
	"medichat/internal/config"
)

// Session bundles the per-user fan-out engine with its notification
// center. One session exists per authenticated user, shared by all of that
// user's open connections and reference counted so the engine is torn down
// when the last one goes away.
type Session struct {
	Engine *Engine
	Center *Center
	Toast  *ToastObserver

	refs int
}

// Hub owns the active sessions.
type Hub struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository

	freshness    time.Duration
	dupWindow    time.Duration
	toastDismiss time.Duration
	processedTTL time.Duration

	soundPlayer     func(wav []byte) error
	desktopNotifier DesktopNotifier

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewHub(conversations repository.ConversationRepository, messages repository.MessageRepository, cfg *config.Config) *Hub {
	return &Hub{
		conversations: conversations,
		messages:      messages,
		freshness:     time.Duration(cfg.Notification.FreshnessWindowSec) * time.Second,
		dupWindow:     time.Duration(cfg.Notification.DuplicateWindowMs) * time.Millisecond,
		toastDismiss:  time.Duration(cfg.Notification.ToastDismissSec) * time.Second,
		processedTTL:  time.Duration(cfg.Notification.ProcessedTTLMin) * time.Minute,
		sessions:      make(map[string]*Session),
	}
}

// SetSoundPlayer wires an audio sink into sessions created afterwards.
func (h *Hub) SetSoundPlayer(play func(wav []byte) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.soundPlayer = play
}

// SetDesktopNotifier wires an OS notification surface into sessions
// created afterwards.
func (h *Hub) SetDesktopNotifier(n DesktopNotifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.desktopNotifier = n
}

// Acquire returns the user's session, starting an engine on first use.
// Every Acquire must be paired with a Release.
func (h *Hub) Acquire(hospitalID, selfID string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if session, ok := h.sessions[selfID]; ok {
		session.refs++
		return session, nil
	}

	center := NewCenter(h.dupWindow)
	toast := NewToastObserver(h.toastDismiss, nil)
	center.Subscribe(toast)
	center.Subscribe(NewSoundObserver(h.soundPlayer))
	if h.desktopNotifier != nil {
		center.Subscribe(NewDesktopObserver(h.desktopNotifier))
	}

	engine := NewEngine(h.conversations, h.messages, center, hospitalID, selfID, h.freshness, h.processedTTL)
	if err := engine.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start notification session: %w", err)
	}

	session := &Session{
		Engine: engine,
		Center: center,
		Toast:  toast,
		refs:   1,
	}
	h.sessions[selfID] = session
	return session, nil
}

// Release drops one reference; the last release stops the engine.
func (h *Hub) Release(selfID string) {
	h.mu.Lock()
	session, ok := h.sessions[selfID]
	if !ok {
		h.mu.Unlock()
		return
	}
	session.refs--
	if session.refs > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, selfID)
	h.mu.Unlock()

	session.Engine.Stop()
}

// Get returns the session without acquiring a reference, for read-only
// endpoints. The second return is false when the user has no live session.
func (h *Hub) Get(selfID string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.sessions[selfID]
	return session, ok
}

// Shutdown stops every session. Used on service teardown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Engine.Stop()
	}
}
