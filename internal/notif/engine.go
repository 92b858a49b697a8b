package notif

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"medichat/internal/chat/repository"
	"medichat/internal/common"
	"medichat/internal/dbmongo"
)

// Engine watches every conversation the session's user participates in and
// turns newly arrived messages from other participants into notifications.
// It runs for the lifetime of an authenticated session.
//
// Invariant: at most one active message listener per conversation, tracked
// in the watchers map. Listener churn is the main source of duplicate
// notifications, which is why modified conversations are ignored and why
// every observed message is recorded in the processed set before any other
// branch runs.
type Engine struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	center        *Center

	hospitalID string
	selfID     string

	freshness    time.Duration
	processedTTL time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	watchers  map[string]context.CancelFunc
	processed map[string]time.Time
	started   bool
}

const processedSweepThreshold = 1024

func NewEngine(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	center *Center,
	hospitalID, selfID string,
	freshness, processedTTL time.Duration,
) *Engine {
	return &Engine{
		conversations: conversations,
		messages:      messages,
		center:        center,
		hospitalID:    hospitalID,
		selfID:        selfID,
		freshness:     freshness,
		processedTTL:  processedTTL,
		now:           time.Now,
		watchers:      make(map[string]context.CancelFunc),
		processed:     make(map[string]time.Time),
	}
}

// SetClock replaces the time source. Test hook; call before Start.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Start opens the conversation-set listener and begins fanning out.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	e.ctx, e.cancel = context.WithCancel(ctx)

	changes, err := e.conversations.Watch(e.ctx, e.hospitalID, e.selfID)
	if err != nil {
		e.cancel()
		return fmt.Errorf("failed to watch conversations: %w", err)
	}

	log.Printf("notification engine started for user %s", e.selfID)

	e.wg.Add(1)
	go e.run(changes)
	return nil
}

func (e *Engine) run(changes <-chan repository.ConversationChange) {
	defer e.wg.Done()

	for change := range changes {
		if change.Conversation == nil {
			continue
		}
		switch change.Type {
		case repository.ChangeAdded:
			e.startWatcher(change.Conversation.ID)
		case repository.ChangeRemoved:
			e.stopWatcher(change.Conversation.ID)
		case repository.ChangeModified:
			// Deliberately nothing: re-subscribing on metadata changes
			// (unread counters, last message) would churn listeners and
			// produce duplicate notifications.
		}
	}
}

func (e *Engine) startWatcher(conversationID string) {
	e.mu.Lock()
	if _, exists := e.watchers[conversationID]; exists {
		e.mu.Unlock()
		return
	}
	wctx, cancel := context.WithCancel(e.ctx)
	e.watchers[conversationID] = cancel
	e.mu.Unlock()

	msgs, err := e.messages.Watch(wctx, e.hospitalID, conversationID)
	if err != nil {
		log.Printf("failed to watch messages in conversation %s: %v", conversationID, err)
		cancel()
		e.mu.Lock()
		delete(e.watchers, conversationID)
		e.mu.Unlock()
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for msg := range msgs {
			e.handleMessage(conversationID, msg)
		}
	}()
}

func (e *Engine) stopWatcher(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cancel, ok := e.watchers[conversationID]; ok {
		cancel()
		delete(e.watchers, conversationID)
	}
}

func (e *Engine) handleMessage(conversationID string, msg *dbmongo.Message) {
	key := conversationID + "-" + msg.ID
	now := e.now()

	e.mu.Lock()
	if _, seen := e.processed[key]; seen {
		e.mu.Unlock()
		notificationsDeduplicated.Inc()
		return
	}
	// Mark as processed before any branch that could re-enter, whether or
	// not a notification is emitted, so slow replays cannot reprocess.
	e.processed[key] = now
	if len(e.processed) >= processedSweepThreshold {
		e.sweepProcessedLocked(now)
	}
	e.mu.Unlock()

	if msg.SenderID == e.selfID {
		return
	}
	if now.Sub(msg.Timestamp) >= e.freshness {
		// Historical backlog delivered on listener attach; the message is
		// already in the conversation view, just not worth announcing.
		notificationsSuppressed.Inc()
		return
	}

	senderName := msg.SenderName
	if senderName == "" {
		senderName = "Unknown User"
	}

	e.center.Add(common.Notification{
		Type:           common.MessageNotification,
		Title:          "New Message",
		Message:        fmt.Sprintf("New message from %s", senderName),
		SenderID:       msg.SenderID,
		SenderName:     senderName,
		ConversationID: conversationID,
	})
}

func (e *Engine) sweepProcessedLocked(now time.Time) {
	for key, seen := range e.processed {
		if now.Sub(seen) > e.processedTTL {
			delete(e.processed, key)
		}
	}
}

// ActiveWatchers reports how many conversations currently have a live
// message listener.
func (e *Engine) ActiveWatchers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.watchers)
}

// Stop tears down the conversation-set listener and every per-conversation
// listener and clears the dedup state. After Stop returns, no further
// notifications are emitted.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	e.watchers = make(map[string]context.CancelFunc)
	e.processed = make(map[string]time.Time)
	e.started = false
	e.mu.Unlock()

	log.Printf("notification engine stopped for user %s", e.selfID)
}
