package notif

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"medichat/internal/common"
)

// Center holds one session's notification list and unread counter. This is
// client-local state: nothing here is written to the store, and the unread
// counter is deliberately decoupled from the durable per-conversation
// counters on the conversation documents.
type Center struct {
	mu            sync.Mutex
	notifications []*common.Notification
	unread        int
	observers     map[string]common.Observer
	dupWindow     time.Duration
	visible       bool
	now           func() time.Time
}

var _ common.Subject = (*Center)(nil)

func NewCenter(dupWindow time.Duration) *Center {
	return &Center{
		observers: make(map[string]common.Observer),
		dupWindow: dupWindow,
		visible:   true,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (c *Center) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Center) Subscribe(observer common.Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers[observer.Name()] = observer
}

func (c *Center) Unsubscribe(observer common.Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.observers, observer.Name())
}

func (c *Center) Notify(event common.NotificationEvent) {
	c.mu.Lock()
	observers := make([]common.Observer, 0, len(c.observers))
	for _, obs := range c.observers {
		observers = append(observers, obs)
	}
	c.mu.Unlock()

	for _, observer := range observers {
		if err := observer.Update(event); err != nil {
			log.Printf("observer %s update failed: %v", observer.Name(), err)
		}
	}
}

// Add inserts a notification at the head of the list and bumps the unread
// counter. It reports false when the notification was suppressed as a
// duplicate: an unread notification from the same sender about the same
// conversation already landed within the duplicate window, which happens
// when overlapping listeners deliver the same event twice.
func (c *Center) Add(n common.Notification) bool {
	c.mu.Lock()

	now := c.now()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = now
	}

	for _, existing := range c.notifications {
		if existing.Read {
			continue
		}
		if existing.ConversationID == n.ConversationID &&
			existing.SenderID == n.SenderID &&
			existing.Type == n.Type &&
			now.Sub(existing.Timestamp) < c.dupWindow {
			c.mu.Unlock()
			notificationsSuppressed.Inc()
			log.Printf("duplicate notification detected, skipping (conversation %s)", n.ConversationID)
			return false
		}
	}

	stored := n
	c.notifications = append([]*common.Notification{&stored}, c.notifications...)
	c.unread++
	visible := c.visible
	c.mu.Unlock()

	notificationsEmitted.Inc()
	c.Notify(common.NotificationEvent{Notification: n, DocumentVisible: visible})
	return true
}

func (c *Center) List() []common.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]common.Notification, len(c.notifications))
	for i, n := range c.notifications {
		out[i] = *n
	}
	return out
}

func (c *Center) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// MarkRead flips one notification and decrements the unread counter,
// never below zero. Reports whether the notification existed.
func (c *Center) MarkRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.notifications {
		if n.ID != id {
			continue
		}
		if !n.Read {
			n.Read = true
			if c.unread > 0 {
				c.unread--
			}
		}
		return true
	}
	return false
}

func (c *Center) MarkAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.notifications {
		n.Read = true
	}
	c.unread = 0
}

// Remove drops a notification; an unread one also decrements the counter.
func (c *Center) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, n := range c.notifications {
		if n.ID == id {
			if !n.Read && c.unread > 0 {
				c.unread--
			}
			c.notifications = append(c.notifications[:i], c.notifications[i+1:]...)
			return
		}
	}
}

func (c *Center) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notifications = nil
	c.unread = 0
}

// SetVisible tracks whether the dashboard tab is foregrounded. Observers
// receive the flag with each event and pick toast versus OS notification.
func (c *Center) SetVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = visible
}

func (c *Center) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}
