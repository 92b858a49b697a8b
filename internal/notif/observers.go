package notif

import (
	"fmt"
	"log"
	"sync"
	"time"

	"medichat/internal/common"
)

// SoundObserver plays a short synthesized cue for every message
// notification. The player is injected; a nil player is a no-op, which is
// what headless runs and tests use.
type SoundObserver struct {
	play func(wav []byte) error
}

func NewSoundObserver(play func(wav []byte) error) *SoundObserver {
	return &SoundObserver{play: play}
}

func (s *SoundObserver) Name() string {
	return "sound_observer"
}

func (s *SoundObserver) Update(event common.NotificationEvent) error {
	if event.Notification.Type != common.MessageNotification || s.play == nil {
		return nil
	}
	if err := s.play(Chime()); err != nil {
		return fmt.Errorf("failed to play notification sound: %w", err)
	}
	return nil
}

// ToastObserver surfaces the notification as an in-app toast when the
// dashboard is foregrounded. The toast self-dismisses after the configured
// interval; a newer toast replaces the current one and restarts the timer.
type ToastObserver struct {
	mu           sync.Mutex
	current      *common.Notification
	timer        *time.Timer
	dismissAfter time.Duration
	onShow       func(common.Notification)
}

func NewToastObserver(dismissAfter time.Duration, onShow func(common.Notification)) *ToastObserver {
	return &ToastObserver{
		dismissAfter: dismissAfter,
		onShow:       onShow,
	}
}

func (t *ToastObserver) Name() string {
	return "toast_observer"
}

func (t *ToastObserver) Update(event common.NotificationEvent) error {
	if !event.DocumentVisible {
		return nil
	}

	t.mu.Lock()
	n := event.Notification
	t.current = &n
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.dismissAfter, t.dismiss)
	t.mu.Unlock()

	if t.onShow != nil {
		t.onShow(n)
	}
	return nil
}

// Current returns the toast currently on screen, or nil.
func (t *ToastObserver) Current() *common.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	n := *t.current
	return &n
}

func (t *ToastObserver) dismiss() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
}

// DesktopNotifier is the OS-level notification surface. Implementations
// must honor the tag: re-posting the same tag replaces instead of stacking.
type DesktopNotifier interface {
	Push(title, body, tag string) error
}

// DesktopObserver forwards notifications to the OS when the dashboard is
// backgrounded. Each message gets a unique tag so duplicate event delivery
// cannot stack duplicate OS notifications.
type DesktopObserver struct {
	notifier DesktopNotifier
}

func NewDesktopObserver(notifier DesktopNotifier) *DesktopObserver {
	return &DesktopObserver{notifier: notifier}
}

func (d *DesktopObserver) Name() string {
	return "desktop_observer"
}

func (d *DesktopObserver) Update(event common.NotificationEvent) error {
	if event.DocumentVisible || d.notifier == nil {
		return nil
	}

	n := event.Notification
	tag := fmt.Sprintf("message-%s-%s", n.ConversationID, n.ID)
	if err := d.notifier.Push(n.Title, n.Message, tag); err != nil {
		log.Printf("desktop notification failed: %v", err)
		return err
	}
	return nil
}
