package notif

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medichat/internal/chat/repository"
	"medichat/internal/dbmongo"
)

func newTestEngine(t *testing.T, selfID string) (*Engine, *repository.MemoryStore, *Center) {
	t.Helper()
	store := repository.NewMemoryStore()
	center := NewCenter(2 * time.Second)
	engine := NewEngine(
		repository.MemoryConversations{MemoryStore: store},
		repository.MemoryMessages{MemoryStore: store},
		center,
		"hosp1", selfID,
		30*time.Second, 30*time.Minute,
	)
	return engine, store, center
}

func startEngine(t *testing.T, engine *Engine) {
	t.Helper()
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Stop)
}

func TestEngine_EmitsNotificationForIncomingMessage(t *testing.T) {
	engine, store, center := newTestEngine(t, "alice")
	ctx := context.Background()

	conv, err := store.FindOrCreate(ctx, "hosp1", "alice", "bob")
	require.NoError(t, err)

	startEngine(t, engine)
	require.Eventually(t, func() bool { return engine.ActiveWatchers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, store.Append(ctx, &dbmongo.Message{
		ConversationID: conv.ID,
		HospitalID:     "hosp1",
		Text:           "Hello",
		SenderID:       "bob",
		SenderName:     "Dr. Bob",
	}))

	require.Eventually(t, func() bool { return center.Unread() == 1 }, time.Second, 10*time.Millisecond)

	list := center.List()
	require.Len(t, list, 1)
	assert.Equal(t, "New Message", list[0].Title)
	assert.Equal(t, "New message from Dr. Bob", list[0].Message)
	assert.Equal(t, "bob", list[0].SenderID)
	assert.Equal(t, conv.ID, list[0].ConversationID)
}

func TestEngine_IgnoresOwnMessages(t *testing.T) {
	engine, store, center := newTestEngine(t, "alice")
	ctx := context.Background()

	conv, err := store.FindOrCreate(ctx, "hosp1", "alice", "bob")
	require.NoError(t, err)

	startEngine(t, engine)
	require.Eventually(t, func() bool { return engine.ActiveWatchers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, store.Append(ctx, &dbmongo.Message{
		ConversationID: conv.ID,
		HospitalID:     "hosp1",
		Text:           "note to self",
		SenderID:       "alice",
	}))

	assert.Never(t, func() bool { return center.Unread() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestEngine_SuppressesBacklogOnAttach(t *testing.T) {
	engine, store, center := newTestEngine(t, "alice")
	ctx := context.Background()

	conv, err := store.FindOrCreate(ctx, "hosp1", "alice", "bob")
	require.NoError(t, err)

	// A message from well before the listener attached.
	require.NoError(t, store.Append(ctx, &dbmongo.Message{
		ConversationID: conv.ID,
		HospitalID:     "hosp1",
		Text:           "old news",
		SenderID:       "bob",
		Timestamp:      time.Now().Add(-5 * time.Minute),
	}))

	startEngine(t, engine)
	require.Eventually(t, func() bool { return engine.ActiveWatchers() == 1 }, time.Second, 10*time.Millisecond)

	assert.Never(t, func() bool { return center.Unread() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestEngine_AbsorbsRepeatedConversationAdds(t *testing.T) {
	engine, store, center := newTestEngine(t, "alice")
	ctx := context.Background()

	conv, err := store.FindOrCreate(ctx, "hosp1", "alice", "bob")
	require.NoError(t, err)

	startEngine(t, engine)
	require.Eventually(t, func() bool { return engine.ActiveWatchers() == 1 }, time.Second, 10*time.Millisecond)

	// A conversation created inside the attach window arrives twice as
	// added, once from the replay and once from the live feed. The second
	// add must be a no-op.
	engine.startWatcher(conv.ID)
	assert.Equal(t, 1, engine.ActiveWatchers())

	require.NoError(t, store.Append(ctx, &dbmongo.Message{
		ConversationID: conv.ID,
		HospitalID:     "hosp1",
		Text:           "Hello",
		SenderID:       "bob",
		SenderName:     "Dr. Bob",
	}))

	require.Eventually(t, func() bool { return center.Unread() == 1 }, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return center.Unread() > 1 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestEngine_HandleMessage_DedupOnReplay(t *testing.T) {
	engine, _, center := newTestEngine(t, "alice")

	msg := &dbmongo.Message{
		ID:             "msg-1",
		ConversationID: "alice_bob",
		HospitalID:     "hosp1",
		Text:           "Hello",
		SenderID:       "bob",
		SenderName:     "Dr. Bob",
		Timestamp:      time.Now(),
	}

	// The same document delivered twice, as overlapping listeners do.
	engine.handleMessage("alice_bob", msg)
	engine.handleMessage("alice_bob", msg)

	assert.Equal(t, 1, center.Unread())
	assert.Len(t, center.List(), 1)
}

func TestEngine_HandleMessage_ProcessedEvenWhenSuppressed(t *testing.T) {
	engine, _, center := newTestEngine(t, "alice")

	stale := &dbmongo.Message{
		ID:             "msg-1",
		ConversationID: "alice_bob",
		HospitalID:     "hosp1",
		Text:           "Hello",
		SenderID:       "bob",
		Timestamp:      time.Now().Add(-5 * time.Minute),
	}
	engine.handleMessage("alice_bob", stale)
	require.Equal(t, 0, center.Unread())

	// Redelivered with a fresh timestamp it must still be skipped: the
	// first sighting marked it processed.
	fresh := *stale
	fresh.Timestamp = time.Now()
	engine.handleMessage("alice_bob", &fresh)
	assert.Equal(t, 0, center.Unread())
}

func TestEngine_HandleMessage_UnknownSenderFallback(t *testing.T) {
	engine, _, center := newTestEngine(t, "alice")

	engine.handleMessage("alice_bob", &dbmongo.Message{
		ID:             "msg-1",
		ConversationID: "alice_bob",
		HospitalID:     "hosp1",
		Text:           "Hello",
		SenderID:       "bob",
		Timestamp:      time.Now(),
	})

	list := center.List()
	require.Len(t, list, 1)
	assert.Equal(t, "New message from Unknown User", list[0].Message)
	assert.Equal(t, "Unknown User", list[0].SenderName)
}

func TestEngine_WatchesNewConversations(t *testing.T) {
	engine, store, center := newTestEngine(t, "alice")
	ctx := context.Background()

	startEngine(t, engine)

	conv, err := store.FindOrCreate(ctx, "hosp1", "carol", "alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return engine.ActiveWatchers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, store.Append(ctx, &dbmongo.Message{
		ConversationID: conv.ID,
		HospitalID:     "hosp1",
		Text:           "Hello",
		SenderID:       "carol",
		SenderName:     "Carol",
	}))

	require.Eventually(t, func() bool { return center.Unread() == 1 }, time.Second, 10*time.Millisecond)
}

func TestEngine_IgnoresOtherUsersConversations(t *testing.T) {
	engine, store, _ := newTestEngine(t, "alice")
	ctx := context.Background()

	startEngine(t, engine)

	_, err := store.FindOrCreate(ctx, "hosp1", "bob", "carol")
	require.NoError(t, err)

	assert.Never(t, func() bool { return engine.ActiveWatchers() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestEngine_StartTwice(t *testing.T) {
	engine, _, _ := newTestEngine(t, "alice")

	startEngine(t, engine)
	assert.Error(t, engine.Start(context.Background()))
}

func TestEngine_StopDetachesAllListeners(t *testing.T) {
	engine, store, center := newTestEngine(t, "alice")
	ctx := context.Background()

	conv, err := store.FindOrCreate(ctx, "hosp1", "alice", "bob")
	require.NoError(t, err)

	require.NoError(t, engine.Start(context.Background()))
	require.Eventually(t, func() bool { return engine.ActiveWatchers() == 1 }, time.Second, 10*time.Millisecond)

	engine.Stop()
	assert.Equal(t, 0, engine.ActiveWatchers())

	require.NoError(t, store.Append(ctx, &dbmongo.Message{
		ConversationID: conv.ID,
		HospitalID:     "hosp1",
		Text:           "after stop",
		SenderID:       "bob",
	}))
	assert.Never(t, func() bool { return center.Unread() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

// Full fan-out path: two users on the same store, one sends, the other's
// engine raises exactly one notification.
func TestEngine_TwoUserScenario(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	centerU2 := NewCenter(2 * time.Second)
	engineU2 := NewEngine(
		repository.MemoryConversations{MemoryStore: store},
		repository.MemoryMessages{MemoryStore: store},
		centerU2,
		"hosp1", "u2",
		30*time.Second, 30*time.Minute,
	)
	require.NoError(t, engineU2.Start(context.Background()))
	t.Cleanup(engineU2.Stop)

	conv, err := store.FindOrCreate(ctx, "hosp1", "u1", "u2")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return engineU2.ActiveWatchers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, store.Append(ctx, &dbmongo.Message{
		ConversationID: conv.ID,
		HospitalID:     "hosp1",
		Text:           "Hello",
		SenderID:       "u1",
		SenderName:     "User One",
	}))

	require.Eventually(t, func() bool { return centerU2.Unread() == 1 }, time.Second, 10*time.Millisecond)
	list := centerU2.List()
	require.Len(t, list, 1)
	assert.Equal(t, "New message from User One", list[0].Message)
}
