package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"medichat/internal/config"
	"medichat/internal/dbmongo"
)

// These tests run against a live document store and skip when none is
// reachable. The watch tests additionally need change streams, which a
// standalone mongod does not serve; use the docker-compose replica set.

func setupMongo(t *testing.T) *dbmongo.MongoClient {
	t.Helper()

	cfg := config.LoadConfig()
	cfg.MongoDB.Database = "medichat_test"

	mc, err := dbmongo.NewMongoConnection(cfg)
	if err != nil {
		t.Skipf("document store not reachable: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mc.Close(ctx)
	})

	ctx := context.Background()
	require.NoError(t, mc.Database.Collection(dbmongo.ConversationsCollection).Drop(ctx))
	require.NoError(t, mc.Database.Collection(dbmongo.MessagesCollection).Drop(ctx))
	require.NoError(t, mc.EnsureIndexes(ctx))
	return mc
}

func requireChangeStreams(t *testing.T, mc *dbmongo.MongoClient) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := mc.Database.Collection(dbmongo.ConversationsCollection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		t.Skipf("change streams unavailable, standalone mongod? %v", err)
	}
	stream.Close(ctx)
}

func readConversationChange(t *testing.T, ch <-chan ConversationChange) ConversationChange {
	t.Helper()
	select {
	case change := <-ch:
		return change
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for conversation change")
		return ConversationChange{}
	}
}

func readMessage(t *testing.T, ch <-chan *dbmongo.Message) *dbmongo.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestMongoConversationRepository_FindOrCreate(t *testing.T) {
	mc := setupMongo(t)
	repo := NewConversationRepository(mc)
	ctx := context.Background()

	first, err := repo.FindOrCreate(ctx, "hosp1", "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", first.ID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, first.Participants)
	assert.Equal(t, int64(0), first.UnreadCount["alice"])
	assert.Equal(t, int64(0), first.UnreadCount["bob"])

	// From the other side: same document, participants untouched.
	second, err := repo.FindOrCreate(ctx, "hosp1", "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	assert.Equal(t, first.Participants, second.Participants)
}

func TestMongoConversationRepository_UnreadCounters(t *testing.T) {
	mc := setupMongo(t)
	repo := NewConversationRepository(mc)
	ctx := context.Background()

	conv, err := repo.FindOrCreate(ctx, "hosp1", "alice", "bob")
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, repo.UpdateSummary(ctx, "hosp1", conv.ID, "hi", "bob", now))
	require.NoError(t, repo.UpdateSummary(ctx, "hosp1", conv.ID, "there", "bob", now))

	got, err := repo.Get(ctx, "hosp1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UnreadCount["bob"])
	assert.Equal(t, int64(0), got.UnreadCount["alice"])
	assert.Equal(t, "there", got.LastMessage)

	require.NoError(t, repo.ResetUnread(ctx, "hosp1", conv.ID, "bob"))
	got, err = repo.Get(ctx, "hosp1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.UnreadCount["bob"])
}

func TestMongoConversationRepository_Watch_ReplaysExistingOnAttach(t *testing.T) {
	mc := setupMongo(t)
	requireChangeStreams(t, mc)
	repo := NewConversationRepository(mc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Conversations that exist before the watch attaches, plus one the
	// watcher is not a part of.
	_, err := repo.FindOrCreate(ctx, "hosp1", "alice", "bob")
	require.NoError(t, err)
	_, err = repo.FindOrCreate(ctx, "hosp1", "alice", "carol")
	require.NoError(t, err)
	_, err = repo.FindOrCreate(ctx, "hosp1", "bob", "carol")
	require.NoError(t, err)

	changes, err := repo.Watch(ctx, "hosp1", "alice")
	require.NoError(t, err)

	// The existing set arrives as added changes before any live event.
	got := map[string]ChangeType{}
	for i := 0; i < 2; i++ {
		change := readConversationChange(t, changes)
		got[change.Conversation.ID] = change.Type
	}
	assert.Equal(t, map[string]ChangeType{
		"alice_bob":   ChangeAdded,
		"alice_carol": ChangeAdded,
	}, got)

	// A live insert follows the replay.
	_, err = repo.FindOrCreate(ctx, "hosp1", "alice", "dave")
	require.NoError(t, err)
	change := readConversationChange(t, changes)
	assert.Equal(t, ChangeAdded, change.Type)
	assert.Equal(t, "alice_dave", change.Conversation.ID)

	// Summary churn arrives as modified, never as a re-add.
	require.NoError(t, repo.UpdateSummary(ctx, "hosp1", "alice_bob", "hi", "alice", time.Now().UTC()))
	change = readConversationChange(t, changes)
	assert.Equal(t, ChangeModified, change.Type)
	assert.Equal(t, "alice_bob", change.Conversation.ID)
}

func TestMongoMessageRepository_Append_DuplicateClientKey(t *testing.T) {
	mc := setupMongo(t)
	repo := NewMessageRepository(mc)
	ctx := context.Background()

	msg := &dbmongo.Message{
		ConversationID: "alice_bob",
		HospitalID:     "hosp1",
		Text:           "hello",
		SenderID:       "alice",
		Timestamp:      time.Now().UTC().Truncate(time.Millisecond),
		Type:           dbmongo.MessageTypeText,
		ClientKey:      "key-1",
	}
	require.NoError(t, repo.Append(ctx, msg))
	firstID := msg.ID
	require.NotEmpty(t, firstID)

	// Retried send with the same client key: the stored message comes
	// back, nothing new is inserted.
	retry := &dbmongo.Message{
		ConversationID: "alice_bob",
		HospitalID:     "hosp1",
		Text:           "hello",
		SenderID:       "alice",
		Timestamp:      time.Now().UTC(),
		Type:           dbmongo.MessageTypeText,
		ClientKey:      "key-1",
	}
	require.NoError(t, repo.Append(ctx, retry))
	assert.Equal(t, firstID, retry.ID)

	history, err := repo.History(ctx, "hosp1", "alice_bob")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMongoMessageRepository_Watch_ReplaysBacklogThenLive(t *testing.T) {
	mc := setupMongo(t)
	requireChangeStreams(t, mc)
	repo := NewMessageRepository(mc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, text := range []string{"first", "second"} {
		require.NoError(t, repo.Append(ctx, &dbmongo.Message{
			ConversationID: "alice_bob",
			HospitalID:     "hosp1",
			Text:           text,
			SenderID:       "alice",
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			Type:           dbmongo.MessageTypeText,
			ClientKey:      text,
		}))
	}

	msgs, err := repo.Watch(ctx, "hosp1", "alice_bob")
	require.NoError(t, err)

	assert.Equal(t, "first", readMessage(t, msgs).Text)
	assert.Equal(t, "second", readMessage(t, msgs).Text)

	require.NoError(t, repo.Append(ctx, &dbmongo.Message{
		ConversationID: "alice_bob",
		HospitalID:     "hosp1",
		Text:           "third",
		SenderID:       "bob",
		Timestamp:      base.Add(2 * time.Second),
		Type:           dbmongo.MessageTypeText,
		ClientKey:      "third",
	}))
	assert.Equal(t, "third", readMessage(t, msgs).Text)
}
