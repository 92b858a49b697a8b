package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"medichat/internal/common"
	"medichat/internal/dbmongo"
)

type mongoConversationRepo struct {
	coll *mongo.Collection
}

func NewConversationRepository(mc *dbmongo.MongoClient) ConversationRepository {
	return &mongoConversationRepo{
		coll: mc.Database.Collection(dbmongo.ConversationsCollection),
	}
}

func (r *mongoConversationRepo) FindOrCreate(ctx context.Context, hospitalID, selfID, otherID string) (*dbmongo.Conversation, error) {
	key := dbmongo.ConversationKey(selfID, otherID)

	// Upsert on the deterministic key. $setOnInsert keeps an existing
	// conversation untouched, so racing creators converge on one document
	// and participants are immutable once set.
	filter := bson.M{"_id": key}
	update := bson.M{
		"$setOnInsert": bson.M{
			"hospitalId":   hospitalID,
			"participants": []string{selfID, otherID},
			"createdAt":    time.Now().UTC(),
			"unreadCount":  map[string]int64{selfID: 0, otherID: 0},
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var conv dbmongo.Conversation
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv); err != nil {
		return nil, fmt.Errorf("failed to find or create conversation: %w", err)
	}
	return &conv, nil
}

func (r *mongoConversationRepo) Get(ctx context.Context, hospitalID, conversationID string) (*dbmongo.Conversation, error) {
	var conv dbmongo.Conversation
	err := r.coll.FindOne(ctx, bson.M{"_id": conversationID, "hospitalId": hospitalID}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (r *mongoConversationRepo) ListForParticipant(ctx context.Context, hospitalID, participantID string) ([]*dbmongo.Conversation, error) {
	filter := bson.M{"hospitalId": hospitalID, "participants": participantID}
	// Most recent activity first; conversations without messages fall back
	// to creation time.
	opts := options.Find().SetSort(bson.D{
		{Key: "lastMessageTime", Value: -1},
		{Key: "createdAt", Value: -1},
	})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var conversations []*dbmongo.Conversation
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return conversations, nil
}

func (r *mongoConversationRepo) UpdateSummary(ctx context.Context, hospitalID, conversationID, lastMessage, recipientID string, at time.Time) error {
	filter := bson.M{"_id": conversationID, "hospitalId": hospitalID}
	update := bson.M{
		"$set": bson.M{
			"lastMessage":     lastMessage,
			"lastMessageTime": at,
		},
		"$inc": bson.M{
			"unreadCount." + recipientID: 1,
		},
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update conversation summary: %w", err)
	}
	if res.MatchedCount == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *mongoConversationRepo) ResetUnread(ctx context.Context, hospitalID, conversationID, readerID string) error {
	filter := bson.M{"_id": conversationID, "hospitalId": hospitalID}
	update := bson.M{
		"$set": bson.M{"unreadCount." + readerID: 0},
	}

	if _, err := r.coll.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}
	return nil
}

func (r *mongoConversationRepo) Watch(ctx context.Context, hospitalID, participantID string) (<-chan ConversationChange, error) {
	// Deletes carry no full document and conversations are never deleted in
	// this deployment, so the pipeline only has to match inserts/updates.
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"fullDocument.hospitalId":   hospitalID,
			"fullDocument.participants": participantID,
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := r.coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to watch conversations: %w", err)
	}

	// Snapshot semantics: replay the participant's current conversation
	// set as added changes before pumping the stream, like a listener
	// attach. The stream is opened first so nothing created between the
	// list and the first stream event is lost; a conversation that lands
	// in both arrives twice as added, which consumers absorb.
	existing, err := r.ListForParticipant(ctx, hospitalID, participantID)
	if err != nil {
		stream.Close(context.Background())
		return nil, fmt.Errorf("failed to list conversations for watch attach: %w", err)
	}

	out := make(chan ConversationChange, 64)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for _, conv := range existing {
			select {
			case out <- ConversationChange{Type: ChangeAdded, Conversation: conv}:
			case <-ctx.Done():
				return
			}
		}

		for stream.Next(ctx) {
			var event struct {
				OperationType string               `bson:"operationType"`
				FullDocument  dbmongo.Conversation `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				log.Printf("failed to decode conversation change: %v", err)
				continue
			}

			change := ConversationChange{Conversation: &event.FullDocument}
			switch event.OperationType {
			case "insert":
				change.Type = ChangeAdded
			case "delete":
				change.Type = ChangeRemoved
			default:
				change.Type = ChangeModified
			}

			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
