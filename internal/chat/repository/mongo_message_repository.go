package repository

import (
	"context"
	"fmt"
	"log"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"medichat/internal/dbmongo"
)

type mongoMessageRepo struct {
	coll *mongo.Collection
}

func NewMessageRepository(mc *dbmongo.MongoClient) MessageRepository {
	return &mongoMessageRepo{
		coll: mc.Database.Collection(dbmongo.MessagesCollection),
	}
}

func (r *mongoMessageRepo) Append(ctx context.Context, msg *dbmongo.Message) error {
	if msg.ID == "" {
		msg.ID = primitive.NewObjectID().Hex()
	}

	_, err := r.coll.InsertOne(ctx, msg)
	if mongo.IsDuplicateKeyError(err) {
		// Same client key appended before: the first attempt did persist.
		// Load it so the caller sees the stored message.
		var existing dbmongo.Message
		ferr := r.coll.FindOne(ctx, bson.M{
			"conversationId": msg.ConversationID,
			"clientKey":      msg.ClientKey,
		}).Decode(&existing)
		if ferr != nil {
			return fmt.Errorf("duplicate send detected but lookup failed: %w", ferr)
		}
		*msg = existing
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *mongoMessageRepo) History(ctx context.Context, hospitalID, conversationID string) ([]*dbmongo.Message, error) {
	filter := bson.M{"hospitalId": hospitalID, "conversationId": conversationID}
	// _id as tiebreak keeps ordering stable for messages sharing a
	// timestamp at second resolution.
	opts := options.Find().SetSort(bson.D{
		{Key: "timestamp", Value: 1},
		{Key: "_id", Value: 1},
	})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load message history: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*dbmongo.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

func (r *mongoMessageRepo) Watch(ctx context.Context, hospitalID, conversationID string) (<-chan *dbmongo.Message, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType":               "insert",
			"fullDocument.hospitalId":     hospitalID,
			"fullDocument.conversationId": conversationID,
		}}},
	}

	stream, err := r.coll.Watch(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to watch messages: %w", err)
	}

	// Snapshot semantics: the stored backlog is replayed in order before
	// live inserts. The stream is opened first so a message appended
	// between the two shows up in both; the replayed-ID set filters the
	// second delivery.
	backlog, err := r.History(ctx, hospitalID, conversationID)
	if err != nil {
		stream.Close(context.Background())
		return nil, fmt.Errorf("failed to load backlog for watch attach: %w", err)
	}

	out := make(chan *dbmongo.Message, 64)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		replayed := make(map[string]struct{}, len(backlog))
		for _, msg := range backlog {
			replayed[msg.ID] = struct{}{}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}

		for stream.Next(ctx) {
			var event struct {
				FullDocument dbmongo.Message `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				log.Printf("failed to decode message change: %v", err)
				continue
			}
			if _, ok := replayed[event.FullDocument.ID]; ok {
				// Appended between the stream open and the backlog query,
				// already delivered by the replay.
				delete(replayed, event.FullDocument.ID)
				continue
			}

			select {
			case out <- &event.FullDocument:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *mongoMessageRepo) Stats(ctx context.Context, hospitalID, participantID string) (*MessageStats, error) {
	sent, err := r.coll.CountDocuments(ctx, bson.M{
		"hospitalId": hospitalID,
		"senderId":   participantID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count sent messages: %w", err)
	}

	// Conversation IDs are the joined participant pair, so "my" messages
	// live in conversations whose key starts or ends with my ID.
	pattern := fmt.Sprintf("(^%s_)|(_%s$)",
		regexp.QuoteMeta(participantID), regexp.QuoteMeta(participantID))
	received, err := r.coll.CountDocuments(ctx, bson.M{
		"hospitalId":     hospitalID,
		"conversationId": bson.M{"$regex": pattern},
		"senderId":       bson.M{"$ne": participantID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count received messages: %w", err)
	}

	return &MessageStats{Sent: sent, Received: received}, nil
}
