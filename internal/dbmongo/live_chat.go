package dbmongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"amplifi/internal/common"
)

const (
	ChatTypeChat   = "chat"
	ChatTypeTip    = "tip"
	ChatTypeSystem = "system"
)

type LiveChatMessage struct {
	ID        string    `bson:"_id" json:"id"`
	StreamID  string    `bson:"stream_id" json:"streamId"`
	UserID    string    `bson:"user_id" json:"userId"`
	Username  string    `bson:"username" json:"username"`
	Text      string    `bson:"text" json:"text"`
	Type      string    `bson:"type" json:"type"`
	Amount    int64     `bson:"amount,omitempty" json:"amount,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// LiveChatStore keeps chat lines outside the relational store; a busy stream
// writes far more of them than any other entity.
type LiveChatStore struct {
	coll *mongo.Collection
}

func NewLiveChatStore(mc *MongoClient) *LiveChatStore {
	return &LiveChatStore{coll: mc.Database.Collection(liveChatCollection)}
}

func (s *LiveChatStore) Insert(ctx context.Context, msg *LiveChatMessage) error {
	if msg.ID == "" {
		msg.ID = common.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, err := s.coll.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("insert live chat message: %w", err)
	}
	return nil
}

// List returns up to limit+1 messages older than the cursor, newest first.
func (s *LiveChatStore) List(ctx context.Context, streamID string, cursor common.Cursor, limit int) ([]*LiveChatMessage, error) {
	filter := bson.M{"stream_id": streamID}
	if !cursor.IsZero() {
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$lt": cursor.CreatedAt}},
			bson.M{"created_at": cursor.CreatedAt, "_id": bson.M{"$lt": cursor.ID}},
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit + 1))

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list live chat: %w", err)
	}
	defer cur.Close(ctx)

	var out []*LiveChatMessage
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode live chat: %w", err)
	}
	return out, nil
}

func (s *LiveChatStore) Count(ctx context.Context, streamID string) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"stream_id": streamID, "type": ChatTypeChat})
	if err != nil {
		return 0, fmt.Errorf("count live chat: %w", err)
	}
	return n, nil
}
