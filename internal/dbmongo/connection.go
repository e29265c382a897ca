// Package dbmongo holds the document-store side of persistence: GridFS media
// blobs and the high-volume live chat log.
package dbmongo

import (
	"context"
	"fmt"
	"time"

	"amplifi/internal/common"
	"amplifi/internal/config"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mediaBucket        = "media_files"
	liveChatCollection = "live_chat"
)

type MongoClient struct {
	Client   *mongo.Client
	Database *mongo.Database
	GridFS   *gridfs.Bucket
}

func NewMongoConnection(ctx context.Context, c *config.Config) (*MongoClient, error) {
	clientOptions := options.Client().ApplyURI(c.GetMongoURI())

	var client *mongo.Client
	connect := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var err error
		client, err = mongo.Connect(attemptCtx, clientOptions)
		if err != nil {
			return err
		}
		if err := client.Ping(attemptCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Minute
	notify := func(err error, wait time.Duration) {
		common.Log.WithError(err).Warnf("MongoDB not ready, retrying in %s", wait)
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to connect MongoDB: %w", err)
	}

	database := client.Database(c.MongoDB.Database)
	bucket, err := gridfs.NewBucket(database, options.GridFSBucket().SetName(mediaBucket))
	if err != nil {
		return nil, fmt.Errorf("failed to create GridFSBucket: %w", err)
	}

	mc := &MongoClient{
		Client:   client,
		Database: database,
		GridFS:   bucket,
	}
	if err := mc.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	common.Log.Infof("Connected to MongoDB database %s", c.MongoDB.Database)
	return mc, nil
}

func (mc *MongoClient) ensureIndexes(ctx context.Context) error {
	_, err := mc.Database.Collection(liveChatCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "stream_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create live chat index: %w", err)
	}
	return nil
}

func (mc *MongoClient) Ping(ctx context.Context) error {
	return mc.Client.Ping(ctx, nil)
}

func (mc *MongoClient) Close(ctx context.Context) error {
	return mc.Client.Disconnect(ctx)
}
