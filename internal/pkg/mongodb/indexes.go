package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes used by the request-log collection.
// Called once at startup; safe to call repeatedly.
func EnsureIndexes(db *mongo.Database) error {
	ctx := context.Background()

	coll := db.Collection("request_log")
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_timestamp"),
		},
		{
			Keys:    bson.D{bson.E{Key: "client_ip_hash", Value: 1}, bson.E{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_ip_timestamp"),
		},
		{
			Keys:    bson.D{bson.E{Key: "domain", Value: 1}},
			Options: options.Index().SetName("idx_domain"),
		},
		{
			Keys:    bson.D{bson.E{Key: "blocked_at_layer", Value: 1}},
			Options: options.Index().SetName("idx_blocked_at"),
		},
	}

	return CreateIndexes(ctx, coll, indexes)
}

// CreateIndexes creates the given index models on a collection
func CreateIndexes(ctx context.Context, coll *mongo.Collection, indexes []mongo.IndexModel) error {
	if len(indexes) == 0 {
		return nil
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
