package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	entriesCollection  = "waitlist_entries"
	capacityCollection = "capacity_slots"
)

// Storage owns the client and hands out the entry and capacity stores.
type Storage struct {
	client *mongo.Client
	db     *mongo.Database
}

func Open(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "mongodb.Open"

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{client: client, db: client.Database(database)}, nil
}

func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Storage) Entries() *Entries {
	return &Entries{coll: s.db.Collection(entriesCollection)}
}

func (s *Storage) Capacity() *Capacity {
	return &Capacity{coll: s.db.Collection(capacityCollection)}
}

// EnsureIndexes creates the FIFO listing, sweep and username indexes. It is idempotent.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	const op = "mongodb.EnsureIndexes"

	_, err := s.db.Collection(entriesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "date", Value: 1}, {Key: "timeSlot", Value: 1}, {Key: "section", Value: 1},
			{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1},
		}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "notifiedAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.db.Collection(capacityCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "date", Value: 1}, {Key: "timeSlot", Value: 1}, {Key: "section", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
