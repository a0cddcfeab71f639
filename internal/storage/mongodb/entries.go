package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

// Entries stores one document per entry. Status changes are a single
// FindOneAndUpdate filtered on the statuses the edge may start from.
type Entries struct {
	coll *mongo.Collection
}

// BSON dates hold milliseconds.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func (s *Entries) Create(ctx context.Context, e waitlist.Entry) (waitlist.Entry, error) {
	const op = "mongodb.Entries.Create"

	st, err := waitlist.CheckCreate(e)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	now := stamp(time.Now())
	e.ID = id.String()
	e.Status = st
	e.CreatedAt, e.UpdatedAt = now, now
	e.NotifiedAt, e.DepartedAt = nil, nil

	if _, err := s.coll.InsertOne(ctx, e); err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (s *Entries) Get(ctx context.Context, id string) (waitlist.Entry, error) {
	const op = "mongodb.Entries.Get"

	var e waitlist.Entry
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, waitlist.ErrNotFound)
	}
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func fifo() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
}

func (s *Entries) find(ctx context.Context, filter bson.M) ([]waitlist.Entry, error) {
	cur, err := s.coll.Find(ctx, filter, fifo())
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []waitlist.Entry
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Entries) ListActive(ctx context.Context, key waitlist.SlotKey) ([]waitlist.Entry, error) {
	const op = "mongodb.Entries.ListActive"

	out, err := s.find(ctx, bson.M{
		"date":     key.Date,
		"timeSlot": key.TimeSlot,
		"section":  key.Section,
		"status":   bson.M{"$in": []waitlist.Status{waitlist.StatusQueued, waitlist.StatusNotified}},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *Entries) UpdateStatus(ctx context.Context, id string, to waitlist.Status, at time.Time) (waitlist.Entry, waitlist.Status, error) {
	const op = "mongodb.Entries.UpdateStatus"

	at = stamp(at)
	set := bson.M{"status": to, "updatedAt": at}
	if to == waitlist.StatusNotified {
		set["notifiedAt"] = at
	}

	from := waitlist.AllowedFrom(to)
	if len(from) == 0 {
		return s.rejected(ctx, op, id, to)
	}

	var before waitlist.Entry
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.rejected(ctx, op, id, to)
	}
	if err != nil {
		return waitlist.Entry{}, "", fmt.Errorf("%s: %w", op, err)
	}

	updated := before
	updated.Status = to
	updated.UpdatedAt = at
	if to == waitlist.StatusNotified {
		updated.NotifiedAt = &at
	}
	return updated, before.Status, nil
}

// rejected explains a filtered update that matched nothing.
func (s *Entries) rejected(ctx context.Context, op, id string, to waitlist.Status) (waitlist.Entry, waitlist.Status, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return waitlist.Entry{}, "", fmt.Errorf("%s: %w", op, err)
	}
	return cur, cur.Status, fmt.Errorf("%s: %w: %s -> %s", op, waitlist.ErrInvalidTransition, cur.Status, to)
}

func (s *Entries) MarkDeparted(ctx context.Context, id string, at time.Time) (waitlist.Entry, error) {
	const op = "mongodb.Entries.MarkDeparted"

	at = stamp(at)
	var e waitlist.Entry
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": waitlist.StatusSeated, "departedAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"departedAt": at, "updatedAt": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&e)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	return cur, fmt.Errorf("%s: %w: entry is %s", op, waitlist.ErrInvalidTransition, cur.Status)
}

func (s *Entries) ListNotifiedBefore(ctx context.Context, cutoff time.Time) ([]waitlist.Entry, error) {
	const op = "mongodb.Entries.ListNotifiedBefore"

	out, err := s.find(ctx, bson.M{
		"status":     waitlist.StatusNotified,
		"notifiedAt": bson.M{"$lte": cutoff.UTC()},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *Entries) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	const op = "mongodb.Entries.PurgeTerminal"

	res, err := s.coll.DeleteMany(ctx, bson.M{
		"status":    bson.M{"$in": []waitlist.Status{waitlist.StatusSeated, waitlist.StatusCancelled, waitlist.StatusExpired}},
		"updatedAt": bson.M{"$lt": before.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.DeletedCount, nil
}
