package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

type slotDoc struct {
	ID            string    `bson:"_id"`
	Date          string    `bson:"date"`
	TimeSlot      string    `bson:"timeSlot"`
	Section       string    `bson:"section"`
	TotalSeats    int       `bson:"totalSeats"`
	ReservedSeats int       `bson:"reservedSeats"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

func (d slotDoc) slot() waitlist.CapacitySlot {
	return waitlist.CapacitySlot{
		Key:           waitlist.SlotKey{Date: d.Date, TimeSlot: d.TimeSlot, Section: d.Section},
		TotalSeats:    d.TotalSeats,
		ReservedSeats: d.ReservedSeats,
		UpdatedAt:     d.UpdatedAt,
	}
}

// Capacity keeps one document per slot key, with the key's string form as
// _id. Every method is a single-document write.
type Capacity struct {
	coll *mongo.Collection
}

func (c *Capacity) Reserve(ctx context.Context, key waitlist.SlotKey, guests int) (bool, error) {
	const op = "mongodb.Capacity.Reserve"

	res, err := c.coll.UpdateOne(ctx,
		bson.M{
			"_id": key.String(),
			"$expr": bson.M{"$gte": bson.A{
				bson.M{"$subtract": bson.A{"$totalSeats", "$reservedSeats"}},
				guests,
			}},
		},
		bson.M{
			"$inc": bson.M{"reservedSeats": guests},
			"$set": bson.M{"updatedAt": stamp(time.Now())},
		},
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return res.MatchedCount == 1, nil
}

func (c *Capacity) Release(ctx context.Context, key waitlist.SlotKey, guests int) error {
	const op = "mongodb.Capacity.Release"

	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": key.String()},
		mongo.Pipeline{{{Key: "$set", Value: bson.M{
			"reservedSeats": bson.M{"$max": bson.A{0, bson.M{"$subtract": bson.A{"$reservedSeats", guests}}}},
			"updatedAt":     stamp(time.Now()),
		}}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Capacity) Get(ctx context.Context, key waitlist.SlotKey) (waitlist.CapacitySlot, error) {
	const op = "mongodb.Capacity.Get"

	var d slotDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return waitlist.CapacitySlot{Key: key}, nil
	}
	if err != nil {
		return waitlist.CapacitySlot{}, fmt.Errorf("%s: %w", op, err)
	}
	return d.slot(), nil
}

// SetTotal upserts the slot. When the stored reservations exceed total the
// filter misses and the upsert collides with the existing _id.
func (c *Capacity) SetTotal(ctx context.Context, key waitlist.SlotKey, total int) (waitlist.CapacitySlot, error) {
	const op = "mongodb.Capacity.SetTotal"

	var d slotDoc
	err := c.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": key.String(), "reservedSeats": bson.M{"$lte": total}},
		bson.M{
			"$set": bson.M{
				"date":       key.Date,
				"timeSlot":   key.TimeSlot,
				"section":    key.Section,
				"totalSeats": total,
				"updatedAt":  stamp(time.Now()),
			},
			"$setOnInsert": bson.M{"reservedSeats": 0},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&d)
	if mongo.IsDuplicateKeyError(err) {
		cur, gerr := c.Get(ctx, key)
		if gerr != nil {
			return waitlist.CapacitySlot{}, fmt.Errorf("%s: %w", op, gerr)
		}
		return cur, fmt.Errorf("%s: %w: %d seats already reserved", op, waitlist.ErrValidation, cur.ReservedSeats)
	}
	if err != nil {
		return waitlist.CapacitySlot{}, fmt.Errorf("%s: %w", op, err)
	}
	return d.slot(), nil
}

func (c *Capacity) ListByDate(ctx context.Context, date string) ([]waitlist.CapacitySlot, error) {
	const op = "mongodb.Capacity.ListByDate"

	cur, err := c.coll.Find(ctx, bson.M{"date": date},
		options.Find().SetSort(bson.D{{Key: "timeSlot", Value: 1}, {Key: "section", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer cur.Close(ctx)

	var docs []slotDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]waitlist.CapacitySlot, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.slot())
	}
	return out, nil
}
