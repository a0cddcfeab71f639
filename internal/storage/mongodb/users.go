package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/auth"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const usersCollection = "users"

type userDoc struct {
	ID             string    `bson:"_id"`
	Username       string    `bson:"username"`
	PasswordBcrypt string    `bson:"passwordBcrypt"`
	Role           string    `bson:"role"`
	CreatedAt      time.Time `bson:"createdAt"`
}

// Users keeps staff accounts next to the waitlist when Mongo is the backend.
// Usernames are unique through an index created by EnsureIndexes.
type Users struct {
	coll *mongo.Collection
}

func (s *Storage) Users() *Users {
	return &Users{coll: s.db.Collection(usersCollection)}
}

func (u *Users) Insert(ctx context.Context, user auth.User) (auth.User, error) {
	const op = "mongodb.Users.Insert"

	id, err := uuid.NewV7()
	if err != nil {
		return auth.User{}, fmt.Errorf("%s: %w", op, err)
	}
	doc := userDoc{
		ID:             id.String(),
		Username:       user.Username,
		PasswordBcrypt: user.PasswordHash,
		Role:           string(user.Role),
		CreatedAt:      stamp(time.Now()),
	}
	if _, err := u.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return auth.User{}, fmt.Errorf("%s: %w", op, auth.ErrUserExists)
		}
		return auth.User{}, fmt.Errorf("%s: %w", op, err)
	}
	user.ID = doc.ID
	return user, nil
}

func (u *Users) ByUsername(ctx context.Context, username string) (auth.User, error) {
	const op = "mongodb.Users.ByUsername"

	var doc userDoc
	err := u.coll.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return auth.User{}, fmt.Errorf("%s: %w", op, waitlist.ErrNotFound)
		}
		return auth.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return auth.User{
		ID:           doc.ID,
		Username:     doc.Username,
		PasswordHash: doc.PasswordBcrypt,
		Role:         auth.Role(doc.Role),
	}, nil
}
