package storetest

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/auth"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

func RunUsers(t *testing.T, newStore func(t *testing.T) auth.Users) {
	t.Run("InsertAndLookup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		name := gofakeit.Username() + "-" + uuid.NewString()[:8]

		u, err := s.Insert(ctx, auth.User{Username: name, PasswordHash: "hash", Role: auth.RoleAdmin})
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)

		got, err := s.ByUsername(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "hash", got.PasswordHash)
		assert.Equal(t, auth.RoleAdmin, got.Role)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		name := "dup-" + uuid.NewString()

		_, err := s.Insert(ctx, auth.User{Username: name, PasswordHash: "a", Role: auth.RoleStaff})
		require.NoError(t, err)
		_, err = s.Insert(ctx, auth.User{Username: name, PasswordHash: "b", Role: auth.RoleStaff})
		assert.ErrorIs(t, err, auth.ErrUserExists)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ByUsername(context.Background(), "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, waitlist.ErrNotFound)
	})
}
