package sealed

import (
	"context"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/storage/memory"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/storage/storetest"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

func TestConformance(t *testing.T) {
	storetest.RunEntries(t, func(t *testing.T) waitlist.Store {
		s, err := New(memory.NewEntries(), newKey(t))
		require.NoError(t, err)
		return s
	})
}

func TestContactIsSealedAtRest(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewEntries()
	s, err := New(inner, newKey(t))
	require.NoError(t, err)

	contact := gofakeit.Email()
	e := storetest.NewEntry(waitlist.NewSlotKey("2024-08-15", "19:00", ""), 2)
	e.Contact = contact

	created, err := s.Create(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, contact, created.Contact)

	raw, err := inner.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw.Contact, prefix))
	assert.NotContains(t, raw.Contact, contact)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, contact, got.Contact)

	n, _, err := s.UpdateStatus(ctx, created.ID, waitlist.StatusNotified, time.Now())
	require.NoError(t, err)
	assert.Equal(t, contact, n.Contact)
}

func TestPlaintextRowsPassThrough(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewEntries()
	legacy, err := inner.Create(ctx, storetest.NewEntry(waitlist.NewSlotKey("2024-08-15", "19:00", ""), 1))
	require.NoError(t, err)

	s, err := New(inner, newKey(t))
	require.NoError(t, err)
	got, err := s.Get(ctx, legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, legacy.Contact, got.Contact)
}

func TestWrongKeyFails(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewEntries()
	a, err := New(inner, newKey(t))
	require.NoError(t, err)
	b, err := New(inner, newKey(t))
	require.NoError(t, err)

	created, err := a.Create(ctx, storetest.NewEntry(waitlist.NewSlotKey("2024-08-15", "19:00", ""), 1))
	require.NoError(t, err)

	_, err = b.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrCiphertext)
}

func TestBadKeyLength(t *testing.T) {
	_, err := New(memory.NewEntries(), []byte("short"))
	assert.Error(t, err)
}
