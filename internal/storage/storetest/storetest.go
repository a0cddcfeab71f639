// Package storetest holds the behaviour every storage backend must share.
// Backends call RunEntries and RunCapacity from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/availability"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

// UniqueKey returns a slot key no other test uses, so suites can share a
// database.
func UniqueKey(t *testing.T) waitlist.SlotKey {
	t.Helper()
	d := time.Date(2100+gofakeit.IntRange(0, 800), time.Month(gofakeit.IntRange(1, 12)), gofakeit.IntRange(1, 28), 0, 0, 0, 0, time.UTC)
	return waitlist.NewSlotKey(d.Format(waitlist.DateLayout), "19:00", uuid.NewString())
}

// NewEntry builds a fake party for key.
func NewEntry(key waitlist.SlotKey, guests int) waitlist.Entry {
	return waitlist.Entry{
		PartyName:     gofakeit.Name(),
		Contact:       gofakeit.Email(),
		RequestedDate: key.Date,
		TimeSlot:      key.TimeSlot,
		Section:       key.Section,
		Guests:        guests,
	}
}

func RunEntries(t *testing.T, newStore func(t *testing.T) waitlist.Store) {
	t.Run("CreateAssignsIdentity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := UniqueKey(t)

		in := NewEntry(key, 2)
		e, err := s.Create(ctx, in)
		require.NoError(t, err)
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, waitlist.StatusQueued, e.Status)
		assert.False(t, e.CreatedAt.IsZero())
		assert.Nil(t, e.NotifiedAt)
		assert.Equal(t, in.PartyName, e.PartyName)
		assert.Equal(t, in.Contact, e.Contact)
		assert.Equal(t, key, e.Slot())

		got, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, e.PartyName, got.PartyName)
		assert.Equal(t, e.Contact, got.Contact)
		assert.Equal(t, 2, got.Guests)
		assert.WithinDuration(t, e.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("CreateSeated", func(t *testing.T) {
		s := newStore(t)
		in := NewEntry(UniqueKey(t), 4)
		in.Status = waitlist.StatusSeated

		e, err := s.Create(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, waitlist.StatusSeated, e.Status)
	})

	t.Run("CreateRejectsLaterStatuses", func(t *testing.T) {
		s := newStore(t)
		for _, st := range []waitlist.Status{waitlist.StatusNotified, waitlist.StatusCancelled, waitlist.StatusExpired} {
			in := NewEntry(UniqueKey(t), 1)
			in.Status = st
			_, err := s.Create(context.Background(), in)
			assert.ErrorIs(t, err, waitlist.ErrInvalidTransition, st)
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, waitlist.ErrNotFound)
	})

	t.Run("ListActiveIsFIFO", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := UniqueKey(t)
		other := UniqueKey(t)

		var want []string
		for i := 0; i < 5; i++ {
			e, err := s.Create(ctx, NewEntry(key, i+1))
			require.NoError(t, err)
			want = append(want, e.ID)
		}
		_, err := s.Create(ctx, NewEntry(other, 1))
		require.NoError(t, err)

		seated := NewEntry(key, 1)
		seated.Status = waitlist.StatusSeated
		_, err = s.Create(ctx, seated)
		require.NoError(t, err)

		// notified entries stay active, cancelled ones leave the list
		_, _, err = s.UpdateStatus(ctx, want[1], waitlist.StatusNotified, time.Now())
		require.NoError(t, err)
		_, _, err = s.UpdateStatus(ctx, want[3], waitlist.StatusCancelled, time.Now())
		require.NoError(t, err)

		got, err := s.ListActive(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []string{want[0], want[1], want[2], want[4]}, ids(got))

		again, err := s.ListActive(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, ids(got), ids(again))

		empty, err := s.ListActive(ctx, UniqueKey(t))
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("UpdateStatusFollowsStateMachine", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		e, err := s.Create(ctx, NewEntry(UniqueKey(t), 2))
		require.NoError(t, err)

		_, _, err = s.UpdateStatus(ctx, e.ID, waitlist.StatusExpired, time.Now())
		assert.ErrorIs(t, err, waitlist.ErrInvalidTransition)
		_, _, err = s.UpdateStatus(ctx, e.ID, waitlist.StatusSeated, time.Now())
		assert.ErrorIs(t, err, waitlist.ErrInvalidTransition)

		at := time.Now().UTC().Truncate(time.Millisecond)
		n, prev, err := s.UpdateStatus(ctx, e.ID, waitlist.StatusNotified, at)
		require.NoError(t, err)
		assert.Equal(t, waitlist.StatusQueued, prev)
		assert.Equal(t, waitlist.StatusNotified, n.Status)
		require.NotNil(t, n.NotifiedAt)
		assert.WithinDuration(t, at, *n.NotifiedAt, time.Millisecond)

		seated, prev, err := s.UpdateStatus(ctx, e.ID, waitlist.StatusSeated, time.Now())
		require.NoError(t, err)
		assert.Equal(t, waitlist.StatusNotified, prev)
		assert.Equal(t, waitlist.StatusSeated, seated.Status)

		for _, to := range []waitlist.Status{waitlist.StatusQueued, waitlist.StatusNotified, waitlist.StatusCancelled, waitlist.StatusExpired} {
			_, _, err = s.UpdateStatus(ctx, e.ID, to, time.Now())
			assert.ErrorIs(t, err, waitlist.ErrInvalidTransition, to)
		}

		got, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, waitlist.StatusSeated, got.Status)
	})

	t.Run("UpdateStatusUnknown", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.UpdateStatus(context.Background(), uuid.NewString(), waitlist.StatusNotified, time.Now())
		assert.ErrorIs(t, err, waitlist.ErrNotFound)
	})

	t.Run("ConcurrentTransitionsHaveOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		e, err := s.Create(ctx, NewEntry(UniqueKey(t), 2))
		require.NoError(t, err)
		_, _, err = s.UpdateStatus(ctx, e.ID, waitlist.StatusNotified, time.Now())
		require.NoError(t, err)

		targets := []waitlist.Status{waitlist.StatusSeated, waitlist.StatusCancelled, waitlist.StatusExpired}
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins []waitlist.Status
		)
		for i := 0; i < 12; i++ {
			to := targets[i%len(targets)]
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, prev, err := s.UpdateStatus(ctx, e.ID, to, time.Now())
				if err != nil {
					assert.ErrorIs(t, err, waitlist.ErrInvalidTransition)
					return
				}
				assert.Equal(t, waitlist.StatusNotified, prev)
				mu.Lock()
				wins = append(wins, to)
				mu.Unlock()
			}()
		}
		wg.Wait()

		require.Len(t, wins, 1)
		got, err := s.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, wins[0], got.Status)
	})

	t.Run("MarkDepartedOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		queued, err := s.Create(ctx, NewEntry(UniqueKey(t), 2))
		require.NoError(t, err)
		_, err = s.MarkDeparted(ctx, queued.ID, time.Now())
		assert.ErrorIs(t, err, waitlist.ErrInvalidTransition)

		in := NewEntry(UniqueKey(t), 2)
		in.Status = waitlist.StatusSeated
		seated, err := s.Create(ctx, in)
		require.NoError(t, err)

		d, err := s.MarkDeparted(ctx, seated.ID, time.Now())
		require.NoError(t, err)
		require.NotNil(t, d.DepartedAt)
		assert.Equal(t, waitlist.StatusSeated, d.Status)

		_, err = s.MarkDeparted(ctx, seated.ID, time.Now())
		assert.ErrorIs(t, err, waitlist.ErrInvalidTransition)

		_, err = s.MarkDeparted(ctx, uuid.NewString(), time.Now())
		assert.ErrorIs(t, err, waitlist.ErrNotFound)
	})

	t.Run("ListNotifiedBefore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := UniqueKey(t)
		base := time.Now().UTC().Truncate(time.Second)

		old, err := s.Create(ctx, NewEntry(key, 1))
		require.NoError(t, err)
		fresh, err := s.Create(ctx, NewEntry(key, 1))
		require.NoError(t, err)
		_, err = s.Create(ctx, NewEntry(key, 1))
		require.NoError(t, err)

		_, _, err = s.UpdateStatus(ctx, old.ID, waitlist.StatusNotified, base.Add(-time.Hour))
		require.NoError(t, err)
		_, _, err = s.UpdateStatus(ctx, fresh.ID, waitlist.StatusNotified, base)
		require.NoError(t, err)

		got, err := s.ListNotifiedBefore(ctx, base.Add(-time.Minute))
		require.NoError(t, err)
		assert.Contains(t, ids(got), old.ID)
		assert.NotContains(t, ids(got), fresh.ID)

		got, err = s.ListNotifiedBefore(ctx, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Contains(t, ids(got), old.ID)
		assert.Contains(t, ids(got), fresh.ID)
	})

	t.Run("PurgeTerminal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := UniqueKey(t)

		done, err := s.Create(ctx, NewEntry(key, 1))
		require.NoError(t, err)
		_, _, err = s.UpdateStatus(ctx, done.ID, waitlist.StatusCancelled, time.Now().Add(-2*time.Hour))
		require.NoError(t, err)
		live, err := s.Create(ctx, NewEntry(key, 1))
		require.NoError(t, err)

		n, err := s.PurgeTerminal(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		_, err = s.Get(ctx, done.ID)
		assert.ErrorIs(t, err, waitlist.ErrNotFound)
		_, err = s.Get(ctx, live.ID)
		assert.NoError(t, err)
	})
}

func RunCapacity(t *testing.T, newStore func(t *testing.T) availability.CapacityStore) {
	t.Run("UnconfiguredSlotHasNoSeats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := UniqueKey(t)

		slot, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, slot.Key)
		assert.Zero(t, slot.TotalSeats)
		assert.Zero(t, slot.ReservedSeats)

		ok, err := s.Reserve(ctx, key, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Release(ctx, key, 3))
	})

	t.Run("ReserveAndRelease", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := UniqueKey(t)

		slot, err := s.SetTotal(ctx, key, 4)
		require.NoError(t, err)
		assert.Equal(t, 4, slot.TotalSeats)

		ok, err := s.Reserve(ctx, key, 3)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.Reserve(ctx, key, 2)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = s.Reserve(ctx, key, 1)
		require.NoError(t, err)
		assert.True(t, ok)

		slot, err = s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 4, slot.ReservedSeats)
		assert.Zero(t, slot.FreeSeats())

		require.NoError(t, s.Release(ctx, key, 2))
		slot, err = s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 2, slot.FreeSeats())

		require.NoError(t, s.Release(ctx, key, 10))
		slot, err = s.Get(ctx, key)
		require.NoError(t, err)
		assert.Zero(t, slot.ReservedSeats)
	})

	t.Run("SetTotalBelowReserved", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := UniqueKey(t)

		_, err := s.SetTotal(ctx, key, 6)
		require.NoError(t, err)
		ok, err := s.Reserve(ctx, key, 5)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = s.SetTotal(ctx, key, 4)
		assert.ErrorIs(t, err, waitlist.ErrValidation)

		slot, err := s.SetTotal(ctx, key, 5)
		require.NoError(t, err)
		assert.Equal(t, 5, slot.TotalSeats)
		assert.Equal(t, 5, slot.ReservedSeats)
	})

	t.Run("ConcurrentReservationsNeverOverbook", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := UniqueKey(t)
		const total = 10

		_, err := s.SetTotal(ctx, key, total)
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			reserved int
		)
		for i := 0; i < 40; i++ {
			guests := i%3 + 1
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.Reserve(ctx, key, guests)
				if !assert.NoError(t, err) || !ok {
					return
				}
				mu.Lock()
				reserved += guests
				mu.Unlock()
			}()
		}
		wg.Wait()

		slot, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.LessOrEqual(t, slot.ReservedSeats, slot.TotalSeats)
		assert.Equal(t, reserved, slot.ReservedSeats)
	})

	t.Run("ListByDate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := UniqueKey(t)
		later := waitlist.NewSlotKey(key.Date, "21:30", key.Section)

		_, err := s.SetTotal(ctx, later, 8)
		require.NoError(t, err)
		_, err = s.SetTotal(ctx, key, 4)
		require.NoError(t, err)

		slots, err := s.ListByDate(ctx, key.Date)
		require.NoError(t, err)

		var mine []string
		for _, sl := range slots {
			if sl.Key.Section == key.Section {
				mine = append(mine, fmt.Sprintf("%s=%d", sl.Key.TimeSlot, sl.TotalSeats))
			}
		}
		assert.Equal(t, []string{"19:00=4", "21:30=8"}, mine)
	})
}

func ids(es []waitlist.Entry) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}
