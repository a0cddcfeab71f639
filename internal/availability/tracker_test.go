package availability_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/availability"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/storage/memory"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

var key = waitlist.NewSlotKey("2024-08-15", "19:00", "")

func TestTryReserve(t *testing.T) {
	ctx := context.Background()
	tr := availability.New(memory.NewCapacity())

	res, err := tr.TryReserve(ctx, key, 2)
	require.NoError(t, err)
	assert.Equal(t, availability.Unavailable, res, "unconfigured slot has no seats")

	_, err = tr.Configure(ctx, key, 4)
	require.NoError(t, err)

	res, err = tr.TryReserve(ctx, key, 4)
	require.NoError(t, err)
	assert.Equal(t, availability.Reserved, res)

	res, err = tr.TryReserve(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, availability.Unavailable, res)

	free, err := tr.FreeSeats(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, free)

	_, err = tr.TryReserve(ctx, key, 0)
	assert.ErrorIs(t, err, waitlist.ErrValidation)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	tr := availability.New(memory.NewCapacity())

	_, err := tr.Configure(ctx, key, 4)
	require.NoError(t, err)
	_, err = tr.TryReserve(ctx, key, 2)
	require.NoError(t, err)

	require.NoError(t, tr.Release(ctx, key, 2))
	free, err := tr.FreeSeats(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 4, free)

	require.NoError(t, tr.Release(ctx, key, 3))
	slot, err := tr.Slot(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, slot.ReservedSeats)
	assert.Equal(t, 4, slot.FreeSeats())
}

func TestConfigureValidates(t *testing.T) {
	ctx := context.Background()
	tr := availability.New(memory.NewCapacity())

	_, err := tr.Configure(ctx, waitlist.NewSlotKey("15/08/2024", "19:00", ""), 4)
	assert.ErrorIs(t, err, waitlist.ErrValidation)
	_, err = tr.Configure(ctx, key, -1)
	assert.ErrorIs(t, err, waitlist.ErrValidation)
	_, err = tr.Configure(ctx, waitlist.NewSlotKey("2024-08-15", "19:00", "patio|left"), 4)
	assert.ErrorIs(t, err, waitlist.ErrValidation)

	_, err = tr.Configure(ctx, key, 3)
	require.NoError(t, err)
	_, err = tr.TryReserve(ctx, key, 3)
	require.NoError(t, err)
	_, err = tr.Configure(ctx, key, 2)
	assert.ErrorIs(t, err, waitlist.ErrValidation)
}

func TestConcurrentJoinsOnTwoFreeSeats(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 50; round++ {
		tr := availability.New(memory.NewCapacity())
		_, err := tr.Configure(ctx, key, 2)
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			results [2]availability.Result
		)
		for i, guests := range []int{2, 1} {
			i, guests := i, guests
			wg.Add(1)
			go func() {
				defer wg.Done()
				r, err := tr.TryReserve(ctx, key, guests)
				assert.NoError(t, err)
				results[i] = r
			}()
		}
		wg.Wait()

		slot, err := tr.Slot(ctx, key)
		require.NoError(t, err)
		assert.LessOrEqual(t, slot.ReservedSeats, slot.TotalSeats)

		switch {
		case results[0] == availability.Reserved:
			assert.Equal(t, availability.Unavailable, results[1])
			assert.Equal(t, 2, slot.ReservedSeats)
		default:
			assert.Equal(t, availability.Reserved, results[1])
			assert.Equal(t, 1, slot.ReservedSeats)
		}
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	tr := availability.New(memory.NewCapacity())

	for _, k := range []waitlist.SlotKey{
		waitlist.NewSlotKey("2024-08-15", "21:00", ""),
		waitlist.NewSlotKey("2024-08-15", "19:00", "terrace"),
		waitlist.NewSlotKey("2024-08-16", "19:00", ""),
	} {
		_, err := tr.Configure(ctx, k, 6)
		require.NoError(t, err)
	}

	slots, err := tr.List(ctx, "2024-08-15")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "19:00", slots[0].Key.TimeSlot)
	assert.Equal(t, "21:00", slots[1].Key.TimeSlot)
}
