package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

// Result is the outcome of a reservation attempt. Running out of seats is
// not an error.
type Result int

const (
	Unavailable Result = iota
	Reserved
)

func (r Result) String() string {
	if r == Reserved {
		return "reserved"
	}
	return "unavailable"
}

// CapacityStore holds the seat ledger. Every method must be atomic per key.
type CapacityStore interface {
	// Reserve adds guests to reservedSeats only when enough seats are free.
	Reserve(ctx context.Context, key waitlist.SlotKey, guests int) (bool, error)
	// Release subtracts guests from reservedSeats, floored at 0.
	Release(ctx context.Context, key waitlist.SlotKey, guests int) error
	// Get returns a zero-capacity slot for keys that were never configured.
	Get(ctx context.Context, key waitlist.SlotKey) (waitlist.CapacitySlot, error)
	// SetTotal fails with waitlist.ErrValidation when total < reservedSeats.
	SetTotal(ctx context.Context, key waitlist.SlotKey, total int) (waitlist.CapacitySlot, error)
	ListByDate(ctx context.Context, date string) ([]waitlist.CapacitySlot, error)
}

type Tracker struct {
	store CapacityStore
}

func New(store CapacityStore) *Tracker {
	return &Tracker{store: store}
}

func (t *Tracker) TryReserve(ctx context.Context, key waitlist.SlotKey, guests int) (Result, error) {
	const op = "availability.TryReserve"

	if guests <= 0 {
		return Unavailable, fmt.Errorf("%s: %w: guests must be positive", op, waitlist.ErrValidation)
	}
	ok, err := t.store.Reserve(ctx, key, guests)
	if err != nil {
		return Unavailable, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return Unavailable, nil
	}
	return Reserved, nil
}

func (t *Tracker) Release(ctx context.Context, key waitlist.SlotKey, guests int) error {
	const op = "availability.Release"

	if guests <= 0 {
		return nil
	}
	if err := t.store.Release(ctx, key, guests); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *Tracker) FreeSeats(ctx context.Context, key waitlist.SlotKey) (int, error) {
	slot, err := t.Slot(ctx, key)
	if err != nil {
		return 0, err
	}
	return slot.FreeSeats(), nil
}

func (t *Tracker) Slot(ctx context.Context, key waitlist.SlotKey) (waitlist.CapacitySlot, error) {
	const op = "availability.Slot"

	if err := key.Validate(); err != nil {
		return waitlist.CapacitySlot{}, fmt.Errorf("%s: %w", op, err)
	}
	slot, err := t.store.Get(ctx, key)
	if err != nil {
		return waitlist.CapacitySlot{}, fmt.Errorf("%s: %w", op, err)
	}
	return slot, nil
}

// Configure sets the total seats of a slot. Lowering it below the seats
// already reserved is rejected.
func (t *Tracker) Configure(ctx context.Context, key waitlist.SlotKey, totalSeats int) (waitlist.CapacitySlot, error) {
	const op = "availability.Configure"

	if err := key.Validate(); err != nil {
		return waitlist.CapacitySlot{}, fmt.Errorf("%s: %w", op, err)
	}
	if totalSeats < 0 {
		return waitlist.CapacitySlot{}, fmt.Errorf("%s: %w: totalSeats must not be negative", op, waitlist.ErrValidation)
	}
	slot, err := t.store.SetTotal(ctx, key, totalSeats)
	if err != nil {
		return waitlist.CapacitySlot{}, fmt.Errorf("%s: %w", op, err)
	}
	return slot, nil
}

func (t *Tracker) List(ctx context.Context, date string) ([]waitlist.CapacitySlot, error) {
	const op = "availability.List"

	if _, err := time.Parse(waitlist.DateLayout, date); err != nil {
		return nil, fmt.Errorf("%s: %w: date must be YYYY-MM-DD", op, waitlist.ErrValidation)
	}
	slots, err := t.store.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return slots, nil
}
