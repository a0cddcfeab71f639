package postgres

import (
	"context"
	"fmt"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/db"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const slotColumns = `requested_date, time_slot, section, total_seats, reserved_seats, updated_at`

// Capacity keeps the seat ledger in capacity_slots. Each method is a single
// statement, so row locking keeps it atomic per key.
type Capacity struct {
	db *db.DB
}

func NewCapacity(d *db.DB) *Capacity {
	return &Capacity{db: d}
}

func scanSlot(row db.Row) (waitlist.CapacitySlot, error) {
	var c waitlist.CapacitySlot
	err := row.Scan(&c.Key.Date, &c.Key.TimeSlot, &c.Key.Section, &c.TotalSeats, &c.ReservedSeats, &c.UpdatedAt)
	return c, err
}

func (c *Capacity) Reserve(ctx context.Context, key waitlist.SlotKey, guests int) (bool, error) {
	const op = "postgres.Capacity.Reserve"

	n, err := c.db.ExecRows(ctx, `UPDATE capacity_slots
		SET reserved_seats = reserved_seats + $4, updated_at = now()
		WHERE requested_date=$1 AND time_slot=$2 AND section=$3
			AND total_seats - reserved_seats >= $4`,
		key.Date, key.TimeSlot, key.Section, guests)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

func (c *Capacity) Release(ctx context.Context, key waitlist.SlotKey, guests int) error {
	const op = "postgres.Capacity.Release"

	err := c.db.Exec(ctx, `UPDATE capacity_slots
		SET reserved_seats = GREATEST(reserved_seats - $4, 0), updated_at = now()
		WHERE requested_date=$1 AND time_slot=$2 AND section=$3`,
		key.Date, key.TimeSlot, key.Section, guests)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Capacity) Get(ctx context.Context, key waitlist.SlotKey) (waitlist.CapacitySlot, error) {
	const op = "postgres.Capacity.Get"

	slot, err := scanSlot(c.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM capacity_slots
		WHERE requested_date=$1 AND time_slot=$2 AND section=$3`, key.Date, key.TimeSlot, key.Section))
	if db.IsNotFound(err) {
		return waitlist.CapacitySlot{Key: key}, nil
	}
	if err != nil {
		return waitlist.CapacitySlot{}, fmt.Errorf("%s: %w", op, err)
	}
	return slot, nil
}

func (c *Capacity) SetTotal(ctx context.Context, key waitlist.SlotKey, total int) (waitlist.CapacitySlot, error) {
	const op = "postgres.Capacity.SetTotal"

	slot, err := scanSlot(c.db.QueryRow(ctx, `INSERT INTO capacity_slots(requested_date, time_slot, section, total_seats, reserved_seats, updated_at)
		VALUES ($1,$2,$3,$4,0,now())
		ON CONFLICT (requested_date, time_slot, section) DO UPDATE
			SET total_seats = EXCLUDED.total_seats, updated_at = EXCLUDED.updated_at
			WHERE capacity_slots.reserved_seats <= EXCLUDED.total_seats
		RETURNING `+slotColumns, key.Date, key.TimeSlot, key.Section, total))
	if err == nil {
		return slot, nil
	}
	if !db.IsNotFound(err) {
		return waitlist.CapacitySlot{}, fmt.Errorf("%s: %w", op, err)
	}

	cur, err := c.Get(ctx, key)
	if err != nil {
		return waitlist.CapacitySlot{}, fmt.Errorf("%s: %w", op, err)
	}
	return cur, fmt.Errorf("%s: %w: %d seats already reserved", op, waitlist.ErrValidation, cur.ReservedSeats)
}

func (c *Capacity) ListByDate(ctx context.Context, date string) ([]waitlist.CapacitySlot, error) {
	const op = "postgres.Capacity.ListByDate"

	rows, err := c.db.Query(ctx, `SELECT `+slotColumns+` FROM capacity_slots
		WHERE requested_date=$1 ORDER BY time_slot, section`, date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []waitlist.CapacitySlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
