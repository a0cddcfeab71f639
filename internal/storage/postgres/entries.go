package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/db"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const entryColumns = `id, party_name, contact, requested_date, time_slot, section, guests, status, created_at, notified_at, departed_at, updated_at`

type Entries struct {
	db *db.DB
}

func NewEntries(d *db.DB) *Entries {
	return &Entries{db: d}
}

func scanEntry(row db.Row) (waitlist.Entry, error) {
	var (
		e      waitlist.Entry
		status string
	)
	err := row.Scan(&e.ID, &e.PartyName, &e.Contact, &e.RequestedDate, &e.TimeSlot, &e.Section,
		&e.Guests, &status, &e.CreatedAt, &e.NotifiedAt, &e.DepartedAt, &e.UpdatedAt)
	if err != nil {
		return waitlist.Entry{}, err
	}
	e.Status = waitlist.Status(status)
	return e, nil
}

func collect(rows db.Rows, err error) ([]waitlist.Entry, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []waitlist.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func notFound(op string, err error) error {
	if db.IsNotFound(err) {
		return fmt.Errorf("%s: %w", op, waitlist.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Entries) Create(ctx context.Context, e waitlist.Entry) (waitlist.Entry, error) {
	const op = "postgres.Entries.Create"

	st, err := waitlist.CheckCreate(e)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	e.ID = id.String()
	e.Status = st
	e.CreatedAt, e.UpdatedAt = now, now
	e.NotifiedAt, e.DepartedAt = nil, nil

	err = s.db.Exec(ctx, `INSERT INTO waitlist_entries(`+entryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL,NULL,$9)`,
		e.ID, e.PartyName, e.Contact, e.RequestedDate, e.TimeSlot, e.Section, e.Guests, string(e.Status), now)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (s *Entries) Get(ctx context.Context, id string) (waitlist.Entry, error) {
	const op = "postgres.Entries.Get"

	e, err := scanEntry(s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM waitlist_entries WHERE id=$1`, id))
	if err != nil {
		return waitlist.Entry{}, notFound(op, err)
	}
	return e, nil
}

func (s *Entries) ListActive(ctx context.Context, key waitlist.SlotKey) ([]waitlist.Entry, error) {
	const op = "postgres.Entries.ListActive"

	out, err := collect(s.db.Query(ctx, `SELECT `+entryColumns+` FROM waitlist_entries
		WHERE requested_date=$1 AND time_slot=$2 AND section=$3 AND status IN ('QUEUED','NOTIFIED')
		ORDER BY created_at, id`, key.Date, key.TimeSlot, key.Section))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// UpdateStatus locks the row, checks the edge and writes in one transaction.
func (s *Entries) UpdateStatus(ctx context.Context, id string, to waitlist.Status, at time.Time) (waitlist.Entry, waitlist.Status, error) {
	const op = "postgres.Entries.UpdateStatus"

	var (
		updated waitlist.Entry
		prev    waitlist.Status
	)
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		cur, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM waitlist_entries WHERE id=$1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		prev = cur.Status
		if !waitlist.CanTransition(prev, to) {
			updated = cur
			return fmt.Errorf("%w: %s -> %s", waitlist.ErrInvalidTransition, prev, to)
		}

		updated, err = scanEntry(tx.QueryRow(ctx, `UPDATE waitlist_entries
			SET status=$2, updated_at=$3,
				notified_at = CASE WHEN $2='NOTIFIED' THEN $3 ELSE notified_at END
			WHERE id=$1
			RETURNING `+entryColumns, id, string(to), at.UTC()))
		return err
	})
	if err != nil {
		if errors.Is(err, waitlist.ErrInvalidTransition) {
			return updated, prev, fmt.Errorf("%s: %w", op, err)
		}
		return waitlist.Entry{}, "", notFound(op, err)
	}
	return updated, prev, nil
}

func (s *Entries) MarkDeparted(ctx context.Context, id string, at time.Time) (waitlist.Entry, error) {
	const op = "postgres.Entries.MarkDeparted"

	e, err := scanEntry(s.db.QueryRow(ctx, `UPDATE waitlist_entries
		SET departed_at=$2, updated_at=$2
		WHERE id=$1 AND status='SEATED' AND departed_at IS NULL
		RETURNING `+entryColumns, id, at.UTC()))
	if err == nil {
		return e, nil
	}
	if !db.IsNotFound(err) {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	return cur, fmt.Errorf("%s: %w: entry is %s", op, waitlist.ErrInvalidTransition, cur.Status)
}

func (s *Entries) ListNotifiedBefore(ctx context.Context, cutoff time.Time) ([]waitlist.Entry, error) {
	const op = "postgres.Entries.ListNotifiedBefore"

	out, err := collect(s.db.Query(ctx, `SELECT `+entryColumns+` FROM waitlist_entries
		WHERE status='NOTIFIED' AND notified_at <= $1
		ORDER BY created_at, id`, cutoff.UTC()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *Entries) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	const op = "postgres.Entries.PurgeTerminal"

	n, err := s.db.ExecRows(ctx, `DELETE FROM waitlist_entries
		WHERE status IN ('SEATED','CANCELLED','EXPIRED') AND updated_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
