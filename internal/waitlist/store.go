package waitlist

import (
	"context"
	"time"
)

// Store persists waitlist entries. Implementations must make UpdateStatus an
// atomic compare-and-set on the entry's current status and must return
// ListActive in FIFO order (CreatedAt, then ID).
type Store interface {
	// Create assigns ID and CreatedAt. Status must be QUEUED or SEATED; empty means QUEUED.
	Create(ctx context.Context, e Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	ListActive(ctx context.Context, key SlotKey) ([]Entry, error)
	// UpdateStatus returns the updated entry and the status it held before.
	UpdateStatus(ctx context.Context, id string, to Status, at time.Time) (Entry, Status, error)
	// MarkDeparted stamps DepartedAt on a SEATED entry exactly once.
	MarkDeparted(ctx context.Context, id string, at time.Time) (Entry, error)
	ListNotifiedBefore(ctx context.Context, cutoff time.Time) ([]Entry, error)
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

// Hook observes successful creations (prev == "") and status changes.
type Hook func(ctx context.Context, prev Status, e Entry)

type observed struct {
	Store
	hook Hook
}

// Observe decorates s so that hook runs after every successful write that
// changes an entry's status.
func Observe(s Store, hook Hook) Store {
	if hook == nil {
		return s
	}
	return &observed{Store: s, hook: hook}
}

func (o *observed) Create(ctx context.Context, e Entry) (Entry, error) {
	created, err := o.Store.Create(ctx, e)
	if err != nil {
		return created, err
	}
	o.hook(ctx, "", created)
	return created, nil
}

func (o *observed) UpdateStatus(ctx context.Context, id string, to Status, at time.Time) (Entry, Status, error) {
	updated, prev, err := o.Store.UpdateStatus(ctx, id, to, at)
	if err != nil {
		return updated, prev, err
	}
	o.hook(ctx, prev, updated)
	return updated, prev, nil
}

// CheckCreate validates the status a new entry is created with.
func CheckCreate(e Entry) (Status, error) {
	st := e.Status
	if st == "" {
		st = StatusQueued
	}
	if !CanTransition("", st) {
		return "", ErrInvalidTransition
	}
	return st, nil
}
