package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

// Entries is an in-process waitlist.Store. One mutex covers the whole map, so
// every status change is a compare-and-set.
type Entries struct {
	mu      sync.Mutex
	entries map[string]waitlist.Entry
	now     func() time.Time
}

type Option func(*Entries)

// WithClock overrides the clock used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Entries) { s.now = now }
}

func NewEntries(opts ...Option) *Entries {
	s := &Entries{
		entries: make(map[string]waitlist.Entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Entries) Create(_ context.Context, e waitlist.Entry) (waitlist.Entry, error) {
	const op = "memory.Entries.Create"

	st, err := waitlist.CheckCreate(e)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	e.ID = id.String()
	e.Status = st
	e.CreatedAt = now
	e.UpdatedAt = now
	e.NotifiedAt = nil
	e.DepartedAt = nil

	s.mu.Lock()
	s.entries[e.ID] = e
	s.mu.Unlock()

	return clone(e), nil
}

func (s *Entries) Get(_ context.Context, id string) (waitlist.Entry, error) {
	const op = "memory.Entries.Get"

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, waitlist.ErrNotFound)
	}
	return clone(e), nil
}

func (s *Entries) ListActive(_ context.Context, key waitlist.SlotKey) ([]waitlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []waitlist.Entry
	for _, e := range s.entries {
		if e.Status.Active() && e.Slot() == key {
			out = append(out, clone(e))
		}
	}
	sortFIFO(out)
	return out, nil
}

func (s *Entries) UpdateStatus(_ context.Context, id string, to waitlist.Status, at time.Time) (waitlist.Entry, waitlist.Status, error) {
	const op = "memory.Entries.UpdateStatus"

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return waitlist.Entry{}, "", fmt.Errorf("%s: %w", op, waitlist.ErrNotFound)
	}
	prev := e.Status
	if !waitlist.CanTransition(prev, to) {
		return clone(e), prev, fmt.Errorf("%s: %w: %s -> %s", op, waitlist.ErrInvalidTransition, prev, to)
	}

	at = at.UTC()
	e.Status = to
	e.UpdatedAt = at
	if to == waitlist.StatusNotified {
		e.NotifiedAt = &at
	}
	s.entries[id] = e

	return clone(e), prev, nil
}

func (s *Entries) MarkDeparted(_ context.Context, id string, at time.Time) (waitlist.Entry, error) {
	const op = "memory.Entries.MarkDeparted"

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, waitlist.ErrNotFound)
	}
	if e.Status != waitlist.StatusSeated || e.DepartedAt != nil {
		return clone(e), fmt.Errorf("%s: %w: entry is %s", op, waitlist.ErrInvalidTransition, e.Status)
	}

	at = at.UTC()
	e.DepartedAt = &at
	e.UpdatedAt = at
	s.entries[id] = e

	return clone(e), nil
}

func (s *Entries) ListNotifiedBefore(_ context.Context, cutoff time.Time) ([]waitlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []waitlist.Entry
	for _, e := range s.entries {
		if e.Status == waitlist.StatusNotified && e.NotifiedAt != nil && !e.NotifiedAt.After(cutoff) {
			out = append(out, clone(e))
		}
	}
	sortFIFO(out)
	return out, nil
}

func (s *Entries) PurgeTerminal(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, e := range s.entries {
		if e.Status.Terminal() && e.UpdatedAt.Before(before) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func sortFIFO(es []waitlist.Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Less(es[j]) })
}

func clone(e waitlist.Entry) waitlist.Entry {
	if e.NotifiedAt != nil {
		t := *e.NotifiedAt
		e.NotifiedAt = &t
	}
	if e.DepartedAt != nil {
		t := *e.DepartedAt
		e.DepartedAt = &t
	}
	return e
}
