package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/availability"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lock"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/metrics"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const (
	DefaultNotifyExpiry = 10 * time.Minute

	timerTimeout = 10 * time.Second
)

// Publisher is the part of the notification bus the service needs.
type Publisher interface {
	Publish(topic string, ev waitlist.StatusEvent)
}

type Options struct {
	// NotifyExpiry is how long a notified party has to be seated.
	NotifyExpiry time.Duration
	Now          func() time.Time
}

// Waitlist runs the entry lifecycle. Every mutation of a slot happens under
// that slot's lock; status changes are published through the store hook.
type Waitlist struct {
	log     *slog.Logger
	store   waitlist.Store
	tracker *availability.Tracker
	locks   lock.Locker
	bus     Publisher
	metrics *metrics.Metrics
	expiry  time.Duration
	now     func() time.Time

	mu       sync.Mutex
	timers   map[string]*time.Timer
	closed   bool
	inflight sync.WaitGroup
}

func New(
	log *slog.Logger,
	store waitlist.Store,
	tracker *availability.Tracker,
	locks lock.Locker,
	bus Publisher,
	m *metrics.Metrics,
	opts Options,
) *Waitlist {
	if opts.NotifyExpiry <= 0 {
		opts.NotifyExpiry = DefaultNotifyExpiry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Waitlist{
		log:     log,
		tracker: tracker,
		locks:   locks,
		bus:     bus,
		metrics: m,
		expiry:  opts.NotifyExpiry,
		now:     opts.Now,
		timers:  make(map[string]*time.Timer),
	}
	s.store = waitlist.Observe(store, s.onStatusChanged)
	return s
}

func (s *Waitlist) onStatusChanged(_ context.Context, prev waitlist.Status, e waitlist.Entry) {
	s.metrics.Transitions.WithLabelValues(string(e.Status)).Inc()
	for _, p := range waitlist.EventsFor(prev, e, s.now().UTC()) {
		s.bus.Publish(p.Topic, p.Event)
	}
}

func (s *Waitlist) publish(topic string, t waitlist.EventType, e waitlist.Entry) {
	s.bus.Publish(topic, waitlist.StatusEvent{Type: t, Entry: e, OccurredAt: s.now().UTC()})
}

func (s *Waitlist) lockSlot(ctx context.Context, key waitlist.SlotKey) (func(), error) {
	return s.locks.Lock(ctx, "slot:"+key.String())
}

func authorize(op string, actor waitlist.Actor, entryID string) error {
	if actor.IsStaff() || actor.Owns(entryID) {
		return nil
	}
	return fmt.Errorf("%s: %w", op, waitlist.ErrUnauthorized)
}

func requireStaff(op string, actor waitlist.Actor) error {
	if actor.IsStaff() {
		return nil
	}
	return fmt.Errorf("%s: %w", op, waitlist.ErrUnauthorized)
}

// Join seats the party when the slot has room and queues it otherwise.
func (s *Waitlist) Join(ctx context.Context, req waitlist.JoinRequest) (waitlist.Entry, error) {
	const op = "service.Join"

	req = req.Normalize()
	if err := req.Validate(); err != nil {
		s.metrics.Joins.WithLabelValues("rejected").Inc()
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	key := req.Slot()
	log := s.log.With(slog.String("op", op), slog.String("slot", key.String()))

	unlock, err := s.lockSlot(ctx, key)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	res, err := s.tracker.TryReserve(ctx, key, req.Guests)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	e := waitlist.Entry{
		PartyName:     req.PartyName,
		Contact:       req.Contact,
		RequestedDate: key.Date,
		TimeSlot:      key.TimeSlot,
		Section:       key.Section,
		Guests:        req.Guests,
		Status:        waitlist.StatusQueued,
	}
	if res == availability.Reserved {
		e.Status = waitlist.StatusSeated
	}

	created, err := s.store.Create(ctx, e)
	if err != nil {
		if res == availability.Reserved {
			if rerr := s.tracker.Release(context.WithoutCancel(ctx), key, req.Guests); rerr != nil {
				log.Error("failed to release reservation after create failure", sl.Err(rerr))
			}
		}
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	outcome := "queued"
	if created.Status == waitlist.StatusSeated {
		outcome = "seated"
	}
	s.metrics.Joins.WithLabelValues(outcome).Inc()
	log.Info("party joined",
		slog.String("entry_id", created.ID),
		slog.Int("guests", created.Guests),
		slog.String("status", string(created.Status)),
	)
	return created, nil
}

// Notify tells a queued party its table is ready and starts the expiry clock.
func (s *Waitlist) Notify(ctx context.Context, actor waitlist.Actor, id string) (waitlist.Entry, error) {
	const op = "service.Notify"

	if err := requireStaff(op, actor); err != nil {
		return waitlist.Entry{}, err
	}
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	unlock, err := s.lockSlot(ctx, e.Slot())
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	return s.notifyLocked(ctx, op, id)
}

// NotifyNext notifies the longest-waiting QUEUED party of the slot.
func (s *Waitlist) NotifyNext(ctx context.Context, actor waitlist.Actor, key waitlist.SlotKey) (waitlist.Entry, error) {
	const op = "service.NotifyNext"

	if err := requireStaff(op, actor); err != nil {
		return waitlist.Entry{}, err
	}
	if err := key.Validate(); err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	unlock, err := s.lockSlot(ctx, key)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	head, ok, err := s.head(ctx, key)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return waitlist.Entry{}, fmt.Errorf("%s: %w: no queued party for %s", op, waitlist.ErrNotFound, key)
	}
	return s.notifyLocked(ctx, op, head.ID)
}

func (s *Waitlist) notifyLocked(ctx context.Context, op, id string) (waitlist.Entry, error) {
	updated, _, err := s.store.UpdateStatus(ctx, id, waitlist.StatusNotified, s.now())
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	s.arm(updated)

	s.log.Info("party notified", slog.String("op", op), slog.String("entry_id", id))
	return updated, nil
}

// head returns the QUEUED entry with the smallest (createdAt, id).
func (s *Waitlist) head(ctx context.Context, key waitlist.SlotKey) (waitlist.Entry, bool, error) {
	active, err := s.store.ListActive(ctx, key)
	if err != nil {
		return waitlist.Entry{}, false, err
	}
	for _, e := range active {
		if e.Status == waitlist.StatusQueued {
			return e, true, nil
		}
	}
	return waitlist.Entry{}, false, nil
}

// ConfirmSeating seats a notified party.
func (s *Waitlist) ConfirmSeating(ctx context.Context, actor waitlist.Actor, id string) (waitlist.Entry, error) {
	const op = "service.ConfirmSeating"

	if err := requireStaff(op, actor); err != nil {
		return waitlist.Entry{}, err
	}
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	unlock, err := s.lockSlot(ctx, e.Slot())
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	updated, _, err := s.store.UpdateStatus(ctx, id, waitlist.StatusSeated, s.now())
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	s.disarm(id)

	s.log.Info("party seated", slog.String("op", op), slog.String("entry_id", id))
	return updated, nil
}

// Expire ends a notification that ran out. The party's seats go back to the
// slot and staff are pointed at the next queued party; nobody is promoted
// automatically.
func (s *Waitlist) Expire(ctx context.Context, id string) (waitlist.Entry, error) {
	const op = "service.Expire"

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	unlock, err := s.lockSlot(ctx, e.Slot())
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	updated, _, err := s.store.UpdateStatus(ctx, id, waitlist.StatusExpired, s.now())
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	s.disarm(id)
	s.releaseLocked(ctx, op, updated)

	s.log.Info("notification expired", slog.String("op", op), slog.String("entry_id", id))
	return updated, nil
}

// Cancel withdraws an active entry. Staff may cancel any entry, a party only
// its own.
func (s *Waitlist) Cancel(ctx context.Context, actor waitlist.Actor, id string) (waitlist.Entry, error) {
	const op = "service.Cancel"

	if err := authorize(op, actor, id); err != nil {
		return waitlist.Entry{}, err
	}
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	unlock, err := s.lockSlot(ctx, e.Slot())
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	updated, prev, err := s.store.UpdateStatus(ctx, id, waitlist.StatusCancelled, s.now())
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	if prev == waitlist.StatusNotified {
		s.disarm(id)
		s.releaseLocked(ctx, op, updated)
	}

	s.log.Info("entry cancelled",
		slog.String("op", op),
		slog.String("entry_id", id),
		slog.String("by", string(actor.Role)),
	)
	return updated, nil
}

// Depart frees the table of a seated party. Seats are released once.
func (s *Waitlist) Depart(ctx context.Context, actor waitlist.Actor, id string) (waitlist.Entry, error) {
	const op = "service.Depart"

	if err := requireStaff(op, actor); err != nil {
		return waitlist.Entry{}, err
	}
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}

	unlock, err := s.lockSlot(ctx, e.Slot())
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	updated, err := s.store.MarkDeparted(ctx, id, s.now())
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.Transitions.WithLabelValues("DEPARTED").Inc()
	s.publish(waitlist.StaffTopic(updated.Slot()), waitlist.EventEntryDeparted, updated)
	s.publish(waitlist.PartyTopic(updated.ID), waitlist.EventEntryDeparted, updated)
	s.releaseLocked(ctx, op, updated)

	s.log.Info("party departed", slog.String("op", op), slog.String("entry_id", id))
	return updated, nil
}

// releaseLocked returns e's seats and announces the new queue head. The
// caller holds the slot lock.
func (s *Waitlist) releaseLocked(ctx context.Context, op string, e waitlist.Entry) {
	log := s.log.With(slog.String("op", op), slog.String("entry_id", e.ID))
	ctx = context.WithoutCancel(ctx)

	if err := s.tracker.Release(ctx, e.Slot(), e.Guests); err != nil {
		log.Error("failed to release seats", sl.Err(err))
	}

	head, ok, err := s.head(ctx, e.Slot())
	if err != nil {
		log.Warn("failed to read queue head", sl.Err(err))
		return
	}
	if ok {
		s.publish(waitlist.StaffTopic(e.Slot()), waitlist.EventQueueHead, head)
	}
}

func (s *Waitlist) Get(ctx context.Context, actor waitlist.Actor, id string) (waitlist.Entry, error) {
	const op = "service.Get"

	if err := authorize(op, actor, id); err != nil {
		return waitlist.Entry{}, err
	}
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return waitlist.Entry{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (s *Waitlist) ListActive(ctx context.Context, actor waitlist.Actor, key waitlist.SlotKey) ([]waitlist.Entry, error) {
	const op = "service.ListActive"

	if err := requireStaff(op, actor); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := s.store.ListActive(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// Recover re-arms expiry timers for parties notified before a restart.
// Notifications already past their deadline expire right away.
func (s *Waitlist) Recover(ctx context.Context) error {
	const op = "service.Recover"
	log := s.log.With(slog.String("op", op))

	now := s.now()
	notified, err := s.store.ListNotifiedBefore(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var armed, expired int
	for _, e := range notified {
		deadline, ok := e.ExpiresAt(s.expiry)
		if !ok {
			continue
		}
		if deadline.After(now) {
			s.arm(e)
			armed++
			continue
		}
		if _, err := s.Expire(ctx, e.ID); err != nil && !ignorable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		expired++
	}

	log.Info("expiry timers recovered", slog.Int("armed", armed), slog.Int("expired", expired))
	return nil
}

// ExpireOverdue expires every notification older than the expiry window.
// It backs up the in-process timers, which do not survive a crash and only
// exist on the instance that sent the notification.
func (s *Waitlist) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	const op = "service.ExpireOverdue"

	overdue, err := s.store.ListNotifiedBefore(ctx, now.Add(-s.expiry))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var n int
	for _, e := range overdue {
		if err := ctx.Err(); err != nil {
			return n, fmt.Errorf("%s: %w", op, err)
		}
		if _, err := s.Expire(ctx, e.ID); err != nil {
			if ignorable(err) {
				continue
			}
			return n, fmt.Errorf("%s: %w", op, err)
		}
		n++
	}
	return n, nil
}

// PurgeTerminal deletes finished entries last changed before cutoff.
func (s *Waitlist) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	const op = "service.PurgeTerminal"

	n, err := s.store.PurgeTerminal(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// ignorable reports errors that mean someone else already moved the entry on.
func ignorable(err error) bool {
	return errors.Is(err, waitlist.ErrInvalidTransition) || errors.Is(err, waitlist.ErrNotFound)
}

func (s *Waitlist) arm(e waitlist.Entry) {
	deadline, ok := e.ExpiresAt(s.expiry)
	if !ok {
		return
	}
	d := deadline.Sub(s.now())
	if d < 0 {
		d = 0
	}
	id := e.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(d, func() { s.fire(id) })
}

func (s *Waitlist) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Armed reports how many expiry timers are pending.
func (s *Waitlist) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Waitlist) fire(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), timerTimeout)
	defer cancel()

	if _, err := s.Expire(ctx, id); err != nil {
		// the timer has fired either way; the sweeper retries failed expiries
		s.disarm(id)
		if ignorable(err) {
			// late timer: the party was seated or cancelled meanwhile
			return
		}
		s.log.Error("expiry timer failed", slog.String("entry_id", id), sl.Err(err))
	}
}

// Close stops all timers and waits for expiries already running.
func (s *Waitlist) Close() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.inflight.Wait()
}
