package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/metrics"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

var slot = waitlist.NewSlotKey("2024-08-15", "19:00", "")

func event(t waitlist.EventType) waitlist.StatusEvent {
	return waitlist.StatusEvent{
		Type:       t,
		Entry:      waitlist.Entry{ID: gofakeit.UUID(), PartyName: gofakeit.Name(), Guests: 2},
		OccurredAt: time.Now(),
	}
}

func recv(t *testing.T, s *Subscription) waitlist.Publication {
	t.Helper()
	select {
	case p, ok := <-s.Events():
		require.True(t, ok, "stream ended")
		return p
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return waitlist.Publication{}
}

func assertEnded(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case _, ok := <-s.Events():
		assert.False(t, ok, "expected closed stream")
	case <-time.After(time.Second):
		t.Fatal("stream still open")
	}
}

func TestPublishReachesTopicSubscribersOnly(t *testing.T) {
	bus := New(sl.Discard(), metrics.New(), Options{})
	defer bus.Close()

	staff := bus.Subscribe(waitlist.StaffTopic(slot))
	party := bus.Subscribe(waitlist.PartyTopic("e1"))
	both := bus.Subscribe(waitlist.StaffTopic(slot), waitlist.PartyTopic("e1"))

	bus.Publish(waitlist.StaffTopic(slot), event(waitlist.EventEntryQueued))
	bus.Publish(waitlist.PartyTopic("e1"), event(waitlist.EventYouAreUp))

	assert.Equal(t, waitlist.EventEntryQueued, recv(t, staff).Event.Type)
	assert.Equal(t, waitlist.EventYouAreUp, recv(t, party).Event.Type)

	first, second := recv(t, both), recv(t, both)
	assert.Equal(t, waitlist.StaffTopic(slot), first.Topic)
	assert.Equal(t, waitlist.PartyTopic("e1"), second.Topic)

	assert.Empty(t, staff.Events())
	assert.Empty(t, party.Events())
}

func TestNoReplayAndNoListeners(t *testing.T) {
	bus := New(sl.Discard(), metrics.New(), Options{})
	defer bus.Close()

	bus.Publish("staff:nobody", event(waitlist.EventEntryQueued))

	late := bus.Subscribe("staff:nobody")
	assert.Empty(t, late.Events())

	bus.Publish("staff:nobody", event(waitlist.EventEntrySeated))
	assert.Equal(t, waitlist.EventEntrySeated, recv(t, late).Event.Type)
}

func TestFastSubscriberGetsEverythingInOrder(t *testing.T) {
	bus := New(sl.Discard(), metrics.New(), Options{Buffer: 4})
	defer bus.Close()

	sub := bus.Subscribe("t")
	const n = 500

	done := make(chan []string)
	go func() {
		var got []string
		for p := range sub.Events() {
			got = append(got, p.Event.Entry.ID)
			if len(got) == n {
				break
			}
		}
		done <- got
	}()

	var want []string
	for i := 0; i < n; i++ {
		ev := event(waitlist.EventEntryQueued)
		want = append(want, ev.Entry.ID)
		bus.Publish("t", ev)
		// give the reader a chance so the small buffer never fills
		for len(sub.Events()) == cap(sub.ch) {
			time.Sleep(time.Microsecond)
		}
	}

	select {
	case got := <-done:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not finish")
	}
	assert.False(t, sub.Overflowed())
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	m := metrics.New()
	bus := New(sl.Discard(), m, Options{Buffer: 2})
	defer bus.Close()

	slow := bus.Subscribe("t")
	fast := bus.Subscribe("t")

	for i := 0; i < 3; i++ {
		bus.Publish("t", event(waitlist.EventEntryQueued))
		recv(t, fast)
	}

	assert.True(t, slow.Overflowed())
	recv(t, slow)
	recv(t, slow)
	assertEnded(t, slow)

	assert.False(t, fast.Overflowed())
	bus.Publish("t", event(waitlist.EventEntrySeated))
	assert.Equal(t, waitlist.EventEntrySeated, recv(t, fast).Event.Type)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusDropped.WithLabelValues("slow_subscriber")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusSubscribers))
}

func TestSubscriptionClose(t *testing.T) {
	m := metrics.New()
	bus := New(sl.Discard(), m, Options{})
	defer bus.Close()

	sub := bus.Subscribe("a", "b")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusSubscribers))

	sub.Close()
	sub.Close()
	assertEnded(t, sub)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BusSubscribers))

	bus.Publish("a", event(waitlist.EventEntryQueued))

	bus.mu.RLock()
	assert.Empty(t, bus.topics)
	bus.mu.RUnlock()
}

func TestBusClose(t *testing.T) {
	bus := New(sl.Discard(), metrics.New(), Options{})

	sub := bus.Subscribe("t")
	bus.Close()
	bus.Close()
	assertEnded(t, sub)

	bus.Publish("t", event(waitlist.EventEntryQueued))
	after := bus.Subscribe("t")
	assertEnded(t, after)
	after.Close()
}

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	got    []waitlist.Publication
	closed bool
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Send(_ context.Context, p waitlist.Publication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, p)
	return r.err
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestSinksReceiveEveryPublication(t *testing.T) {
	m := metrics.New()
	ok := &recordingSink{name: "ok"}
	broken := &recordingSink{name: "broken", err: errors.New("broker down")}
	bus := New(sl.Discard(), m, Options{Sinks: []Sink{ok, broken}})

	bus.Publish(waitlist.StaffTopic(slot), event(waitlist.EventEntryQueued))
	bus.Publish(waitlist.PartyTopic("e1"), event(waitlist.EventEntryQueued))
	bus.Close()

	require.Len(t, ok.got, 2)
	assert.Equal(t, waitlist.StaffTopic(slot), ok.got[0].Topic)
	assert.Equal(t, waitlist.PartyTopic("e1"), ok.got[1].Topic)
	assert.True(t, ok.closed)
	assert.True(t, broken.closed)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("broken")))
}

func TestDeliverSkipsSinks(t *testing.T) {
	sink := &recordingSink{name: "s"}
	bus := New(sl.Discard(), metrics.New(), Options{Sinks: []Sink{sink}})

	sub := bus.Subscribe("t")
	bus.Deliver(waitlist.Publication{Topic: "t", Event: event(waitlist.EventEntrySeated)})
	recv(t, sub)
	bus.Close()

	assert.Empty(t, sink.got)
}

func TestConcurrentPublishSubscribeClose(t *testing.T) {
	bus := New(sl.Discard(), metrics.New(), Options{Buffer: 1, Sinks: []Sink{&recordingSink{name: "s"}}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				bus.Publish("t", event(waitlist.EventEntryQueued))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := bus.Subscribe("t")
				s.Close()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		bus.Close()
	}()
	wg.Wait()
}
