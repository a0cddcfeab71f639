package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/metrics"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

const (
	DefaultBuffer    = 32
	DefaultSinkQueue = 256

	sinkTimeout = 5 * time.Second
)

// Sink receives every publication after local delivery. Implementations export
// events to other processes.
type Sink interface {
	Name() string
	Send(ctx context.Context, p waitlist.Publication) error
	Close() error
}

type Options struct {
	// Buffer is the per-subscriber queue length.
	Buffer int
	// SinkQueue bounds the events waiting for the sinks.
	SinkQueue int
	Sinks     []Sink
}

// Bus fans events out to topic subscribers. Publish never blocks: a
// subscriber whose buffer is full is disconnected, and a full sink queue
// drops the event for the sinks only.
type Bus struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	buffer  int

	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	closed bool

	sinks []Sink
	queue chan waitlist.Publication
	wg    sync.WaitGroup
}

func New(log *slog.Logger, m *metrics.Metrics, opts Options) *Bus {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.SinkQueue <= 0 {
		opts.SinkQueue = DefaultSinkQueue
	}

	b := &Bus{
		log:     log.With(slog.String("component", "notify.Bus")),
		metrics: m,
		buffer:  opts.Buffer,
		topics:  make(map[string]map[*Subscription]struct{}),
		sinks:   opts.Sinks,
	}
	if len(b.sinks) > 0 {
		b.queue = make(chan waitlist.Publication, opts.SinkQueue)
		b.wg.Add(1)
		go b.forward()
	}
	return b
}

// Subscribe registers interest in topics. Events published before the call
// are not replayed.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	s := &Subscription{
		bus:    b,
		topics: topics,
		ch:     make(chan waitlist.Publication, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	for _, t := range topics {
		subs, ok := b.topics[t]
		if !ok {
			subs = make(map[*Subscription]struct{})
			b.topics[t] = subs
		}
		subs[s] = struct{}{}
	}
	b.metrics.BusSubscribers.Inc()
	return s
}

// Publish delivers ev to the topic's current subscribers and queues it for the sinks.
func (b *Bus) Publish(topic string, ev waitlist.StatusEvent) {
	p := waitlist.Publication{Topic: topic, Event: ev}
	if !b.deliver(p) {
		return
	}
	b.metrics.BusPublished.Inc()

	if b.queue == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- p:
	default:
		b.metrics.BusDropped.WithLabelValues("sink_queue_full").Inc()
		b.log.Warn("sink queue full, event not exported", slog.String("topic", topic), slog.String("type", string(ev.Type)))
	}
}

// Deliver hands p to local subscribers only. Relays use it for events that
// were already exported by another instance.
func (b *Bus) Deliver(p waitlist.Publication) {
	b.deliver(p)
}

func (b *Bus) deliver(p waitlist.Publication) bool {
	var slow []*Subscription

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return false
	}
	for s := range b.topics[p.Topic] {
		select {
		case s.ch <- p:
		default:
			slow = append(slow, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range slow {
		s.overflowed.Store(true)
		b.metrics.BusDropped.WithLabelValues("slow_subscriber").Inc()
		b.log.Warn("disconnecting slow subscriber", slog.String("topic", p.Topic))
		s.Close()
	}
	return true
}

func (b *Bus) forward() {
	defer b.wg.Done()
	for p := range b.queue {
		for _, sink := range b.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			err := sink.Send(ctx, p)
			cancel()
			if err != nil {
				b.metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
				b.log.Warn("sink send failed",
					slog.String("sink", sink.Name()),
					slog.String("topic", p.Topic),
					sl.Err(err),
				)
			}
		}
	}
}

// Close ends every subscription, drains the sink queue and closes the sinks.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true

	open := make(map[*Subscription]struct{})
	for _, subs := range b.topics {
		for s := range subs {
			open[s] = struct{}{}
		}
	}
	b.topics = make(map[string]map[*Subscription]struct{})
	for s := range open {
		s.once.Do(func() { close(s.ch) })
		b.metrics.BusSubscribers.Dec()
	}
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil {
			b.log.Warn("sink close failed", slog.String("sink", sink.Name()), sl.Err(err))
		}
	}
}

// Subscription is one subscriber's stream. The channel is closed when the
// subscriber unsubscribes, falls behind, or the bus shuts down.
type Subscription struct {
	bus        *Bus
	topics     []string
	ch         chan waitlist.Publication
	once       sync.Once
	overflowed atomic.Bool
}

func (s *Subscription) Events() <-chan waitlist.Publication {
	return s.ch
}

func (s *Subscription) Topics() []string {
	return s.topics
}

// Overflowed reports whether the bus dropped this subscriber for being slow.
func (s *Subscription) Overflowed() bool {
	return s.overflowed.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	s.once.Do(func() {
		for _, t := range s.topics {
			if subs, ok := b.topics[t]; ok {
				delete(subs, s)
				if len(subs) == 0 {
					delete(b.topics, t)
				}
			}
		}
		close(s.ch)
		b.metrics.BusSubscribers.Dec()
	})
}
