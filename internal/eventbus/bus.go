// Package eventbus is an in-process publish/subscribe hub with typed topics.
//
// Delivery never blocks the publisher: every subscription has its own
// buffered channel and an event is dropped for a subscriber whose buffer is
// full.
package eventbus

import (
	"sync"

	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/metrics"
	"github.com/sirupsen/logrus"
)

const DefaultBuffer = 64

// Topic names a stream of events of type T.
type Topic[T any] struct {
	name string
}

func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

func (t Topic[T]) Name() string {
	return t.name
}

// TopicTransactionNew carries every relevant transaction after it is cached.
var TopicTransactionNew = NewTopic[*types.NormalizedTransaction]("transaction.new")

type subscriber struct {
	deliver func(event any) bool
	close   func()
}

type Bus struct {
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
	closed bool
}

func New(logger logrus.FieldLogger, m *metrics.Metrics) *Bus {
	return &Bus{
		log:     logger.WithField("component", "eventbus"),
		metrics: m,
		subs:    make(map[string]map[uint64]*subscriber),
	}
}

// Subscription is a live registration on a topic. Events arrive on C, which
// is closed by Unsubscribe or by closing the bus.
type Subscription[T any] struct {
	C <-chan T

	bus   *Bus
	topic string
	id    uint64
}

// Subscribe registers on topic with a channel of the given buffer size
// (DefaultBuffer when buffer <= 0).
func Subscribe[T any](b *Bus, topic Topic[T], buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan T, buffer)
	sub := &subscriber{
		deliver: func(event any) bool {
			select {
			case ch <- event.(T):
				return true
			default:
				return false
			}
		},
		close: func() { close(ch) },
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return &Subscription[T]{C: ch, bus: b, topic: topic.name}
	}
	b.nextID++
	id := b.nextID
	if b.subs[topic.name] == nil {
		b.subs[topic.name] = make(map[uint64]*subscriber)
	}
	b.subs[topic.name][id] = sub
	return &Subscription[T]{C: ch, bus: b, topic: topic.name, id: id}
}

// Unsubscribe removes the subscription and closes C. It is idempotent.
func (s *Subscription[T]) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[s.topic]
	sub, ok := subs[s.id]
	if !ok {
		return
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(b.subs, s.topic)
	}
	sub.close()
}

// Publish delivers event to every current subscriber of topic and returns
// how many received it.
func Publish[T any](b *Bus, topic Topic[T], event T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs[topic.name] {
		if sub.deliver(event) {
			delivered++
			continue
		}
		b.metrics.BusDropped(topic.name)
		b.log.WithField("topic", topic.name).Warn("Subscriber buffer full, event dropped")
	}
	return delivered
}

// Subscribers returns the number of live subscriptions on a topic name.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close unsubscribes everyone. Later subscriptions are born closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
		delete(b.subs, topic)
	}
}
