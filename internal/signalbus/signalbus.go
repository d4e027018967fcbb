// The signalbus package fans change events out to the subscriptions
// interested in a named topic. Unlike a plain condition signal, each
// subscription keeps an ordered queue of the events published since it was
// created, so subscribers see every delta in arrival order.
package signalbus

import (
	"sync"

	"github.com/gridport-io/gridport/internal/models"
)

type SignalBus interface {
	// Publish delivers the event to every subscription of the given topic.
	Publish(topic string, event models.ChangeEvent)
	// Subscribe creates a subscription for the named topic.
	Subscribe(topic string) *Subscription
	// ResyncAll queues a resync event on every subscription of every topic.
	// Called after the clustered transport reconnects: events may have been
	// lost, so subscribers must refetch instead of relying on deltas.
	ResyncAll()
}

var _ SignalBus = &signalBus{} // type check the interface is implemented.

type signalBus struct {
	sync.RWMutex
	topics map[string][]*Subscription
}

// NewSignalBus creates a new in-memory signalBus
func NewSignalBus() SignalBus {
	return &signalBus{
		topics: make(map[string][]*Subscription),
	}
}

func (sb *signalBus) Publish(topic string, event models.ChangeEvent) {
	var result []*Subscription
	sb.RLock()
	result = sb.topics[topic]
	sb.RUnlock()

	for _, sub := range result {
		sub.push(event)
	}
}

func (sb *signalBus) ResyncAll() {
	var result []*Subscription
	sb.RLock()
	for _, subs := range sb.topics {
		result = append(result, subs...)
	}
	sb.RUnlock()

	for _, sub := range result {
		sub.push(models.ChangeEvent{Type: models.ChangeResync})
	}
}

// Subscribe creates a subscription for the named topic
func (sb *signalBus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		sb:    sb,
		topic: topic,
		c:     make(chan struct{}, 1),
	}

	sb.Lock()
	subs := sb.topics[topic]
	sb.topics[topic] = append(subs, sub)
	sb.Unlock()
	return sub
}

func (sb *signalBus) close(sub *Subscription) {
	sb.Lock()
	subs := sb.topics[sub.topic]
	for i, s := range subs {
		if s == sub {
			// replace it with the last item..
			lastIdx := len(subs) - 1
			if lastIdx != 0 {
				subs[i] = subs[lastIdx]
				// then shrink the slice...
				subs = subs[:lastIdx]
				sb.topics[sub.topic] = subs
			} else {
				delete(sb.topics, sub.topic)
			}
		}
	}
	sb.Unlock()
}

type Subscription struct {
	sb        *signalBus
	topic     string
	closeOnce sync.Once

	mu    sync.Mutex
	queue []models.ChangeEvent
	c     chan struct{}
}

func (sub *Subscription) push(event models.ChangeEvent) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, event)
	sub.mu.Unlock()
	select {
	case sub.c <- struct{}{}:
	default:
	}
}

// Signal returns a channel that receives a message when events are queued on
// the subscription.
//
// Signal is provided for use in select statements:
//
//	sub := bus.Subscribe("table:iot_devices")
//	defer sub.Close()
//	for {
//		select {
//		case <-sub.Signal():
//			for {
//				ev, ok := sub.Next()
//				if !ok {
//					break
//				}
//				apply(ev)
//			}
//		}
//	}
func (sub *Subscription) Signal() <-chan struct{} {
	return sub.c
}

// Next pops the oldest queued event. The second return value is false when
// the queue is empty.
func (sub *Subscription) Next() (models.ChangeEvent, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.queue) == 0 {
		return models.ChangeEvent{}, false
	}
	ev := sub.queue[0]
	sub.queue = sub.queue[1:]
	return ev, true
}

// Pending reports how many events are queued.
func (sub *Subscription) Pending() int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.queue)
}

// Close is used to close out the subscription. It is safe to call multiple
// times and must complete before a replacement subscription is created, so
// that a table switch never double-delivers.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		sub.sb.close(sub)
	})
}
