package stream

import (
	"sync"
)

// EventPublisher broadcasts unit events read from one input channel to any number of
// subscribers. Each subscription buffers at most one undelivered event: events that
// arrive while a subscriber still has one pending are coalesced into it. When the input
// channel is closed, every subscription channel is closed too, and subscriptions created
// afterwards start out closed.
type EventPublisher struct {
	in <-chan struct{} // the input event stream

	mutex       sync.Mutex           // guards all fields below
	subscribers []*EventSubscription // all subscribers to the input stream
	closed      bool                 // true once the input stream is closed
}

// EventSubscription manages one subscription to an EventPublisher.
type EventSubscription struct {
	events    chan struct{}   // event channel, capacity 1
	publisher *EventPublisher // the publisher subscribed to, nil once unsubscribed
}

// NewEventPublisher creates a new EventPublisher that reads from the given input
// channel until it is closed.
func NewEventPublisher(in <-chan struct{}) *EventPublisher {
	p := &EventPublisher{in: in}
	go p.read()
	return p
}

func (p *EventPublisher) read() {
	for range p.in {
		p.mutex.Lock()
		for _, s := range p.subscribers {
			select {
			case s.events <- struct{}{}:
			default:
				// The subscriber hasn't consumed the last event yet, which
				// already stands for this one.
			}
		}
		p.mutex.Unlock()
	}
	p.mutex.Lock()
	for _, s := range p.subscribers {
		close(s.events)
	}
	p.in = nil
	p.subscribers = nil
	p.closed = true
	p.mutex.Unlock()
}

// Subscribe creates a new subscription to the publisher's event stream. Only events
// read after Subscribe returns are guaranteed to be delivered.
func (p *EventPublisher) Subscribe() *EventSubscription {
	s := &EventSubscription{
		events:    make(chan struct{}, 1),
		publisher: p,
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed {
		close(s.events)
		s.publisher = nil
	} else {
		p.subscribers = append(p.subscribers, s)
	}
	return s
}

// Subscribers returns the number of live subscriptions.
func (p *EventPublisher) Subscribers() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.subscribers)
}

func (p *EventPublisher) unsubscribe(subscription *EventSubscription) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for i, s := range p.subscribers {
		if s == subscription {
			subLen := len(p.subscribers)
			copy(p.subscribers[i:subLen-1], p.subscribers[i+1:subLen])
			p.subscribers[subLen-1] = nil
			p.subscribers = p.subscribers[:subLen-1]
			return
		}
	}
}

// Chan returns a channel that receives one value per batch of published events. The
// channel is closed when the publisher's input ends.
func (s *EventSubscription) Chan() <-chan struct{} {
	return s.events
}

// Unsubscribe cancels the subscription. Events published after this method returns are
// not delivered to the subscription's channel; an event that was already pending stays
// readable. Calling Unsubscribe more than once is harmless.
func (s *EventSubscription) Unsubscribe() {
	if s.publisher == nil {
		return
	}
	s.publisher.unsubscribe(s)
	s.publisher = nil
}
