// Package events provides a lightweight pub/sub event bus for bridge
// observability. Events are delivered to listeners in publish order on a
// single dispatcher goroutine, so publishers never block on listeners.
package events

import "sync"

// Listener is a function that handles events.
type Listener func(*Event)

type subscription struct {
	id       uint64
	listener Listener
}

// EventBus manages event distribution to listeners.
type EventBus struct {
	mu              sync.RWMutex
	nextID          uint64
	listeners       map[EventType][]subscription
	globalListeners []subscription

	qmu     sync.Mutex
	cond    *sync.Cond
	queue   []*Event
	pending int
	closed  bool
	done    chan struct{}
}

// NewEventBus creates a new event bus and starts its dispatcher.
func NewEventBus() *EventBus {
	eb := &EventBus{
		listeners: make(map[EventType][]subscription),
		done:      make(chan struct{}),
	}
	eb.cond = sync.NewCond(&eb.qmu)
	go eb.dispatch()
	return eb
}

// Subscribe registers a listener for a specific event type. The returned
// function removes it.
func (eb *EventBus) Subscribe(eventType EventType, listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.listeners[eventType] = append(eb.listeners[eventType], subscription{id: id, listener: listener})
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.listeners[eventType] = without(eb.listeners[eventType], id)
	}
}

// SubscribeAll registers a listener for all event types. The returned
// function removes it.
func (eb *EventBus) SubscribeAll(listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.globalListeners = append(eb.globalListeners, subscription{id: id, listener: listener})
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.globalListeners = without(eb.globalListeners, id)
	}
}

func without(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish queues event for delivery. It never blocks on listeners. Events
// published after Close are dropped.
func (eb *EventBus) Publish(event *Event) {
	if eb == nil || event == nil {
		return
	}
	eb.qmu.Lock()
	defer eb.qmu.Unlock()
	if eb.closed {
		return
	}
	eb.queue = append(eb.queue, event)
	eb.pending++
	eb.cond.Broadcast()
}

// Flush waits until every event published so far has been delivered. It
// must not be called from a listener.
func (eb *EventBus) Flush() {
	eb.qmu.Lock()
	defer eb.qmu.Unlock()
	for eb.pending > 0 {
		eb.cond.Wait()
	}
}

// Close delivers what is queued, then stops the dispatcher. Safe to call
// more than once.
func (eb *EventBus) Close() {
	eb.qmu.Lock()
	eb.closed = true
	eb.cond.Broadcast()
	eb.qmu.Unlock()
	<-eb.done
}

// Clear removes all listeners (primarily for tests).
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners = make(map[EventType][]subscription)
	eb.globalListeners = nil
}

func (eb *EventBus) dispatch() {
	defer close(eb.done)
	for {
		eb.qmu.Lock()
		for len(eb.queue) == 0 && !eb.closed {
			eb.cond.Wait()
		}
		if len(eb.queue) == 0 {
			eb.qmu.Unlock()
			return
		}
		event := eb.queue[0]
		eb.queue[0] = nil
		eb.queue = eb.queue[1:]
		eb.qmu.Unlock()

		eb.deliver(event)

		eb.qmu.Lock()
		eb.pending--
		eb.cond.Broadcast()
		eb.qmu.Unlock()
	}
}

func (eb *EventBus) deliver(event *Event) {
	eb.mu.RLock()
	specific := eb.listeners[event.Type]
	global := eb.globalListeners
	eb.mu.RUnlock()

	for _, s := range specific {
		safeInvoke(s.listener, event)
	}
	for _, s := range global {
		safeInvoke(s.listener, event)
	}
}

func safeInvoke(listener Listener, event *Event) {
	defer func() { _ = recover() }()
	listener(event)
}
