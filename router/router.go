package router

import (
	"sync"

	"github.com/diaflow/diaflow/domain"
)

// Logger interface for router logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// defaultSubscriberBuffer is the per-subscriber event buffer size
const defaultSubscriberBuffer = 256

// Subscription is one consumer's view of an execution's event stream
type Subscription struct {
	id     int
	execID domain.ExecutionID
	ch     chan *domain.Event
	done   chan struct{}
	router *Router

	sendMu sync.Mutex // serializes deliveries and excludes them during terminate
	once   sync.Once
}

// Events is the subscriber's receive channel. It closes when the
// subscription is cancelled or the router shuts down.
func (s *Subscription) Events() <-chan *domain.Event {
	return s.ch
}

// Close cancels the subscription
func (s *Subscription) Close() {
	s.router.unsubscribe(s)
}

// terminate ends the subscription. Closing done first unblocks any
// delivery in flight; taking sendMu then guarantees no publisher is mid-
// send when the stream closes.
func (s *Subscription) terminate() {
	s.once.Do(func() {
		close(s.done)
		s.sendMu.Lock()
		close(s.ch)
		s.sendMu.Unlock()
	})
}

// deliver hands the event to the subscriber. A full buffer sheds the
// oldest droppable queued event to make room; when nothing queued can be
// shed, a droppable incoming event is dropped instead and a critical one
// blocks until the subscriber drains or the subscription ends. Returns
// the number of events shed.
func (s *Subscription) deliver(event *domain.Event) int {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	select {
	case <-s.done:
		return 0
	default:
	}

	select {
	case s.ch <- event:
		return 0
	default:
	}

	if !event.Droppable() {
		select {
		case s.ch <- event:
		case <-s.done:
		}
		return 0
	}

	if s.shedOldest() {
		select {
		case s.ch <- event:
		case <-s.done:
		}
	}
	return 1
}

// shedOldest removes the oldest droppable event queued for this
// subscriber, preserving the order of everything else. The caller holds
// sendMu, so no other publisher can interleave; the subscriber draining
// concurrently only makes more room.
func (s *Subscription) shedOldest() bool {
	held := make([]*domain.Event, 0, cap(s.ch))
	freed := false
	for {
		select {
		case ev := <-s.ch:
			if !freed && ev.Droppable() {
				freed = true
				continue
			}
			held = append(held, ev)
		default:
			for _, ev := range held {
				s.ch <- ev
			}
			return freed
		}
	}
}

// Router fans execution events out to subscribers and carries control
// messages back to schedulers. Slow subscribers shed droppable events;
// terminal events always get through, blocking the publisher if needed.
type Router struct {
	mu          sync.RWMutex
	subscribers map[domain.ExecutionID][]*Subscription
	controls    map[domain.ExecutionID]chan<- domain.ControlMessage
	buffer      int
	nextID      int
	closed      bool
	logger      Logger

	dropped int64 // total events shed under backpressure
}

// RouterOpts configures a router
type RouterOpts struct {
	SubscriberBuffer int
	Logger           Logger
}

// New creates a router
func New(opts *RouterOpts) *Router {
	buffer := defaultSubscriberBuffer
	if opts != nil && opts.SubscriberBuffer > 0 {
		buffer = opts.SubscriberBuffer
	}
	return &Router{
		subscribers: make(map[domain.ExecutionID][]*Subscription),
		controls:    make(map[domain.ExecutionID]chan<- domain.ControlMessage),
		buffer:      buffer,
		logger:      opts.Logger,
	}
}

// Subscribe registers a consumer for one execution's events
func (r *Router) Subscribe(executionID domain.ExecutionID) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &Subscription{
		id:     r.nextID,
		execID: executionID,
		ch:     make(chan *domain.Event, r.buffer),
		done:   make(chan struct{}),
		router: r,
	}
	if r.closed {
		sub.terminate()
		return sub
	}
	r.subscribers[executionID] = append(r.subscribers[executionID], sub)
	r.logger.Debug("subscriber added",
		"execution_id", executionID,
		"subscribers", len(r.subscribers[executionID]))
	return sub
}

func (r *Router) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscribers[sub.execID]
	for i, s := range subs {
		if s.id == sub.id {
			r.subscribers[sub.execID] = append(subs[:i], subs[i+1:]...)
			s.terminate()
			break
		}
	}
	if len(r.subscribers[sub.execID]) == 0 {
		delete(r.subscribers, sub.execID)
	}
}

// Publish delivers an event to every subscriber of its execution. A full
// subscriber buffer drops the event when it is droppable; otherwise the
// publisher blocks until the subscriber drains. Implements
// scheduler.Broadcaster.
func (r *Router) Publish(event *domain.Event) {
	r.mu.RLock()
	subs := make([]*Subscription, len(r.subscribers[event.ExecutionID]))
	copy(subs, r.subscribers[event.ExecutionID])
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return
	}

	for _, sub := range subs {
		if shed := sub.deliver(event); shed > 0 {
			r.mu.Lock()
			r.dropped += int64(shed)
			r.mu.Unlock()
			r.logger.Debug("shed event for slow subscriber",
				"execution_id", event.ExecutionID,
				"type", string(event.Type))
		}
	}

	if event.IsTerminal() {
		r.closeExecution(event.ExecutionID)
	}
}

// closeExecution ends every subscription for a finished execution
func (r *Router) closeExecution(executionID domain.ExecutionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subscribers[executionID] {
		sub.terminate()
	}
	delete(r.subscribers, executionID)
	delete(r.controls, executionID)
}

// RegisterControl attaches a scheduler's control channel so Send can reach it
func (r *Router) RegisterControl(executionID domain.ExecutionID, ch chan<- domain.ControlMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controls[executionID] = ch
}

// Send routes a control message to its execution's scheduler
func (r *Router) Send(msg domain.ControlMessage) bool {
	r.mu.RLock()
	ch, ok := r.controls[msg.ExecutionID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("control message for unknown execution",
			"execution_id", msg.ExecutionID,
			"kind", string(msg.Kind))
		return false
	}
	ch <- msg
	return true
}

// Dropped returns the count of events shed under backpressure
func (r *Router) Dropped() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Close shuts the router down, ending every subscription
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for execID, subs := range r.subscribers {
		for _, sub := range subs {
			sub.terminate()
		}
		delete(r.subscribers, execID)
	}
	r.controls = make(map[domain.ExecutionID]chan<- domain.ControlMessage)
}
