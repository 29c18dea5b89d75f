package pipeline

import (
	"sync"
)

// ResultHandler receives frame results from the pipeline.
type ResultHandler interface {
	OnFrameResult(result *FrameResult)
}

// ResultHandlerFunc adapts a function to the ResultHandler interface.
type ResultHandlerFunc func(result *FrameResult)

func (f ResultHandlerFunc) OnFrameResult(result *FrameResult) { f(result) }

// EventBus provides pub/sub for frame results. Handlers are invoked
// synchronously to preserve frame ordering; channel subscribers get
// best-effort delivery and may miss results when their buffer is full.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	channel chan *FrameResult
	handler ResultHandler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for frame results.
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler ResultHandler) func() {
	sub := &eventSubscription{handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel that receives frame results,
// plus an unsubscribe function that also closes the channel.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *FrameResult, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *FrameResult, bufferSize)
	sub := &eventSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish delivers a result to all subscribers.
// Handlers run synchronously so results arrive in frame order; a slow
// channel subscriber is skipped rather than stalling the pipeline.
func (b *EventBus) Publish(result *FrameResult) {
	if result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.handler != nil {
			sub.handler.OnFrameResult(result)
		} else if sub.channel != nil {
			select {
			case sub.channel <- result:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes their channels.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}

var _ ResultHandler = (ResultHandlerFunc)(nil)
