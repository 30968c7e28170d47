package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

const defaultCapacity = 100

// Queue is a bounded FIFO shared by one or more producers and consumers.
// All queues of a MessageBus close together.
type Queue[T any] struct {
	items  chan T
	done   <-chan struct{}
	closed *atomic.Bool
}

func (q *Queue[T]) Publish(ctx context.Context, item T) error {
	if q.closed.Load() {
		return ErrBusClosed
	}
	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume blocks for the next item. ok is false once the bus is closed or
// ctx is done.
func (q *Queue[T]) Consume(ctx context.Context) (item T, ok bool) {
	select {
	case item = <-q.items:
		return item, true
	case <-q.done:
		return item, false
	case <-ctx.Done():
		return item, false
	}
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int { return len(q.items) }

// MessageBus carries inbound LINE messages to the relay engine and
// outbound payloads from the relay engine to the Discord dispatcher.
type MessageBus struct {
	inbound  *Queue[InboundMessage]
	outbound *Queue[OutboundMessage]
	done     chan struct{}
	closed   atomic.Bool
}

func NewMessageBus() *MessageBus {
	mb := &MessageBus{done: make(chan struct{})}
	mb.inbound = &Queue[InboundMessage]{
		items:  make(chan InboundMessage, defaultCapacity),
		done:   mb.done,
		closed: &mb.closed,
	}
	mb.outbound = &Queue[OutboundMessage]{
		items:  make(chan OutboundMessage, defaultCapacity),
		done:   mb.done,
		closed: &mb.closed,
	}
	return mb
}

func (mb *MessageBus) Inbound() *Queue[InboundMessage] { return mb.inbound }

func (mb *MessageBus) Outbound() *Queue[OutboundMessage] { return mb.outbound }

func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	return mb.inbound.Publish(ctx, msg)
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return mb.inbound.Consume(ctx)
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	return mb.outbound.Publish(ctx, msg)
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return mb.outbound.Consume(ctx)
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
