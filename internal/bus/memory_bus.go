// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/lavasync/internal/log"
	"github.com/ManuGH/lavasync/internal/metrics"
)

// MemoryBus is an in-memory pub/sub. It is not durable; delivery is
// best-effort per subscriber buffer.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memSub
	buffer int
	closed bool
}

const (
	dropLogEvery  = 100
	defaultBuffer = 64
)

var dropCount atomic.Uint64

// Option configures a MemoryBus.
type Option func(*MemoryBus)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(b *MemoryBus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func NewMemoryBus(opts ...Option) *MemoryBus {
	b := &MemoryBus{subs: make(map[string][]*memSub), buffer: defaultBuffer}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func recordDrop(topic, reason string) {
	metrics.IncBusDropReason(topic, reason)
	count := dropCount.Add(1)
	if count%dropLogEvery == 0 {
		logger := log.WithComponent("bus")
		logger.Warn().
			Str("topic", topic).
			Str(log.FieldReason, reason).
			Uint64("dropped", count).
			Msg("memory bus dropped messages")
	}
}

func (b *MemoryBus) snapshot(topic string) []*memSub {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*memSub(nil), b.subs[topic]...)
}

// Publish delivers msg to every subscriber of topic, blocking while a
// subscriber's buffer is full until ctx is done.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	for _, s := range b.snapshot(topic) {
		if err := s.send(ctx, msg); err != nil {
			if errors.Is(err, errSubClosed) {
				continue
			}
			recordDrop(topic, publishDropReason(err))
			return fmt.Errorf("publish topic %q: %w", topic, err)
		}
	}
	return nil
}

// TryPublish delivers msg without blocking. Subscribers with a full buffer
// miss the message; it reports whether every subscriber received it.
func (b *MemoryBus) TryPublish(topic string, msg Message) bool {
	ok := true
	for _, s := range b.snapshot(topic) {
		if !s.trySend(msg) {
			recordDrop(topic, "full")
			ok = false
		}
	}
	return ok
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe topic %q: bus closed", topic)
	}
	s := &memSub{b: b, topic: topic, ch: make(chan Message, b.buffer)}
	b.subs[topic] = append(b.subs[topic], s)
	return s, nil
}

// Close detaches and closes every subscriber.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[string][]*memSub)
	b.closed = true
	b.mu.Unlock()
	for _, lst := range all {
		for _, s := range lst {
			s.closeChan()
		}
	}
}

var errSubClosed = errors.New("subscriber closed")

type memSub struct {
	b      *MemoryBus
	topic  string
	mu     sync.RWMutex
	ch     chan Message
	closed bool
}

func (s *memSub) send(ctx context.Context, msg Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errSubClosed
	}
	select {
	case s.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memSub) trySend(msg Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *memSub) closeChan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

func (s *memSub) Close() error {
	s.b.mu.Lock()
	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.topic)
	} else {
		s.b.subs[s.topic] = out
	}
	s.b.mu.Unlock()
	s.closeChan() // Signal subscriber to stop
	return nil
}

// Ensure compliance
var _ Bus = (*MemoryBus)(nil)
