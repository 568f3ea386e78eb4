// Package events is a small topic-based pub/sub used wherever the relay
// needs a single ordered delivery sequence: outbound websocket writes and
// the emulated page message channel.
//
// One goroutine drains the queue. With sync delivery every handler runs on
// that goroutine, so handlers of a subject never overlap and see messages in
// emit order. Handlers of one topic are called in subscription order.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrCompleted is returned by Emit after the subject has been shut down.
	ErrCompleted = errors.New("events: subject completed")
	// ErrBufferFull is returned by TryEmit when no message slot is free.
	ErrBufferFull = errors.New("events: buffer full")
)

const (
	defaultBufferSize  = 512
	defaultEmitTimeout = 5 * time.Second
	handlerTimeout     = 10 * time.Second
	drainTimeout       = 5 * time.Second
)

// HandlerFunc is the untyped form every subscription is stored as.
type HandlerFunc func(context.Context, any) error

// SubjectOption configures a Subject
type SubjectOption func(*subjectConfig)

type subjectConfig struct {
	bufferSize   int
	syncDelivery bool
	emitTimeout  time.Duration
	logger       *slog.Logger
}

// WithBufferSize sets how many emitted messages may wait for delivery.
func WithBufferSize(size int) SubjectOption {
	return func(cfg *subjectConfig) {
		if size > 0 {
			cfg.bufferSize = size
		}
	}
}

// WithLogger logs handler failures at debug level on logger.
func WithLogger(logger *slog.Logger) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.logger = logger
	}
}

// WithEmitTimeout bounds how long Emit waits for room in a full buffer.
func WithEmitTimeout(d time.Duration) SubjectOption {
	return func(cfg *subjectConfig) {
		if d > 0 {
			cfg.emitTimeout = d
		}
	}
}

// WithSyncDelivery runs handlers inline on the delivery goroutine. Use it
// when handlers must not run concurrently, e.g. websocket writes.
func WithSyncDelivery() SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.syncDelivery = true
	}
}

// Subscription is one handler registered on a topic.
type Subscription struct {
	Topic       string
	Handler     HandlerFunc
	ID          string
	Unsubscribe func()
}

type message struct {
	topic   string
	payload any
}

// Subject owns a queue and its delivery goroutine.
type Subject struct {
	cfg subjectConfig

	mu     sync.RWMutex
	topics map[string][]Subscription
	nextID atomic.Int64

	queue     chan message
	stop      chan struct{}
	loopDone  chan struct{}
	completed atomic.Bool
	delivered atomic.Int64
}

// NewSubject creates a subject and starts its delivery goroutine.
func NewSubject(opts ...SubjectOption) *Subject {
	cfg := subjectConfig{
		bufferSize:  defaultBufferSize,
		emitTimeout: defaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Subject{
		cfg:      cfg,
		topics:   make(map[string][]Subscription),
		queue:    make(chan message, cfg.bufferSize),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go s.loop()
	return s
}

// Emit queues value on topic. It fails with ErrCompleted once the subject is
// shut down, or with a buffer-full error after the emit timeout.
func Emit[T any](s *Subject, topic string, value T) error {
	if s.completed.Load() {
		return ErrCompleted
	}

	timer := time.NewTimer(s.cfg.emitTimeout)
	defer timer.Stop()

	select {
	case s.queue <- message{topic: topic, payload: value}:
		return nil
	case <-s.stop:
		return ErrCompleted
	case <-timer.C:
		return fmt.Errorf("emit on %s: %w", topic, ErrBufferFull)
	}
}

// TryEmit queues value on topic without waiting. It fails with ErrBufferFull
// when the queue has no free slot.
func TryEmit[T any](s *Subject, topic string, value T) error {
	if s.completed.Load() {
		return ErrCompleted
	}

	select {
	case s.queue <- message{topic: topic, payload: value}:
		return nil
	case <-s.stop:
		return ErrCompleted
	default:
		return fmt.Errorf("emit on %s: %w", topic, ErrBufferFull)
	}
}

// Subscribe registers handler for messages of type T on topic. Messages of
// any other type are not passed to it.
func Subscribe[T any](s *Subject, topic string, handler func(context.Context, T) error) Subscription {
	sub := Subscription{
		Topic: topic,
		ID:    fmt.Sprintf("%s-%d", topic, s.nextID.Add(1)),
		Handler: func(ctx context.Context, payload any) error {
			typed, ok := payload.(T)
			if !ok {
				return fmt.Errorf("payload %T is not %T", payload, *new(T))
			}
			return handler(ctx, typed)
		},
	}
	sub.Unsubscribe = func() { s.remove(topic, sub.ID) }

	s.mu.Lock()
	s.topics[topic] = append(s.topics[topic], sub)
	s.mu.Unlock()
	return sub
}

// Complete stops delivery. Messages still queued are dropped. It is safe to
// call more than once.
func Complete(s *Subject) {
	if s == nil || !s.completed.CompareAndSwap(false, true) {
		return
	}
	close(s.stop)

	select {
	case <-s.loopDone:
	case <-time.After(drainTimeout):
	}
}

// Delivered returns how many messages reached at least one subscriber.
func (s *Subject) Delivered() int64 {
	return s.delivered.Load()
}

func (s *Subject) remove(topic, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.topics[topic]
	for i, sub := range subs {
		if sub.ID != id {
			continue
		}
		// copy so a loop iterating the old slice is unaffected
		next := make([]Subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(s.topics, topic)
		} else {
			s.topics[topic] = next
		}
		return
	}
}

func (s *Subject) subscribers(topic string) []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topics[topic]
}

func (s *Subject) loop() {
	defer close(s.loopDone)

	for {
		select {
		case <-s.stop:
			return
		case msg := <-s.queue:
			subs := s.subscribers(msg.topic)
			if len(subs) == 0 {
				continue
			}
			s.delivered.Add(1)
			for _, sub := range subs {
				if s.cfg.syncDelivery {
					s.deliver(sub, msg)
				} else {
					go s.deliver(sub, msg)
				}
			}
		}
	}
}

func (s *Subject) deliver(sub Subscription, msg message) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := sub.Handler(ctx, msg.payload); err != nil && s.cfg.logger != nil {
		s.cfg.logger.Debug("event handler error",
			"topic", msg.topic,
			"subscription_id", sub.ID,
			"error", err)
	}
}
