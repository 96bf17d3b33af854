package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viant/gatekeeper/service/messaging"
)

// ErrAlreadySettled is returned on a second Ack/Nack of the same delivery.
var ErrAlreadySettled = errors.New("message already acknowledged")

// ErrQueueFull is returned by Publish when the buffer has no free slot.
var ErrQueueFull = errors.New("queue is full")

// Config for memory queue implementation
type Config struct {
	// MaxRetries is the number of redeliveries after the first Nack
	MaxRetries int
	RetryDelay time.Duration
	// DeadLetter keeps messages that ran out of retries
	DeadLetter  bool
	QueueBuffer int
}

// DefaultConfig returns a standard configuration for memory queue
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		RetryDelay:  100 * time.Millisecond,
		DeadLetter:  true,
		QueueBuffer: 100,
	}
}

type delivery[T any] struct {
	id       string
	payload  T
	attempts int
	queue    *Queue[T]
	settled  bool
	mu       sync.Mutex
}

func (d *delivery[T]) ID() string { return d.id }

func (d *delivery[T]) T() *T { return &d.payload }

func (d *delivery[T]) settle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return false
	}
	d.settled = true
	return true
}

func (d *delivery[T]) Ack() error {
	if !d.settle() {
		return ErrAlreadySettled
	}
	return nil
}

func (d *delivery[T]) Nack(error) error {
	if !d.settle() {
		return ErrAlreadySettled
	}
	d.queue.retry(d)
	return nil
}

// Queue is an in-process messaging.Queue with delayed redelivery on Nack.
type Queue[T any] struct {
	config   Config
	messages chan *delivery[T]
	dlqMu    sync.Mutex
	dlq      []T
}

// NewQueue creates a new in-memory queue
func NewQueue[T any](config Config) *Queue[T] {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}
	return &Queue[T]{
		config:   config,
		messages: make(chan *delivery[T], config.QueueBuffer),
	}
}

// Publish enqueues a copy of t. It never blocks: a full buffer yields
// ErrQueueFull.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := &delivery[T]{id: uuid.New().String(), payload: *t, queue: q}
	select {
	case q.messages <- d:
		return nil
	default:
		return fmt.Errorf("%w: %d messages pending", ErrQueueFull, cap(q.messages))
	}
}

// Consume retrieves a single message from the queue
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case d := <-q.messages:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue[T]) retry(d *delivery[T]) {
	if d.attempts >= q.config.MaxRetries {
		q.deadLetter(d)
		return
	}
	next := &delivery[T]{id: d.id, payload: d.payload, attempts: d.attempts + 1, queue: q}
	time.AfterFunc(q.config.RetryDelay, func() {
		select {
		case q.messages <- next:
		default:
			q.deadLetter(next)
		}
	})
}

func (q *Queue[T]) deadLetter(d *delivery[T]) {
	if !q.config.DeadLetter {
		return
	}
	q.dlqMu.Lock()
	q.dlq = append(q.dlq, d.payload)
	q.dlqMu.Unlock()
}

// Size returns the current number of messages waiting in the queue
func (q *Queue[T]) Size() int {
	return len(q.messages)
}

// DeadLetters returns payloads that exhausted their retries.
func (q *Queue[T]) DeadLetters() []T {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return append([]T(nil), q.dlq...)
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
