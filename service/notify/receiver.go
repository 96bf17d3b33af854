package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/gatekeeper/internal/clock"
	"github.com/viant/gatekeeper/service/dao/store"
	"github.com/viant/gatekeeper/service/messaging"
)

// DefaultDedupeTTL is how long a handled instance id suppresses duplicates.
const DefaultDedupeTTL = 24 * time.Hour

// Handler resumes the execution described by payload.
type Handler func(ctx context.Context, payload *Payload) error

type claim struct {
	InstanceID string
	ClaimedAt  time.Time
}

// Receiver consumes completions and invokes its handler at most once per
// instance within the dedupe TTL. Failed handler calls release the instance
// and nack the message so a redelivery can retry.
type Receiver struct {
	queue     messaging.Queue[Completion]
	handler   Handler
	seen      *store.MemoryStore[string, claim]
	ttl       time.Duration
	now       func() time.Time
	pruneMu   sync.Mutex
	lastPrune time.Time
	logger    zerolog.Logger
}

// ReceiverOption customises a Receiver.
type ReceiverOption func(*Receiver)

// WithReceiverLogger sets the receiver logger.
func WithReceiverLogger(logger zerolog.Logger) ReceiverOption {
	return func(r *Receiver) { r.logger = logger }
}

// WithDedupeTTL sets how long handled instance ids are remembered. A
// non-positive ttl remembers them for the life of the receiver.
func WithDedupeTTL(ttl time.Duration) ReceiverOption {
	return func(r *Receiver) { r.ttl = ttl }
}

// NewReceiver creates a Receiver reading from queue.
func NewReceiver(queue messaging.Queue[Completion], handler Handler, opts ...ReceiverOption) *Receiver {
	ret := &Receiver{
		queue:   queue,
		handler: handler,
		seen:    store.NewMemoryStore[string, claim](func(c *claim) string { return c.InstanceID }),
		ttl:     DefaultDedupeTTL,
		now:     clock.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.lastPrune = ret.now()
	return ret
}

// Receive handles a single message, blocking until one is available.
func (r *Receiver) Receive(ctx context.Context) error {
	msg, err := r.queue.Consume(ctx)
	if err != nil {
		return err
	}
	r.prune()
	completion := msg.T()
	if completion == nil || completion.Payload == nil || completion.Payload.InstanceID == "" {
		r.logger.Warn().Str("message", msg.ID()).Msg("dropping malformed completion")
		return msg.Ack()
	}
	payload := completion.Payload
	claimed, err := r.seen.Claim(ctx, &claim{InstanceID: payload.InstanceID, ClaimedAt: r.now()})
	if err != nil {
		_ = msg.Nack(err)
		return err
	}
	if !claimed {
		r.logger.Debug().Str("instance", payload.InstanceID).Msg("duplicate completion")
		return msg.Ack()
	}
	if err = r.handler(ctx, payload); err != nil {
		_ = r.seen.Delete(ctx, payload.InstanceID)
		_ = msg.Nack(err)
		return fmt.Errorf("failed to handle completion of %v: %w", payload.InstanceID, err)
	}
	return msg.Ack()
}

// prune forgets claims older than the TTL, at most once per TTL.
func (r *Receiver) prune() {
	if r.ttl <= 0 {
		return
	}
	now := r.now()
	r.pruneMu.Lock()
	if now.Sub(r.lastPrune) < r.ttl {
		r.pruneMu.Unlock()
		return
	}
	r.lastPrune = now
	r.pruneMu.Unlock()
	cutoff := now.Add(-r.ttl)
	if removed := r.seen.DeleteIf(func(c *claim) bool { return c.ClaimedAt.Before(cutoff) }); removed > 0 {
		r.logger.Debug().Int("count", removed).Msg("forgot handled completions")
	}
}

// Run receives messages until ctx is done.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		err := r.Receive(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("completion handler failed")
	}
}

// Drain handles queued messages until the queue is empty and returns how
// many it received. The queue must report its size, as the in-memory queue
// does.
func (r *Receiver) Drain(ctx context.Context) (int, error) {
	sized, ok := r.queue.(interface{ Size() int })
	if !ok {
		return 0, fmt.Errorf("queue %T does not report its size", r.queue)
	}
	count := 0
	var errs []error
	for sized.Size() > 0 {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		count++
		if err := r.Receive(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return count, errors.Join(errs...)
}
