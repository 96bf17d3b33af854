package criteria

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/gatekeeper/model"
)

// Finalizer is the part of the approval service a Poller drives.
type Finalizer interface {
	ListWaiting(ctx context.Context, types ...model.Type) ([]*model.Instance, error)
	// Finalize records status and reports whether this call made the
	// transition.
	Finalize(ctx context.Context, id string, status model.Status) (bool, error)
}

// Poller periodically evaluates WAITING instances of registered types.
type Poller struct {
	finalizer    Finalizer
	evaluators   map[model.Type]Evaluator
	interval     time.Duration
	logger       zerolog.Logger
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// Option customises a Poller.
type Option func(*Poller)

// WithEvaluator registers evaluator for instances of aType.
func WithEvaluator(aType model.Type, evaluator Evaluator) Option {
	return func(p *Poller) { p.evaluators[aType] = evaluator }
}

// WithLogger sets the poller logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

// NewPoller creates a poller running every interval.
func NewPoller(finalizer Finalizer, interval time.Duration, opts ...Option) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ret := &Poller{
		finalizer:  finalizer,
		evaluators: map[model.Type]Evaluator{},
		interval:   interval,
		logger:     zerolog.Nop(),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Types returns the instance types with a registered evaluator.
func (p *Poller) Types() []model.Type {
	ret := make([]model.Type, 0, len(p.evaluators))
	for aType := range p.evaluators {
		ret = append(ret, aType)
	}
	return ret
}

// PollOnce evaluates every waiting instance once and returns the number of
// instances it finalized. Instances completed concurrently by another actor
// are not counted. Evaluation failures are logged and skipped.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	if len(p.evaluators) == 0 {
		return 0, nil
	}
	waiting, err := p.finalizer.ListWaiting(ctx, p.Types()...)
	if err != nil {
		return 0, fmt.Errorf("failed to list waiting instances: %w", err)
	}
	finalized := 0
	for _, anInstance := range waiting {
		evaluator, ok := p.evaluators[anInstance.Type]
		if !ok {
			continue
		}
		outcome, err := evaluator.Evaluate(ctx, anInstance)
		if err != nil {
			p.logger.Warn().Err(err).Str("instance", anInstance.ID).Msg("criteria evaluation failed")
			continue
		}
		if !outcome.Done {
			continue
		}
		won, err := p.finalizer.Finalize(ctx, anInstance.ID, outcome.Status)
		if err != nil {
			p.logger.Error().Err(err).Str("instance", anInstance.ID).Msg("failed to finalize instance")
			continue
		}
		if won {
			finalized++
		}
	}
	return finalized, nil
}

// Start polls every interval until ctx is done or Shutdown is called.
func (p *Poller) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.shutdownCh:
			return nil
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				p.logger.Error().Err(err).Msg("criteria poll failed")
			}
		}
	}
}

// Shutdown stops a running poller.
func (p *Poller) Shutdown() {
	p.shutdownOnce.Do(func() { close(p.shutdownCh) })
}
