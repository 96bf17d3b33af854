// Package expiry periodically expires approval instances whose deadline has
// passed. Sweepers hold no state, so every replica may run one.
package expiry

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/gatekeeper/metrics"
)

// Marker expires overdue instances and reports how many it transitioned.
type Marker interface {
	MarkExpiredInstances(ctx context.Context) (int, error)
}

// Config represents sweeper configuration
type Config struct {
	// Interval between sweeps
	Interval time.Duration `json:"interval" yaml:"interval"`
	// Jitter bounds the random delay before the first sweep
	Jitter time.Duration `json:"jitter" yaml:"jitter"`
}

// DefaultConfig returns the default sweeper configuration
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Jitter:   10 * time.Second,
	}
}

// Sweeper runs Marker on a fixed interval.
type Sweeper struct {
	config       Config
	marker       Marker
	logger       zerolog.Logger
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// Option customises a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the sweeper logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// New creates a sweeper
func New(marker Marker, config Config, opts ...Option) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	ret := &Sweeper{
		config:     config,
		marker:     marker,
		logger:     zerolog.Nop(),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// SweepOnce runs a single sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	metrics.RecordSweep()
	count, err := s.marker.MarkExpiredInstances(ctx)
	if err != nil {
		return count, err
	}
	if count > 0 {
		s.logger.Info().Int("expired", count).Msg("expiry sweep completed")
	}
	return count, nil
}

// Start sweeps after a random initial delay and then every Interval until
// ctx is done or Shutdown is called.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.config.Jitter > 0 {
		delay := time.NewTimer(rand.N(s.config.Jitter))
		select {
		case <-ctx.Done():
			delay.Stop()
			return ctx.Err()
		case <-s.shutdownCh:
			delay.Stop()
			return nil
		case <-delay.C:
		}
	}
	s.sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdownCh:
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
	}
}

// Shutdown stops a running sweeper; it is safe to call more than once.
func (s *Sweeper) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}
