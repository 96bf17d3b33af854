package gatekeeper

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/viant/gatekeeper/model"
	"github.com/viant/gatekeeper/service/approval"
	"github.com/viant/gatekeeper/service/criteria"
	"github.com/viant/gatekeeper/service/dao/instance"
	"github.com/viant/gatekeeper/service/dao/instance/fs"
	"github.com/viant/gatekeeper/service/dao/instance/memory"
	"github.com/viant/gatekeeper/service/dao/instance/postgres"
	"github.com/viant/gatekeeper/service/expiry"
	"github.com/viant/gatekeeper/service/messaging"
	mmemory "github.com/viant/gatekeeper/service/messaging/memory"
	"github.com/viant/gatekeeper/service/notify"
	"github.com/viant/gatekeeper/service/tx"
	"github.com/viant/gatekeeper/tracing"
)

// Version is overridden at build time.
var Version = "0.1.0"

// Service wires the approval lifecycle components.
type Service struct {
	config      *Config
	store       instance.Store
	db          *sqlx.DB
	notifier    notify.Port
	completions *mmemory.Queue[notify.Completion]
	logger      zerolog.Logger
	evaluators  map[model.Type]criteria.Evaluator
	exporter    *tracingExporter
	approval    *approval.Service
	sweeper     *expiry.Sweeper
	poller      *criteria.Poller
	wg          sync.WaitGroup
}

// New creates a Service. The store is built from config unless WithStore is
// used.
func New(ctx context.Context, options ...Option) (*Service, error) {
	ret := &Service{
		config:     DefaultConfig(),
		logger:     zerolog.Nop(),
		evaluators: map[model.Type]criteria.Evaluator{},
	}
	for _, option := range options {
		option(ret)
	}
	if err := ret.config.Validate(); err != nil {
		return nil, err
	}
	if err := ret.init(ctx); err != nil {
		ret.close()
		return nil, err
	}
	return ret, nil
}

func (s *Service) init(ctx context.Context) error {
	if s.exporter != nil {
		if err := s.exporter.init(); err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
	}
	if s.config.Tracing.Enabled {
		if err := tracing.Init(s.config.Tracing.ServiceName, Version, s.config.Tracing.OutputFile); err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
	}
	if s.store == nil {
		store, err := s.newStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
	}
	if s.notifier == nil {
		s.completions = mmemory.NewQueue[notify.Completion](mmemory.Config{
			MaxRetries:  s.config.Notify.MaxRetries,
			RetryDelay:  s.config.Notify.RetryDelay,
			DeadLetter:  true,
			QueueBuffer: s.config.Notify.QueueBuffer,
		})
		s.notifier = notify.NewQueuePort(s.completions, nil)
	}
	runner := tx.New(tx.Policy{
		MaxAttempts: s.config.Retry.MaxAttempts,
		Delay:       s.config.Retry.Delay,
	}, tx.WithLogger(s.logger.With().Str("component", "tx").Logger()))
	s.approval = approval.New(s.store,
		approval.WithRunner(runner),
		approval.WithNotifier(s.notifier),
		approval.WithExpiryNotification(s.config.Notify.Expiry),
		approval.WithLogger(s.logger.With().Str("component", "approval").Logger()),
	)
	s.sweeper = expiry.New(s.approval, expiry.Config{
		Interval: s.config.Sweeper.Interval,
		Jitter:   s.config.Sweeper.Jitter,
	}, expiry.WithLogger(s.logger.With().Str("component", "sweeper").Logger()))

	pollerOptions := []criteria.Option{criteria.WithLogger(s.logger.With().Str("component", "criteria").Logger())}
	if key := s.config.Criteria.DetailKey; key != "" {
		for _, aType := range []model.Type{model.TypeJira, model.TypeServiceNow, model.TypeCustomPolicy} {
			if _, ok := s.evaluators[aType]; !ok {
				s.evaluators[aType] = criteria.DetailEvaluator(key)
			}
		}
	}
	for aType, evaluator := range s.evaluators {
		pollerOptions = append(pollerOptions, criteria.WithEvaluator(aType, evaluator))
	}
	s.poller = criteria.NewPoller(s.approval, s.config.Criteria.Interval, pollerOptions...)
	return nil
}

func (s *Service) newStore(ctx context.Context) (instance.Store, error) {
	cfg := s.config.Store
	switch cfg.Kind {
	case StorePostgres:
		db, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		s.db = db
		var options []postgres.Option
		if cfg.Table != "" {
			options = append(options, postgres.WithTable(cfg.Table))
		}
		store := postgres.New(db, options...)
		if cfg.EnsureSchema {
			if err = store.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil
	case StoreFS:
		return fs.New(ctx, cfg.BaseURL)
	default:
		return memory.New(), nil
	}
}

// Approval returns the approval instance service.
func (s *Service) Approval() *approval.Service {
	return s.approval
}

// Sweeper returns the expiry sweeper.
func (s *Service) Sweeper() *expiry.Sweeper {
	return s.sweeper
}

// Poller returns the criteria poller.
func (s *Service) Poller() *criteria.Poller {
	return s.poller
}

// Config returns the effective configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Completions returns the queue completions are published on, or nil when a
// custom notifier was supplied. Attach a notify.Receiver to it: once its
// buffer is full further completions are logged as failed notifications and
// dropped.
func (s *Service) Completions() messaging.Queue[notify.Completion] {
	if s.completions == nil {
		return nil
	}
	return s.completions
}

// Start launches the enabled background jobs.
func (s *Service) Start(ctx context.Context) error {
	if s.config.Sweeper.Enabled {
		s.run(ctx, "sweeper", s.sweeper.Start)
	}
	if s.config.Criteria.Enabled && len(s.evaluators) > 0 {
		s.run(ctx, "criteria poller", s.poller.Start)
	}
	return nil
}

func (s *Service) run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Str("job", name).Msg("background job stopped")
		}
	}()
}

// Shutdown stops background jobs and releases the store connection.
func (s *Service) Shutdown(ctx context.Context) error {
	s.sweeper.Shutdown()
	s.poller.Shutdown()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.close()
}

func (s *Service) close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
