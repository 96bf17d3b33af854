package approval

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/gatekeeper/service/notify"
	"github.com/viant/gatekeeper/service/tx"
)

// Option customises a Service.
type Option func(s *Service)

// WithRunner sets the transaction runner.
func WithRunner(runner *tx.Runner) Option {
	return func(s *Service) {
		s.runner = runner
	}
}

// WithNotifier sets the completion port.
func WithNotifier(notifier notify.Port) Option {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithExpiryNotification controls whether expired instances notify the
// orchestrator. When disabled MarkExpiredInstances issues a single bulk
// update instead of one conditional update per candidate.
func WithExpiryNotification(enabled bool) Option {
	return func(s *Service) {
		s.notifyExpiry = enabled
	}
}
