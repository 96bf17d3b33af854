package gatekeeper

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/viant/gatekeeper/model"
	"github.com/viant/gatekeeper/service/criteria"
	"github.com/viant/gatekeeper/service/dao/instance"
	"github.com/viant/gatekeeper/service/notify"
	"github.com/viant/gatekeeper/tracing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises a Service.
type Option func(s *Service)

// WithConfig replaces the default configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithStore uses store instead of building one from config.
func WithStore(store instance.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithNotifier sends completions to port instead of the built-in queue.
func WithNotifier(port notify.Port) Option {
	return func(s *Service) {
		s.notifier = port
	}
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithEvaluator registers a criteria evaluator for aType.
func WithEvaluator(aType model.Type, evaluator criteria.Evaluator) Option {
	return func(s *Service) {
		s.evaluators[aType] = evaluator
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom
// SpanExporter, for example OTLP. The first successful initialisation wins;
// New reports a failed one.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		s.exporter = &tracingExporter{serviceName: serviceName, serviceVersion: serviceVersion, exporter: exporter}
	}
}

type tracingExporter struct {
	serviceName    string
	serviceVersion string
	exporter       sdktrace.SpanExporter
}

func (e *tracingExporter) init() error {
	if e.exporter == nil {
		return fmt.Errorf("tracing exporter was nil")
	}
	return tracing.InitWithExporter(e.serviceName, e.serviceVersion, e.exporter)
}
