package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/gatekeeper/internal/clock"
	"github.com/viant/gatekeeper/internal/idgen"
	"github.com/viant/gatekeeper/metrics"
	"github.com/viant/gatekeeper/model"
	"github.com/viant/gatekeeper/service/dao"
	"github.com/viant/gatekeeper/service/dao/instance"
	"github.com/viant/gatekeeper/service/notify"
	"github.com/viant/gatekeeper/service/tx"
	"github.com/viant/gatekeeper/tracing"
)

// Service manages approval instances on top of an instance.Store.
type Service struct {
	store        instance.Store
	runner       *tx.Runner
	notifier     notify.Port
	logger       zerolog.Logger
	now          func() time.Time
	notifyExpiry bool
}

// New creates a Service.
func New(store instance.Store, opts ...Option) *Service {
	ret := &Service{
		store:        store,
		notifier:     notify.Nop{},
		logger:       zerolog.Nop(),
		now:          clock.Now,
		notifyExpiry: true,
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.runner == nil {
		ret.runner = tx.New(tx.DefaultPolicy(), tx.WithLogger(ret.logger))
	}
	return ret
}

// Create stores a new WAITING instance.
func (s *Service) Create(ctx context.Context, anInstance *model.Instance) (ret *model.Instance, err error) {
	ctx, done := s.begin(ctx, "create", "")
	defer func() { done(err) }()
	if err = validateNew(anInstance); err != nil {
		return nil, err
	}
	ret = anInstance.Clone()
	if ret.ID == "" {
		ret.ID = idgen.New()
	}
	now := s.now()
	ret.Status = model.StatusWaiting
	ret.CreatedAt = now
	ret.LastModifiedAt = now
	ret.Activities = nil
	ret.Version = 0
	if err = s.store.Save(ctx, ret); err != nil {
		if errors.Is(err, dao.ErrConflict) {
			return nil, fmt.Errorf("%w: instance %v already exists", ErrValidation, ret.ID)
		}
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	s.logger.Info().Str("instance", ret.ID).Str("type", string(ret.Type)).Time("deadline", ret.Deadline).Msg("approval instance created")
	return ret, nil
}

func validateNew(anInstance *model.Instance) error {
	if anInstance == nil {
		return fmt.Errorf("%w: instance was nil", ErrValidation)
	}
	if !anInstance.Type.IsValid() {
		return fmt.Errorf("%w: unsupported type: %v", ErrValidation, anInstance.Type)
	}
	if anInstance.Deadline.IsZero() {
		return fmt.Errorf("%w: deadline was empty", ErrValidation)
	}
	if anInstance.Type.IsManual() {
		if anInstance.ApproverSpec == nil {
			return fmt.Errorf("%w: approver spec was empty", ErrValidation)
		}
		if anInstance.ApproverSpec.MinimumCount < 1 {
			return fmt.Errorf("%w: minimum count must be at least 1, was %d", ErrValidation, anInstance.ApproverSpec.MinimumCount)
		}
	}
	return nil
}

// Get returns an instance by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Instance, error) {
	ret, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, s.translate(id, err)
	}
	return ret, nil
}

// Delete removes an instance by id.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, done := s.begin(ctx, "delete", id)
	defer func() { done(err) }()
	if err = s.store.Delete(ctx, id); err != nil {
		return s.translate(id, err)
	}
	return nil
}

// ListWaiting returns WAITING instances, optionally restricted to types.
func (s *Service) ListWaiting(ctx context.Context, types ...model.Type) ([]*model.Instance, error) {
	return s.store.List(ctx, &instance.Filter{Statuses: []model.Status{model.StatusWaiting}, Types: types})
}

// Expire moves a WAITING instance to EXPIRED regardless of its deadline. It
// returns false when the instance is unknown or no longer WAITING.
func (s *Service) Expire(ctx context.Context, id string) (expired bool, err error) {
	ctx, done := s.begin(ctx, "expire", id)
	defer func() { done(err) }()
	if id == "" {
		return false, fmt.Errorf("%w: instance id was empty", ErrValidation)
	}
	count, err := s.expire(ctx, []string{id}, nil, metrics.TriggerExpire)
	return count == 1, err
}

// ExpireByNodeExecutionID expires the WAITING instances owned by a node
// execution. Instances already terminal are left untouched.
func (s *Service) ExpireByNodeExecutionID(ctx context.Context, nodeExecutionID string) (err error) {
	ctx, done := s.begin(ctx, "expireByNodeExecutionId", "")
	defer func() { done(err) }()
	if nodeExecutionID == "" {
		return fmt.Errorf("%w: node execution id was empty", ErrValidation)
	}
	filter := &instance.Filter{NodeExecutionID: nodeExecutionID, Statuses: []model.Status{model.StatusWaiting}}
	if !s.notifyExpiry {
		_, err = s.bulkExpire(ctx, filter, metrics.TriggerExpire)
		return err
	}
	candidates, err := s.store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list instances of node execution %v: %w", nodeExecutionID, err)
	}
	_, err = s.expire(ctx, ids(candidates), nil, metrics.TriggerExpire)
	return err
}

// MarkExpiredInstances expires every WAITING instance whose deadline has
// passed and returns the number of instances it transitioned.
func (s *Service) MarkExpiredInstances(ctx context.Context) (count int, err error) {
	ctx, done := s.begin(ctx, "markExpiredInstances", "")
	defer func() { done(err) }()
	now := s.now()
	filter := &instance.Filter{Statuses: []model.Status{model.StatusWaiting}, DeadlineBefore: &now}
	if !s.notifyExpiry {
		return s.bulkExpire(ctx, filter, metrics.TriggerSweep)
	}
	candidates, err := s.store.List(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired instances: %w", err)
	}
	return s.expire(ctx, ids(candidates), &now, metrics.TriggerSweep)
}

// expire transitions each id with its own conditional update so that only
// the winners notify. A non-nil deadline keeps the update restricted to
// instances overdue at that time.
func (s *Service) expire(ctx context.Context, candidates []string, deadline *time.Time, trigger string) (int, error) {
	count := 0
	var errs []error
	for _, id := range candidates {
		filter, err := instance.Waiting(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to expire %q: %w", id, err))
			continue
		}
		filter.DeadlineBefore = deadline
		changed, err := s.store.UpdateOne(ctx, filter, &instance.Update{Status: model.StatusExpired, LastModifiedAt: s.now()})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to expire %v: %w", id, err))
			continue
		}
		if changed == 0 {
			continue
		}
		count++
		s.completed(ctx, id, model.StatusExpired, trigger)
	}
	return count, errors.Join(errs...)
}

func (s *Service) bulkExpire(ctx context.Context, filter *instance.Filter, trigger string) (int, error) {
	count, err := s.store.UpdateMany(ctx, filter, &instance.Update{Status: model.StatusExpired, LastModifiedAt: s.now()})
	if err != nil {
		return 0, fmt.Errorf("failed to expire instances: %w", err)
	}
	for i := 0; i < count; i++ {
		metrics.RecordTransition(string(model.StatusExpired), trigger)
	}
	if count > 0 {
		s.logger.Info().Int("count", count).Str("trigger", trigger).Msg("approval instances expired")
	}
	return count, nil
}

// FinalizeStatus records an externally decided terminal status. It is a
// no-op when the instance is already terminal.
func (s *Service) FinalizeStatus(ctx context.Context, id string, status model.Status) error {
	_, err := s.Finalize(ctx, id, status)
	return err
}

// Finalize is FinalizeStatus reporting whether this call made the transition.
func (s *Service) Finalize(ctx context.Context, id string, status model.Status) (won bool, err error) {
	ctx, done := s.begin(ctx, "finalizeStatus", id)
	defer func() { done(err) }()
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: status %v is not terminal", ErrValidation, status)
	}
	filter, err := instance.Waiting(id)
	if err != nil {
		return false, s.translate(id, err)
	}
	err = s.runner.Run(ctx, func(ctx context.Context) error {
		changed, err := s.store.UpdateOne(ctx, filter, &instance.Update{Status: status, LastModifiedAt: s.now()})
		if err != nil {
			return err
		}
		if changed == 1 {
			won = true
			return nil
		}
		current, err := s.store.Load(ctx, id)
		if err != nil {
			return s.translate(id, err)
		}
		if current.Status.IsTerminal() {
			return nil
		}
		return fmt.Errorf("instance %v still waiting after update: %w", id, dao.ErrConflict)
	})
	if err != nil {
		return false, err
	}
	if won {
		s.completed(ctx, id, status, metrics.TriggerFinalize)
	}
	return won, nil
}

// AddHarnessApprovalActivity records user's decision on a HARNESS_MANUAL
// instance and returns the updated instance. A REJECT, or the approval that
// reaches the approver spec minimum, completes the instance.
func (s *Service) AddHarnessApprovalActivity(ctx context.Context, id, user string, request *ActivityRequest) (ret *model.Instance, err error) {
	ctx, done := s.begin(ctx, "addHarnessApprovalActivity", id)
	defer func() { done(err) }()
	if err = request.Validate(); err != nil {
		return nil, err
	}
	if user == "" {
		return nil, fmt.Errorf("%w: user was empty", ErrValidation)
	}
	err = s.runner.Run(ctx, func(ctx context.Context) error {
		current, err := s.store.Load(ctx, id)
		if err != nil {
			return s.translate(id, err)
		}
		now := s.now()
		if err := s.checkAcceptsActivity(current, user, request, now); err != nil {
			return err
		}
		current.Activities = append(current.Activities, &model.Activity{
			User:      user,
			Action:    request.Action,
			Comment:   request.Comment,
			Timestamp: now,
			Inputs:    request.Inputs,
		})
		switch request.Action {
		case model.ActionReject:
			current.Status = model.StatusRejected
		case model.ActionApprove:
			if current.ApprovalCount() >= current.MinimumCount() {
				current.Status = model.StatusApproved
			}
		}
		current.LastModifiedAt = now
		if err := s.store.Save(ctx, current); err != nil {
			return s.translate(id, err)
		}
		ret = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordActivity(string(request.Action))
	s.logger.Info().Str("instance", id).Str("user", user).Str("action", string(request.Action)).Str("status", string(ret.Status)).Msg("approval activity recorded")
	if ret.Status.IsTerminal() {
		s.notify(ctx, ret, metrics.TriggerActivity)
	}
	return ret, nil
}

func (s *Service) checkAcceptsActivity(current *model.Instance, user string, request *ActivityRequest, now time.Time) error {
	if !current.Type.IsManual() {
		return fmt.Errorf("%w: instance %v of type %v does not accept approver activities", ErrInvalidState, current.ID, current.Type)
	}
	if current.Status == model.StatusExpired || (current.Status == model.StatusWaiting && current.Expired(now)) {
		return fmt.Errorf("%w: already expired", ErrInvalidState)
	}
	if current.Status != model.StatusWaiting {
		return fmt.Errorf("%w: already completed. Status: %s", ErrInvalidState, current.Status)
	}
	if !current.ApproverSpec.Allows(user, request.Groups...) {
		return fmt.Errorf("%w: user %v is not an approver of %v", ErrValidation, user, current.ID)
	}
	if current.HasActed(user) {
		return fmt.Errorf("%w: user %v already acted on %v", ErrValidation, user, current.ID)
	}
	return nil
}

// completed loads a freshly transitioned instance and notifies about it.
// When the instance cannot be reloaded the notification still carries the
// status the caller committed.
func (s *Service) completed(ctx context.Context, id string, status model.Status, trigger string) {
	anInstance, err := s.store.Load(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("instance", id).Msg("failed to load completed instance")
		anInstance = &model.Instance{ID: id, Status: status, LastModifiedAt: s.now()}
	}
	s.notify(ctx, anInstance, trigger)
}

func (s *Service) notify(ctx context.Context, anInstance *model.Instance, trigger string) {
	metrics.RecordTransition(string(anInstance.Status), trigger)
	s.logger.Info().Str("instance", anInstance.ID).Str("status", string(anInstance.Status)).Str("trigger", trigger).Msg("approval instance completed")
	err := s.notifier.Complete(ctx, anInstance.ID, notify.NewPayload(anInstance))
	metrics.RecordNotification(err)
	if err != nil {
		s.logger.Error().Err(err).Str("instance", anInstance.ID).Msg("failed to notify completion")
	}
}

// translate maps store errors onto service errors.
func (s *Service) translate(id string, err error) error {
	switch {
	case errors.Is(err, dao.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, id)
	case errors.Is(err, dao.ErrInvalidID):
		return fmt.Errorf("%w: invalid id %q", ErrValidation, id)
	}
	return err
}

func (s *Service) begin(ctx context.Context, operation, id string) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := tracing.StartSpan(ctx, "approval."+operation)
	if id != "" {
		span.WithAttributes(map[string]string{"instance.id": id})
	}
	return ctx, func(err error) {
		tracing.EndSpan(span, err)
		metrics.ObserveOperation(operation, started, err)
	}
}

func ids(instances []*model.Instance) []string {
	ret := make([]string, 0, len(instances))
	for _, anInstance := range instances {
		ret = append(ret, anInstance.ID)
	}
	return ret
}
