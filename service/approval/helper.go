package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/viant/gatekeeper/model"
)

// DecisionFunc decides what user does with a waiting instance. Returning an
// empty action skips the instance.
type DecisionFunc func(anInstance *model.Instance) (action model.Action, comment string)

// AutoDecider starts a goroutine that polls WAITING manual instances and
// records fn's decision on behalf of user. It returns stop(); call it (or
// cancel ctx) to exit.
func AutoDecider(ctx context.Context, svc *Service, user string, fn DecisionFunc, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				waiting, err := svc.ListWaiting(ctx, model.TypeHarnessManual)
				if err != nil {
					svc.logger.Warn().Err(err).Msg("auto decider: failed to list instances")
					continue
				}
				for _, anInstance := range waiting {
					if anInstance.HasActed(user) {
						continue
					}
					action, comment := fn(anInstance)
					if action == "" {
						continue
					}
					_, _ = svc.AddHarnessApprovalActivity(ctx, anInstance.ID, user, &ActivityRequest{Action: action, Comment: comment})
				}
			}
		}
	}()
	return func() { close(done) }
}

// AutoApprove approves every waiting instance as user.
func AutoApprove(ctx context.Context, svc *Service, user string, interval time.Duration) func() {
	return AutoDecider(ctx, svc, user, func(*model.Instance) (model.Action, string) {
		return model.ActionApprove, ""
	}, interval)
}

// AutoReject rejects every waiting instance as user with the given comment.
func AutoReject(ctx context.Context, svc *Service, user, comment string, interval time.Duration) func() {
	return AutoDecider(ctx, svc, user, func(*model.Instance) (model.Action, string) {
		return model.ActionReject, comment
	}, interval)
}

// WaitForTerminal polls id until it leaves WAITING or timeout elapses.
func WaitForTerminal(ctx context.Context, svc *Service, id string, timeout time.Duration) (*model.Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		anInstance, err := svc.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if anInstance.Status.IsTerminal() {
			return anInstance, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("instance %v still %v: %w", id, anInstance.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}
