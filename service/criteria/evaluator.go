// Package criteria drives approval instances whose outcome is decided by an
// external system such as a ticket tracker.
package criteria

import (
	"context"

	"github.com/viant/gatekeeper/model"
)

// Outcome is an evaluation result; Status is meaningful only when Done.
type Outcome struct {
	Status model.Status
	Done   bool
}

// Pending means criteria are not satisfied yet.
var Pending = Outcome{}

// Evaluator checks the external state behind an instance.
type Evaluator interface {
	Evaluate(ctx context.Context, anInstance *model.Instance) (Outcome, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, anInstance *model.Instance) (Outcome, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, anInstance *model.Instance) (Outcome, error) {
	return f(ctx, anInstance)
}

// DetailEvaluator completes an instance when its Details carry a terminal
// status under key, e.g. a ticket state mirrored by a webhook.
func DetailEvaluator(key string) Evaluator {
	return EvaluatorFunc(func(_ context.Context, anInstance *model.Instance) (Outcome, error) {
		raw, ok := anInstance.Details[key]
		if !ok {
			return Pending, nil
		}
		text, _ := raw.(string)
		status, ok := model.ParseStatus(text)
		if !ok || !status.IsTerminal() {
			return Pending, nil
		}
		return Outcome{Status: status, Done: true}, nil
	})
}
