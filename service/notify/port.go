// Package notify signals suspended executions that their approval gate
// reached a terminal status.
package notify

import (
	"context"
	"time"

	"github.com/viant/gatekeeper/model"
)

// Payload describes a completed approval instance.
type Payload struct {
	InstanceID      string            `json:"instanceId"`
	NodeExecutionID string            `json:"nodeExecutionId"`
	Type            model.Type        `json:"type"`
	Status          model.Status      `json:"status"`
	CompletedAt     time.Time         `json:"completedAt"`
	Activities      []*model.Activity `json:"activities,omitempty"`
}

// NewPayload builds a payload from a terminal instance.
func NewPayload(anInstance *model.Instance) *Payload {
	ret := &Payload{
		InstanceID:      anInstance.ID,
		NodeExecutionID: anInstance.NodeExecutionID,
		Type:            anInstance.Type,
		Status:          anInstance.Status,
		CompletedAt:     anInstance.LastModifiedAt,
	}
	for _, activity := range anInstance.Activities {
		ret.Activities = append(ret.Activities, activity.Clone())
	}
	return ret
}

// Port resumes the execution waiting on an approval instance. Implementations
// must tolerate duplicate calls for the same instance.
type Port interface {
	Complete(ctx context.Context, instanceID string, payload *Payload) error
}

// Func adapts a function to Port.
type Func func(ctx context.Context, instanceID string, payload *Payload) error

func (f Func) Complete(ctx context.Context, instanceID string, payload *Payload) error {
	return f(ctx, instanceID, payload)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Complete(context.Context, string, *Payload) error { return nil }
