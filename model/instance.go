package model

import (
	"fmt"
	"time"
)

// Instance represents a single approval gate tied to one suspended pipeline
// step.
type Instance struct {
	ID              string                 `json:"id"`
	Type            Type                   `json:"type"`
	Status          Status                 `json:"status"`
	NodeExecutionID string                 `json:"nodeExecutionId"`
	Deadline        time.Time              `json:"deadline"`
	CreatedAt       time.Time              `json:"createdAt"`
	LastModifiedAt  time.Time              `json:"lastModifiedAt"`
	Activities      []*Activity            `json:"activities,omitempty"`
	ApproverSpec    *ApproverSpec          `json:"approverSpec,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
	// Version is bumped by every store write and guards Save against lost
	// updates.
	Version int64 `json:"version"`
}

// Expired returns true if the deadline has passed at the supplied time.
func (i *Instance) Expired(now time.Time) bool {
	return !i.Deadline.IsZero() && !now.Before(i.Deadline)
}

// ApprovalCount counts recorded APPROVE activities.
func (i *Instance) ApprovalCount() int {
	count := 0
	for _, activity := range i.Activities {
		if activity.Action == ActionApprove {
			count++
		}
	}
	return count
}

// HasActed returns true if user already recorded a decision.
func (i *Instance) HasActed(user string) bool {
	for _, activity := range i.Activities {
		if activity.User == user {
			return true
		}
	}
	return false
}

// MinimumCount returns the number of approvals needed, at least 1.
func (i *Instance) MinimumCount() int {
	if i.ApproverSpec == nil || i.ApproverSpec.MinimumCount < 1 {
		return 1
	}
	return i.ApproverSpec.MinimumCount
}

// Summary renders a short human readable description.
func (i *Instance) Summary() string {
	switch i.Type {
	case TypeHarnessManual:
		return fmt.Sprintf("%s %s: %d/%d approvals", i.Type, i.Status, i.ApprovalCount(), i.MinimumCount())
	default:
		if key, ok := i.Details["ticket"]; ok {
			return fmt.Sprintf("%s %s: ticket %v", i.Type, i.Status, key)
		}
		return fmt.Sprintf("%s %s", i.Type, i.Status)
	}
}

// Clone returns a copy that can be mutated without affecting the original.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	ret := *i
	if i.Activities != nil {
		ret.Activities = make([]*Activity, len(i.Activities))
		for k, activity := range i.Activities {
			ret.Activities[k] = activity.Clone()
		}
	}
	ret.ApproverSpec = i.ApproverSpec.Clone()
	if i.Details != nil {
		ret.Details = make(map[string]interface{}, len(i.Details))
		for k, v := range i.Details {
			ret.Details[k] = v
		}
	}
	return &ret
}
