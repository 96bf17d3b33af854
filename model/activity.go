package model

import "time"

// Activity is a single approver decision
type Activity struct {
	User      string                 `json:"user"`
	Action    Action                 `json:"action"`
	Comment   string                 `json:"comment,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Inputs    map[string]interface{} `json:"inputs,omitempty"`
}

// Clone returns a deep-enough copy of the activity.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	ret := *a
	if a.Inputs != nil {
		ret.Inputs = make(map[string]interface{}, len(a.Inputs))
		for k, v := range a.Inputs {
			ret.Inputs[k] = v
		}
	}
	return &ret
}

// ApproverSpec controls who may approve a HARNESS_MANUAL instance and how many
// distinct approvals are required.
type ApproverSpec struct {
	MinimumCount int      `json:"minimumCount" yaml:"minimumCount"`
	Users        []string `json:"users,omitempty" yaml:"users,omitempty"`
	Groups       []string `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// Restricted returns true when the spec names explicit users or groups.
func (s *ApproverSpec) Restricted() bool {
	return s != nil && (len(s.Users) > 0 || len(s.Groups) > 0)
}

// Allows reports whether user, or one of the groups user belongs to, is
// listed in the spec. An unrestricted spec allows everyone.
func (s *ApproverSpec) Allows(user string, groups ...string) bool {
	if !s.Restricted() {
		return true
	}
	for _, candidate := range s.Users {
		if candidate == user {
			return true
		}
	}
	for _, group := range groups {
		for _, candidate := range s.Groups {
			if candidate == group {
				return true
			}
		}
	}
	return false
}

func (s *ApproverSpec) Clone() *ApproverSpec {
	if s == nil {
		return nil
	}
	return &ApproverSpec{
		MinimumCount: s.MinimumCount,
		Users:        append([]string(nil), s.Users...),
		Groups:       append([]string(nil), s.Groups...),
	}
}
