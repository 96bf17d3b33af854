package model

import "strings"

// Status represents the lifecycle state of an approval instance
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// IsTerminal returns true for every status other than WAITING.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	return s == StatusWaiting || s.IsTerminal()
}

// ParseStatus converts a case-insensitive status name.
func ParseStatus(text string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(text)))
	return s, s.IsValid()
}

// Type identifies the approval source of an instance
type Type string

const (
	TypeHarnessManual Type = "HARNESS_MANUAL"
	TypeJira          Type = "JIRA"
	TypeServiceNow    Type = "SERVICENOW"
	TypeCustomPolicy  Type = "CUSTOM_POLICY"
)

// IsManual returns true when decisions are recorded by human approvers.
func (t Type) IsManual() bool {
	return t == TypeHarnessManual
}

// IsValid reports whether t is a known type
func (t Type) IsValid() bool {
	switch t {
	case TypeHarnessManual, TypeJira, TypeServiceNow, TypeCustomPolicy:
		return true
	}
	return false
}

// Action is a decision recorded by an approver
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

func (a Action) IsValid() bool {
	return a == ActionApprove || a == ActionReject
}
