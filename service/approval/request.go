package approval

import (
	"fmt"

	"github.com/viant/gatekeeper/model"
)

// ActivityRequest is an approver decision submitted for a HARNESS_MANUAL
// instance.
type ActivityRequest struct {
	Action  model.Action           `json:"action" yaml:"action"`
	Comment string                 `json:"comment,omitempty" yaml:"comment,omitempty"`
	Inputs  map[string]interface{} `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	// Groups the acting user belongs to, matched against ApproverSpec.Groups.
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// Validate checks the request shape.
func (r *ActivityRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request was empty", ErrValidation)
	}
	if r.Action == "" {
		return fmt.Errorf("%w: action was empty", ErrValidation)
	}
	if !r.Action.IsValid() {
		return fmt.Errorf("%w: unsupported action: %v", ErrValidation, r.Action)
	}
	return nil
}
