package instance

import (
	"context"
	"time"

	"github.com/viant/gatekeeper/model"
	"github.com/viant/gatekeeper/service/dao"
)

// Store persists approval instances.
type Store interface {
	// Load returns a copy of the instance or dao.ErrNotFound.
	Load(ctx context.Context, id string) (*model.Instance, error)

	// Save inserts an instance with Version 0 or replaces the stored one when
	// its Version matches. On success the supplied instance carries the new
	// version. A version mismatch, or an insert of a taken ID, yields
	// dao.ErrConflict; saving a non-zero version of a deleted instance yields
	// dao.ErrNotFound.
	Save(ctx context.Context, anInstance *model.Instance) error

	// Delete removes an instance or returns dao.ErrNotFound.
	Delete(ctx context.Context, id string) error

	// List returns copies of instances matching the filter.
	List(ctx context.Context, filter *Filter) ([]*model.Instance, error)

	// UpdateOne applies update to at most one instance matching filter and
	// returns the number of changed instances (0 or 1).
	UpdateOne(ctx context.Context, filter *Filter, update *Update) (int, error)

	// UpdateMany applies update to all instances matching filter.
	UpdateMany(ctx context.Context, filter *Filter, update *Update) (int, error)
}

// Filter selects instances; zero-valued fields match everything.
type Filter struct {
	ID              string
	NodeExecutionID string
	Statuses        []model.Status
	Types           []model.Type
	// DeadlineBefore matches instances whose deadline is strictly earlier.
	DeadlineBefore *time.Time
}

// Match reports whether anInstance satisfies the filter.
func (f *Filter) Match(anInstance *model.Instance) bool {
	if f == nil {
		return true
	}
	if f.ID != "" && anInstance.ID != f.ID {
		return false
	}
	if f.NodeExecutionID != "" && anInstance.NodeExecutionID != f.NodeExecutionID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, anInstance.Status) {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, anInstance.Type) {
		return false
	}
	if f.DeadlineBefore != nil && !anInstance.Deadline.Before(*f.DeadlineBefore) {
		return false
	}
	return true
}

// Waiting returns a filter for the WAITING instance with the given ID. An
// empty ID yields dao.ErrInvalidID since the filter would match any instance.
func Waiting(id string) (*Filter, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	return &Filter{ID: id, Statuses: []model.Status{model.StatusWaiting}}, nil
}

// Update lists the fields a conditional update may change.
type Update struct {
	Status         model.Status
	LastModifiedAt time.Time
}

// Apply mutates anInstance in place and bumps its version.
func (u *Update) Apply(anInstance *model.Instance) {
	if u.Status != "" {
		anInstance.Status = u.Status
	}
	if !u.LastModifiedAt.IsZero() {
		anInstance.LastModifiedAt = u.LastModifiedAt
	}
	anInstance.Version++
}

func containsStatus(candidates []model.Status, status model.Status) bool {
	for _, candidate := range candidates {
		if candidate == status {
			return true
		}
	}
	return false
}

func containsType(candidates []model.Type, aType model.Type) bool {
	for _, candidate := range candidates {
		if candidate == aType {
			return true
		}
	}
	return false
}
