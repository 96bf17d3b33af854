package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/viant/gatekeeper/model"
)

// jsonb is sent as text; lib/pq would encode a plain []byte as bytea.
type jsonb []byte

func (j jsonb) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

func (j *jsonb) Scan(src interface{}) error {
	switch actual := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], actual...)
	case string:
		*j = jsonb(actual)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
	return nil
}

// row mirrors the table layout; JSON columns are kept as raw bytes.
type row struct {
	ID              string    `db:"id"`
	Type            string    `db:"type"`
	Status          string    `db:"status"`
	NodeExecutionID string    `db:"node_execution_id"`
	Deadline        time.Time `db:"deadline"`
	CreatedAt       time.Time `db:"created_at"`
	LastModifiedAt  time.Time `db:"last_modified_at"`
	Activities      jsonb     `db:"activities"`
	ApproverSpec    jsonb     `db:"approver_spec"`
	Details         jsonb     `db:"details"`
	Version         int64     `db:"version"`
}

func newRow(anInstance *model.Instance) (*row, error) {
	ret := &row{
		ID:              anInstance.ID,
		Type:            string(anInstance.Type),
		Status:          string(anInstance.Status),
		NodeExecutionID: anInstance.NodeExecutionID,
		Deadline:        anInstance.Deadline.UTC(),
		CreatedAt:       anInstance.CreatedAt.UTC(),
		LastModifiedAt:  anInstance.LastModifiedAt.UTC(),
		Version:         anInstance.Version,
	}
	activities := anInstance.Activities
	if activities == nil {
		activities = []*model.Activity{}
	}
	var err error
	if ret.Activities, err = json.Marshal(activities); err != nil {
		return nil, fmt.Errorf("failed to marshal activities: %w", err)
	}
	if anInstance.ApproverSpec != nil {
		if ret.ApproverSpec, err = json.Marshal(anInstance.ApproverSpec); err != nil {
			return nil, fmt.Errorf("failed to marshal approver spec: %w", err)
		}
	}
	if anInstance.Details != nil {
		if ret.Details, err = json.Marshal(anInstance.Details); err != nil {
			return nil, fmt.Errorf("failed to marshal details: %w", err)
		}
	}
	return ret, nil
}

func (r *row) instance() (*model.Instance, error) {
	ret := &model.Instance{
		ID:              r.ID,
		Type:            model.Type(r.Type),
		Status:          model.Status(r.Status),
		NodeExecutionID: r.NodeExecutionID,
		Deadline:        r.Deadline.UTC(),
		CreatedAt:       r.CreatedAt.UTC(),
		LastModifiedAt:  r.LastModifiedAt.UTC(),
		Version:         r.Version,
	}
	if len(r.Activities) > 0 {
		if err := json.Unmarshal(r.Activities, &ret.Activities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activities of %s: %w", r.ID, err)
		}
		if len(ret.Activities) == 0 {
			ret.Activities = nil
		}
	}
	if len(r.ApproverSpec) > 0 {
		ret.ApproverSpec = &model.ApproverSpec{}
		if err := json.Unmarshal(r.ApproverSpec, ret.ApproverSpec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal approver spec of %s: %w", r.ID, err)
		}
	}
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &ret.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details of %s: %w", r.ID, err)
		}
	}
	return ret, nil
}
