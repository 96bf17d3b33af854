package instance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/gatekeeper/model"
	"github.com/viant/gatekeeper/service/dao"
	"github.com/viant/gatekeeper/service/dao/instance"
)

func TestWaiting(t *testing.T) {
	filter, err := instance.Waiting("")
	assert.ErrorIs(t, err, dao.ErrInvalidID)
	assert.Nil(t, filter)

	filter, err = instance.Waiting("i1")
	require.NoError(t, err)
	assert.True(t, filter.Match(&model.Instance{ID: "i1", Status: model.StatusWaiting}))
	assert.False(t, filter.Match(&model.Instance{ID: "i2", Status: model.StatusWaiting}))
	assert.False(t, filter.Match(&model.Instance{ID: "i1", Status: model.StatusApproved}))
}

func TestFilter_Match(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	anInstance := &model.Instance{
		ID:              "i1",
		Type:            model.TypeJira,
		Status:          model.StatusWaiting,
		NodeExecutionID: "n1",
		Deadline:        now,
	}
	later := now.Add(time.Second)
	testCases := []struct {
		description string
		filter      *instance.Filter
		expect      bool
	}{
		{description: "nil filter", expect: true},
		{description: "empty filter", filter: &instance.Filter{}, expect: true},
		{description: "node execution", filter: &instance.Filter{NodeExecutionID: "n1"}, expect: true},
		{description: "other node execution", filter: &instance.Filter{NodeExecutionID: "n2"}},
		{description: "type", filter: &instance.Filter{Types: []model.Type{model.TypeServiceNow, model.TypeJira}}, expect: true},
		{description: "other type", filter: &instance.Filter{Types: []model.Type{model.TypeHarnessManual}}},
		{description: "deadline before", filter: &instance.Filter{DeadlineBefore: &later}, expect: true},
		{description: "deadline equal", filter: &instance.Filter{DeadlineBefore: &now}},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expect, tc.filter.Match(anInstance), tc.description)
	}
}
