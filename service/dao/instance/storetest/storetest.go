// Package storetest holds the behavioural contract every instance.Store
// implementation must satisfy. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/gatekeeper/model"
	"github.com/viant/gatekeeper/service/dao"
	"github.com/viant/gatekeeper/service/dao/instance"
)

// Factory returns an empty store.
type Factory func(t *testing.T) instance.Store

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// NewInstance returns a WAITING manual instance for tests.
func NewInstance(id, nodeExecutionID string, deadline time.Time) *model.Instance {
	return &model.Instance{
		ID:              id,
		Type:            model.TypeHarnessManual,
		Status:          model.StatusWaiting,
		NodeExecutionID: nodeExecutionID,
		Deadline:        deadline,
		CreatedAt:       base,
		LastModifiedAt:  base,
		ApproverSpec:    &model.ApproverSpec{MinimumCount: 2, Users: []string{"alice", "bob"}},
		Details:         map[string]interface{}{"stage": "prod"},
	}
}

// Run executes the contract suite against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("save and load", func(t *testing.T) { testSaveLoad(t, factory(t)) })
	t.Run("optimistic save", func(t *testing.T) { testOptimisticSave(t, factory(t)) })
	t.Run("deadline is immutable", func(t *testing.T) { testDeadlineImmutable(t, factory(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, factory(t)) })
	t.Run("list filter", func(t *testing.T) { testList(t, factory(t)) })
	t.Run("update one is conditional", func(t *testing.T) { testUpdateOne(t, factory(t)) })
	t.Run("update many", func(t *testing.T) { testUpdateMany(t, factory(t)) })
	t.Run("concurrent update one", func(t *testing.T) { testConcurrentUpdateOne(t, factory(t)) })
}

func testSaveLoad(t *testing.T, store instance.Store) {
	ctx := context.Background()
	anInstance := NewInstance("i1", "n1", base.Add(time.Hour))
	anInstance.Activities = []*model.Activity{{User: "alice", Action: model.ActionApprove, Comment: "lgtm", Timestamp: base}}
	require.NoError(t, store.Save(ctx, anInstance))
	assert.EqualValues(t, 1, anInstance.Version)

	loaded, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, anInstance.ID, loaded.ID)
	assert.Equal(t, model.StatusWaiting, loaded.Status)
	assert.Equal(t, "n1", loaded.NodeExecutionID)
	assert.True(t, anInstance.Deadline.Equal(loaded.Deadline))
	assert.EqualValues(t, 1, loaded.Version)
	require.Len(t, loaded.Activities, 1)
	assert.Equal(t, "alice", loaded.Activities[0].User)
	assert.Equal(t, model.ActionApprove, loaded.Activities[0].Action)
	assert.Equal(t, 2, loaded.ApproverSpec.MinimumCount)
	assert.Equal(t, "prod", loaded.Details["stage"])

	loaded.Status = model.StatusRejected
	again, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, again.Status, "load must return a detached copy")

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)
}

func testOptimisticSave(t *testing.T, store instance.Store) {
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, NewInstance("i1", "n1", base)))

	first, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	second, err := store.Load(ctx, "i1")
	require.NoError(t, err)

	first.Activities = append(first.Activities, &model.Activity{User: "alice", Action: model.ActionApprove, Timestamp: base})
	require.NoError(t, store.Save(ctx, first))

	second.Status = model.StatusRejected
	assert.ErrorIs(t, store.Save(ctx, second), dao.ErrConflict)

	assert.ErrorIs(t, store.Save(ctx, NewInstance("i1", "n1", base)), dao.ErrConflict, "insert of existing id")

	updated, err := store.UpdateOne(ctx, waiting(t, "i1"), &instance.Update{Status: model.StatusExpired, LastModifiedAt: base})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	assert.ErrorIs(t, store.Save(ctx, first), dao.ErrConflict, "conditional update bumps version")

	loaded, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, loaded.Status)
	assert.Len(t, loaded.Activities, 1)
}

func testDeadlineImmutable(t *testing.T, store instance.Store) {
	ctx := context.Background()
	deadline := base.Add(time.Hour)
	require.NoError(t, store.Save(ctx, NewInstance("i1", "n1", deadline)))
	loaded, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	loaded.Deadline = deadline.Add(24 * time.Hour)
	loaded.LastModifiedAt = base.Add(time.Minute)
	require.NoError(t, store.Save(ctx, loaded))

	actual, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, deadline.Equal(actual.Deadline))
	assert.True(t, base.Add(time.Minute).Equal(actual.LastModifiedAt))
}

func testDelete(t *testing.T, store instance.Store) {
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, NewInstance("i1", "n1", base)))
	require.NoError(t, store.Delete(ctx, "i1"))
	assert.ErrorIs(t, store.Delete(ctx, "i1"), dao.ErrNotFound)
	_, err := store.Load(ctx, "i1")
	assert.ErrorIs(t, err, dao.ErrNotFound)
}

func testList(t *testing.T, store instance.Store) {
	ctx := context.Background()
	past := NewInstance("past", "n1", base.Add(-time.Second))
	future := NewInstance("future", "n2", base.Add(time.Hour))
	done := NewInstance("done", "n1", base.Add(-time.Hour))
	done.Status = model.StatusApproved
	jira := NewInstance("jira", "n3", base.Add(time.Hour))
	jira.Type = model.TypeJira
	jira.ApproverSpec = nil
	for _, anInstance := range []*model.Instance{past, future, done, jira} {
		require.NoError(t, store.Save(ctx, anInstance))
	}

	type testCase struct {
		name     string
		filter   *instance.Filter
		expected []string
	}
	tests := []testCase{
		{name: "all", filter: nil, expected: []string{"done", "future", "jira", "past"}},
		{name: "waiting", filter: &instance.Filter{Statuses: []model.Status{model.StatusWaiting}}, expected: []string{"future", "jira", "past"}},
		{name: "by node execution", filter: &instance.Filter{NodeExecutionID: "n1"}, expected: []string{"done", "past"}},
		{name: "waiting past deadline", filter: &instance.Filter{Statuses: []model.Status{model.StatusWaiting}, DeadlineBefore: &base}, expected: []string{"past"}},
		{name: "by type", filter: &instance.Filter{Types: []model.Type{model.TypeJira}}, expected: []string{"jira"}},
		{name: "by id", filter: &instance.Filter{ID: "future"}, expected: []string{"future"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := store.List(ctx, tc.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.expected, ids(actual))
		})
	}
}

func testUpdateOne(t *testing.T, store instance.Store) {
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, NewInstance("i1", "n1", base)))
	later := base.Add(time.Minute)

	count, err := store.UpdateOne(ctx, waiting(t, "i1"), &instance.Update{Status: model.StatusApproved, LastModifiedAt: later})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.UpdateOne(ctx, waiting(t, "i1"), &instance.Update{Status: model.StatusExpired, LastModifiedAt: later})
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = store.UpdateOne(ctx, waiting(t, "missing"), &instance.Update{Status: model.StatusExpired})
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	loaded, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, loaded.Status)
	assert.True(t, later.Equal(loaded.LastModifiedAt))
	assert.EqualValues(t, 2, loaded.Version)
}

func testUpdateMany(t *testing.T, store instance.Store) {
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, NewInstance("a", "n1", base.Add(-time.Second))))
	require.NoError(t, store.Save(ctx, NewInstance("b", "n2", base.Add(-time.Minute))))
	require.NoError(t, store.Save(ctx, NewInstance("c", "n3", base.Add(time.Hour))))

	filter := &instance.Filter{Statuses: []model.Status{model.StatusWaiting}, DeadlineBefore: &base}
	update := &instance.Update{Status: model.StatusExpired, LastModifiedAt: base}
	count, err := store.UpdateMany(ctx, filter, update)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.UpdateMany(ctx, filter, update)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	loaded, err := store.Load(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, loaded.Status)
}

func testConcurrentUpdateOne(t *testing.T, store instance.Store) {
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, NewInstance("i1", "n1", base)))
	statuses := []model.Status{model.StatusApproved, model.StatusRejected, model.StatusExpired}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []model.Status
	filter := waiting(t, "i1")
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(status model.Status) {
			defer wg.Done()
			count, err := store.UpdateOne(ctx, filter, &instance.Update{Status: status, LastModifiedAt: base})
			assert.NoError(t, err)
			if count > 0 {
				mu.Lock()
				winners = append(winners, status)
				mu.Unlock()
			}
		}(statuses[i%len(statuses)])
	}
	wg.Wait()
	require.Len(t, winners, 1)
	loaded, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], loaded.Status)
}

func ids(instances []*model.Instance) []string {
	var out []string
	for _, anInstance := range instances {
		out = append(out, anInstance.ID)
	}
	return out
}

func waiting(t *testing.T, id string) *instance.Filter {
	filter, err := instance.Waiting(id)
	require.NoError(t, err)
	return filter
}
