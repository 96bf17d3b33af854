package approval_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/gatekeeper/internal/idgen"
	"github.com/viant/gatekeeper/model"
	"github.com/viant/gatekeeper/service/approval"
	"github.com/viant/gatekeeper/service/dao"
	"github.com/viant/gatekeeper/service/dao/instance"
	"github.com/viant/gatekeeper/service/dao/instance/memory"
	"github.com/viant/gatekeeper/service/notify"
	"github.com/viant/gatekeeper/service/tx"
)

var now = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	calls []*notify.Payload
	err   error
}

func (r *recorder) Complete(_ context.Context, instanceID string, payload *notify.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, payload)
	return r.err
}

func (r *recorder) statuses() map[string][]model.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := map[string][]model.Status{}
	for _, call := range r.calls {
		ret[call.InstanceID] = append(ret[call.InstanceID], call.Status)
	}
	return ret
}

func newService(store instance.Store, port notify.Port, opts ...approval.Option) *approval.Service {
	opts = append([]approval.Option{
		approval.WithNotifier(port),
		approval.WithClock(func() time.Time { return now }),
		approval.WithRunner(tx.New(tx.Policy{MaxAttempts: 3, Delay: time.Millisecond})),
	}, opts...)
	return approval.New(store, opts...)
}

func manual(id string, minimum int, deadline time.Time, users ...string) *model.Instance {
	return &model.Instance{
		ID:              id,
		Type:            model.TypeHarnessManual,
		NodeExecutionID: "node-" + id,
		Deadline:        deadline,
		ApproverSpec:    &model.ApproverSpec{MinimumCount: minimum, Users: users},
	}
}

func seed(t *testing.T, store instance.Store, anInstance *model.Instance, status model.Status) {
	anInstance.Status = status
	anInstance.CreatedAt = now.Add(-time.Hour)
	anInstance.LastModifiedAt = anInstance.CreatedAt
	require.NoError(t, store.Save(context.Background(), anInstance))
}

func approve(user string) *approval.ActivityRequest {
	return &approval.ActivityRequest{Action: model.ActionApprove, Comment: user + " approves"}
}

func TestService_Create(t *testing.T) {
	testCases := []struct {
		description string
		instance    *model.Instance
		expectErr   error
	}{
		{description: "manual instance", instance: manual("", 1, now.Add(time.Hour))},
		{description: "jira instance", instance: &model.Instance{Type: model.TypeJira, Deadline: now.Add(time.Hour), Details: map[string]interface{}{"ticket": "OPS-1"}}},
		{description: "nil instance", expectErr: approval.ErrValidation},
		{description: "missing deadline", instance: manual("", 1, time.Time{}), expectErr: approval.ErrValidation},
		{description: "manual without approver spec", instance: &model.Instance{Type: model.TypeHarnessManual, Deadline: now.Add(time.Hour)}, expectErr: approval.ErrValidation},
		{description: "minimum below one", instance: manual("", 0, now.Add(time.Hour)), expectErr: approval.ErrValidation},
		{description: "unknown type", instance: &model.Instance{Type: "EMAIL", Deadline: now.Add(time.Hour)}, expectErr: approval.ErrValidation},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			srv := newService(memory.New(), notify.Nop{})
			created, err := srv.Create(context.Background(), tc.instance)
			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr, tc.description)
				return
			}
			require.NoError(t, err, tc.description)
			assert.NotEmpty(t, created.ID)
			assert.Equal(t, model.StatusWaiting, created.Status)
			assert.Equal(t, now, created.CreatedAt)
			assert.EqualValues(t, 1, created.Version)

			loaded, err := srv.Get(context.Background(), created.ID)
			require.NoError(t, err)
			assert.Equal(t, created.Deadline, loaded.Deadline)
		})
	}
}

func TestService_CreateAssignsID(t *testing.T) {
	restore := idgen.NewFunc
	idgen.NewFunc = func() string { return "gate-1" }
	defer func() { idgen.NewFunc = restore }()

	srv := newService(memory.New(), notify.Nop{})
	created, err := srv.Create(context.Background(), manual("", 1, now.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "gate-1", created.ID)

	explicit, err := srv.Create(context.Background(), manual("custom", 1, now.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "custom", explicit.ID)
}

func TestService_CreateDuplicate(t *testing.T) {
	srv := newService(memory.New(), notify.Nop{})
	_, err := srv.Create(context.Background(), manual("i1", 1, now.Add(time.Hour)))
	require.NoError(t, err)
	_, err = srv.Create(context.Background(), manual("i1", 1, now.Add(time.Hour)))
	assert.ErrorIs(t, err, approval.ErrValidation)
}

func TestService_GetDelete(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	srv := newService(store, notify.Nop{})
	seed(t, store, manual("i1", 1, now.Add(time.Hour)), model.StatusWaiting)

	_, err := srv.Get(ctx, "missing")
	assert.ErrorIs(t, err, approval.ErrNotFound)
	assert.ErrorIs(t, srv.Delete(ctx, "missing"), approval.ErrNotFound)

	require.NoError(t, srv.Delete(ctx, "i1"))
	_, err = srv.Get(ctx, "i1")
	assert.ErrorIs(t, err, approval.ErrNotFound)
}

func TestService_ScenarioA(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	port := &recorder{}
	srv := newService(store, port)
	seed(t, store, manual("i1", 1, now.Add(time.Hour)), model.StatusWaiting)

	updated, err := srv.AddHarnessApprovalActivity(ctx, "i1", "alice", approve("alice"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, updated.Status)
	require.Len(t, updated.Activities, 1)
	assert.Equal(t, "alice", updated.Activities[0].User)
	assert.Equal(t, now, updated.Activities[0].Timestamp)

	assert.Equal(t, map[string][]model.Status{"i1": {model.StatusApproved}}, port.statuses())
	assert.Equal(t, "node-i1", port.calls[0].NodeExecutionID)
}

func TestService_ScenarioB(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	port := &recorder{}
	srv := newService(store, port)
	seed(t, store, manual("i1", 1, now.Add(time.Hour)), model.StatusRejected)
	before, err := store.Load(ctx, "i1")
	require.NoError(t, err)

	_, err = srv.AddHarnessApprovalActivity(ctx, "i1", "alice", approve("alice"))
	require.ErrorIs(t, err, approval.ErrInvalidState)
	assert.Contains(t, err.Error(), "already completed. Status: REJECTED")

	after, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, port.calls)
}

func TestService_AddActivityRejections(t *testing.T) {
	testCases := []struct {
		description string
		instance    *model.Instance
		status      model.Status
		user        string
		request     *approval.ActivityRequest
		expectErr   error
		expectText  string
	}{
		{
			description: "expired status",
			instance:    manual("i1", 1, now.Add(time.Hour)),
			status:      model.StatusExpired,
			user:        "alice",
			request:     approve("alice"),
			expectErr:   approval.ErrInvalidState,
			expectText:  "already expired",
		},
		{
			description: "deadline passed before sweep",
			instance:    manual("i1", 1, now.Add(-time.Second)),
			status:      model.StatusWaiting,
			user:        "alice",
			request:     approve("alice"),
			expectErr:   approval.ErrInvalidState,
			expectText:  "already expired",
		},
		{
			description: "approved status",
			instance:    manual("i1", 1, now.Add(time.Hour)),
			status:      model.StatusApproved,
			user:        "alice",
			request:     approve("alice"),
			expectErr:   approval.ErrInvalidState,
			expectText:  "already completed. Status: APPROVED",
		},
		{
			description: "non manual type",
			instance:    &model.Instance{ID: "i1", Type: model.TypeServiceNow, Deadline: now.Add(time.Hour)},
			status:      model.StatusWaiting,
			user:        "alice",
			request:     approve("alice"),
			expectErr:   approval.ErrInvalidState,
		},
		{
			description: "missing action",
			instance:    manual("i1", 1, now.Add(time.Hour)),
			status:      model.StatusWaiting,
			user:        "alice",
			request:     &approval.ActivityRequest{},
			expectErr:   approval.ErrValidation,
		},
		{
			description: "unknown action",
			instance:    manual("i1", 1, now.Add(time.Hour)),
			status:      model.StatusWaiting,
			user:        "alice",
			request:     &approval.ActivityRequest{Action: "ABSTAIN"},
			expectErr:   approval.ErrValidation,
		},
		{
			description: "missing user",
			instance:    manual("i1", 1, now.Add(time.Hour)),
			status:      model.StatusWaiting,
			request:     approve(""),
			expectErr:   approval.ErrValidation,
		},
		{
			description: "user not listed",
			instance:    manual("i1", 1, now.Add(time.Hour), "alice", "bob"),
			status:      model.StatusWaiting,
			user:        "mallory",
			request:     approve("mallory"),
			expectErr:   approval.ErrValidation,
		},
		{
			description: "unknown instance",
			instance:    manual("other", 1, now.Add(time.Hour)),
			status:      model.StatusWaiting,
			user:        "alice",
			request:     approve("alice"),
			expectErr:   approval.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			store := memory.New()
			port := &recorder{}
			srv := newService(store, port)
			seed(t, store, tc.instance, tc.status)

			_, err := srv.AddHarnessApprovalActivity(context.Background(), "i1", tc.user, tc.request)
			require.ErrorIs(t, err, tc.expectErr, tc.description)
			if tc.expectText != "" {
				assert.Contains(t, err.Error(), tc.expectText, tc.description)
			}
			assert.Empty(t, port.calls, tc.description)
		})
	}
}

func TestService_GroupMembershipAllowsApprover(t *testing.T) {
	store := memory.New()
	srv := newService(store, notify.Nop{})
	anInstance := manual("i1", 1, now.Add(time.Hour))
	anInstance.ApproverSpec.Groups = []string{"release-managers"}
	seed(t, store, anInstance, model.StatusWaiting)

	_, err := srv.AddHarnessApprovalActivity(context.Background(), "i1", "carol", approve("carol"))
	assert.ErrorIs(t, err, approval.ErrValidation)

	updated, err := srv.AddHarnessApprovalActivity(context.Background(), "i1", "carol", &approval.ActivityRequest{
		Action: model.ActionApprove,
		Groups: []string{"release-managers"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, updated.Status)
}

func TestService_ApprovalThreshold(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	port := &recorder{}
	srv := newService(store, port)
	seed(t, store, manual("i1", 2, now.Add(time.Hour), "alice", "bob"), model.StatusWaiting)

	updated, err := srv.AddHarnessApprovalActivity(ctx, "i1", "alice", approve("alice"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, updated.Status)
	assert.Empty(t, port.calls)

	_, err = srv.AddHarnessApprovalActivity(ctx, "i1", "alice", approve("alice"))
	assert.ErrorIs(t, err, approval.ErrValidation)

	updated, err = srv.AddHarnessApprovalActivity(ctx, "i1", "bob", approve("bob"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, updated.Status)
	assert.Len(t, updated.Activities, 2)
	assert.Equal(t, map[string][]model.Status{"i1": {model.StatusApproved}}, port.statuses())
	require.Len(t, port.calls[0].Activities, 2)
}

func TestService_RejectShortCircuit(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	port := &recorder{}
	srv := newService(store, port)
	seed(t, store, manual("i1", 3, now.Add(time.Hour)), model.StatusWaiting)

	_, err := srv.AddHarnessApprovalActivity(ctx, "i1", "alice", approve("alice"))
	require.NoError(t, err)
	_, err = srv.AddHarnessApprovalActivity(ctx, "i1", "bob", approve("bob"))
	require.NoError(t, err)

	updated, err := srv.AddHarnessApprovalActivity(ctx, "i1", "carol", &approval.ActivityRequest{Action: model.ActionReject, Comment: "not today"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, updated.Status)
	assert.Len(t, updated.Activities, 3)
	assert.Equal(t, map[string][]model.Status{"i1": {model.StatusRejected}}, port.statuses())
}

func TestService_MarkExpiredInstances(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	port := &recorder{}
	srv := newService(store, port)
	seed(t, store, manual("overdue", 1, now.Add(-time.Second)), model.StatusWaiting)
	seed(t, store, manual("pending", 1, now.Add(time.Hour)), model.StatusWaiting)
	seed(t, store, manual("done", 1, now.Add(-time.Hour)), model.StatusApproved)

	count, err := srv.MarkExpiredInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expected := map[string]model.Status{"overdue": model.StatusExpired, "pending": model.StatusWaiting, "done": model.StatusApproved}
	for id, status := range expected {
		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, loaded.Status, id)
	}

	count, err = srv.MarkExpiredInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, map[string][]model.Status{"overdue": {model.StatusExpired}}, port.statuses())
}

func TestService_BulkExpiryWithoutNotification(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	port := &recorder{}
	srv := newService(store, port, approval.WithExpiryNotification(false))
	for i := 0; i < 3; i++ {
		seed(t, store, manual(fmt.Sprintf("i%d", i), 1, now.Add(-time.Minute)), model.StatusWaiting)
	}
	seed(t, store, manual("node", 1, now.Add(time.Hour)), model.StatusWaiting)

	count, err := srv.MarkExpiredInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, srv.ExpireByNodeExecutionID(ctx, "node-node"))
	loaded, err := store.Load(ctx, "node")
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, loaded.Status)
	assert.Empty(t, port.calls)
}

func TestService_ExpireByNodeExecutionID(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	port := &recorder{}
	srv := newService(store, port)
	seed(t, store, manual("i1", 1, now.Add(time.Hour)), model.StatusWaiting)
	seed(t, store, manual("i2", 1, now.Add(time.Hour)), model.StatusApproved)

	require.NoError(t, srv.ExpireByNodeExecutionID(ctx, "node-i1"))
	require.NoError(t, srv.ExpireByNodeExecutionID(ctx, "node-i1"))
	require.NoError(t, srv.ExpireByNodeExecutionID(ctx, "node-i2"))
	require.NoError(t, srv.ExpireByNodeExecutionID(ctx, "node-unknown"))
	assert.ErrorIs(t, srv.ExpireByNodeExecutionID(ctx, ""), approval.ErrValidation)

	first, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, first.Status)
	second, err := store.Load(ctx, "i2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, second.Status)
	assert.Equal(t, map[string][]model.Status{"i1": {model.StatusExpired}}, port.statuses())
}

func TestService_Expire(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	port := &recorder{}
	srv := newService(store, port)
	seed(t, store, manual("i1", 1, now.Add(time.Hour)), model.StatusWaiting)

	expired, err := srv.Expire(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, expired)

	expired, err = srv.Expire(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, expired)

	expired, err = srv.Expire(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Len(t, port.calls, 1)
}

func TestService_FinalizeStatus(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	port := &recorder{}
	srv := newService(store, port)
	seed(t, store, &model.Instance{ID: "i1", Type: model.TypeJira, Deadline: now.Add(time.Hour)}, model.StatusWaiting)

	assert.ErrorIs(t, srv.FinalizeStatus(ctx, "i1", model.StatusWaiting), approval.ErrValidation)
	assert.ErrorIs(t, srv.FinalizeStatus(ctx, "missing", model.StatusApproved), approval.ErrNotFound)

	require.NoError(t, srv.FinalizeStatus(ctx, "i1", model.StatusApproved))
	require.NoError(t, srv.FinalizeStatus(ctx, "i1", model.StatusRejected))

	loaded, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, loaded.Status)
	assert.Equal(t, map[string][]model.Status{"i1": {model.StatusApproved}}, port.statuses())
}

func TestService_NotifyFailureDoesNotFailTransition(t *testing.T) {
	store := memory.New()
	port := &recorder{err: errors.New("orchestrator down")}
	srv := newService(store, port)
	seed(t, store, manual("i1", 1, now.Add(time.Hour)), model.StatusWaiting)

	updated, err := srv.AddHarnessApprovalActivity(context.Background(), "i1", "alice", approve("alice"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, updated.Status)
	assert.Len(t, port.calls, 1)
}

// conflictingStore fails the first saves with a write conflict.
type conflictingStore struct {
	instance.Store
	failures int32
}

func (s *conflictingStore) Save(ctx context.Context, anInstance *model.Instance) error {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return dao.ErrConflict
	}
	return s.Store.Save(ctx, anInstance)
}

func TestService_RetriesConflicts(t *testing.T) {
	testCases := []struct {
		description string
		failures    int32
		expectErr   error
	}{
		{description: "recovers after conflicts", failures: 2},
		{description: "gives up after attempts", failures: 3, expectErr: tx.ErrRetriesExhausted},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			base := memory.New()
			seed(t, base, manual("i1", 1, now.Add(time.Hour)), model.StatusWaiting)
			port := &recorder{}
			srv := newService(&conflictingStore{Store: base, failures: tc.failures}, port)

			_, err := srv.AddHarnessApprovalActivity(context.Background(), "i1", "alice", approve("alice"))
			loaded, loadErr := base.Load(context.Background(), "i1")
			require.NoError(t, loadErr)
			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr)
				assert.Equal(t, model.StatusWaiting, loaded.Status)
				assert.Empty(t, port.calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.StatusApproved, loaded.Status)
			assert.Len(t, port.calls, 1)
		})
	}
}

func TestService_ConcurrentTriggers(t *testing.T) {
	for round := 0; round < 20; round++ {
		ctx := context.Background()
		store := memory.New()
		port := &recorder{}
		srv := newService(store, port)
		seed(t, store, manual("i1", 1, now.Add(time.Hour)), model.StatusWaiting)

		var wg sync.WaitGroup
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				switch i % 4 {
				case 0:
					_, err = srv.AddHarnessApprovalActivity(ctx, "i1", fmt.Sprintf("user-%d", i), approve("user"))
				case 1:
					_, err = srv.AddHarnessApprovalActivity(ctx, "i1", fmt.Sprintf("user-%d", i), &approval.ActivityRequest{Action: model.ActionReject})
				case 2:
					err = srv.FinalizeStatus(ctx, "i1", model.StatusApproved)
				case 3:
					_, err = srv.Expire(ctx, "i1")
				}
				if err != nil {
					assert.True(t, errors.Is(err, approval.ErrInvalidState) || errors.Is(err, tx.ErrRetriesExhausted), err.Error())
				}
			}(i)
		}
		wg.Wait()

		loaded, err := store.Load(ctx, "i1")
		require.NoError(t, err)
		require.True(t, loaded.Status.IsTerminal())
		statuses := port.statuses()
		require.Len(t, statuses["i1"], 1, "round %d", round)
		assert.Equal(t, loaded.Status, statuses["i1"][0])
		if loaded.Status == model.StatusApproved || loaded.Status == model.StatusRejected {
			assert.LessOrEqual(t, len(loaded.Activities), 1)
		}
	}
}

func TestService_EmptyIDIsRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	port := &recorder{}
	srv := newService(store, port)
	seed(t, store, &model.Instance{ID: "i1", Type: model.TypeJira, Deadline: now.Add(-time.Hour)}, model.StatusWaiting)

	assert.ErrorIs(t, srv.FinalizeStatus(ctx, "", model.StatusApproved), approval.ErrValidation)
	expired, err := srv.Expire(ctx, "")
	assert.ErrorIs(t, err, approval.ErrValidation)
	assert.False(t, expired)

	loaded, err := store.Load(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, loaded.Status)
	assert.Empty(t, port.statuses())
}

func TestService_Finalize(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	srv := newService(store, notify.Nop{})
	seed(t, store, &model.Instance{ID: "i1", Type: model.TypeServiceNow, Deadline: now.Add(time.Hour)}, model.StatusWaiting)

	won, err := srv.Finalize(ctx, "i1", model.StatusRejected)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = srv.Finalize(ctx, "i1", model.StatusApproved)
	require.NoError(t, err)
	assert.False(t, won)
}

// vanishingStore deletes every instance it transitions, as a concurrent
// Delete landing between the update and the reload would.
type vanishingStore struct {
	*memory.Store
}

func (s *vanishingStore) UpdateOne(ctx context.Context, filter *instance.Filter, update *instance.Update) (int, error) {
	count, err := s.Store.UpdateOne(ctx, filter, update)
	if err == nil && count == 1 && filter.ID != "" {
		_ = s.Store.Delete(ctx, filter.ID)
	}
	return count, err
}

func TestService_NotifiesCommittedStatusWhenReloadFails(t *testing.T) {
	ctx := context.Background()
	store := &vanishingStore{Store: memory.New()}
	port := &recorder{}
	srv := newService(store, port)
	seed(t, store, &model.Instance{ID: "jira", Type: model.TypeJira, Deadline: now.Add(time.Hour)}, model.StatusWaiting)
	seed(t, store, &model.Instance{ID: "snow", Type: model.TypeServiceNow, Deadline: now.Add(time.Hour)}, model.StatusWaiting)

	require.NoError(t, srv.FinalizeStatus(ctx, "jira", model.StatusRejected))
	expired, err := srv.Expire(ctx, "snow")
	require.NoError(t, err)
	assert.True(t, expired)

	assert.Equal(t, map[string][]model.Status{
		"jira": {model.StatusRejected},
		"snow": {model.StatusExpired},
	}, port.statuses())
}
