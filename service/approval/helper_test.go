package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/gatekeeper/model"
	"github.com/viant/gatekeeper/service/approval"
	"github.com/viant/gatekeeper/service/dao/instance/memory"
)

func TestWaitForTerminal(t *testing.T) {
	testCases := []struct {
		description string
		decide      func(ctx context.Context, srv *approval.Service, user string) func()
		timeout     time.Duration
		expect      model.Status
		expectError bool
	}{
		{
			description: "approved before timeout",
			decide: func(ctx context.Context, srv *approval.Service, user string) func() {
				return approval.AutoApprove(ctx, srv, user, 5*time.Millisecond)
			},
			timeout: time.Second,
			expect:  model.StatusApproved,
		},
		{
			description: "rejected before timeout",
			decide: func(ctx context.Context, srv *approval.Service, user string) func() {
				return approval.AutoReject(ctx, srv, user, "freeze window", 5*time.Millisecond)
			},
			timeout: time.Second,
			expect:  model.StatusRejected,
		},
		{
			description: "timeout waiting for decision",
			decide: func(ctx context.Context, srv *approval.Service, user string) func() {
				return approval.AutoDecider(ctx, srv, user, func(*model.Instance) (model.Action, string) {
					return "", ""
				}, 5*time.Millisecond)
			},
			timeout:     50 * time.Millisecond,
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			ctx := context.Background()
			store := memory.New()
			srv := newService(store, &recorder{})
			seed(t, store, manual("i1", 1, now.Add(time.Hour)), model.StatusWaiting)

			stop := tc.decide(ctx, srv, "bot")
			defer stop()

			anInstance, err := approval.WaitForTerminal(ctx, srv, "i1", tc.timeout)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, anInstance.Status)
			require.Len(t, anInstance.Activities, 1)
			assert.Equal(t, "bot", anInstance.Activities[0].User)
		})
	}
}

func TestWaitForTerminal_UnknownInstance(t *testing.T) {
	srv := newService(memory.New(), &recorder{})
	_, err := approval.WaitForTerminal(context.Background(), srv, "missing", time.Second)
	assert.ErrorIs(t, err, approval.ErrNotFound)
}
