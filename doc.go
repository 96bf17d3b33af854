// Package gatekeeper pauses pipeline executions at approval gates and resumes
// them exactly once when a decision, an external criteria outcome or a
// timeout is recorded.
//
// The root package wires the building blocks from a Config:
//
//	srv, _ := gatekeeper.New(ctx, gatekeeper.WithConfig(cfg))
//	_ = srv.Start(ctx)
//	defer srv.Shutdown(ctx)
//	gate, _ := srv.Approval().Create(ctx, &model.Instance{...})
//	_, _ = srv.Approval().AddHarnessApprovalActivity(ctx, gate.ID, "alice", request)
//
// Completions are published on srv.Completions() unless a custom
// notify.Port is supplied.
package gatekeeper
