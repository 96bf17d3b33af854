// Package approval implements the approval instance lifecycle: recording
// approver decisions, finalizing externally evaluated gates and expiring
// overdue ones. Every transition out of WAITING is a conditional store
// update, so concurrent callers on any number of replicas agree on exactly
// one outcome, and only the winner notifies the suspended execution.
package approval
