// Package instance defines the persistence contract for approval instances.
//
// Besides plain Load/Save/Delete the Store exposes two conditional update
// primitives, UpdateOne and UpdateMany, that atomically apply an Update to
// documents matching a Filter and report how many were changed. They are
// the only concurrency control the approval service relies on: a transition
// out of WAITING is expressed as a Filter on Status=WAITING, so at most one
// concurrent caller can observe a non-zero count.
//
// Save is guarded by Instance.Version. Every write, including the ones done
// by UpdateOne/UpdateMany, bumps the version, so a read-modify-Save sequence
// that lost a race fails with dao.ErrConflict instead of overwriting the
// winner.
package instance
