// Package model contains the persisted representation of an approval gate.
//
// An Instance is created when a pipeline step enters an approval stage and
// stays WAITING until exactly one terminal status (APPROVED, REJECTED or
// EXPIRED) is recorded for it. Activities are the append-only log of human
// decisions that lead to that outcome.
package model
