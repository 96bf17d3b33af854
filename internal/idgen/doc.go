// Package idgen wraps the UUID generator used for approval instance IDs so
// that it can be stubbed in tests. Callers treat the identifiers as opaque
// strings.
package idgen
