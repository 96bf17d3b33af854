// Package tracing wraps OpenTelemetry so approval operations can be traced
// without importing the SDK directly.
package tracing
