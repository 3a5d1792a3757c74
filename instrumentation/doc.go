// Package instrumentation provides OpenTelemetry metrics and tracing for
// the authorization server.
//
// All recording helpers are nil-safe: a nil *Instrumentation or nil
// *Metrics is inert, so callers never guard individual call sites.
package instrumentation
