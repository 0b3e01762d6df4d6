// Package telemetry wires OpenTelemetry tracing and metrics for the server.
//
// Observer implements both session.Observer and protocol.Observer: it counts
// opened and active sessions, records session lifetimes, and wraps each
// tools/call in a span with an invocation counter and latency histogram
// labelled by tool and outcome.
package telemetry
