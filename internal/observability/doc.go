// Package observability provides logging, metrics and tracing for hookguard.
//
// Every hook invocation is a short-lived process, so the pieces are shaped
// around that:
//
//   - NewLogger builds a slog.Logger that writes to stderr and redacts
//     secrets. Stdout carries the wire record and is never logged to.
//   - Metrics registers counters on a private registry. WriteTextfile dumps
//     them in the node_exporter textfile-collector format at process exit.
//   - NewTracer exports spans over OTLP/gRPC when an endpoint is configured
//     and is a no-op otherwise.
package observability
