// Package broadcast implements the dispatch engine: one composed message
// fanned out to a bounded recipient list with bounded concurrency.
//
// Concepts
//
// A broadcast is represented as a Job. Submit validates the request, registers
// a Job, and drives delivery attempts through a per-job worker pool that
// drains an order-preserving queue. An observer polls Status(id) until the
// snapshot reports complete.
//
// Delivery semantics
//
// The engine is best-effort and at-most-once per recipient: a failed attempt
// is recorded with its reason and never retried or escalated. A job always
// completes once every recipient has been attempted; "failed" is a count,
// not a job state. Resubmitting the failed subset is the caller's policy,
// which is why per-recipient failure reasons are kept.
package broadcast
