// Package worker hosts pipeline stages on the bus. It layers idempotency on
// top of at-least-once delivery: decode failures and validation errors are
// dead-lettered immediately, completed event ids are remembered so
// redeliveries ack without side effects, and everything else retries under
// the bus backoff policy.
package worker
