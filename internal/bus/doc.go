// Package bus provides publish/subscribe with consumer-group semantics over
// the durable per-subject event logs.
//
// Publish appends a timestamped record and enforces a payload ceiling; large
// artifacts go through the blob store and events carry keys. Subscribe runs a
// pull loop: each record is claimed under a durable lease by exactly one
// group member, acked on handler success, and otherwise redelivered with
// exponential-jitter backoff. Attempts are tracked durably; once the policy
// limit is reached (or a Permanent error is returned) the delivery routes to
// dlq.{subject}.{group} and stops redelivering. A sweeper reclaims leases
// whose holders crashed. Acking never deletes log records; retention trims do.
package bus
