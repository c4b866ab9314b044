// Package client contains Cobra CLI commands for audiopipe.
//
// The commands operate directly on the local data directory: audiopipe is a
// single-process engine over an embedded store, so client commands expect
// exclusive access. `submit --wait` hosts the full pipeline in-process and
// blocks until the workflow's manifest is written.
//
// Usage
//
//	audiopipe submit book.pdf --user u-1 --tenant acme --wait
//
//	audiopipe status                       # list recent workflows
//	audiopipe status 6f1c...               # one workflow with per-stage progress
//
//	audiopipe watch --subject workflows.completed --follow
//	audiopipe watch --subject pages.rendered --filter 'json.page_number == 1'
//
//	audiopipe dlq --subject documents.created --group render
//
// Notes
//
//   - watch tails without a consumer group: no acks, retries, or cursor.
//   - dlq decodes each dead-lettered payload and includes the delivery
//     error and attempt count recorded at dead-letter time.
package client
