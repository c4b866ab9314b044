// Package eventlog implements the durable append-only log underlying the bus.
//
// # Overview
//
// Each subject owns an independent log persisted in Pebble. Keys are
// lexicographically ordered for efficient range scans:
//   - log/{subject}/m           (subject metadata: lastSeq)
//   - log/{subject}/e/{seq_be8} (entries)
//   - cursor/{subject}/{group}  (durable group cursors)
//
// Records are stored as: headerLen(uvarint) | header | payload | crc32c(header|payload).
//
// API surface (internal)
//
//	l, _ := OpenLog(db, "pages.rendered")
//	// Append a batch atomically; returns assigned seq numbers
//	seqs, _ := l.Append(ctx, []AppendRecord{{Header: h, Payload: p}})
//
//	// Read forward/reverse with an optional start token and limit
//	items, next := l.Read(ReadOptions{Start: TokenFromSeq(seqs[0]), Limit: 100})
//	_ = next // resume position
//
//	// Blocking wait/notify
//	woke := l.WaitForAppend(200 * time.Millisecond)
//	_ = woke
//
//	// Durable consumer cursor commits (idempotent, no regression)
//	_ = l.CommitCursor("render", TokenFromSeq(seqs[len(seqs)-1]))
//
//	// Trims (approximate):
//	//  - by age using header timestamps
//	//  - by total bytes budget
//	// Both support batching and throttling.
//	_, _, _ = l.TrimOlderThan(ctx, cutoffMs, 1024, 0, tsExtractor)
//	_, _ = l.TrimToMaxBytes(ctx, maxBytes, 1024, 0)
package eventlog
