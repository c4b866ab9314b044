package bus

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/nnikolov3/audiopipe/internal/event"
	"github.com/nnikolov3/audiopipe/internal/eventlog"
)

// dlqMeta is the JSON carried in a dead-letter record header after the
// 8-byte timestamp, describing where the delivery came from and why it died.
type dlqMeta struct {
	Subject  string `json:"subject"`
	Group    string `json:"group"`
	OrigSeq  uint64 `json:"orig_seq"`
	Attempts uint32 `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// DLQEntry is one inspectable dead-letter record.
type DLQEntry struct {
	Seq      uint64
	Subject  string
	Group    string
	OrigSeq  uint64
	Attempts uint32
	Error    string
	TsMs     int64
	Payload  []byte
}

// deadLetter appends the original payload to dlq.{subject}.{group} and marks
// the delivery so further nacks are ignored.
func (b *Bus) deadLetter(ctx context.Context, subject, group string, seq uint64, attempts uint32, herr error) error {
	l, err := b.OpenLog(subject)
	if err != nil {
		return err
	}
	var payload []byte
	if items, _ := l.Read(eventlog.ReadOptions{Start: eventlog.TokenFromSeq(seq), Limit: 1}); len(items) > 0 && items[0].Seq == seq {
		payload = items[0].Payload
	}

	meta := dlqMeta{Subject: subject, Group: group, OrigSeq: seq, Attempts: attempts}
	if herr != nil {
		meta.Error = herr.Error()
	}
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint64(hdr, uint64(b.nowMs()))
	if mb, err := json.Marshal(meta); err == nil {
		hdr = append(hdr, mb...)
	}

	dlqLog, err := b.OpenLog(event.DLQSubject(subject, group))
	if err != nil {
		return err
	}
	if _, err := dlqLog.Append(ctx, []eventlog.AppendRecord{{Header: hdr, Payload: payload}}); err != nil {
		return err
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.nowMs()))
	return b.db.Set(keyDLQDone(subject, group, seq), buf[:])
}

// ReadDLQ lists dead-letter records for a subject/group, oldest first.
func (b *Bus) ReadDLQ(subject, group string, startSeq uint64, limit int) ([]DLQEntry, error) {
	l, err := b.OpenLog(event.DLQSubject(subject, group))
	if err != nil {
		return nil, err
	}
	var start eventlog.Token
	if startSeq > 0 {
		start = eventlog.TokenFromSeq(startSeq)
	}
	items, _ := l.Read(eventlog.ReadOptions{Start: start, Limit: limit})
	out := make([]DLQEntry, 0, len(items))
	for _, it := range items {
		e := DLQEntry{Seq: it.Seq, Payload: it.Payload}
		if ts, ok := WriteTsFromHeader(it.Header); ok {
			e.TsMs = ts
		}
		if len(it.Header) > 8 {
			var meta dlqMeta
			if json.Unmarshal(it.Header[8:], &meta) == nil {
				e.Subject = meta.Subject
				e.Group = meta.Group
				e.OrigSeq = meta.OrigSeq
				e.Attempts = meta.Attempts
				e.Error = meta.Error
			}
		}
		out = append(out, e)
	}
	return out, nil
}
