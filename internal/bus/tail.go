package bus

import (
	"context"
	"time"

	"github.com/nnikolov3/audiopipe/internal/eventlog"
)

// TailOptions tunes an observer tail.
type TailOptions struct {
	// StartSeq is the first sequence to deliver; 0 means the beginning.
	StartSeq uint64
	// Filter is an optional CEL expression over sequence/ts_ms/size/text/json.
	Filter string
	// Follow keeps the tail open waiting for new appends after catching up.
	Follow bool
}

// Tail streams subject records to fn without group semantics: no leases, no
// cursor commits, no attempt tracking. Observer tooling only.
func (b *Bus) Tail(ctx context.Context, subject string, opts TailOptions, fn func(Delivery) error) error {
	l, err := b.OpenLog(subject)
	if err != nil {
		return err
	}
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return err
	}

	var start eventlog.Token
	if opts.StartSeq > 0 {
		start = eventlog.TokenFromSeq(opts.StartSeq)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, _ := l.Read(eventlog.ReadOptions{Start: start, Limit: 128})
		if len(items) == 0 {
			if !opts.Follow {
				return nil
			}
			l.WaitForAppend(50 * time.Millisecond)
			continue
		}
		for _, it := range items {
			ts, _ := WriteTsFromHeader(it.Header)
			if !filter.Eval(it.Seq, ts, it.Payload) {
				continue
			}
			if err := fn(Delivery{Subject: subject, Seq: it.Seq, Payload: it.Payload, TsMs: ts}); err != nil {
				return err
			}
		}
		start = eventlog.TokenFromSeq(items[len(items)-1].Seq + 1)
	}
}
