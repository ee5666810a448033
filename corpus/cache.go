package corpus

import (
	"context"

	"github.com/dhcgn/mail-fraud-triage/model"
	"github.com/dhcgn/mail-fraud-triage/state"
)

// CacheSource replays records from a JSONL cache written by an earlier scan.
type CacheSource struct {
	Path string
}

func (c *CacheSource) Name() string {
	return "cache:" + c.Path
}

func (c *CacheSource) Stream(ctx context.Context, out chan<- model.Envelope) error {
	seq := 0
	return state.ReadCache(c.Path, func(m model.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := m
		err := emitEnvelope(ctx, out, model.Envelope{Seq: seq, Source: c.Path, Owner: m.Owner, Parsed: &msg})
		seq++
		return err
	})
}

func (c *CacheSource) Count(ctx context.Context) (int, error) {
	count := 0
	err := state.ReadCache(c.Path, func(model.Message) error {
		count++
		return ctx.Err()
	})
	return count, err
}
