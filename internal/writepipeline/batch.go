package writepipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// run drives the weight-batching loop: block for the first group, then
// opportunistically drain whatever else is already queued without blocking,
// up to batch_size total rows — the same ticker-or-signal idle-flush shape
// as the teacher's flushLoop, minus the ticker (idle here means "mailbox
// had nothing more to give right now", checked with a non-blocking receive
// rather than a timer).
func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()

	var eg errgroup.Group
	limit := p.cfg.Parallelism
	if limit < 1 {
		limit = 1
	}
	eg.SetLimit(limit)

	for {
		batch, ok := p.nextBatch(ctx)
		if !ok {
			break
		}
		b := batch
		eg.Go(func() error {
			p.executeBatch(ctx, b)
			return nil
		})
	}
	_ = eg.Wait()

	// Drain whatever was left sitting in the mailbox when stop/ctx fired so
	// no WriteMessages caller is left waiting on a done channel that will
	// never be written to.
	for {
		select {
		case g, ok := <-p.mailbox:
			if !ok {
				return
			}
			p.executeBatch(context.Background(), []*pendingGroup{g})
		default:
			return
		}
	}
}

func (p *Pipeline) nextBatch(ctx context.Context) ([]*pendingGroup, bool) {
	target := p.cfg.BatchSize
	if target < 1 {
		target = 1
	}

	select {
	case g, ok := <-p.mailbox:
		if !ok {
			return nil, false
		}
		if p.queueDepth != nil {
			p.queueDepth.Add(ctx, -1)
		}
		batch := []*pendingGroup{g}
		weight := len(g.rows)
		for weight < target {
			select {
			case g2, ok := <-p.mailbox:
				if !ok {
					return batch, true
				}
				if p.queueDepth != nil {
					p.queueDepth.Add(ctx, -1)
				}
				batch = append(batch, g2)
				weight += len(g2.rows)
			default:
				return batch, true
			}
		}
		return batch, true
	case <-p.stop:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}
