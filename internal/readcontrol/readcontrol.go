// Package readcontrol implements the journal's shared polling scheduler
// (spec.md C10): the ordering-gap-tolerant loop that C7 (tag query) and C8
// (all-events query) both build on, in current (terminates when caught up)
// and live (polls forever) variants. Grounded on the teacher's
// internal/search/outbox.go poll-loop skeleton (ticker + context cancellation
// + early-wake channel), generalized so it does not know about tags or
// all-events — it only knows how to fetch a page by ordering range and
// advance a cursor safely.
package readcontrol

import (
	"context"
	"time"

	"github.com/arcflow-db/eventjournal/internal/model"
)

// Config carries the C10-owned knobs that parameterize a poll loop.
type Config struct {
	RefreshInterval time.Duration
	MaxBufferSize   int
	// SafetyWindow is subtracted from the current max ordering before
	// computing the fetch ceiling, so a transaction that is still
	// committing (and will receive a lower ordering than one already
	// visible) cannot be skipped by a reader that raced ahead of it.
	SafetyWindow int64
	// Wake, if non-nil, lets a caller holding a LISTEN/NOTIFY connection
	// shorten the sleep between ticks. Optional; a nil channel blocks
	// forever and the loop simply falls back to RefreshInterval.
	Wake <-chan struct{}
}

// FetchFunc retrieves rows with ordering in (gtOrdering, leOrdering], in
// ascending order, capped at limit rows.
type FetchFunc func(ctx context.Context, gtOrdering, leOrdering int64, limit int) ([]model.EventRow, error)

// MaxOrderingFunc returns the current maximum assigned ordering, or 0 if
// the table is empty.
type MaxOrderingFunc func(ctx context.Context) (int64, error)

// EmitFunc is called once per fetched row, in order. Returning an error
// aborts the poll loop.
type EmitFunc func(row model.EventRow) error

// step runs one fetch-and-emit cycle, advancing *lastEmitted. It reports
// whether progress was made so the caller can decide whether to sleep.
func step(ctx context.Context, cfg Config, fetch FetchFunc, maxOrdering MaxOrderingFunc, lastEmitted *int64, emit EmitFunc) (bool, error) {
	maxInDB, err := maxOrdering(ctx)
	if err != nil {
		return false, err
	}
	ceiling := maxInDB - cfg.SafetyWindow
	if ceiling <= *lastEmitted {
		return false, nil
	}

	limit := cfg.MaxBufferSize
	if limit < 1 {
		limit = 1
	}
	rows, err := fetch(ctx, *lastEmitted, ceiling, limit)
	if err != nil {
		return false, err
	}

	for _, row := range rows {
		if err := emit(row); err != nil {
			return false, err
		}
	}

	// Page size bounds rows fetched, not envelopes emitted: a row that
	// produced zero or several envelopes still advances the cursor by its
	// own ordering, and an empty result still proves the whole
	// (lastEmitted, ceiling] range was scanned (the WHERE clause, not the
	// LIMIT, determines what was scanned; LIMIT only caps what's returned).
	if len(rows) > 0 {
		*lastEmitted = rows[len(rows)-1].Ordering
	} else {
		*lastEmitted = ceiling
	}
	return true, nil
}

// RunCurrent polls until caught up (ceiling <= lastEmitted with nothing
// more to advance), then returns. startOffset is the caller's last consumed
// ordering (0 for a fresh query).
func RunCurrent(ctx context.Context, cfg Config, fetch FetchFunc, maxOrdering MaxOrderingFunc, startOffset int64, emit EmitFunc) error {
	last := startOffset
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		advanced, err := step(ctx, cfg, fetch, maxOrdering, &last, emit)
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
	}
}

// RunLive polls forever until ctx is cancelled, sleeping RefreshInterval
// (or until Wake fires) between cycles that made no progress. Cancellation
// is observed within one RefreshInterval plus one in-flight round trip.
func RunLive(ctx context.Context, cfg Config, fetch FetchFunc, maxOrdering MaxOrderingFunc, startOffset int64, emit EmitFunc) error {
	last := startOffset
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		advanced, err := step(ctx, cfg, fetch, maxOrdering, &last, emit)
		if err != nil {
			return err
		}
		if advanced {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-cfg.Wake:
		}
	}
}
