// Package allevents implements the global-ordering all-events scan, current
// and live (spec.md C8), and the persistence_ids projection ([NEW] in
// SPEC_FULL.md §4.7: same polling design, but the emitted value is the
// first-seen distinct persistence_id rather than a deserialized event).
// Both share internal/readcontrol's ordering-gap-tolerant loop; this
// package needs no join since there is no tag filter.
package allevents

import (
	"context"
	"fmt"

	"github.com/arcflow-db/eventjournal/internal/journalerr"
	"github.com/arcflow-db/eventjournal/internal/model"
	"github.com/arcflow-db/eventjournal/internal/readcontrol"
	"github.com/arcflow-db/eventjournal/internal/storage"
)

// Result mirrors tagquery.Result: a deserialized Envelope or the error that
// prevented deserializing its row, never terminating the stream.
type Result struct {
	Envelope model.Envelope
	Err      error
}

// Engine answers all-events and persistence_ids queries.
type Engine struct {
	backend    storage.Backend
	serializer model.Serializer
	cfg        readcontrol.Config
}

// New constructs an Engine.
func New(backend storage.Backend, serializer model.Serializer, cfg readcontrol.Config) *Engine {
	return &Engine{backend: backend, serializer: serializer, cfg: cfg}
}

func (e *Engine) fetch() readcontrol.FetchFunc {
	return func(ctx context.Context, gt, le int64, limit int) ([]model.EventRow, error) {
		rows, err := e.backend.FetchAllEvents(ctx, gt, le, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch all events: %v", journalerr.ErrStorage, err)
		}
		return rows, nil
	}
}

// Current runs the all-events scan until caught up.
func (e *Engine) Current(ctx context.Context, offset int64, onResult func(Result) error) error {
	return readcontrol.RunCurrent(ctx, e.cfg, e.fetch(), e.backend.MaxOrdering, offset, e.rowHandler(ctx, onResult))
}

// Live polls the all-events scan forever until ctx is cancelled.
func (e *Engine) Live(ctx context.Context, offset int64, onResult func(Result) error) error {
	return readcontrol.RunLive(ctx, e.cfg, e.fetch(), e.backend.MaxOrdering, offset, e.rowHandler(ctx, onResult))
}

func (e *Engine) rowHandler(ctx context.Context, onResult func(Result) error) readcontrol.EmitFunc {
	return func(row model.EventRow) error {
		events, err := e.serializer.Deserialize(ctx, row.ToDeserializedRow())
		if err != nil {
			return onResult(Result{Err: fmt.Errorf("%w: %v", journalerr.ErrDeserialization, err)})
		}
		for _, ev := range events {
			env := model.Envelope{
				Ordering:       row.Ordering,
				PersistenceID:  row.PersistenceID,
				SequenceNumber: row.SequenceNumber,
				Event:          ev,
				Timestamp:      row.Timestamp,
			}
			if err := onResult(Result{Envelope: env}); err != nil {
				return err
			}
		}
		return nil
	}
}

// PersistenceIDsCurrent emits each distinct persistence_id once, in
// first-seen order, then returns once caught up. The seen-set lives for the
// duration of this call only.
func (e *Engine) PersistenceIDsCurrent(ctx context.Context, offset int64, onID func(string) error) error {
	seen := make(map[string]struct{})
	return readcontrol.RunCurrent(ctx, e.cfg, e.fetch(), e.backend.MaxOrdering, offset, dedupHandler(seen, onID))
}

// PersistenceIDsLive emits each newly observed persistence_id once, forever
// until ctx is cancelled.
func (e *Engine) PersistenceIDsLive(ctx context.Context, offset int64, onID func(string) error) error {
	seen := make(map[string]struct{})
	return readcontrol.RunLive(ctx, e.cfg, e.fetch(), e.backend.MaxOrdering, offset, dedupHandler(seen, onID))
}

func dedupHandler(seen map[string]struct{}, onID func(string) error) readcontrol.EmitFunc {
	return func(row model.EventRow) error {
		if _, ok := seen[row.PersistenceID]; ok {
			return nil
		}
		seen[row.PersistenceID] = struct{}{}
		return onID(row.PersistenceID)
	}
}
