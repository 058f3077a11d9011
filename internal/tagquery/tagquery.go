// Package tagquery implements events-by-tag for both tag layouts, current
// and live (spec.md C7). The ordering-gap-tolerant polling loop itself
// lives in internal/readcontrol; this package only supplies the fetch
// function for each layout (including the CSV layout's in-memory
// false-positive rejection) and the deserialize step.
package tagquery

import (
	"context"
	"fmt"

	"github.com/arcflow-db/eventjournal/internal/journalerr"
	"github.com/arcflow-db/eventjournal/internal/model"
	"github.com/arcflow-db/eventjournal/internal/readcontrol"
	"github.com/arcflow-db/eventjournal/internal/storage"
)

// Result is one query-stream element: either a successfully deserialized
// Envelope or the error that prevented deserializing its row. A
// deserialization failure occupies this row's position but never
// terminates the stream.
type Result struct {
	Envelope model.Envelope
	Err      error
}

// Engine answers events-by-tag queries against one backend/layout.
type Engine struct {
	backend    storage.Backend
	serializer model.Serializer
	tagMode    model.TagMode
	cfg        readcontrol.Config
}

// New constructs an Engine. cfg's RefreshInterval/MaxBufferSize/SafetyWindow
// come from the journal's C10 configuration.
func New(backend storage.Backend, serializer model.Serializer, tagMode model.TagMode, cfg readcontrol.Config) *Engine {
	return &Engine{backend: backend, serializer: serializer, tagMode: tagMode, cfg: cfg}
}

// Current runs until caught up with the database, calling onResult once per
// emitted Result, in ordering order, and returns when no more rows are
// safely available.
func (e *Engine) Current(ctx context.Context, tag string, offset int64, onResult func(Result) error) error {
	return readcontrol.RunCurrent(ctx, e.cfg, e.fetch(tag), e.backend.MaxOrdering, offset, e.rowHandler(ctx, onResult))
}

// Live polls forever until ctx is cancelled.
func (e *Engine) Live(ctx context.Context, tag string, offset int64, onResult func(Result) error) error {
	return readcontrol.RunLive(ctx, e.cfg, e.fetch(tag), e.backend.MaxOrdering, offset, e.rowHandler(ctx, onResult))
}

func (e *Engine) fetch(tag string) readcontrol.FetchFunc {
	return func(ctx context.Context, gt, le int64, limit int) ([]model.EventRow, error) {
		switch e.tagMode {
		case model.TagModeCSV:
			for {
				rows, err := e.backend.FetchByTagCSV(ctx, tag, gt, le, limit)
				if err != nil {
					return nil, fmt.Errorf("%w: fetch by tag (csv): %v", journalerr.ErrStorage, err)
				}
				// The database LIKE match is a substring test; reject rows
				// where tag is merely a substring of a different stored tag
				// (e.g. a "blue" query must not match a stored "bluebird").
				filtered := rows[:0]
				for _, r := range rows {
					if model.HasTagCSV(r.Tags, tag) {
						filtered = append(filtered, r)
					}
				}
				// An empty result tells readcontrol the whole range was
				// scanned, so a full page that was filtered out entirely
				// moves on to the next page instead of returning empty.
				if len(filtered) > 0 || len(rows) < limit {
					return filtered, nil
				}
				gt = rows[len(rows)-1].Ordering
			}
		default:
			rows, err := e.backend.FetchByTagTable(ctx, tag, gt, le, limit)
			if err != nil {
				return nil, fmt.Errorf("%w: fetch by tag (tag_table): %v", journalerr.ErrStorage, err)
			}
			return rows, nil
		}
	}
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
