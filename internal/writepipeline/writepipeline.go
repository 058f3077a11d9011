// Package writepipeline implements the journal's write side (spec.md C4): a
// bounded mailbox, a weight-batching stage, and a bounded-parallelism DB
// writer. It is grounded on the teacher's internal/service/trace/buffer.go
// (accumulate-then-flush buffer with a flushLoop and drop-on-capacity
// overflow) generalized to the tag-table/CSV dual insert strategy spec.md
// §4.2 describes, and on internal/conflicts/scorer.go for the
// errgroup.SetLimit bounded-parallelism pattern.
package writepipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/arcflow-db/eventjournal/internal/idgen"
	"github.com/arcflow-db/eventjournal/internal/journalerr"
	"github.com/arcflow-db/eventjournal/internal/model"
	"github.com/arcflow-db/eventjournal/internal/storage"
	"github.com/arcflow-db/eventjournal/internal/telemetry"
)

// Config mirrors the write-pipeline knobs from spec.md §6.
type Config struct {
	TagMode                 model.TagMode
	BufferSize              int
	BatchSize               int
	Parallelism             int
	MaxRowByRowSize         int
	DBRoundTripBatchSize    int
	DBRoundTripTagBatchSize int

	// MaxRetries and RetryBaseDelay govern storage.WithRetry around each
	// executed batch's transaction, absorbing Postgres serialization and
	// deadlock conflicts between concurrently writing pipelines. Zero
	// MaxRetries disables retrying (the batch fails on the first conflict).
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// pendingGroup is one serialized AtomicWrite waiting in the mailbox. All
// rows in it share a write_uuid minted before enqueue.
type pendingGroup struct {
	rows []model.EventRow
	done chan error
}

// Pipeline is the write side of the journal. Construct with New, then call
// Start before any WriteMessages call, and Close when done.
type Pipeline struct {
	cfg        Config
	backend    storage.Backend
	serializer model.Serializer
	ids        *idgen.Generator
	logger     *slog.Logger

	mailbox chan *pendingGroup
	stop    chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	queueDepth metric.Int64UpDownCounter
	batchSizes metric.Int64Histogram
}

// New constructs a Pipeline. Call Start to begin processing.
func New(cfg Config, backend storage.Backend, serializer model.Serializer, ids *idgen.Generator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	meter := telemetry.Meter("eventjournal/writepipeline")
	queueDepth, _ := meter.Int64UpDownCounter("journal.write_queue.depth",
		metric.WithDescription("pending atomic write groups in the mailbox"))
	batchSizes, _ := meter.Int64Histogram("journal.write_batch.rows",
		metric.WithDescription("rows written per executed batch"))

	return &Pipeline{
		cfg:        cfg,
		backend:    backend,
		serializer: serializer,
		ids:        ids,
		logger:     logger,
		mailbox:    make(chan *pendingGroup, cfg.BufferSize),
		stop:       make(chan struct{}),
		queueDepth: queueDepth,
		batchSizes: batchSizes,
	}
}

// Start launches the batching/execution loop. ctx governs the loop's
// lifetime in addition to Close.
func (p *Pipeline) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Close stops accepting new writes and waits for in-flight batches to
// finish, up to ctx's deadline.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteMessages serializes each AtomicWrite independently and enqueues the
// successful ones for batched insertion, then waits for their outcome. The
// returned slice is positional with writes: a nil entry means that write
// committed, a non-nil entry is that write's failure. A serialization or
// queue failure affects only that write; a storage failure is reported to
// every write that was inserted in the same batch.
func (p *Pipeline) WriteMessages(ctx context.Context, writes []model.AtomicWrite, timestamp int64) ([]error, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, journalerr.ErrQueueClosed
	}

	results := p.serializer.SerializeAtomicWrites(ctx, writes, timestamp)
	perWrite := make([]error, len(writes))
	groups := make([]*pendingGroup, len(writes))

	for i, res := range results {
		if res.Err != nil {
			perWrite[i] = fmt.Errorf("%w: %v", journalerr.ErrSerialization, res.Err)
			continue
		}
		writeUUID := p.ids.Next()
		rows := make([]model.EventRow, len(res.Rows))
		for j, sr := range res.Rows {
			rows[j] = rowFromSerialized(sr, writeUUID, p.cfg.TagMode)
		}
		g := &pendingGroup{rows: rows, done: make(chan error, 1)}

		select {
		case p.mailbox <- g:
			groups[i] = g
			if p.queueDepth != nil {
				p.queueDepth.Add(ctx, 1)
			}
		default:
			perWrite[i] = journalerr.ErrQueueFull
		}
	}

	for i, g := range groups {
		if g == nil {
			continue
		}
		select {
		case err := <-g.done:
			perWrite[i] = err
		case <-ctx.Done():
			perWrite[i] = ctx.Err()
		}
	}
	return perWrite, nil
}

// Update overwrites the message of one existing row in place. Per the
// resolved open question (DESIGN.md), it raises ErrUpdate when
// serialization fails, not when it succeeds — the source's condition is
// inverted and not reproduced here.
func (p *Pipeline) Update(ctx context.Context, repr model.PersistentRepr) error {
	row, err := p.serializer.SerializeSingle(ctx, repr)
	if err != nil {
		return fmt.Errorf("%w: (%s, %d): %v", journalerr.ErrUpdate, repr.PersistenceID, repr.SequenceNr, err)
	}
	if err := p.backend.UpdateMessage(ctx, row.PersistenceID, row.SequenceNr, row.Message, row.Manifest); err != nil {
		return fmt.Errorf("%w: (%s, %d): %v", journalerr.ErrUpdate, row.PersistenceID, row.SequenceNr, err)
	}
	return nil
}

func rowFromSerialized(sr model.SerializedRow, writeUUID uuid.UUID, tagMode model.TagMode) model.EventRow {
	row := model.EventRow{
		PersistenceID:  sr.PersistenceID,
		SequenceNumber: sr.SequenceNr,
		Timestamp:      sr.Timestamp,
		Deleted:        sr.Deleted,
		Message:        sr.Message,
		Manifest:       sr.Manifest,
		EventManifest:  sr.EventManifest,
		Identifier:     sr.Identifier,
		WriteUUID:      writeUUID,
	}
	if tagMode == model.TagModeCSV {
		row.Tags = model.EncodeCSVTags(sr.Tags)
	} else {
		row.TagArray = sr.Tags
	}
	return row
}
