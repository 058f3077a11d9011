package writepipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/arcflow-db/eventjournal/internal/journalerr"
	"github.com/arcflow-db/eventjournal/internal/model"
	"github.com/arcflow-db/eventjournal/internal/storage"
)

// executeBatch inserts every row from every group in batch and resolves
// every group's done channel with the same outcome, per spec.md §4.2: "on
// success, all handles in the batch resolve with done; on failure, all
// handles in the batch fail with the same error."
func (p *Pipeline) executeBatch(ctx context.Context, batch []*pendingGroup) {
	total := 0
	for _, g := range batch {
		total += len(g.rows)
	}
	rows := make([]model.EventRow, 0, total)
	for _, g := range batch {
		rows = append(rows, g.rows...)
	}

	if p.batchSizes != nil {
		p.batchSizes.Record(ctx, int64(len(rows)))
	}

	err := p.insertRows(ctx, rows)
	if err != nil {
		err = fmt.Errorf("%w: %v", journalerr.ErrStorage, err)
	}
	for _, g := range batch {
		g.done <- err
	}
}

// insertRows dispatches to the hot path or the transactional multi-path
// insert per spec.md §4.2, retrying the whole attempt on a transient
// serialization or deadlock conflict (storage.WithRetry).
func (p *Pipeline) insertRows(ctx context.Context, rows []model.EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	return storage.WithRetry(ctx, p.cfg.MaxRetries, p.retryBaseDelay(), func() error {
		return p.insertRowsOnce(ctx, rows)
	})
}

func (p *Pipeline) retryBaseDelay() time.Duration {
	if p.cfg.RetryBaseDelay <= 0 {
		return 10 * time.Millisecond
	}
	return p.cfg.RetryBaseDelay
}

func (p *Pipeline) insertRowsOnce(ctx context.Context, rows []model.EventRow) error {
	if len(rows) == 1 && (p.cfg.TagMode == model.TagModeCSV || !rows[0].HasTags()) {
		_, err := p.backend.InsertRowSingle(ctx, rows[0])
		return err
	}

	tx, err := p.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := p.multiInsert(ctx, tx, rows); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *Pipeline) multiInsert(ctx context.Context, tx storage.Tx, rows []model.EventRow) error {
	if p.cfg.TagMode == model.TagModeCSV {
		return p.bulkInsertChunked(ctx, tx, rows)
	}
	return p.multiInsertTagTable(ctx, tx, rows)
}

type rowRun struct {
	hasTags bool
	rows    []model.EventRow
}

// splitRuns groups rows into maximal contiguous runs of "has tags"/"no
// tags", preserving batch order, per spec.md §4.2's multi-path insert.
func splitRuns(rows []model.EventRow) []rowRun {
	var runs []rowRun
	for _, r := range rows {
		h := r.HasTags()
		if n := len(runs); n > 0 && runs[n-1].hasTags == h {
			runs[n-1].rows = append(runs[n-1].rows, r)
			continue
		}
		runs = append(runs, rowRun{hasTags: h, rows: []model.EventRow{r}})
	}
	return runs
}

func (p *Pipeline) multiInsertTagTable(ctx context.Context, tx storage.Tx, rows []model.EventRow) error {
	for _, run := range splitRuns(rows) {
		if !run.hasTags {
			if err := p.bulkInsertChunked(ctx, tx, run.rows); err != nil {
				return err
			}
			continue
		}

		var tagRows []model.TagRow
		for _, row := range run.rows {
			ordering, err := p.backend.InsertRowTx(ctx, tx, row)
			if err != nil {
				return err
			}
			for _, tag := range row.TagArray {
				tagRows = append(tagRows, model.TagRow{
					OrderingID:     ordering,
					TagValue:       tag,
					PersistenceID:  row.PersistenceID,
					SequenceNumber: row.SequenceNumber,
					WriteUUID:      row.WriteUUID,
				})
			}
		}
		if err := p.bulkInsertTagRowsChunked(ctx, tx, tagRows); err != nil {
			return err
		}
	}
	return nil
}

// bulkInsertChunked bulk-loads rows into journal_row in chunks of
// db_round_trip_batch_size, choosing BulkDefault (native bulk-copy) over
// BulkMultipleRows when a chunk exceeds max_row_by_row_size.
func (p *Pipeline) bulkInsertChunked(ctx context.Context, tx storage.Tx, rows []model.EventRow) error {
	size := p.cfg.DBRoundTripBatchSize
	if size < 1 {
		size = len(rows)
	}
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunk := rows[start:end]
		strategy := storage.BulkMultipleRows
		if len(chunk) > p.cfg.MaxRowByRowSize {
			strategy = storage.BulkDefault
		}
		if _, err := p.backend.BulkInsertRows(ctx, tx, chunk, strategy); err != nil {
			return err
		}
	}
	return nil
}

// bulkInsertTagRowsChunked bulk-loads journal_tag_row entries in chunks of
// db_round_trip_tag_batch_size. No BulkStrategy is chosen for tag rows:
// BulkInsertTagRows takes none (Postgres loads them with COPY, SQLite with
// multi-row INSERT).
func (p *Pipeline) bulkInsertTagRowsChunked(ctx context.Context, tx storage.Tx, rows []model.TagRow) error {
	if len(rows) == 0 {
		return nil
	}
	size := p.cfg.DBRoundTripTagBatchSize
	if size < 1 {
		size = len(rows)
	}
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		if _, err := p.backend.BulkInsertTagRows(ctx, tx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}
