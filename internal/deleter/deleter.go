// Package deleter implements the journal's delete protocol (spec.md C5):
// soft-delete up to a sequence number, high-watermark metadata bookkeeping
// in compatibility mode, and hard-delete of everything below the
// watermark. Grounded on the teacher's internal/storage/delete.go
// transaction shape (begin, several statements, commit-or-rollback with an
// aggregate error on double failure), trimmed to the steps spec.md §4.4
// actually calls for.
package deleter

import (
	"context"
	"fmt"
	"time"

	"github.com/arcflow-db/eventjournal/internal/journalerr"
	"github.com/arcflow-db/eventjournal/internal/model"
	"github.com/arcflow-db/eventjournal/internal/storage"
)

// Deleter runs the delete protocol and answers HighestSequenceNr queries.
type Deleter struct {
	backend        storage.Backend
	compat         bool
	tagMode        model.TagMode
	maxRetries     int
	retryBaseDelay time.Duration
}

// New constructs a Deleter. compat enables delete_compatibility_mode
// (metadata-table watermark bookkeeping); tagMode controls whether tag rows
// are cleaned up as part of delete. maxRetries governs storage.WithRetry
// around the whole delete transaction, absorbing conflicts against
// concurrent writers to the same persistence id.
func New(backend storage.Backend, compat bool, tagMode model.TagMode, maxRetries int, retryBaseDelay time.Duration) *Deleter {
	if retryBaseDelay <= 0 {
		retryBaseDelay = 10 * time.Millisecond
	}
	return &Deleter{backend: backend, compat: compat, tagMode: tagMode, maxRetries: maxRetries, retryBaseDelay: retryBaseDelay}
}

// Delete runs the eight-step protocol from spec.md §4.4: mark deleted,
// find the high watermark, optionally upsert metadata, hard-delete below
// the watermark, optionally collapse metadata, clean up tag rows, commit.
// The whole attempt retries on a transient serialization or deadlock
// conflict (storage.WithRetry).
func (d *Deleter) Delete(ctx context.Context, persistenceID string, maxSeq int64) error {
	err := storage.WithRetry(ctx, d.maxRetries, d.retryBaseDelay, func() error {
		return d.deleteOnce(ctx, persistenceID, maxSeq)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", journalerr.ErrStorage, err)
	}
	return nil
}

func (d *Deleter) deleteOnce(ctx context.Context, persistenceID string, maxSeq int64) error {
	tx, err := d.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := d.run(ctx, tx, persistenceID, maxSeq); err != nil {
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

func (d *Deleter) run(ctx context.Context, tx storage.Tx, pid string, maxSeq int64) error {
	if err := d.backend.MarkDeleted(ctx, tx, pid, maxSeq); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}

	maxMarked, found, err := d.backend.MaxSequenceWhereDeleted(ctx, tx, pid)
	if err != nil {
		return fmt.Errorf("max marked: %w", err)
	}
	if !found {
		// No row of pid is marked deleted (none exists at or below
		// maxSeq); nothing further to do.
		return nil
	}

	if d.compat {
		if err := d.backend.UpsertMetadata(ctx, tx, pid, maxMarked); err != nil {
			return fmt.Errorf("upsert metadata: %w", err)
		}
	}

	// Keep exactly the soft-deleted high-watermark row: hard-delete
	// everything at or below maxSeq that is strictly below maxMarked.
	if err := d.backend.HardDeleteRange(ctx, tx, pid, maxSeq, maxMarked); err != nil {
		return fmt.Errorf("hard delete range: %w", err)
	}

	if d.compat {
		if err := d.backend.DeleteMetadataBelow(ctx, tx, pid, maxMarked); err != nil {
			return fmt.Errorf("delete metadata below: %w", err)
		}
	}

	if d.tagMode == model.TagModeTagTable {
		if err := d.backend.DeleteTagRows(ctx, tx, pid, maxSeq); err != nil {
			return fmt.Errorf("delete tag rows: %w", err)
		}
	}
	return nil
}

// HighestSequenceNr returns the maximum sequence number known for pid,
// optionally restricted to sequence numbers greater than fromSeq. Returns 0
// for a persistence id with no history.
func (d *Deleter) HighestSequenceNr(ctx context.Context, pid string, fromSeq int64) (int64, error) {
	max, err := d.backend.HighestSequenceNr(ctx, pid, fromSeq, d.compat)
	if err != nil {
		return 0, fmt.Errorf("%w: highest sequence nr: %v", journalerr.ErrStorage, err)
	}
	return max, nil
}
