// Package storage is the journal's connection factory and dialect-neutral
// query layer (spec.md C3). It owns per-operation connections/transactions
// and exposes the operations every other internal package (writepipeline,
// deleter, replay, tagquery, allevents) needs, without leaking pgx or
// database/sql types across the boundary.
//
// Two concrete Backends are shipped: Postgres (backend_postgres.go, the
// primary implementation, grounded on the teacher's pgxpool + COPY storage
// layer) and SQLite (backend_sqlite.go, grounded on flowd's modernc.org/
// sqlite connection setup), selected by ProviderName.
package storage

import (
	"context"
	"log/slog"

	"github.com/arcflow-db/eventjournal/internal/model"
)

// BulkStrategy names how a no-generated-id batch of rows is to be loaded.
// The write pipeline chooses one per chunk, but neither shipped backend
// changes behaviour on it: Postgres always loads with COPY and SQLite
// always batches multi-row INSERT statements.
type BulkStrategy int

const (
	// BulkDefault names the driver's native bulk-load protocol. Chosen when
	// a chunk is larger than max_row_by_row_size.
	BulkDefault BulkStrategy = iota
	// BulkMultipleRows names multi-row INSERT statements.
	BulkMultipleRows
)

// Tx is one atomic unit of work against the backend. All Backend methods
// that accept a Tx participate in it; nothing commits until Commit is
// called. Rollback after Commit changes nothing but returns the driver's
// transaction-closed error (pgx.ErrTxClosed / sql.ErrTxDone); the write
// pipeline and the deleter call Rollback only on a failed attempt, before
// Commit.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backend is the dialect-neutral contract every journal operation is built
// on. Method names map directly onto the write pipeline, delete protocol,
// replay, and query engine operations described in spec.md §4.
type Backend interface {
	ProviderName() model.ProviderName

	Begin(ctx context.Context) (Tx, error)

	// InsertRowSingle inserts one row outside a transaction (the write
	// pipeline's hot path: a one-row batch whose row is untagged or whose
	// layout is CSV). Returns the database-assigned ordering.
	InsertRowSingle(ctx context.Context, row model.EventRow) (int64, error)

	// BulkInsertRows bulk-loads rows that do not need their generated
	// ordering returned (a no-tag run in tag-table layout, or any run in
	// CSV layout). strategy is advisory (see BulkStrategy).
	BulkInsertRows(ctx context.Context, tx Tx, rows []model.EventRow, strategy BulkStrategy) (int64, error)

	// InsertRowTx inserts one row inside tx and returns its generated
	// ordering — used for the has-tag run in tag-table layout, where the
	// tag rows need ordering_id and the bulk-copy API cannot return
	// generated identities.
	InsertRowTx(ctx context.Context, tx Tx, row model.EventRow) (int64, error)

	// BulkInsertTagRows bulk-loads journal_tag_row entries accumulated
	// from a has-tag run.
	BulkInsertTagRows(ctx context.Context, tx Tx, rows []model.TagRow) (int64, error)

	// UpdateMessage overwrites the message/manifest of one existing row
	// in place. Does not touch tags.
	UpdateMessage(ctx context.Context, pid string, seq int64, message []byte, manifest string) error

	// Delete protocol primitives (spec.md §4.4).
	MarkDeleted(ctx context.Context, tx Tx, pid string, maxSeq int64) error
	MaxSequenceWhereDeleted(ctx context.Context, tx Tx, pid string) (int64, bool, error)
	UpsertMetadata(ctx context.Context, tx Tx, pid string, seq int64) error
	HardDeleteRange(ctx context.Context, tx Tx, pid string, maxSeq, keepSeq int64) error
	DeleteMetadataBelow(ctx context.Context, tx Tx, pid string, keepSeq int64) error
	DeleteTagRows(ctx context.Context, tx Tx, pid string, maxSeq int64) error

	// HighestSequenceNr implements the four native/compat x from_seq
	// variants described in spec.md §4.4.
	HighestSequenceNr(ctx context.Context, pid string, fromSeq int64, compat bool) (int64, error)

	// ReplayRows implements spec.md §4.5.
	ReplayRows(ctx context.Context, pid string, fromSeq, toSeq int64, max int64) ([]model.EventRow, error)

	// MaxOrdering returns the highest assigned ordering in journal_row, or
	// 0 if the table is empty.
	MaxOrdering(ctx context.Context) (int64, error)

	// FetchByTagCSV and FetchByTagTable implement the two tag-query
	// layouts from spec.md §4.6. Both return rows with Ordering in
	// (gtOrdering, leOrdering], ascending, deleted=false, limited to
	// limit rows.
	FetchByTagCSV(ctx context.Context, tag string, gtOrdering, leOrdering int64, limit int) ([]model.EventRow, error)
	FetchByTagTable(ctx context.Context, tag string, gtOrdering, leOrdering int64, limit int) ([]model.EventRow, error)

	// FetchAllEvents implements spec.md §4.7.
	FetchAllEvents(ctx context.Context, gtOrdering, leOrdering int64, limit int) ([]model.EventRow, error)

	// RunMigrations applies the dialect's DDL.
	RunMigrations(ctx context.Context, statements []string) error

	Close(ctx context.Context) error
}

// Config holds the subset of spec.md §6 options the connection factory
// needs. The rest (batch sizing, refresh interval, ...) live closer to
// their consuming component.
type Config struct {
	ConnectionString   string
	Provider           model.ProviderName
	TagMode            model.TagMode
	AutoInitialize     bool
	UseCloneConnection bool
	Logger             *slog.Logger
}
