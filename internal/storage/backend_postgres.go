package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcflow-db/eventjournal/internal/model"
)

// Postgres is the primary Backend implementation, grounded on the teacher's
// internal/storage package: a pgxpool.Pool for normal queries, pgx.CopyFrom
// for bulk loads, and the same begin/defer-rollback/commit transaction
// shape used throughout the teacher's delete and write paths. notifyConn is
// a single dedicated connection outside the pool, reserved for LISTEN per
// the teacher's notify.go (Listen/WaitForNotification); it is not connected
// to readcontrol's poll loops by this package or by eventjournal.Open.
type Postgres struct {
	pool       *pgxpool.Pool
	notifyConn *pgx.Conn
	logger     *slog.Logger
}

// NewPostgres opens a connection pool against cfg.ConnectionString. When
// cfg.UseCloneConnection is set, it also acquires one dedicated connection
// for LISTEN/NOTIFY, cloned from the pool's config so it shares credentials
// and TLS settings without consuming a pool slot.
func NewPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	p := &Postgres{pool: pool, logger: cfg.Logger}
	if cfg.UseCloneConnection {
		notifyConn, err := pgx.ConnectConfig(ctx, poolCfg.ConnConfig.Copy())
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("storage: dial notify connection: %w", err)
		}
		p.notifyConn = notifyConn
	}
	return p, nil
}

func (p *Postgres) ProviderName() model.ProviderName { return model.ProviderPostgres }

func (p *Postgres) Close(ctx context.Context) error {
	if p.notifyConn != nil {
		_ = p.notifyConn.Close(ctx)
	}
	p.pool.Close()
	return nil
}

// pgTx adapts *pgx.Tx to the Tx interface.
type pgTx struct{ tx pgx.Tx }

func (t pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("storage: begin tx: %w", err)
	}
	return pgTx{tx}, nil
}

func unwrapTx(tx Tx) pgx.Tx {
	return tx.(pgTx).tx
}

func (p *Postgres) InsertRowSingle(ctx context.Context, row model.EventRow) (int64, error) {
	var ordering int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO journal_row
		   (persistence_id, sequence_number, timestamp, deleted, message, manifest, event_manifest, identifier, tags, write_uuid)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 RETURNING ordering`,
		row.PersistenceID, row.SequenceNumber, row.Timestamp, row.Deleted, row.Message,
		row.Manifest, row.EventManifest, row.Identifier, row.Tags, row.WriteUUID[:],
	).Scan(&ordering)
	if err != nil {
		return 0, fmt.Errorf("storage: insert row: %w", err)
	}
	return ordering, nil
}

func (p *Postgres) InsertRowTx(ctx context.Context, tx Tx, row model.EventRow) (int64, error) {
	var ordering int64
	err := unwrapTx(tx).QueryRow(ctx,
		`INSERT INTO journal_row
		   (persistence_id, sequence_number, timestamp, deleted, message, manifest, event_manifest, identifier, tags, write_uuid)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 RETURNING ordering`,
		row.PersistenceID, row.SequenceNumber, row.Timestamp, row.Deleted, row.Message,
		row.Manifest, row.EventManifest, row.Identifier, row.Tags, row.WriteUUID[:],
	).Scan(&ordering)
	if err != nil {
		return 0, fmt.Errorf("storage: insert row (tx): %w", err)
	}
	return ordering, nil
}

var journalRowColumns = []string{
	"persistence_id", "sequence_number", "timestamp", "deleted", "message",
	"manifest", "event_manifest", "identifier", "tags", "write_uuid",
}

func journalRowValues(rows []model.EventRow) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = []any{
			r.PersistenceID, r.SequenceNumber, r.Timestamp, r.Deleted, r.Message,
			r.Manifest, r.EventManifest, r.Identifier, r.Tags, r.WriteUUID[:],
		}
	}
	return out
}

// BulkInsertRows uses pgx.CopyFrom regardless of the requested strategy when
// run size exceeds the row-by-row threshold (BulkDefault); for
// BulkMultipleRows it still uses CopyFrom since pgx's copy protocol is
// already the fastest multi-row path available on this driver and a
// hand-rolled multi-VALUES statement would not be meaningfully different —
// the distinction mirrors the source's BulkCopy.Default vs MultipleRows
// selection, which existed to work around a .NET driver constraint that pgx
// does not share.
func (p *Postgres) BulkInsertRows(ctx context.Context, tx Tx, rows []model.EventRow, _ BulkStrategy) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var exec interface {
		CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	}
	if tx != nil {
		exec = unwrapTx(tx)
	} else {
		exec = p.pool
	}
	n, err := exec.CopyFrom(ctx, pgx.Identifier{"journal_row"}, journalRowColumns, pgx.CopyFromRows(journalRowValues(rows)))
	if err != nil {
		return 0, fmt.Errorf("storage: bulk insert rows: %w", err)
	}
	return n, nil
}

func (p *Postgres) BulkInsertTagRows(ctx context.Context, tx Tx, rows []model.TagRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{r.OrderingID, r.TagValue, r.PersistenceID, r.SequenceNumber, r.WriteUUID[:]}
	}
	n, err := unwrapTx(tx).CopyFrom(ctx, pgx.Identifier{"journal_tag_row"},
		[]string{"ordering_id", "tag_value", "persistence_id", "sequence_number", "write_uuid"},
		pgx.CopyFromRows(values),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: bulk insert tag rows: %w", err)
	}
	return n, nil
}

func (p *Postgres) UpdateMessage(ctx context.Context, pid string, seq int64, message []byte, manifest string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE journal_row SET message = $1, manifest = $2 WHERE persistence_id = $3 AND sequence_number = $4`,
		message, manifest, pid, seq,
	)
	if err != nil {
		return fmt.Errorf("storage: update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: update message: %w", ErrNotFound)
	}
	return nil
}

// --- Delete protocol (spec.md §4.4) ---

func (p *Postgres) MarkDeleted(ctx context.Context, tx Tx, pid string, maxSeq int64) error {
	_, err := unwrapTx(tx).Exec(ctx,
		`UPDATE journal_row SET deleted = TRUE WHERE persistence_id = $1 AND sequence_number <= $2`,
		pid, maxSeq)
	if err != nil {
		return fmt.Errorf("storage: mark deleted: %w", err)
	}
	return nil
}

func (p *Postgres) MaxSequenceWhereDeleted(ctx context.Context, tx Tx, pid string) (int64, bool, error) {
	var maxSeq *int64
	err := unwrapTx(tx).QueryRow(ctx,
		`SELECT max(sequence_number) FROM journal_row WHERE persistence_id = $1 AND deleted = TRUE`,
		pid).Scan(&maxSeq)
	if err != nil {
		return 0, false, fmt.Errorf("storage: max deleted sequence: %w", err)
	}
	if maxSeq == nil {
		return 0, false, nil
	}
	return *maxSeq, true, nil
}

func (p *Postgres) UpsertMetadata(ctx context.Context, tx Tx, pid string, seq int64) error {
	_, err := unwrapTx(tx).Exec(ctx,
		`INSERT INTO journal_metadata (persistence_id, sequence_number) VALUES ($1, $2)
		 ON CONFLICT (persistence_id, sequence_number) DO NOTHING`,
		pid, seq)
	if err != nil {
		return fmt.Errorf("storage: upsert metadata: %w", err)
	}
	return nil
}

func (p *Postgres) HardDeleteRange(ctx context.Context, tx Tx, pid string, maxSeq, keepSeq int64) error {
	_, err := unwrapTx(tx).Exec(ctx,
		`DELETE FROM journal_row WHERE persistence_id = $1 AND sequence_number <= $2 AND sequence_number < $3`,
		pid, maxSeq, keepSeq)
	if err != nil {
		return fmt.Errorf("storage: hard delete range: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteMetadataBelow(ctx context.Context, tx Tx, pid string, keepSeq int64) error {
	_, err := unwrapTx(tx).Exec(ctx,
		`DELETE FROM journal_metadata WHERE persistence_id = $1 AND sequence_number < $2`,
		pid, keepSeq)
	if err != nil {
		return fmt.Errorf("storage: delete metadata below: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteTagRows(ctx context.Context, tx Tx, pid string, maxSeq int64) error {
	_, err := unwrapTx(tx).Exec(ctx,
		`DELETE FROM journal_tag_row WHERE persistence_id = $1 AND sequence_number <= $2`,
		pid, maxSeq)
	if err != nil {
		return fmt.Errorf("storage: delete tag rows: %w", err)
	}
	return nil
}

func (p *Postgres) HighestSequenceNr(ctx context.Context, pid string, fromSeq int64, compat bool) (int64, error) {
	var query string
	switch {
	case !compat && fromSeq <= 0:
		query = `SELECT max(sequence_number) FROM journal_row WHERE persistence_id = $1`
	case !compat && fromSeq > 0:
		query = `SELECT max(sequence_number) FROM journal_row WHERE persistence_id = $1 AND sequence_number > $2`
	case compat && fromSeq <= 0:
		query = `SELECT max(m) FROM (
		           SELECT max(sequence_number) AS m FROM journal_row WHERE persistence_id = $1
		           UNION ALL
		           SELECT max(sequence_number) AS m FROM journal_metadata WHERE persistence_id = $1
		         ) t`
	default:
		query = `SELECT max(m) FROM (
		           SELECT max(sequence_number) AS m FROM journal_row WHERE persistence_id = $1 AND sequence_number > $2
		           UNION ALL
		           SELECT max(sequence_number) AS m FROM journal_metadata WHERE persistence_id = $1 AND sequence_number > $2
		         ) t`
	}

	var max *int64
	var row pgx.Row
	if fromSeq > 0 {
		row = p.pool.QueryRow(ctx, query, pid, fromSeq)
	} else {
		row = p.pool.QueryRow(ctx, query, pid)
	}
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("storage: highest sequence nr: %w", err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (p *Postgres) ReplayRows(ctx context.Context, pid string, fromSeq, toSeq int64, max int64) ([]model.EventRow, error) {
	query := `SELECT ordering, persistence_id, sequence_number, timestamp, deleted, message, manifest, event_manifest, identifier, tags, write_uuid
	          FROM journal_row
	          WHERE persistence_id = $1 AND sequence_number >= $2 AND sequence_number <= $3 AND deleted = FALSE
	          ORDER BY sequence_number ASC`
	args := []any{pid, fromSeq, toSeq}
	if max >= 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, max)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: replay: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

func (p *Postgres) MaxOrdering(ctx context.Context) (int64, error) {
	var max *int64
	if err := p.pool.QueryRow(ctx, `SELECT max(ordering) FROM journal_row`).Scan(&max); err != nil {
		return 0, fmt.Errorf("storage: max ordering: %w", err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (p *Postgres) FetchByTagCSV(ctx context.Context, tag string, gtOrdering, leOrdering int64, limit int) ([]model.EventRow, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT ordering, persistence_id, sequence_number, timestamp, deleted, message, manifest, event_manifest, identifier, tags, write_uuid
		 FROM journal_row
		 WHERE tags LIKE '%' || $1 || '%' AND ordering > $2 AND ordering <= $3 AND deleted = FALSE
		 ORDER BY ordering ASC LIMIT $4`,
		csvNeedle(tag), gtOrdering, leOrdering, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch by tag (csv): %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

func (p *Postgres) FetchByTagTable(ctx context.Context, tag string, gtOrdering, leOrdering int64, limit int) ([]model.EventRow, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT r.ordering, r.persistence_id, r.sequence_number, r.timestamp, r.deleted, r.message, r.manifest, r.event_manifest, r.identifier, r.tags, r.write_uuid
		 FROM journal_tag_row t
		 JOIN journal_row r ON r.ordering = t.ordering_id
		 WHERE t.tag_value = $1 AND r.ordering > $2 AND r.ordering <= $3 AND r.deleted = FALSE
		 ORDER BY r.ordering ASC LIMIT $4`,
		tag, gtOrdering, leOrdering, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch by tag (tag_table): %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

func (p *Postgres) FetchAllEvents(ctx context.Context, gtOrdering, leOrdering int64, limit int) ([]model.EventRow, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT ordering, persistence_id, sequence_number, timestamp, deleted, message, manifest, event_manifest, identifier, tags, write_uuid
		 FROM journal_row
		 WHERE ordering > $1 AND ordering <= $2 AND deleted = FALSE
		 ORDER BY ordering ASC LIMIT $3`,
		gtOrdering, leOrdering, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch all events: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

func (p *Postgres) RunMigrations(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage: run migration: %w", err)
		}
	}
	return nil
}

func scanEventRows(rows pgx.Rows) ([]model.EventRow, error) {
	var out []model.EventRow
	for rows.Next() {
		var r model.EventRow
		var writeUUID []byte
		if err := rows.Scan(
			&r.Ordering, &r.PersistenceID, &r.SequenceNumber, &r.Timestamp, &r.Deleted,
			&r.Message, &r.Manifest, &r.EventManifest, &r.Identifier, &r.Tags, &writeUUID,
		); err != nil {
			return nil, fmt.Errorf("storage: scan row: %w", err)
		}
		copy(r.WriteUUID[:], writeUUID)
		out = append(out, r)
	}
	return out, rows.Err()
}
