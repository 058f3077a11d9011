package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/arcflow-db/eventjournal/internal/model"
)

// SQLite is the secondary Backend implementation, grounded on flowd's
// internal/coredb/db.go: a single-connection database/sql pool (SQLite has
// one writer regardless of how many connections the driver hands out, so
// pooling beyond one just adds lock contention) with the same
// journal_mode=WAL/synchronous/foreign_keys pragma set flowd applies at
// open time. Provider carries which of the two SQLite names spec.md's
// ProviderName enum distinguishes (sqlite-ms vs sqlite-classic); both use
// this same Go driver and the same connection string, and the value is
// only reported back by ProviderName.
type SQLite struct {
	db       *sql.DB
	provider model.ProviderName
}

// NewSQLite opens dsn through modernc.org/sqlite and applies the pragma set
// flowd's coredb.configureConnection uses: WAL journaling, full sync,
// foreign keys on, and a single-connection pool since SQLite serializes
// writers regardless.
func NewSQLite(ctx context.Context, cfg Config) (*SQLite, error) {
	db, err := sql.Open("sqlite", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: sqlite pragma %q: %w", stmt, err)
		}
	}

	provider := cfg.Provider
	if provider == "" {
		provider = model.ProviderSQLiteMS
	}
	return &SQLite{db: db, provider: provider}, nil
}

func (s *SQLite) ProviderName() model.ProviderName { return s.provider }

func (s *SQLite) Close(_ context.Context) error { return s.db.Close() }

type sqliteTx struct{ tx *sql.Tx }

func (t sqliteTx) Commit(_ context.Context) error   { return t.tx.Commit() }
func (t sqliteTx) Rollback(_ context.Context) error { return t.tx.Rollback() }

func (s *SQLite) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin tx: %w", err)
	}
	return sqliteTx{tx}, nil
}

func unwrapSQLiteTx(tx Tx) *sql.Tx { return tx.(sqliteTx).tx }

const insertRowSQL = `INSERT INTO journal_row
	(persistence_id, sequence_number, timestamp, deleted, message, manifest, event_manifest, identifier, tags, write_uuid)
	VALUES (?,?,?,?,?,?,?,?,?,?) RETURNING ordering`

func (s *SQLite) InsertRowSingle(ctx context.Context, row model.EventRow) (int64, error) {
	var ordering int64
	err := s.db.QueryRowContext(ctx, insertRowSQL,
		row.PersistenceID, row.SequenceNumber, row.Timestamp, row.Deleted, row.Message,
		row.Manifest, row.EventManifest, row.Identifier, row.Tags, row.WriteUUID[:],
	).Scan(&ordering)
	if err != nil {
		return 0, fmt.Errorf("storage: insert row: %w", err)
	}
	return ordering, nil
}

func (s *SQLite) InsertRowTx(ctx context.Context, tx Tx, row model.EventRow) (int64, error) {
	var ordering int64
	err := unwrapSQLiteTx(tx).QueryRowContext(ctx, insertRowSQL,
		row.PersistenceID, row.SequenceNumber, row.Timestamp, row.Deleted, row.Message,
		row.Manifest, row.EventManifest, row.Identifier, row.Tags, row.WriteUUID[:],
	).Scan(&ordering)
	if err != nil {
		return 0, fmt.Errorf("storage: insert row (tx): %w", err)
	}
	return ordering, nil
}

// BulkInsertRows batches rows into multi-row INSERT statements regardless
// of strategy: SQLite has no bulk-copy protocol to fall back to, so the
// BulkDefault/BulkMultipleRows distinction collapses to "always multi-row
// INSERT" here (Postgres likewise ignores it and always uses COPY).
func (s *SQLite) BulkInsertRows(ctx context.Context, tx Tx, rows []model.EventRow, _ BulkStrategy) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var execer interface {
		ExecContext(context.Context, string, ...any) (sql.Result, error)
	}
	if tx != nil {
		execer = unwrapSQLiteTx(tx)
	} else {
		execer = s.db
	}

	const cols = 10
	placeholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*cols)
	for i, r := range rows {
		placeholders[i] = "(?,?,?,?,?,?,?,?,?,?)"
		args = append(args, r.PersistenceID, r.SequenceNumber, r.Timestamp, r.Deleted, r.Message,
			r.Manifest, r.EventManifest, r.Identifier, r.Tags, r.WriteUUID[:])
	}
	query := `INSERT INTO journal_row
		(persistence_id, sequence_number, timestamp, deleted, message, manifest, event_manifest, identifier, tags, write_uuid)
		VALUES ` + strings.Join(placeholders, ",")
	res, err := execer.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("storage: bulk insert rows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLite) BulkInsertTagRows(ctx context.Context, tx Tx, rows []model.TagRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*5)
	for i, r := range rows {
		placeholders[i] = "(?,?,?,?,?)"
		args = append(args, r.OrderingID, r.TagValue, r.PersistenceID, r.SequenceNumber, r.WriteUUID[:])
	}
	query := `INSERT INTO journal_tag_row (ordering_id, tag_value, persistence_id, sequence_number, write_uuid)
		VALUES ` + strings.Join(placeholders, ",")
	res, err := unwrapSQLiteTx(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("storage: bulk insert tag rows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLite) UpdateMessage(ctx context.Context, pid string, seq int64, message []byte, manifest string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE journal_row SET message = ?, manifest = ? WHERE persistence_id = ? AND sequence_number = ?`,
		message, manifest, pid, seq)
	if err != nil {
		return fmt.Errorf("storage: update message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("storage: update message: %w", ErrNotFound)
	}
	return nil
}

func (s *SQLite) MarkDeleted(ctx context.Context, tx Tx, pid string, maxSeq int64) error {
	_, err := unwrapSQLiteTx(tx).ExecContext(ctx,
		`UPDATE journal_row SET deleted = 1 WHERE persistence_id = ? AND sequence_number <= ?`, pid, maxSeq)
	if err != nil {
		return fmt.Errorf("storage: mark deleted: %w", err)
	}
	return nil
}

func (s *SQLite) MaxSequenceWhereDeleted(ctx context.Context, tx Tx, pid string) (int64, bool, error) {
	var maxSeq *int64
	err := unwrapSQLiteTx(tx).QueryRowContext(ctx,
		`SELECT max(sequence_number) FROM journal_row WHERE persistence_id = ? AND deleted = 1`, pid,
	).Scan(&maxSeq)
	if err != nil {
		return 0, false, fmt.Errorf("storage: max deleted sequence: %w", err)
	}
	if maxSeq == nil {
		return 0, false, nil
	}
	return *maxSeq, true, nil
}

func (s *SQLite) UpsertMetadata(ctx context.Context, tx Tx, pid string, seq int64) error {
	_, err := unwrapSQLiteTx(tx).ExecContext(ctx,
		`INSERT INTO journal_metadata (persistence_id, sequence_number) VALUES (?, ?)
		 ON CONFLICT (persistence_id, sequence_number) DO NOTHING`, pid, seq)
	if err != nil {
		return fmt.Errorf("storage: upsert metadata: %w", err)
	}
	return nil
}

func (s *SQLite) HardDeleteRange(ctx context.Context, tx Tx, pid string, maxSeq, keepSeq int64) error {
	_, err := unwrapSQLiteTx(tx).ExecContext(ctx,
		`DELETE FROM journal_row WHERE persistence_id = ? AND sequence_number <= ? AND sequence_number < ?`,
		pid, maxSeq, keepSeq)
	if err != nil {
		return fmt.Errorf("storage: hard delete range: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteMetadataBelow(ctx context.Context, tx Tx, pid string, keepSeq int64) error {
	_, err := unwrapSQLiteTx(tx).ExecContext(ctx,
		`DELETE FROM journal_metadata WHERE persistence_id = ? AND sequence_number < ?`, pid, keepSeq)
	if err != nil {
		return fmt.Errorf("storage: delete metadata below: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteTagRows(ctx context.Context, tx Tx, pid string, maxSeq int64) error {
	_, err := unwrapSQLiteTx(tx).ExecContext(ctx,
		`DELETE FROM journal_tag_row WHERE persistence_id = ? AND sequence_number <= ?`, pid, maxSeq)
	if err != nil {
		return fmt.Errorf("storage: delete tag rows: %w", err)
	}
	return nil
}

func (s *SQLite) HighestSequenceNr(ctx context.Context, pid string, fromSeq int64, compat bool) (int64, error) {
	var query string
	switch {
	case !compat && fromSeq <= 0:
		query = `SELECT max(sequence_number) FROM journal_row WHERE persistence_id = ?`
	case !compat && fromSeq > 0:
		query = `SELECT max(sequence_number) FROM journal_row WHERE persistence_id = ? AND sequence_number > ?`
	case compat && fromSeq <= 0:
		query = `SELECT max(m) FROM (
		           SELECT max(sequence_number) AS m FROM journal_row WHERE persistence_id = ?
		           UNION ALL
		           SELECT max(sequence_number) AS m FROM journal_metadata WHERE persistence_id = ?
		         )`
	default:
		query = `SELECT max(m) FROM (
		           SELECT max(sequence_number) AS m FROM journal_row WHERE persistence_id = ? AND sequence_number > ?
		           UNION ALL
		           SELECT max(sequence_number) AS m FROM journal_metadata WHERE persistence_id = ? AND sequence_number > ?
		         )`
	}

	var args []any
	switch {
	case fromSeq <= 0 && !compat:
		args = []any{pid}
	case fromSeq > 0 && !compat:
		args = []any{pid, fromSeq}
	case fromSeq <= 0 && compat:
		args = []any{pid, pid}
	default:
		args = []any{pid, fromSeq, pid, fromSeq}
	}

	var max *int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&max); err != nil {
		return 0, fmt.Errorf("storage: highest sequence nr: %w", err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (s *SQLite) ReplayRows(ctx context.Context, pid string, fromSeq, toSeq int64, max int64) ([]model.EventRow, error) {
	query := `SELECT ordering, persistence_id, sequence_number, timestamp, deleted, message, manifest, event_manifest, identifier, tags, write_uuid
	          FROM journal_row
	          WHERE persistence_id = ? AND sequence_number >= ? AND sequence_number <= ? AND deleted = 0
	          ORDER BY sequence_number ASC`
	args := []any{pid, fromSeq, toSeq}
	if max >= 0 {
		query += " LIMIT ?"
		args = append(args, max)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: replay: %w", err)
	}
	defer rows.Close()
	return scanSQLiteRows(rows)
}

func (s *SQLite) MaxOrdering(ctx context.Context) (int64, error) {
	var max *int64
	if err := s.db.QueryRowContext(ctx, `SELECT max(ordering) FROM journal_row`).Scan(&max); err != nil {
		return 0, fmt.Errorf("storage: max ordering: %w", err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (s *SQLite) FetchByTagCSV(ctx context.Context, tag string, gtOrdering, leOrdering int64, limit int) ([]model.EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ordering, persistence_id, sequence_number, timestamp, deleted, message, manifest, event_manifest, identifier, tags, write_uuid
		 FROM journal_row
		 WHERE tags LIKE '%' || ? || '%' AND ordering > ? AND ordering <= ? AND deleted = 0
		 ORDER BY ordering ASC LIMIT ?`,
		csvNeedle(tag), gtOrdering, leOrdering, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch by tag (csv): %w", err)
	}
	defer rows.Close()
	return scanSQLiteRows(rows)
}

func (s *SQLite) FetchByTagTable(ctx context.Context, tag string, gtOrdering, leOrdering int64, limit int) ([]model.EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.ordering, r.persistence_id, r.sequence_number, r.timestamp, r.deleted, r.message, r.manifest, r.event_manifest, r.identifier, r.tags, r.write_uuid
		 FROM journal_tag_row t
		 JOIN journal_row r ON r.ordering = t.ordering_id
		 WHERE t.tag_value = ? AND r.ordering > ? AND r.ordering <= ? AND r.deleted = 0
		 ORDER BY r.ordering ASC LIMIT ?`,
		tag, gtOrdering, leOrdering, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch by tag (tag_table): %w", err)
	}
	defer rows.Close()
	return scanSQLiteRows(rows)
}

func (s *SQLite) FetchAllEvents(ctx context.Context, gtOrdering, leOrdering int64, limit int) ([]model.EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ordering, persistence_id, sequence_number, timestamp, deleted, message, manifest, event_manifest, identifier, tags, write_uuid
		 FROM journal_row
		 WHERE ordering > ? AND ordering <= ? AND deleted = 0
		 ORDER BY ordering ASC LIMIT ?`,
		gtOrdering, leOrdering, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch all events: %w", err)
	}
	defer rows.Close()
	return scanSQLiteRows(rows)
}

func (s *SQLite) RunMigrations(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: run migration: %w", err)
		}
	}
	return nil
}

func scanSQLiteRows(rows *sql.Rows) ([]model.EventRow, error) {
	var out []model.EventRow
	for rows.Next() {
		var r model.EventRow
		var writeUUID []byte
		var deleted int
		if err := rows.Scan(
			&r.Ordering, &r.PersistenceID, &r.SequenceNumber, &r.Timestamp, &deleted,
			&r.Message, &r.Manifest, &r.EventManifest, &r.Identifier, &r.Tags, &writeUUID,
		); err != nil {
			return nil, fmt.Errorf("storage: scan row: %w", err)
		}
		r.Deleted = deleted != 0
		copy(r.WriteUUID[:], writeUUID)
		out = append(out, r)
	}
	return out, rows.Err()
}
