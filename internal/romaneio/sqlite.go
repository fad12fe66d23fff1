package romaneio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteRepository implements Store on SQLite for single-host deployments.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Migrate applies the schema.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, rolling back when it fails.
func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Get retrieves a romaneio by its ID.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (Romaneio, error) {
	return sqliteGetRomaneio(ctx, r.db, `SELECT `+romaneioColumns+` FROM romaneios WHERE id = ?`, id)
}

// GetByPurchaseOrder retrieves a romaneio by its purchase order.
func (r *SQLiteRepository) GetByPurchaseOrder(ctx context.Context, purchaseOrder string) (Romaneio, error) {
	return sqliteGetRomaneio(ctx, r.db, `SELECT `+romaneioColumns+` FROM romaneios WHERE purchase_order = ?`, purchaseOrder)
}

// ListEligible retrieves every non-finalized romaneio, oldest first.
func (r *SQLiteRepository) ListEligible(ctx context.Context) ([]Romaneio, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+romaneioColumns+` FROM romaneios WHERE status <> ? ORDER BY id`, string(StatusFinalized))
	if err != nil {
		return nil, fmt.Errorf("failed to list romaneios: %w", err)
	}
	return sqliteCollectRomaneios(rows)
}

// List retrieves romaneios matching the given filters.
func (r *SQLiteRepository) List(ctx context.Context, filter ListFilter) ([]Romaneio, int, error) {
	filter = filter.normalize()
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.PurchaseOrder != "" {
		conds = append(conds, "purchase_order LIKE ?")
		args = append(args, "%"+filter.PurchaseOrder+"%")
	}
	if filter.InvoiceNumber != "" {
		conds = append(conds, "invoice_number LIKE ?")
		args = append(args, "%"+filter.InvoiceNumber+"%")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM romaneios`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count romaneios: %w", err)
	}
	args = append(args, filter.PerPage, filter.offset())
	rows, err := r.db.QueryContext(ctx, `SELECT `+romaneioColumns+` FROM romaneios`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list romaneios: %w", err)
	}
	items, err := sqliteCollectRomaneios(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Items retrieves the lines of a romaneio.
func (r *SQLiteRepository) Items(ctx context.Context, romaneioID int64) ([]Item, error) {
	return sqliteItems(ctx, r.db, romaneioID)
}

// Logs retrieves the audit history newest first.
func (r *SQLiteRepository) Logs(ctx context.Context, romaneioID int64) ([]Log, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+logColumns+` FROM romaneio_logs WHERE romaneio_id = ? ORDER BY occurred_at DESC, id DESC`, romaneioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		var (
			l       Log
			action  string
			prev    sql.NullString
			next    sql.NullString
			attempt sql.NullInt64
			actorID sql.NullInt64
		)
		if err := rows.Scan(&l.ID, &l.RomaneioID, &action, &prev, &next, &attempt, &l.Details, &actorID, &l.At); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		l.Action = Action(action)
		if prev.Valid {
			l.PreviousStatus = statusPtr(Status(prev.String))
		}
		if next.Valid {
			l.NewStatus = statusPtr(Status(next.String))
		}
		if attempt.Valid {
			l.Attempt = intPtr(int(attempt.Int64))
		}
		l.ActorID = fromNullInt64(actorID)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// AppendLog writes an audit entry outside any transaction.
func (r *SQLiteRepository) AppendLog(ctx context.Context, log Log) (int64, error) {
	return sqliteInsertLog(ctx, r.db, log)
}

// Stats counts romaneios per status.
func (r *SQLiteRepository) Stats(ctx context.Context, maxAttempts int) (Stats, error) {
	stats := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM romaneios GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count romaneios: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.ByStatus[Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM romaneios WHERE attempt_count >= ?`, maxAttempts).Scan(&stats.MaxAttemptsReached); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (t *sqliteTx) LockRomaneio(ctx context.Context, id int64) (Romaneio, error) {
	// SQLite has no row locks; the first write upgrades the transaction to the database lock.
	return sqliteGetRomaneio(ctx, t.tx, `SELECT `+romaneioColumns+` FROM romaneios WHERE id = ?`, id)
}

func (t *sqliteTx) Items(ctx context.Context, romaneioID int64) ([]Item, error) {
	return sqliteItems(ctx, t.tx, romaneioID)
}

func (t *sqliteTx) InsertRomaneio(ctx context.Context, r Romaneio) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO romaneios (purchase_order, invoice_number, access_key, external_id, status, attempt_count,
		created_by, after_receipt, scheduled, insert_as_partial, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.PurchaseOrder, r.InvoiceNumber, r.AccessKey, nullInt64(r.ExternalID), string(r.Status), r.AttemptCount,
		r.CreatedBy, r.Flags.AfterReceipt, r.Flags.Scheduled, r.Flags.InsertAsPartial, r.Notes, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, ErrDuplicatePurchaseOrder
		}
		return 0, fmt.Errorf("failed to create romaneio: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) UpdateRomaneio(ctx context.Context, r Romaneio) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE romaneios SET external_id = ?, status = ?, attempt_count = ?, updated_at = ? WHERE id = ?`,
		nullInt64(r.ExternalID), string(r.Status), r.AttemptCount, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update romaneio: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) DeleteRomaneio(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM romaneios WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete romaneio: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO romaneio_items (romaneio_id, external_id, code, description, quantity_invoiced, quantity_counted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.RomaneioID, nullInt64(item.ExternalID), item.Code, item.Description, item.QuantityInvoiced, nullInt64(item.QuantityCounted), item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create item: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) UpdateItem(ctx context.Context, item Item) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE romaneio_items SET external_id = ?, description = ?, quantity_invoiced = ?, quantity_counted = ?, updated_at = ? WHERE id = ?`,
		nullInt64(item.ExternalID), item.Description, item.QuantityInvoiced, nullInt64(item.QuantityCounted), item.UpdatedAt, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return nil
}

func (t *sqliteTx) InsertLog(ctx context.Context, log Log) (int64, error) {
	return sqliteInsertLog(ctx, t.tx, log)
}

func sqliteGetRomaneio(ctx context.Context, q sqlQuerier, query string, arg any) (Romaneio, error) {
	r, err := scanRomaneio(q.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return Romaneio{}, ErrNotFound
	}
	if err != nil {
		return Romaneio{}, fmt.Errorf("failed to get romaneio: %w", err)
	}
	return r, nil
}

func sqliteCollectRomaneios(rows *sql.Rows) ([]Romaneio, error) {
	defer rows.Close()
	var out []Romaneio
	for rows.Next() {
		r, err := scanRomaneio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan romaneio: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func sqliteItems(ctx context.Context, q sqlQuerier, romaneioID int64) ([]Item, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+itemColumns+` FROM romaneio_items WHERE romaneio_id = ? ORDER BY id`, romaneioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item       Item
			externalID sql.NullInt64
			counted    sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.RomaneioID, &externalID, &item.Code, &item.Description,
			&item.QuantityInvoiced, &counted, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.ExternalID = fromNullInt64(externalID)
		item.QuantityCounted = fromNullInt64(counted)
		items = append(items, item)
	}
	return items, rows.Err()
}

func sqliteInsertLog(ctx context.Context, q sqlQuerier, log Log) (int64, error) {
	var attempt sql.NullInt64
	if log.Attempt != nil {
		attempt = sql.NullInt64{Int64: int64(*log.Attempt), Valid: true}
	}
	res, err := q.ExecContext(ctx, `INSERT INTO romaneio_logs (romaneio_id, action, previous_status, new_status, attempt, details, actor_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.RomaneioID, string(log.Action), nullStatus(log.PreviousStatus), nullStatus(log.NewStatus), attempt, log.Details, nullInt64(log.ActorID), log.At,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create log: %w", err)
	}
	return res.LastInsertId()
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullStatus(s *Status) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*s), Valid: true}
}
