package romaneio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/romaneios/internal/platform/db"
)

const romaneioColumns = `id, purchase_order, invoice_number, access_key, external_id, status, attempt_count,
	created_by, after_receipt, scheduled, insert_as_partial, notes, created_at, updated_at`

const itemColumns = `id, romaneio_id, external_id, code, description, quantity_invoiced, quantity_counted, created_at, updated_at`

const logColumns = `id, romaneio_id, action, previous_status, new_status, attempt, details, actor_id, occurred_at`

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate applies the schema.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, PostgresSchema)
	return err
}

type pgTx struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

// Get returns a romaneio by id.
func (r *Repository) Get(ctx context.Context, id int64) (Romaneio, error) {
	return pgGetRomaneio(ctx, r.pool, `SELECT `+romaneioColumns+` FROM romaneios WHERE id = $1`, id)
}

// GetByPurchaseOrder returns a romaneio by its business key.
func (r *Repository) GetByPurchaseOrder(ctx context.Context, purchaseOrder string) (Romaneio, error) {
	return pgGetRomaneio(ctx, r.pool, `SELECT `+romaneioColumns+` FROM romaneios WHERE purchase_order = $1`, purchaseOrder)
}

// ListEligible returns every romaneio outside the terminal status, oldest first.
func (r *Repository) ListEligible(ctx context.Context) ([]Romaneio, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+romaneioColumns+` FROM romaneios WHERE status <> $1 ORDER BY id`, string(StatusFinalized))
	if err != nil {
		return nil, err
	}
	return pgCollectRomaneios(rows)
}

// List returns a filtered page, newest first, and the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Romaneio, int, error) {
	filter = filter.normalize()
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.PurchaseOrder != "" {
		args = append(args, "%"+filter.PurchaseOrder+"%")
		conds = append(conds, fmt.Sprintf("purchase_order LIKE $%d", len(args)))
	}
	if filter.InvoiceNumber != "" {
		args = append(args, "%"+filter.InvoiceNumber+"%")
		conds = append(conds, fmt.Sprintf("invoice_number LIKE $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM romaneios`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, filter.offset())
	query := fmt.Sprintf(`SELECT %s FROM romaneios%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, romaneioColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := pgCollectRomaneios(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Items returns the lines of a romaneio ordered by insertion.
func (r *Repository) Items(ctx context.Context, romaneioID int64) ([]Item, error) {
	return pgItems(ctx, r.pool, romaneioID)
}

// Logs returns the audit history newest first.
func (r *Repository) Logs(ctx context.Context, romaneioID int64) ([]Log, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+logColumns+` FROM romaneio_logs WHERE romaneio_id = $1 ORDER BY occurred_at DESC, id DESC`, romaneioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []Log
	for rows.Next() {
		var (
			l       Log
			action  string
			prev    *string
			next    *string
			attempt *int32
			actorID *int64
		)
		if err := rows.Scan(&l.ID, &l.RomaneioID, &action, &prev, &next, &attempt, &l.Details, &actorID, &l.At); err != nil {
			return nil, err
		}
		l.Action = Action(action)
		l.PreviousStatus = optionalStatus(prev)
		l.NewStatus = optionalStatus(next)
		if attempt != nil {
			l.Attempt = intPtr(int(*attempt))
		}
		l.ActorID = actorID
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// AppendLog writes an audit entry outside any transaction.
func (r *Repository) AppendLog(ctx context.Context, log Log) (int64, error) {
	return pgInsertLog(ctx, r.pool, log)
}

// Stats returns counts per status and the number of exhausted records.
func (r *Repository) Stats(ctx context.Context, maxAttempts int) (Stats, error) {
	stats := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM romaneios GROUP BY status`)
	if err != nil {
		return Stats{}, err
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM romaneios WHERE attempt_count >= $1`, maxAttempts).Scan(&stats.MaxAttemptsReached); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (t *pgTx) LockRomaneio(ctx context.Context, id int64) (Romaneio, error) {
	return pgGetRomaneio(ctx, t.tx, `SELECT `+romaneioColumns+` FROM romaneios WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) Items(ctx context.Context, romaneioID int64) ([]Item, error) {
	return pgItems(ctx, t.tx, romaneioID)
}

func (t *pgTx) InsertRomaneio(ctx context.Context, r Romaneio) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO romaneios (purchase_order, invoice_number, access_key, external_id, status, attempt_count,
		created_by, after_receipt, scheduled, insert_as_partial, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		r.PurchaseOrder, r.InvoiceNumber, r.AccessKey, r.ExternalID, string(r.Status), r.AttemptCount,
		r.CreatedBy, r.Flags.AfterReceipt, r.Flags.Scheduled, r.Flags.InsertAsPartial, r.Notes, r.CreatedAt, r.UpdatedAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicatePurchaseOrder
		}
		return 0, err
	}
	return id, nil
}

func (t *pgTx) UpdateRomaneio(ctx context.Context, r Romaneio) error {
	tag, err := t.tx.Exec(ctx, `UPDATE romaneios SET external_id = $2, status = $3, attempt_count = $4, updated_at = $5 WHERE id = $1`,
		r.ID, r.ExternalID, string(r.Status), r.AttemptCount, r.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteRomaneio(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM romaneios WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO romaneio_items (romaneio_id, external_id, code, description, quantity_invoiced, quantity_counted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		item.RomaneioID, item.ExternalID, item.Code, item.Description, item.QuantityInvoiced, item.QuantityCounted, item.CreatedAt, item.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (t *pgTx) UpdateItem(ctx context.Context, item Item) error {
	_, err := t.tx.Exec(ctx, `UPDATE romaneio_items SET external_id = $2, description = $3, quantity_invoiced = $4, quantity_counted = $5, updated_at = $6 WHERE id = $1`,
		item.ID, item.ExternalID, item.Description, item.QuantityInvoiced, item.QuantityCounted, item.UpdatedAt)
	return err
}

func (t *pgTx) InsertLog(ctx context.Context, log Log) (int64, error) {
	return pgInsertLog(ctx, t.tx, log)
}

func pgGetRomaneio(ctx context.Context, q pgQuerier, query string, arg any) (Romaneio, error) {
	r, err := scanRomaneio(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Romaneio{}, ErrNotFound
		}
		return Romaneio{}, err
	}
	return r, nil
}

func pgCollectRomaneios(rows pgx.Rows) ([]Romaneio, error) {
	defer rows.Close()
	var out []Romaneio
	for rows.Next() {
		r, err := scanRomaneio(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func pgItems(ctx context.Context, q pgQuerier, romaneioID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM romaneio_items WHERE romaneio_id = $1 ORDER BY id`, romaneioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.RomaneioID, &item.ExternalID, &item.Code, &item.Description,
			&item.QuantityInvoiced, &item.QuantityCounted, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func pgInsertLog(ctx context.Context, q pgQuerier, log Log) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO romaneio_logs (romaneio_id, action, previous_status, new_status, attempt, details, actor_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		log.RomaneioID, string(log.Action), statusValue(log.PreviousStatus), statusValue(log.NewStatus), log.Attempt, log.Details, log.ActorID, log.At,
	).Scan(&id)
	return id, err
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRomaneio(row rowScanner) (Romaneio, error) {
	var (
		r      Romaneio
		status string
	)
	err := row.Scan(&r.ID, &r.PurchaseOrder, &r.InvoiceNumber, &r.AccessKey, &r.ExternalID, &status, &r.AttemptCount,
		&r.CreatedBy, &r.Flags.AfterReceipt, &r.Flags.Scheduled, &r.Flags.InsertAsPartial, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Romaneio{}, err
	}
	parsed, err := ParseStatus(status)
	if err != nil {
		return Romaneio{}, err
	}
	r.Status = parsed
	return r, nil
}

func optionalStatus(v *string) *Status {
	if v == nil || *v == "" {
		return nil
	}
	s := Status(*v)
	return &s
}

func statusValue(s *Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
