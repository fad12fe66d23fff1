package romaneio

import "context"

// Store describes persistence used by the service and the reconciliation engine.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	Get(ctx context.Context, id int64) (Romaneio, error)
	GetByPurchaseOrder(ctx context.Context, purchaseOrder string) (Romaneio, error)
	ListEligible(ctx context.Context) ([]Romaneio, error)
	List(ctx context.Context, filter ListFilter) ([]Romaneio, int, error)
	Items(ctx context.Context, romaneioID int64) ([]Item, error)
	Logs(ctx context.Context, romaneioID int64) ([]Log, error)
	AppendLog(ctx context.Context, log Log) (int64, error)
	Stats(ctx context.Context, maxAttempts int) (Stats, error)
}

// TxStore exposes the operations allowed inside one unit of work.
type TxStore interface {
	// LockRomaneio reads the record and holds it for the rest of the transaction.
	LockRomaneio(ctx context.Context, id int64) (Romaneio, error)
	Items(ctx context.Context, romaneioID int64) ([]Item, error)
	InsertRomaneio(ctx context.Context, r Romaneio) (int64, error)
	UpdateRomaneio(ctx context.Context, r Romaneio) error
	DeleteRomaneio(ctx context.Context, id int64) error
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	InsertLog(ctx context.Context, log Log) (int64, error)
}

// SaveMerge writes the inserted and updated halves of a merge.
func SaveMerge(ctx context.Context, tx TxStore, merge MergeResult) error {
	for _, item := range merge.Updated {
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
	}
	for _, item := range merge.Inserted {
		if _, err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}
