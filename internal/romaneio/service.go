package romaneio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/romaneios/internal/inventory"
	"github.com/odyssey-erp/romaneios/internal/locks"
	"github.com/odyssey-erp/romaneios/internal/shared"
)

// ServiceConfig carries the administrative defaults.
type ServiceConfig struct {
	MaxAttempts    int
	DefaultFlags   Flags
	FetchOnCreate  bool
	OfflineGateway bool
}

// Service implements the administrative boundary around the reconciliation core.
type Service struct {
	store    Store
	gateway  inventory.Gateway
	locker   locks.Locker
	validate *validator.Validate
	cfg      ServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the romaneio service.
func NewService(store Store, gateway inventory.Gateway, locker locks.Locker, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if locker == nil {
		locker = locks.NewLocal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		gateway:  gateway,
		locker:   locker,
		validate: validator.New(),
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput describes a new receiving record. Nil flags take the configured defaults.
type CreateInput struct {
	PurchaseOrder   string `validate:"required,max=64"`
	InvoiceNumber   string `validate:"required,max=64"`
	AccessKey       string `validate:"len=44"`
	AfterReceipt    *bool
	Scheduled       *bool
	InsertAsPartial *bool
	Notes           string `validate:"max=2000"`
	CreatedBy       int64
}

// UpdateStatusInput describes a manual status override.
type UpdateStatusInput struct {
	ID      int64
	Status  Status
	ActorID int64
	Note    string
}

// ListResult is one page of romaneios.
type ListResult struct {
	Romaneios []Romaneio
	Total     int
	Page      int
	PerPage   int
}

// Create validates the input, registers the record remotely and persists it.
// Nothing is stored when validation or the remote registration fails.
func (s *Service) Create(ctx context.Context, input CreateInput) (Romaneio, []Item, error) {
	input.PurchaseOrder = strings.TrimSpace(input.PurchaseOrder)
	input.InvoiceNumber = strings.TrimSpace(input.InvoiceNumber)
	input.AccessKey = strings.TrimSpace(input.AccessKey)
	if err := s.validateCreate(input); err != nil {
		return Romaneio{}, nil, err
	}

	if _, err := s.store.GetByPurchaseOrder(ctx, input.PurchaseOrder); err == nil {
		return Romaneio{}, nil, ErrDuplicatePurchaseOrder
	} else if !errors.Is(err, ErrNotFound) {
		return Romaneio{}, nil, err
	}

	flags := s.resolveFlags(input)
	res, err := s.gateway.Create(ctx, inventory.CreateInput{
		PurchaseOrder: input.PurchaseOrder,
		InvoiceNumber: input.InvoiceNumber,
		AccessKey:     input.AccessKey,
		Flags: inventory.Flags{
			AfterReceipt:    flags.AfterReceipt,
			Scheduled:       flags.Scheduled,
			InsertAsPartial: flags.InsertAsPartial,
		},
	})
	if err != nil {
		if errors.Is(err, inventory.ErrAlreadyExists) {
			return Romaneio{}, nil, fmt.Errorf("%w: %s", ErrRemoteDuplicate, res.Message)
		}
		return Romaneio{}, nil, fmt.Errorf("romaneio: register in inventory system: %w", err)
	}

	now := s.now()
	record := Romaneio{
		PurchaseOrder: input.PurchaseOrder,
		InvoiceNumber: input.InvoiceNumber,
		AccessKey:     input.AccessKey,
		ExternalID:    copyInt64(res.ExternalID),
		Status:        StatusPending,
		CreatedBy:     input.CreatedBy,
		Flags:         flags,
		Notes:         input.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var remote []Item
	if s.cfg.FetchOnCreate {
		receipt, err := s.gateway.FetchItems(ctx, input.PurchaseOrder)
		switch {
		case err != nil:
			s.logger.Warn("fetch items on create", slog.String("purchase_order", input.PurchaseOrder), slog.Any("error", err))
		case receipt != nil:
			if record.ExternalID == nil {
				record.ExternalID = copyInt64(receipt.ExternalID)
			}
			remote = RemoteItems(receipt.Items)
		}
	}

	details := "Romaneio created"
	if s.cfg.OfflineGateway {
		details += " [offline mode]"
	}

	var items []Item
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		id, err := tx.InsertRomaneio(ctx, record)
		if err != nil {
			return err
		}
		record.ID = id
		merge := MergeItems(id, nil, remote, now)
		for _, item := range merge.Inserted {
			itemID, err := tx.InsertItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = itemID
			items = append(items, item)
		}
		actor := input.CreatedBy
		_, err = tx.InsertLog(ctx, Log{
			RomaneioID: id,
			Action:     ActionCreated,
			NewStatus:  statusPtr(StatusPending),
			Details:    details,
			ActorID:    &actor,
			At:         now,
		})
		return err
	})
	if err != nil {
		return Romaneio{}, nil, err
	}
	s.logger.Info("romaneio created",
		slog.Int64("romaneio_id", record.ID),
		slog.String("purchase_order", record.PurchaseOrder),
		slog.Int("items", len(items)),
	)
	return record, items, nil
}

func (s *Service) validateCreate(input CreateInput) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		if fieldErr.Field() == "AccessKey" {
			return ErrInvalidAccessKey
		}
		fields = append(fields, fieldErr.Field()+" "+fieldErr.Tag())
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
}

func (s *Service) resolveFlags(input CreateInput) Flags {
	flags := s.cfg.DefaultFlags
	if input.AfterReceipt != nil {
		flags.AfterReceipt = *input.AfterReceipt
	}
	if input.Scheduled != nil {
		flags.Scheduled = *input.Scheduled
	}
	if input.InsertAsPartial != nil {
		flags.InsertAsPartial = *input.InsertAsPartial
	}
	return flags
}

// Get returns a romaneio with its items.
func (s *Service) Get(ctx context.Context, id int64) (Romaneio, []Item, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return Romaneio{}, nil, err
	}
	items, err := s.store.Items(ctx, id)
	if err != nil {
		return Romaneio{}, nil, err
	}
	return r, items, nil
}

// List returns one page of romaneios, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	if filter.Status != "" {
		status, err := ParseStatus(string(filter.Status))
		if err != nil {
			return ListResult{}, err
		}
		filter.Status = status
	}
	filter = filter.normalize()
	if filter.PerPage > 100 {
		filter.PerPage = 100
	}
	records, total, err := s.store.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Romaneios: records, Total: total, Page: filter.Page, PerPage: filter.PerPage}, nil
}

// Delete removes a pending romaneio that was never attempted, with its items and logs.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	release, err := s.locker.Acquire(ctx, shared.RomaneioLockKey(id))
	if err != nil {
		return err
	}
	defer release()

	var purchaseOrder string
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		r, err := tx.LockRomaneio(ctx, id)
		if err != nil {
			return err
		}
		if !r.CanDelete() {
			return ErrNotDeletable
		}
		purchaseOrder = r.PurchaseOrder
		return tx.DeleteRomaneio(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("romaneio deleted", slog.Int64("romaneio_id", id), slog.String("purchase_order", purchaseOrder), slog.Int64("actor_id", actorID))
	return nil
}

// UpdateStatus applies an administrative override. It bypasses eligibility
// but shares the reconciliation lock.
func (s *Service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (Romaneio, error) {
	status, err := ParseStatus(string(input.Status))
	if err != nil {
		return Romaneio{}, err
	}
	release, err := s.locker.Acquire(ctx, shared.RomaneioLockKey(input.ID))
	if err != nil {
		return Romaneio{}, err
	}
	defer release()

	note := strings.TrimSpace(input.Note)
	if note == "" {
		note = "Status updated manually"
	}
	var updated Romaneio
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		current, err := tx.LockRomaneio(ctx, input.ID)
		if err != nil {
			return err
		}
		updated = current
		updated.Status = status
		updated.UpdatedAt = s.now()
		if err := tx.UpdateRomaneio(ctx, updated); err != nil {
			return err
		}
		actor := input.ActorID
		_, err = tx.InsertLog(ctx, Log{
			RomaneioID:     current.ID,
			Action:         ActionManualStatusUpdate,
			PreviousStatus: statusPtr(current.Status),
			NewStatus:      statusPtr(status),
			Details:        note,
			ActorID:        &actor,
			At:             updated.UpdatedAt,
		})
		return err
	})
	if err != nil {
		return Romaneio{}, err
	}
	s.logger.Info("romaneio status overridden",
		slog.Int64("romaneio_id", updated.ID),
		slog.String("status", string(status)),
		slog.Int64("actor_id", input.ActorID),
	)
	return updated, nil
}

// Logs returns the audit history newest first.
func (s *Service) Logs(ctx context.Context, id int64) ([]Log, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Logs(ctx, id)
}

// Stats counts records per status.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	stats, err := s.store.Stats(ctx, s.cfg.MaxAttempts)
	if err != nil {
		return Stats{}, err
	}
	for _, status := range Statuses {
		if _, ok := stats.ByStatus[status]; !ok {
			stats.ByStatus[status] = 0
		}
	}
	return stats, nil
}

// RemoteItems converts inventory snapshots into unsaved local items.
func RemoteItems(remote []inventory.Item) []Item {
	items := make([]Item, 0, len(remote))
	for _, r := range remote {
		items = append(items, Item{
			ExternalID:       copyInt64(r.ExternalID),
			Code:             strings.TrimSpace(r.Code),
			Description:      r.Description,
			QuantityInvoiced: r.QuantityInvoiced,
			QuantityCounted:  copyInt64(r.QuantityCounted),
		})
	}
	return items
}
