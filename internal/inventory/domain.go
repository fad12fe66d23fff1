package inventory

import (
	"context"
	"errors"
	"fmt"
)

// Item is one line reported by the inventory system. QuantityCounted is nil
// until the warehouse has counted the line.
type Item struct {
	ExternalID       *int64 `json:"external_id"`
	Code             string `json:"code"`
	Description      string `json:"description"`
	QuantityCounted  *int64 `json:"quantity_counted"`
	QuantityInvoiced int64  `json:"quantity_invoiced"`
}

// Receipt is the remote view of one purchase order.
type Receipt struct {
	PurchaseOrder string `json:"purchase_order"`
	ExternalID    *int64 `json:"external_id"`
	InvoiceNumber string `json:"invoice_number"`
	Items         []Item `json:"items"`
}

// Flags are the creation switches understood by the inventory system.
type Flags struct {
	AfterReceipt    bool `json:"after_receipt"`
	Scheduled       bool `json:"scheduled"`
	InsertAsPartial bool `json:"insert_as_partial"`
}

// CreateInput describes a receiving record to register remotely.
type CreateInput struct {
	PurchaseOrder string `json:"purchase_order"`
	InvoiceNumber string `json:"invoice_number"`
	AccessKey     string `json:"access_key"`
	Flags
}

// CreateResult is the acknowledgement of a registration.
type CreateResult struct {
	ExternalID *int64 `json:"external_id"`
	Message    string `json:"message"`
}

// Gateway is the contract consumed by the romaneio service and the reconciliation engine.
type Gateway interface {
	// FetchItems returns nil without error when the purchase order is unknown remotely.
	FetchItems(ctx context.Context, purchaseOrder string) (*Receipt, error)
	Create(ctx context.Context, input CreateInput) (CreateResult, error)
	UpdateStatus(ctx context.Context, externalID int64, status string) error
}

// ErrAlreadyExists indicates the inventory system acknowledged the request
// but reported the record as already registered.
var ErrAlreadyExists = errors.New("inventory: record already exists")

// RemoteError wraps transport failures, timeouts, non-success responses and malformed bodies.
type RemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("inventory: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("inventory: %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
