package inventory

import (
	"context"
	"fmt"
)

// OfflineExternalID is returned by the offline gateway for every record.
const OfflineExternalID int64 = 999999

// Offline is a deterministic gateway that never touches the network.
// Every purchase order reports two fully counted, matching lines.
type Offline struct{}

// NewOffline constructs the canned gateway.
func NewOffline() *Offline { return &Offline{} }

func (Offline) FetchItems(ctx context.Context, purchaseOrder string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &RemoteError{Op: "fetch items", Err: err}
	}
	id := OfflineExternalID
	return &Receipt{
		PurchaseOrder: purchaseOrder,
		ExternalID:    &id,
		InvoiceNumber: "000999",
		Items: []Item{
			{ExternalID: &id, Code: "01.000001", Description: "TEST PRODUCT A", QuantityCounted: int64Ptr(100), QuantityInvoiced: 100},
			{ExternalID: &id, Code: "01.000002", Description: "TEST PRODUCT B", QuantityCounted: int64Ptr(50), QuantityInvoiced: 50},
		},
	}, nil
}

func (Offline) Create(ctx context.Context, input CreateInput) (CreateResult, error) {
	if err := ctx.Err(); err != nil {
		return CreateResult{}, &RemoteError{Op: "create", Err: err}
	}
	id := OfflineExternalID
	return CreateResult{ExternalID: &id, Message: fmt.Sprintf("[TEST] receiving record %s registered", input.PurchaseOrder)}, nil
}

func (Offline) UpdateStatus(ctx context.Context, externalID int64, status string) error {
	if err := ctx.Err(); err != nil {
		return &RemoteError{Op: "update status", Err: err}
	}
	return nil
}

func int64Ptr(v int64) *int64 { return &v }
