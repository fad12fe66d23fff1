package romaneiohttp

import (
	"time"

	"github.com/odyssey-erp/romaneios/internal/reconcile"
	"github.com/odyssey-erp/romaneios/internal/romaneio"
)

type createRequest struct {
	PurchaseOrder   string `json:"purchase_order"`
	InvoiceNumber   string `json:"invoice_number"`
	AccessKey       string `json:"access_key"`
	AfterReceipt    *bool  `json:"after_receipt"`
	Scheduled       *bool  `json:"scheduled"`
	InsertAsPartial *bool  `json:"insert_as_partial"`
	Notes           string `json:"notes"`
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type romaneioResponse struct {
	ID              int64          `json:"id"`
	PurchaseOrder   string         `json:"purchase_order"`
	InvoiceNumber   string         `json:"invoice_number"`
	AccessKey       string         `json:"access_key"`
	ExternalID      *int64         `json:"external_id"`
	Status          string         `json:"status"`
	StatusLabel     string         `json:"status_label"`
	AttemptCount    int            `json:"attempt_count"`
	CreatedBy       int64          `json:"created_by"`
	AfterReceipt    bool           `json:"after_receipt"`
	Scheduled       bool           `json:"scheduled"`
	InsertAsPartial bool           `json:"insert_as_partial"`
	Notes           string         `json:"notes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Items           []itemResponse `json:"items,omitempty"`
}

type itemResponse struct {
	ID               int64  `json:"id"`
	ExternalID       *int64 `json:"external_id"`
	Code             string `json:"code"`
	Description      string `json:"description"`
	QuantityInvoiced int64  `json:"quantity_invoiced"`
	QuantityCounted  *int64 `json:"quantity_counted"`
	Divergent        bool   `json:"divergent"`
}

type logResponse struct {
	ID             int64     `json:"id"`
	Action         string    `json:"action"`
	PreviousStatus *string   `json:"previous_status"`
	NewStatus      *string   `json:"new_status"`
	Attempt        *int      `json:"attempt"`
	Details        string    `json:"details"`
	ActorID        *int64    `json:"actor_id"`
	At             time.Time `json:"at"`
}

type listResponse struct {
	Data       []romaneioResponse `json:"data"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	TotalPages int                `json:"total_pages"`
}

type statsResponse struct {
	Total              int            `json:"total"`
	ByStatus           map[string]int `json:"by_status"`
	MaxAttemptsReached int            `json:"max_attempts_reached"`
}

type resultResponse struct {
	RomaneioID    int64          `json:"romaneio_id"`
	PurchaseOrder string         `json:"purchase_order"`
	Outcome       string         `json:"outcome"`
	Status        string         `json:"status,omitempty"`
	Attempt       int            `json:"attempt"`
	Message       string         `json:"message,omitempty"`
	Divergent     []itemResponse `json:"divergent,omitempty"`
}

type queuedResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

func toRomaneio(r romaneio.Romaneio, items []romaneio.Item) romaneioResponse {
	return romaneioResponse{
		ID:              r.ID,
		PurchaseOrder:   r.PurchaseOrder,
		InvoiceNumber:   r.InvoiceNumber,
		AccessKey:       r.AccessKey,
		ExternalID:      r.ExternalID,
		Status:          string(r.Status),
		StatusLabel:     r.Status.Label(),
		AttemptCount:    r.AttemptCount,
		CreatedBy:       r.CreatedBy,
		AfterReceipt:    r.Flags.AfterReceipt,
		Scheduled:       r.Flags.Scheduled,
		InsertAsPartial: r.Flags.InsertAsPartial,
		Notes:           r.Notes,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Items:           toItems(items),
	}
}

func toItems(items []romaneio.Item) []itemResponse {
	if len(items) == 0 {
		return nil
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, itemResponse{
			ID:               item.ID,
			ExternalID:       item.ExternalID,
			Code:             item.Code,
			Description:      item.Description,
			QuantityInvoiced: item.QuantityInvoiced,
			QuantityCounted:  item.QuantityCounted,
			Divergent:        item.Diverges(),
		})
	}
	return out
}

func toLogs(logs []romaneio.Log) []logResponse {
	out := make([]logResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, logResponse{
			ID:             l.ID,
			Action:         string(l.Action),
			PreviousStatus: statusString(l.PreviousStatus),
			NewStatus:      statusString(l.NewStatus),
			Attempt:        l.Attempt,
			Details:        l.Details,
			ActorID:        l.ActorID,
			At:             l.At,
		})
	}
	return out
}

func toResult(res reconcile.Result) resultResponse {
	return resultResponse{
		RomaneioID:    res.RomaneioID,
		PurchaseOrder: res.PurchaseOrder,
		Outcome:       string(res.Outcome),
		Status:        string(res.Status),
		Attempt:       res.Attempt,
		Message:       res.Message,
		Divergent:     toItems(res.Divergent),
	}
}

func statusString(s *romaneio.Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
