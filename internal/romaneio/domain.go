package romaneio

import (
	"errors"
	"fmt"
	"time"
)

// AccessKeyLength is the fixed size of an invoice access key.
const AccessKeyLength = 44

// Status is the lifecycle state of a romaneio.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOpen      Status = "OPEN"
	StatusReceived  Status = "RECEIVED"
	StatusFinalized Status = "FINALIZED"
)

// Statuses lists every lifecycle state in order.
var Statuses = []Status{StatusPending, StatusOpen, StatusReceived, StatusFinalized}

// ParseStatus accepts the canonical name or the single-letter remote code.
func ParseStatus(v string) (Status, error) {
	switch v {
	case string(StatusPending), "P":
		return StatusPending, nil
	case string(StatusOpen), "A":
		return StatusOpen, nil
	case string(StatusReceived), "R":
		return StatusReceived, nil
	case string(StatusFinalized), "F":
		return StatusFinalized, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
}

// RemoteCode returns the status code understood by the inventory system.
func (s Status) RemoteCode() string {
	switch s {
	case StatusPending:
		return "P"
	case StatusOpen:
		return "A"
	case StatusReceived:
		return "R"
	case StatusFinalized:
		return "F"
	}
	return ""
}

// Label returns the human readable name.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusOpen:
		return "Open"
	case StatusReceived:
		return "Received"
	case StatusFinalized:
		return "Finalized"
	}
	return string(s)
}

// Terminal reports whether the status excludes automatic reconciliation.
func (s Status) Terminal() bool {
	return s == StatusFinalized
}

// Flags are forwarded to the inventory system on creation only.
type Flags struct {
	AfterReceipt    bool
	Scheduled       bool
	InsertAsPartial bool
}

// Romaneio is one purchase-order receiving record.
type Romaneio struct {
	ID            int64
	PurchaseOrder string
	InvoiceNumber string
	AccessKey     string
	ExternalID    *int64
	Status        Status
	AttemptCount  int
	CreatedBy     int64
	Flags         Flags
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanVerify reports whether automatic reconciliation may run.
func (r Romaneio) CanVerify(maxAttempts int) bool {
	return !r.Status.Terminal() && r.AttemptCount < maxAttempts
}

// CanDelete reports whether the record may be removed.
func (r Romaneio) CanDelete() bool {
	return r.Status == StatusPending && r.AttemptCount == 0
}

// Item is one line of a romaneio. QuantityCounted is nil until counted remotely.
type Item struct {
	ID               int64
	RomaneioID       int64
	ExternalID       *int64
	Code             string
	Description      string
	QuantityInvoiced int64
	QuantityCounted  *int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Counted reports whether the external system reported a count.
func (i Item) Counted() bool {
	return i.QuantityCounted != nil
}

// Diverges reports a missing count or a mismatch against the invoice.
func (i Item) Diverges() bool {
	return i.QuantityCounted == nil || *i.QuantityCounted != i.QuantityInvoiced
}

// Action tags an audit entry.
type Action string

const (
	ActionCreated            Action = "created"
	ActionVerified           Action = "verified"
	ActionManualStatusUpdate Action = "manual_status_update"
	ActionMaxAttemptsReached Action = "max_attempts_reached"
	ActionVerificationError  Action = "verification_error"
)

// Log is an append-only audit entry.
type Log struct {
	ID             int64
	RomaneioID     int64
	Action         Action
	PreviousStatus *Status
	NewStatus      *Status
	Attempt        *int
	Details        string
	ActorID        *int64
	At             time.Time
}

// Stats aggregates record counts for dashboards.
type Stats struct {
	Total              int
	ByStatus           map[Status]int
	MaxAttemptsReached int
}

// ListFilter narrows List results.
type ListFilter struct {
	Status        Status
	PurchaseOrder string
	InvoiceNumber string
	Page          int
	PerPage       int
}

func (f ListFilter) normalize() ListFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = 10
	}
	return f
}

func (f ListFilter) offset() int {
	return (f.Page - 1) * f.PerPage
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("romaneio: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("romaneio: invalid input")
	// ErrInvalidAccessKey indicates an access key of the wrong length.
	ErrInvalidAccessKey = fmt.Errorf("%w: access key must have %d characters", ErrValidation, AccessKeyLength)
	// ErrDuplicatePurchaseOrder indicates a local record already exists.
	ErrDuplicatePurchaseOrder = fmt.Errorf("%w: purchase order already registered", ErrValidation)
	// ErrRemoteDuplicate indicates the inventory system already holds the record.
	ErrRemoteDuplicate = errors.New("romaneio: already exists in inventory system")
	// ErrNotDeletable indicates the record left the pending state or was already attempted.
	ErrNotDeletable = errors.New("romaneio: only pending records without attempts can be deleted")
	// ErrInvalidStatus indicates an unknown lifecycle status.
	ErrInvalidStatus = errors.New("romaneio: invalid status")
)

func statusPtr(s Status) *Status { return &s }

func intPtr(v int) *int { return &v }
