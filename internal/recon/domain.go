// Package recon implements the inventory reconciliation engine: physical
// stock counts, variance analysis and stock-correcting adjustment documents.
package recon

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of an inventory count.
type Status string

const (
	// StatusDraft is the initial state; the sheet can still be edited or deleted.
	StatusDraft Status = "DRAFT"
	// StatusInProgress marks an active physical count.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusCompleted marks a finished count awaiting review and approval.
	StatusCompleted Status = "COMPLETED"
	// StatusApproved is terminal; the inventory and its items are immutable.
	StatusApproved Status = "APPROVED"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusCompleted, StatusApproved:
		return true
	default:
		return false
	}
}

// CanEdit reports whether count lines may still be modified.
func (s Status) CanEdit() bool {
	return s == StatusDraft || s == StatusInProgress
}

// CanStart reports whether counting may begin.
func (s Status) CanStart() bool {
	return s == StatusDraft
}

// CanComplete reports whether the count phase may be closed.
func (s Status) CanComplete() bool {
	return s == StatusInProgress
}

// CanApprove reports whether the inventory may be approved.
func (s Status) CanApprove() bool {
	return s == StatusCompleted
}

// CanDelete reports whether the inventory may be deleted.
func (s Status) CanDelete() bool {
	return s == StatusDraft
}

// Inventory is one physical stock count for a single warehouse.
type Inventory struct {
	ID                    int64      `json:"id"`
	Number                string     `json:"number"`
	WarehouseID           int64      `json:"warehouse_id"`
	Date                  time.Time  `json:"date"`
	Status                Status     `json:"status"`
	ResponsiblePersonID   *int64     `json:"responsible_person_id,omitempty"`
	Notes                 *string    `json:"notes,omitempty"`
	CreatedBy             int64      `json:"created_by"`
	ApprovedBy            *int64     `json:"approved_by,omitempty"`
	ApprovedAt            *time.Time `json:"approved_at,omitempty"`
	AdjustmentDocumentIDs []int64    `json:"adjustment_document_ids,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	Items                 []Item     `json:"items,omitempty"`
}

// Item is one count line. ExpectedQty and Price are frozen snapshots taken
// when the sheet was generated; only the actual count fields are mutable,
// and only while the parent inventory is DRAFT or IN_PROGRESS.
type Item struct {
	ID          int64           `json:"id"`
	InventoryID int64           `json:"inventory_id"`
	ProductID   int64           `json:"product_id"`
	ExpectedQty float64         `json:"expected_qty"`
	ActualQty   *float64        `json:"actual_qty,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Notes       *string         `json:"notes,omitempty"`
	CountedBy   *int64          `json:"counted_by,omitempty"`
	CountedAt   *time.Time      `json:"counted_at,omitempty"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Counted reports whether the line has an actual quantity recorded.
func (i Item) Counted() bool {
	return i.ActualQty != nil
}

// SheetFilter restricts which balances become count lines. CategoryIDs and
// ProductIDs are combined as a union when both are given.
type SheetFilter struct {
	CategoryIDs         []int64
	ProductIDs          []int64
	IncludeZeroBalances bool
}

// SheetLine is one prospective count line priced from current balances.
type SheetLine struct {
	ProductID   int64           `json:"product_id"`
	ExpectedQty float64         `json:"expected_qty"`
	Price       decimal.Decimal `json:"price"`
}

// StockBalance is the engine's view of one stock balance row.
type StockBalance struct {
	ProductID int64
	Qty       float64
	AvgCost   decimal.Decimal
}

// CreateInput captures inventory creation input.
type CreateInput struct {
	WarehouseID         int64
	Date                time.Time
	ResponsiblePersonID *int64
	Notes               *string
	ActorID             int64
}

// Validate ensures correctness.
func (in CreateInput) Validate() error {
	if in.WarehouseID == 0 {
		return errors.New("recon: warehouse required")
	}
	if in.ActorID == 0 {
		return errors.New("recon: actor required")
	}
	return nil
}

// SetActualInput carries one count-line update. ExpectedVersion is an
// optional optimistic-concurrency token; when nil the write is
// last-writer-wins.
type SetActualInput struct {
	ActualQty       float64
	Notes           *string
	ActorID         int64
	ExpectedVersion *int64
}

// BulkLine is one entry of a bulk count update.
type BulkLine struct {
	ItemID    int64
	ActualQty float64
	Notes     *string
}

// BulkLineResult reports the outcome of a single bulk line.
type BulkLineResult struct {
	ItemID int64
	Item   *Item
	Err    error
}

// VarianceKind classifies a counted line.
type VarianceKind string

const (
	// VarianceSurplus marks counted more than expected.
	VarianceSurplus VarianceKind = "SURPLUS"
	// VarianceShortage marks counted less than expected.
	VarianceShortage VarianceKind = "SHORTAGE"
	// VarianceExact marks counted exactly as expected.
	VarianceExact VarianceKind = "EXACT"
)

// VarianceLine describes one counted item's deviation from the books.
// VariancePercent is nil when ExpectedQty is zero: the relative deviation
// is undefined there and callers must fall back to absolute terms.
type VarianceLine struct {
	ItemID          int64           `json:"item_id"`
	ProductID       int64           `json:"product_id"`
	ExpectedQty     float64         `json:"expected_qty"`
	ActualQty       float64         `json:"actual_qty"`
	QtyVariance     float64         `json:"qty_variance"`
	VariancePercent *float64        `json:"variance_percent"`
	Price           decimal.Decimal `json:"price"`
	ValueVariance   decimal.Decimal `json:"value_variance"`
	Kind            VarianceKind    `json:"kind"`
}

// VarianceReport aggregates counted lines into a financial variance view.
// ShortageValue is a positive magnitude; TotalVariance is
// SurplusValue - ShortageValue. All aggregates are computed over Items,
// i.e. over the threshold-filtered set, so totals never disagree with the
// displayed lines.
type VarianceReport struct {
	InventoryID       int64           `json:"inventory_id"`
	ThresholdPercent  float64         `json:"threshold_percent"`
	TotalItems        int             `json:"total_items"`
	ItemsWithVariance int             `json:"items_with_variance"`
	ExactMatches      int             `json:"exact_matches"`
	SurplusValue      decimal.Decimal `json:"surplus_value"`
	ShortageValue     decimal.Decimal `json:"shortage_value"`
	TotalVariance     decimal.Decimal `json:"total_variance"`
	Items             []VarianceLine  `json:"items"`
}

// DocumentType enumerates adjustment document kinds.
type DocumentType string

const (
	// DocumentReceipt books surplus stock in.
	DocumentReceipt DocumentType = "RECEIPT"
	// DocumentWriteoff books shortage stock out.
	DocumentWriteoff DocumentType = "WRITEOFF"
)

// DocumentLine is one adjustment line handed to the document subsystem.
type DocumentLine struct {
	ProductID int64
	Qty       float64
	Price     decimal.Decimal
}

// DocumentInput assembles one adjustment document.
type DocumentInput struct {
	Type        DocumentType
	WarehouseID int64
	Note        string
	ActorID     int64
	RefModule   string
	RefID       string
	Lines       []DocumentLine
}

// AdjustmentDocument is the engine's view of a created document.
type AdjustmentDocument struct {
	ID     int64        `json:"id"`
	Number string       `json:"number"`
	Type   DocumentType `json:"type"`
}

// AdjustmentFailure records one document kind that could not be created.
type AdjustmentFailure struct {
	Kind VarianceKind `json:"kind"`
	Err  error        `json:"-"`
}

// AdjustmentResult reports the outcome of adjustment generation. When some
// documents were created and others failed, Created and Failures are both
// populated and the call returns ErrPartialAdjustment alongside the result.
type AdjustmentResult struct {
	DocumentIDs     []int64              `json:"document_ids"`
	Created         []AdjustmentDocument `json:"created"`
	AlreadyAdjusted bool                 `json:"already_adjusted"`
	Reason          string               `json:"reason,omitempty"`
	Failures        []AdjustmentFailure  `json:"failures,omitempty"`
}

// ListFilter restricts inventory listings.
type ListFilter struct {
	WarehouseID *int64
	Status      *Status
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

var (
	// ErrNotFound occurs when the inventory is missing.
	ErrNotFound = errors.New("recon: inventory not found")
	// ErrItemNotFound occurs when the count line is missing.
	ErrItemNotFound = errors.New("recon: inventory item not found")
	// ErrWarehouseNotFound occurs when the referenced warehouse does not exist.
	ErrWarehouseNotFound = errors.New("recon: warehouse not found")
	// ErrInvalidState occurs when an operation is attempted outside its legal lifecycle state.
	ErrInvalidState = errors.New("recon: operation not allowed in current status")
	// ErrNegativeQuantity indicates a negative actual quantity.
	ErrNegativeQuantity = errors.New("recon: actual quantity must be >= 0")
	// ErrNegativeThreshold indicates an invalid variance threshold.
	ErrNegativeThreshold = errors.New("recon: threshold percent must be >= 0")
	// ErrNoLines indicates an empty bulk update.
	ErrNoLines = errors.New("recon: at least one line required")
	// ErrVersionConflict indicates the item changed since the caller read it.
	ErrVersionConflict = errors.New("recon: item was modified concurrently")
	// ErrAdjustmentInFlight indicates a concurrent adjustment generation for the same inventory.
	ErrAdjustmentInFlight = errors.New("recon: adjustment generation already in progress")
	// ErrPartialAdjustment indicates some adjustment documents failed; inspect the result.
	ErrPartialAdjustment = errors.New("recon: some adjustments failed")
)
