// Package documents manages stock-correcting documents: receipts,
// write-offs and transfers. Approving a document is what actually moves
// stock; until then it is an editable draft.
package documents

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates document kinds.
type Type string

const (
	// TypeReceipt books stock in.
	TypeReceipt Type = "RECEIPT"
	// TypeWriteoff books stock out.
	TypeWriteoff Type = "WRITEOFF"
	// TypeTransfer moves stock between warehouses.
	TypeTransfer Type = "TRANSFER"
)

// IsValid checks if the type is known.
func (t Type) IsValid() bool {
	switch t {
	case TypeReceipt, TypeWriteoff, TypeTransfer:
		return true
	default:
		return false
	}
}

// Status represents the document lifecycle.
type Status string

const (
	// StatusDraft is the initial, editable state.
	StatusDraft Status = "DRAFT"
	// StatusApproved means the document's movements are booked. Terminal.
	StatusApproved Status = "APPROVED"
	// StatusCancelled means the draft was discarded. Terminal.
	StatusCancelled Status = "CANCELLED"
)

// CanApprove reports whether the document may be approved.
func (s Status) CanApprove() bool {
	return s == StatusDraft
}

// CanCancel reports whether the document may be cancelled.
func (s Status) CanCancel() bool {
	return s == StatusDraft
}

// Line is one product line of a document.
type Line struct {
	ID         int64           `json:"id"`
	DocumentID int64           `json:"document_id"`
	ProductID  int64           `json:"product_id"`
	Qty        float64         `json:"qty"`
	Price      decimal.Decimal `json:"price"`
}

// Document is a stock-correcting document header with its lines.
type Document struct {
	ID             int64      `json:"id"`
	Number         string     `json:"number"`
	Type           Type       `json:"type"`
	WarehouseID    int64      `json:"warehouse_id"`
	DstWarehouseID *int64     `json:"dst_warehouse_id,omitempty"`
	Status         Status     `json:"status"`
	Note           string     `json:"note"`
	RefModule      string     `json:"ref_module,omitempty"`
	RefID          string     `json:"ref_id,omitempty"`
	CreatedBy      int64      `json:"created_by"`
	ApprovedBy     *int64     `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Lines          []Line     `json:"lines,omitempty"`
}

// LineInput is one requested document line.
type LineInput struct {
	ProductID int64
	Qty       float64
	Price     decimal.Decimal
}

// CreateInput assembles a new document.
type CreateInput struct {
	Type           Type
	WarehouseID    int64
	DstWarehouseID *int64
	Note           string
	RefModule      string
	RefID          string
	ActorID        int64
	Lines          []LineInput
}

// Validate ensures correctness.
func (in CreateInput) Validate() error {
	if !in.Type.IsValid() {
		return errors.New("documents: unknown document type")
	}
	if in.WarehouseID == 0 {
		return errors.New("documents: warehouse required")
	}
	if in.Type == TypeTransfer {
		if in.DstWarehouseID == nil || *in.DstWarehouseID == 0 {
			return errors.New("documents: destination warehouse required")
		}
		if *in.DstWarehouseID == in.WarehouseID {
			return errors.New("documents: source and destination warehouse must differ")
		}
	}
	if in.ActorID == 0 {
		return errors.New("documents: actor required")
	}
	if len(in.Lines) == 0 {
		return ErrNoLines
	}
	for _, line := range in.Lines {
		if line.ProductID == 0 {
			return errors.New("documents: line product required")
		}
		if line.Qty <= 0 {
			return ErrInvalidQuantity
		}
		if line.Price.IsNegative() {
			return errors.New("documents: line price must be >= 0")
		}
	}
	return nil
}

// ListFilter restricts document listings.
type ListFilter struct {
	WarehouseID *int64
	Type        *Type
	Status      *Status
	RefModule   string
	RefID       string
	Limit       int
	Offset      int
}

var (
	// ErrNotFound occurs when the document is missing.
	ErrNotFound = errors.New("documents: document not found")
	// ErrInvalidState occurs when the lifecycle forbids the operation.
	ErrInvalidState = errors.New("documents: invalid state for operation")
	// ErrNoLines occurs when a document has no lines.
	ErrNoLines = errors.New("documents: at least one line required")
	// ErrInvalidQuantity occurs on non-positive line quantities.
	ErrInvalidQuantity = errors.New("documents: line quantity must be positive")
)
