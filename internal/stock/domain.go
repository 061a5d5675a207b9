// Package stock keeps warehouse balances, applies stock movements with
// moving-average costing and records the stock card.
package stock

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents an inbound movement.
	MovementIn MovementType = "IN"
	// MovementOut represents an outbound movement.
	MovementOut MovementType = "OUT"
	// MovementTransfer used for transfer records.
	MovementTransfer MovementType = "TRANSFER"
	// MovementAdjust indicates manual adjustments.
	MovementAdjust MovementType = "ADJUST"
)

// Movement models the header of a stock movement.
type Movement struct {
	ID          int64
	Code        string
	Type        MovementType
	WarehouseID int64
	RefModule   string
	RefID       string
	Note        string
	PostedAt    time.Time
	CreatedBy   int64
	CreatedAt   time.Time
}

// MovementLine models each product movement line.
type MovementLine struct {
	ID             int64
	MovementID     int64
	ProductID      int64
	Qty            float64
	UnitCost       decimal.Decimal
	SrcWarehouseID int64
	DstWarehouseID int64
}

// Balance summarises stock in a warehouse per product.
type Balance struct {
	WarehouseID int64           `json:"warehouse_id"`
	ProductID   int64           `json:"product_id"`
	Qty         float64         `json:"qty"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CardEntry describes one stock card row.
type CardEntry struct {
	Code        string          `json:"code"`
	Type        MovementType    `json:"type"`
	PostedAt    time.Time       `json:"posted_at"`
	QtyIn       float64         `json:"qty_in"`
	QtyOut      float64         `json:"qty_out"`
	BalanceQty  float64         `json:"balance_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	BalanceCost decimal.Decimal `json:"balance_cost"`
	Note        string          `json:"note"`
}

// MovementInput describes one single-product movement request.
type MovementInput struct {
	Code        string
	WarehouseID int64
	ProductID   int64
	Qty         float64
	UnitCost    decimal.Decimal
	Note        string
	ActorID     int64
	RefModule   string
	RefID       string
}

// TransferInput describes a transfer request between warehouses.
type TransferInput struct {
	Code         string
	ProductID    int64
	Qty          float64
	SrcWarehouse int64
	DstWarehouse int64
	UnitCost     decimal.Decimal
	Note         string
	ActorID      int64
	RefModule    string
	RefID        string
}

// CardFilter filters stock card entries.
type CardFilter struct {
	WarehouseID int64
	ProductID   int64
	From        time.Time
	To          time.Time
	Limit       int
}

// ErrNegativeStock triggered when a movement would drive qty negative.
var ErrNegativeStock = errors.New("stock: negative stock not allowed")

// ErrInvalidQuantity indicates invalid qty.
var ErrInvalidQuantity = errors.New("stock: quantity must be non zero")

// ErrInvalidUnitCost indicates invalid cost value.
var ErrInvalidUnitCost = errors.New("stock: unit cost must be >= 0")
