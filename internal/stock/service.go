package stock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mensa-erp/mensa-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockCard(ctx context.Context, filter CardFilter) ([]CardEntry, error)
	ListBalances(ctx context.Context, warehouseID int64) ([]Balance, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards movement posting against duplicate submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates stock operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	allowNeg    bool
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, allowNeg: cfg.AllowNegativeStock}
}

// ListBalances returns the warehouse balances from one query, so the set is
// a consistent snapshot.
func (s *Service) ListBalances(ctx context.Context, warehouseID int64) ([]Balance, error) {
	if warehouseID == 0 {
		return nil, errors.New("stock: warehouse required")
	}
	return s.repo.ListBalances(ctx, warehouseID)
}

// PostInbound posts an inbound movement (e.g. goods receipt).
func (s *Service) PostInbound(ctx context.Context, input MovementInput) (CardEntry, error) {
	if input.WarehouseID == 0 || input.ProductID == 0 {
		return CardEntry{}, errors.New("stock: warehouse and product required")
	}
	if input.Qty <= 0 {
		return CardEntry{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return CardEntry{}, ErrInvalidUnitCost
	}
	return s.postMovement(ctx, movementParams{
		Code:        input.Code,
		WarehouseID: input.WarehouseID,
		ProductID:   input.ProductID,
		QtyChange:   input.Qty,
		UnitCost:    input.UnitCost,
		Type:        MovementIn,
		Note:        input.Note,
		ActorID:     input.ActorID,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
	})
}

// PostOutbound posts an outbound movement (e.g. write-off) valued at the
// current average cost.
func (s *Service) PostOutbound(ctx context.Context, input MovementInput) (CardEntry, error) {
	if input.WarehouseID == 0 || input.ProductID == 0 {
		return CardEntry{}, errors.New("stock: warehouse and product required")
	}
	if input.Qty <= 0 {
		return CardEntry{}, ErrInvalidQuantity
	}
	return s.postMovement(ctx, movementParams{
		Code:        input.Code,
		WarehouseID: input.WarehouseID,
		ProductID:   input.ProductID,
		QtyChange:   -input.Qty,
		Type:        MovementOut,
		Note:        input.Note,
		ActorID:     input.ActorID,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
	})
}

// PostAdjustment posts an adjustment which may be positive or negative.
func (s *Service) PostAdjustment(ctx context.Context, input MovementInput) (CardEntry, error) {
	if input.WarehouseID == 0 || input.ProductID == 0 {
		return CardEntry{}, errors.New("stock: warehouse and product required")
	}
	if math.Abs(input.Qty) < 1e-9 {
		return CardEntry{}, ErrInvalidQuantity
	}
	if input.Qty > 0 && input.UnitCost.IsNegative() {
		return CardEntry{}, ErrInvalidUnitCost
	}
	return s.postMovement(ctx, movementParams{
		Code:        input.Code,
		WarehouseID: input.WarehouseID,
		ProductID:   input.ProductID,
		QtyChange:   input.Qty,
		UnitCost:    input.UnitCost,
		Type:        MovementAdjust,
		Note:        input.Note,
		ActorID:     input.ActorID,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
	})
}

// PostTransfer moves stock between warehouses using OUT + IN.
func (s *Service) PostTransfer(ctx context.Context, input TransferInput) (CardEntry, CardEntry, error) {
	if input.SrcWarehouse == 0 || input.DstWarehouse == 0 || input.ProductID == 0 {
		return CardEntry{}, CardEntry{}, errors.New("stock: warehouse and product required")
	}
	if input.SrcWarehouse == input.DstWarehouse {
		return CardEntry{}, CardEntry{}, errors.New("stock: source and destination warehouse must differ")
	}
	if input.Qty <= 0 {
		return CardEntry{}, CardEntry{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return CardEntry{}, CardEntry{}, ErrInvalidUnitCost
	}
	base := baseCode(input.Code)
	outCard, err := s.postMovement(ctx, movementParams{
		Code:        fmt.Sprintf("%s-OUT", base),
		WarehouseID: input.SrcWarehouse,
		ProductID:   input.ProductID,
		QtyChange:   -input.Qty,
		UnitCost:    input.UnitCost,
		Type:        MovementTransfer,
		Note:        fmt.Sprintf("Transfer to %d: %s", input.DstWarehouse, input.Note),
		ActorID:     input.ActorID,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
	})
	if err != nil {
		return CardEntry{}, CardEntry{}, err
	}
	inCard, err := s.postMovement(ctx, movementParams{
		Code:        fmt.Sprintf("%s-IN", base),
		WarehouseID: input.DstWarehouse,
		ProductID:   input.ProductID,
		QtyChange:   input.Qty,
		UnitCost:    outCard.UnitCost,
		Type:        MovementTransfer,
		Note:        fmt.Sprintf("Transfer from %d: %s", input.SrcWarehouse, input.Note),
		ActorID:     input.ActorID,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
	})
	if err != nil {
		return CardEntry{}, CardEntry{}, err
	}
	return outCard, inCard, nil
}

// GetStockCard lists stock card entries.
func (s *Service) GetStockCard(ctx context.Context, filter CardFilter) ([]CardEntry, error) {
	if filter.WarehouseID == 0 || filter.ProductID == 0 {
		return nil, errors.New("stock: warehouse and product required")
	}
	return s.repo.GetStockCard(ctx, filter)
}

type movementParams struct {
	Code        string
	WarehouseID int64
	ProductID   int64
	QtyChange   float64
	UnitCost    decimal.Decimal
	Type        MovementType
	Note        string
	ActorID     int64
	RefModule   string
	RefID       string
}

func (s *Service) postMovement(ctx context.Context, params movementParams) (CardEntry, error) {
	if params.QtyChange == 0 {
		return CardEntry{}, ErrInvalidQuantity
	}
	now := time.Now().UTC()
	code := params.Code
	if code == "" {
		code = "STK-" + uuid.NewString()
	}
	key := fmt.Sprintf("%s:%s:%d:%d", params.Type, code, params.WarehouseID, params.ProductID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return CardEntry{}, err
		}
		insertedKey = true
	}

	var card CardEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetBalanceForUpdate(ctx, params.WarehouseID, params.ProductID)
		if err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return err
		}
		if errors.Is(err, ErrBalanceNotFound) {
			balance = Balance{WarehouseID: params.WarehouseID, ProductID: params.ProductID, AvgCost: decimal.Zero}
		}
		qtyChange := params.QtyChange
		newQty := balance.Qty + qtyChange
		if !s.allowNeg && newQty < -0.0001 {
			return ErrNegativeStock
		}
		var unitCost, newAvg decimal.Decimal
		if qtyChange > 0 {
			unitCost = params.UnitCost
			totalCost := decimal.NewFromFloat(balance.Qty).Mul(balance.AvgCost).
				Add(decimal.NewFromFloat(qtyChange).Mul(unitCost))
			if newQty != 0 {
				newAvg = totalCost.Div(decimal.NewFromFloat(newQty)).Round(4)
			}
		} else {
			unitCost = balance.AvgCost
			if math.Abs(newQty) < 0.0001 {
				newQty = 0
			}
			if newQty <= 0 {
				newAvg = decimal.Zero
			} else {
				newAvg = balance.AvgCost
			}
		}
		header := Movement{
			Code:        code,
			Type:        params.Type,
			WarehouseID: params.WarehouseID,
			RefModule:   params.RefModule,
			RefID:       params.RefID,
			Note:        params.Note,
			PostedAt:    now,
			CreatedBy:   params.ActorID,
		}
		movementID, err := tx.InsertMovement(ctx, header)
		if err != nil {
			return err
		}
		line := MovementLine{
			MovementID: movementID,
			ProductID:  params.ProductID,
			Qty:        qtyChange,
			UnitCost:   unitCost,
		}
		if qtyChange < 0 {
			line.SrcWarehouseID = params.WarehouseID
		} else {
			line.DstWarehouseID = params.WarehouseID
		}
		if err := tx.InsertMovementLines(ctx, movementID, []MovementLine{line}); err != nil {
			return err
		}
		balance.Qty = newQty
		balance.AvgCost = newAvg
		if err := tx.UpsertBalance(ctx, balance); err != nil {
			return err
		}
		card = CardEntry{
			Code:        code,
			Type:        params.Type,
			PostedAt:    now,
			QtyIn:       math.Max(qtyChange, 0),
			QtyOut:      math.Max(-qtyChange, 0),
			BalanceQty:  newQty,
			UnitCost:    unitCost,
			BalanceCost: newAvg,
			Note:        params.Note,
		}
		return tx.InsertCardEntry(ctx, card, params.WarehouseID, params.ProductID, movementID)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return CardEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  params.ActorID,
			Action:   fmt.Sprintf("stock:%s", params.Type),
			Entity:   "stock_movement",
			EntityID: code,
			Meta: map[string]any{
				"warehouse_id": params.WarehouseID,
				"product_id":   params.ProductID,
				"qty":          params.QtyChange,
				"ref_module":   params.RefModule,
				"ref_id":       params.RefID,
			},
		})
	}
	return card, nil
}

func baseCode(code string) string {
	if code != "" {
		return code
	}
	return fmt.Sprintf("TRF-%d", time.Now().UnixNano())
}
