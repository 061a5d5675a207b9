package recon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mensa-erp/mensa-erp/internal/shared"
)

// ReasonNoVariance is returned when an adjustment run finds nothing to book.
const ReasonNoVariance = "no-variance"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInventory(ctx context.Context, id int64) (Inventory, error)
	GetInventoryItems(ctx context.Context, inventoryID int64) ([]Item, error)
	ListInventories(ctx context.Context, filter ListFilter) ([]Inventory, int, error)
	NextNumber(ctx context.Context, date time.Time) (string, error)
}

// DocumentPort creates stock-correcting documents. Calls are remote and
// independent; the engine never assumes two document creations commit as
// one unit.
type DocumentPort interface {
	CreateDocument(ctx context.Context, input DocumentInput) (AdjustmentDocument, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records lifecycle decisions.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// IdempotencyPort guards one-shot operations against concurrent retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates the reconciliation workflow.
type Service struct {
	repo        RepositoryPort
	sheets      *SheetGenerator
	catalog     CatalogPort
	documents   DocumentPort
	audit       AuditPort
	approvals   ApprovalPort
	idempotency IdempotencyPort
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, sheets *SheetGenerator, catalog CatalogPort, documents DocumentPort, audit AuditPort, approvals ApprovalPort, idem IdempotencyPort) *Service {
	return &Service{
		repo:        repo,
		sheets:      sheets,
		catalog:     catalog,
		documents:   documents,
		audit:       audit,
		approvals:   approvals,
		idempotency: idem,
		now:         time.Now,
	}
}

// GenerateSheet previews count lines for a warehouse without persisting anything.
func (s *Service) GenerateSheet(ctx context.Context, warehouseID int64, filter SheetFilter) ([]SheetLine, error) {
	return s.sheets.Generate(ctx, warehouseID, filter)
}

// Create opens an empty inventory shell in DRAFT.
func (s *Service) Create(ctx context.Context, input CreateInput) (Inventory, error) {
	if err := input.Validate(); err != nil {
		return Inventory{}, err
	}
	exists, err := s.catalog.WarehouseExists(ctx, input.WarehouseID)
	if err != nil {
		return Inventory{}, fmt.Errorf("recon: check warehouse: %w", err)
	}
	if !exists {
		return Inventory{}, ErrWarehouseNotFound
	}
	return s.create(ctx, input, nil)
}

// CreateFromBalances opens an inventory in DRAFT seeded with count lines
// priced from the warehouse's current balances, in one unit.
func (s *Service) CreateFromBalances(ctx context.Context, input CreateInput, filter SheetFilter) (Inventory, error) {
	if err := input.Validate(); err != nil {
		return Inventory{}, err
	}
	lines, err := s.sheets.Generate(ctx, input.WarehouseID, filter)
	if err != nil {
		return Inventory{}, err
	}
	return s.create(ctx, input, lines)
}

func (s *Service) create(ctx context.Context, input CreateInput, lines []SheetLine) (Inventory, error) {
	date := input.Date
	if date.IsZero() {
		date = s.now().UTC()
	}
	number, err := s.repo.NextNumber(ctx, date)
	if err != nil {
		return Inventory{}, fmt.Errorf("recon: next number: %w", err)
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv := Inventory{
			Number:              number,
			WarehouseID:         input.WarehouseID,
			Date:                date,
			Status:              StatusDraft,
			ResponsiblePersonID: input.ResponsiblePersonID,
			Notes:               input.Notes,
			CreatedBy:           input.ActorID,
		}
		insertedID, err := tx.InsertInventory(ctx, inv)
		if err != nil {
			return fmt.Errorf("recon: insert inventory: %w", err)
		}
		id = insertedID
		if len(lines) == 0 {
			return nil
		}
		items := make([]Item, 0, len(lines))
		for _, line := range lines {
			items = append(items, Item{
				InventoryID: id,
				ProductID:   line.ProductID,
				ExpectedQty: line.ExpectedQty,
				Price:       line.Price,
			})
		}
		if err := tx.InsertItems(ctx, id, items); err != nil {
			return fmt.Errorf("recon: insert items: %w", err)
		}
		return nil
	})
	if err != nil {
		return Inventory{}, err
	}
	s.recordAudit(ctx, input.ActorID, "recon:create", id, map[string]any{
		"warehouse_id": input.WarehouseID,
		"lines":        len(lines),
	})
	return s.Get(ctx, id)
}

// Get returns the inventory with its count lines.
func (s *Service) Get(ctx context.Context, id int64) (Inventory, error) {
	inv, err := s.repo.GetInventory(ctx, id)
	if err != nil {
		return Inventory{}, err
	}
	items, err := s.repo.GetInventoryItems(ctx, id)
	if err != nil {
		return Inventory{}, err
	}
	inv.Items = items
	return inv, nil
}

// List returns inventories matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Inventory, int, error) {
	return s.repo.ListInventories(ctx, filter)
}

// StartCounting moves DRAFT to IN_PROGRESS.
func (s *Service) StartCounting(ctx context.Context, id, actorID int64) (Inventory, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInventoryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !inv.Status.CanStart() {
			return fmt.Errorf("%w: %s", ErrInvalidState, inv.Status)
		}
		return tx.UpdateStatusIf(ctx, id, StatusDraft, StatusInProgress, nil)
	})
	if err != nil {
		return Inventory{}, err
	}
	s.recordAudit(ctx, actorID, "recon:start", id, nil)
	return s.Get(ctx, id)
}

// CompleteCounting moves IN_PROGRESS to COMPLETED. Uncounted lines are left
// as they are; they carry no variance data and never count as zero.
func (s *Service) CompleteCounting(ctx context.Context, id, actorID int64) (Inventory, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInventoryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !inv.Status.CanComplete() {
			return fmt.Errorf("%w: %s", ErrInvalidState, inv.Status)
		}
		return tx.UpdateStatusIf(ctx, id, StatusInProgress, StatusCompleted, nil)
	})
	if err != nil {
		return Inventory{}, err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "recon", RefID: id, ActorID: actorID, Action: shared.ApprovalComplete})
	}
	s.recordAudit(ctx, actorID, "recon:complete", id, nil)
	return s.Get(ctx, id)
}

// Approve moves COMPLETED to APPROVED and stamps the approver. APPROVED is
// terminal: no field of the inventory or its items may change afterwards.
func (s *Service) Approve(ctx context.Context, id, actorID int64) (Inventory, error) {
	if actorID == 0 {
		return Inventory{}, errors.New("recon: actor required")
	}
	approvedAt := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInventoryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !inv.Status.CanApprove() {
			return fmt.Errorf("%w: %s", ErrInvalidState, inv.Status)
		}
		return tx.UpdateStatusIf(ctx, id, StatusCompleted, StatusApproved, map[string]any{
			"approved_by": actorID,
			"approved_at": approvedAt,
		})
	})
	if err != nil {
		return Inventory{}, err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "recon", RefID: id, ActorID: actorID, Action: shared.ApprovalApprove})
	}
	s.recordAudit(ctx, actorID, "recon:approve", id, nil)
	return s.Get(ctx, id)
}

// Delete removes a DRAFT inventory and its lines. Anything past DRAFT has
// either an active count or committed adjustments behind it and stays.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInventoryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !inv.Status.CanDelete() {
			return fmt.Errorf("%w: %s", ErrInvalidState, inv.Status)
		}
		return tx.DeleteInventory(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "recon:delete", id, nil)
	return nil
}

// SetActual records one counted quantity. Writes are last-writer-wins per
// line unless the caller supplies an expected version.
func (s *Service) SetActual(ctx context.Context, itemID int64, input SetActualInput) (Item, error) {
	return s.setActual(ctx, itemID, input, 0)
}

func (s *Service) setActual(ctx context.Context, itemID int64, input SetActualInput, parentID int64) (Item, error) {
	if itemID == 0 {
		return Item{}, ErrItemNotFound
	}
	if input.ActualQty < 0 {
		return Item{}, ErrNegativeQuantity
	}
	if input.ActorID == 0 {
		return Item{}, errors.New("recon: actor required")
	}
	var updated Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		if parentID != 0 && item.InventoryID != parentID {
			return ErrItemNotFound
		}
		inv, err := tx.GetInventoryForUpdate(ctx, item.InventoryID)
		if err != nil {
			return err
		}
		if !inv.Status.CanEdit() {
			return fmt.Errorf("%w: %s", ErrInvalidState, inv.Status)
		}
		if input.ExpectedVersion != nil && *input.ExpectedVersion != item.Version {
			return ErrVersionConflict
		}
		updated, err = tx.UpdateItemCount(ctx, itemID, ItemCountUpdate{
			ActualQty: input.ActualQty,
			Notes:     input.Notes,
			CountedBy: input.ActorID,
			CountedAt: s.now().UTC(),
		})
		return err
	})
	if err != nil {
		return Item{}, err
	}
	return updated, nil
}

// BulkSetActual applies many count-line updates for one inventory. Every
// line is validated before any write; persistence outcomes are then
// reported per line so callers can resolve the remainder of a batch.
func (s *Service) BulkSetActual(ctx context.Context, inventoryID int64, lines []BulkLine, actorID int64) ([]BulkLineResult, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	if actorID == 0 {
		return nil, errors.New("recon: actor required")
	}
	for i, line := range lines {
		if line.ItemID == 0 {
			return nil, fmt.Errorf("recon: line %d: item id required", i+1)
		}
		if line.ActualQty < 0 {
			return nil, fmt.Errorf("recon: line %d: %w", i+1, ErrNegativeQuantity)
		}
	}
	inv, err := s.repo.GetInventory(ctx, inventoryID)
	if err != nil {
		return nil, err
	}
	if !inv.Status.CanEdit() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, inv.Status)
	}

	results := make([]BulkLineResult, 0, len(lines))
	for _, line := range lines {
		item, err := s.setActual(ctx, line.ItemID, SetActualInput{
			ActualQty: line.ActualQty,
			Notes:     line.Notes,
			ActorID:   actorID,
		}, inventoryID)
		result := BulkLineResult{ItemID: line.ItemID, Err: err}
		if err == nil {
			result.Item = &item
		}
		results = append(results, result)
	}
	return results, nil
}

// Analyze computes the variance report for an inventory. It is a pure read
// over persisted state: two calls without intervening writes return
// identical reports.
func (s *Service) Analyze(ctx context.Context, inventoryID int64, thresholdPercent float64) (VarianceReport, error) {
	if thresholdPercent < 0 {
		return VarianceReport{}, ErrNegativeThreshold
	}
	if _, err := s.repo.GetInventory(ctx, inventoryID); err != nil {
		return VarianceReport{}, err
	}
	items, err := s.repo.GetInventoryItems(ctx, inventoryID)
	if err != nil {
		return VarianceReport{}, err
	}
	return ComputeReport(inventoryID, items, thresholdPercent), nil
}

// CreateAdjustments converts the completed count's variances into at most
// one receipt and one writeoff document. Repeating the call returns the
// previously created documents instead of booking duplicates. Document
// creations are independent remote calls: when one kind succeeds and the
// other fails, the result lists both and ErrPartialAdjustment is returned
// alongside it.
func (s *Service) CreateAdjustments(ctx context.Context, inventoryID, actorID int64) (AdjustmentResult, error) {
	if actorID == 0 {
		return AdjustmentResult{}, errors.New("recon: actor required")
	}
	inv, err := s.repo.GetInventory(ctx, inventoryID)
	if err != nil {
		return AdjustmentResult{}, err
	}
	if len(inv.AdjustmentDocumentIDs) > 0 {
		return AdjustmentResult{DocumentIDs: inv.AdjustmentDocumentIDs, Created: []AdjustmentDocument{}, AlreadyAdjusted: true}, nil
	}
	if inv.Status != StatusCompleted {
		return AdjustmentResult{}, fmt.Errorf("%w: %s", ErrInvalidState, inv.Status)
	}

	// Threshold zero: every non-zero variance is captured financially,
	// whatever reporting threshold the UI uses.
	report, err := s.Analyze(ctx, inventoryID, 0)
	if err != nil {
		return AdjustmentResult{}, err
	}
	var surplus, shortage []DocumentLine
	for _, line := range report.Items {
		switch line.Kind {
		case VarianceSurplus:
			surplus = append(surplus, DocumentLine{ProductID: line.ProductID, Qty: line.QtyVariance, Price: line.Price})
		case VarianceShortage:
			shortage = append(shortage, DocumentLine{ProductID: line.ProductID, Qty: -line.QtyVariance, Price: line.Price})
		}
	}
	if len(surplus) == 0 && len(shortage) == 0 {
		return AdjustmentResult{Created: []AdjustmentDocument{}, Reason: ReasonNoVariance}, nil
	}

	key := fmt.Sprintf("recon:adjust:%d", inventoryID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "recon"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return AdjustmentResult{}, ErrAdjustmentInFlight
			}
			return AdjustmentResult{}, err
		}
		insertedKey = true
	}

	result := AdjustmentResult{Created: []AdjustmentDocument{}}
	refID := strconv.FormatInt(inv.ID, 10)
	if len(surplus) > 0 {
		doc, err := s.documents.CreateDocument(ctx, DocumentInput{
			Type:        DocumentReceipt,
			WarehouseID: inv.WarehouseID,
			Note:        fmt.Sprintf("Inventory %s surplus", inv.Number),
			ActorID:     actorID,
			RefModule:   "RECON",
			RefID:       refID,
			Lines:       surplus,
		})
		if err != nil {
			result.Failures = append(result.Failures, AdjustmentFailure{Kind: VarianceSurplus, Err: err})
		} else {
			result.Created = append(result.Created, doc)
			result.DocumentIDs = append(result.DocumentIDs, doc.ID)
		}
	}
	if len(shortage) > 0 {
		doc, err := s.documents.CreateDocument(ctx, DocumentInput{
			Type:        DocumentWriteoff,
			WarehouseID: inv.WarehouseID,
			Note:        fmt.Sprintf("Inventory %s shortage", inv.Number),
			ActorID:     actorID,
			RefModule:   "RECON",
			RefID:       refID,
			Lines:       shortage,
		})
		if err != nil {
			result.Failures = append(result.Failures, AdjustmentFailure{Kind: VarianceShortage, Err: err})
		} else {
			result.Created = append(result.Created, doc)
			result.DocumentIDs = append(result.DocumentIDs, doc.ID)
		}
	}

	if len(result.DocumentIDs) > 0 {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.SetAdjustmentDocuments(ctx, inv.ID, result.DocumentIDs)
		})
		if err != nil {
			// The documents exist; keep the idempotency key so a retry
			// cannot book them twice.
			return result, fmt.Errorf("recon: record adjustment link: %w", err)
		}
	}
	if len(result.Failures) > 0 {
		if len(result.DocumentIDs) == 0 {
			if insertedKey {
				_ = s.idempotency.Delete(ctx, key)
			}
			return result, fmt.Errorf("recon: create adjustments: %w", result.Failures[0].Err)
		}
		return result, ErrPartialAdjustment
	}
	s.recordAudit(ctx, actorID, "recon:adjust", inv.ID, map[string]any{
		"document_ids": result.DocumentIDs,
	})
	return result, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, inventoryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory",
		EntityID: strconv.FormatInt(inventoryID, 10),
		Meta:     meta,
	})
}
