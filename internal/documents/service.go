package documents

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mensa-erp/mensa-erp/internal/shared"
	"github.com/mensa-erp/mensa-erp/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Document, error)
	GetLines(ctx context.Context, documentID int64) ([]Line, error)
	List(ctx context.Context, filter ListFilter) ([]Document, int, error)
	NextNumber(ctx context.Context, docType Type, date time.Time) (string, error)
}

// StockPort posts the movements an approved document implies.
type StockPort interface {
	PostInbound(ctx context.Context, input stock.MovementInput) (stock.CardEntry, error)
	PostOutbound(ctx context.Context, input stock.MovementInput) (stock.CardEntry, error)
	PostTransfer(ctx context.Context, input stock.TransferInput) (stock.CardEntry, stock.CardEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records lifecycle decisions.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Service coordinates the document workflow.
type Service struct {
	repo      RepositoryPort
	stock     StockPort
	audit     AuditPort
	approvals ApprovalPort
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, stockSvc StockPort, audit AuditPort, approvals ApprovalPort) *Service {
	return &Service{repo: repo, stock: stockSvc, audit: audit, approvals: approvals, now: time.Now}
}

// Create opens a new document in DRAFT.
func (s *Service) Create(ctx context.Context, input CreateInput) (Document, error) {
	if err := input.Validate(); err != nil {
		return Document{}, err
	}
	number, err := s.repo.NextNumber(ctx, input.Type, s.now().UTC())
	if err != nil {
		return Document{}, fmt.Errorf("documents: next number: %w", err)
	}
	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc := Document{
			Number:         number,
			Type:           input.Type,
			WarehouseID:    input.WarehouseID,
			DstWarehouseID: input.DstWarehouseID,
			Status:         StatusDraft,
			Note:           input.Note,
			RefModule:      input.RefModule,
			RefID:          input.RefID,
			CreatedBy:      input.ActorID,
		}
		insertedID, err := tx.Insert(ctx, doc)
		if err != nil {
			return fmt.Errorf("documents: insert: %w", err)
		}
		id = insertedID
		lines := make([]Line, 0, len(input.Lines))
		for _, line := range input.Lines {
			lines = append(lines, Line{ProductID: line.ProductID, Qty: line.Qty, Price: line.Price})
		}
		return tx.InsertLines(ctx, id, lines)
	})
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, input.ActorID, "documents:create", id, map[string]any{"type": string(input.Type)})
	return s.Get(ctx, id)
}

// Get returns the document with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	lines, err := s.repo.GetLines(ctx, id)
	if err != nil {
		return Document{}, err
	}
	doc.Lines = lines
	return doc, nil
}

// List returns documents matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, int, error) {
	return s.repo.List(ctx, filter)
}

// Approve books the document's stock movements and locks it. Movements are
// posted before the status flips, each under its own idempotency key, so a
// failed approval can be retried without double-booking the lines that
// already went through.
func (s *Service) Approve(ctx context.Context, id, actorID int64) (Document, error) {
	if actorID == 0 {
		return Document{}, errors.New("documents: actor required")
	}
	doc, err := s.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if !doc.Status.CanApprove() {
		return Document{}, fmt.Errorf("%w: %s", ErrInvalidState, doc.Status)
	}
	if len(doc.Lines) == 0 {
		return Document{}, ErrNoLines
	}
	if err := s.postMovements(ctx, doc, actorID); err != nil {
		return Document{}, err
	}

	approvedAt := s.now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanApprove() {
			return fmt.Errorf("%w: %s", ErrInvalidState, current.Status)
		}
		return tx.UpdateStatusIf(ctx, id, StatusDraft, StatusApproved, &actorID, &approvedAt)
	})
	if err != nil {
		return Document{}, err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "documents", RefID: id, ActorID: actorID, Action: shared.ApprovalApprove})
	}
	s.recordAudit(ctx, actorID, "documents:approve", id, nil)
	return s.Get(ctx, id)
}

// Cancel discards a draft document.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (Document, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !doc.Status.CanCancel() {
			return fmt.Errorf("%w: %s", ErrInvalidState, doc.Status)
		}
		return tx.UpdateStatusIf(ctx, id, StatusDraft, StatusCancelled, nil, nil)
	})
	if err != nil {
		return Document{}, err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "documents", RefID: id, ActorID: actorID, Action: shared.ApprovalCancel})
	}
	s.recordAudit(ctx, actorID, "documents:cancel", id, nil)
	return s.Get(ctx, id)
}

// Post creates a document and approves it in one call. Used by callers that
// generate system documents, like inventory adjustments.
func (s *Service) Post(ctx context.Context, input CreateInput) (Document, error) {
	doc, err := s.Create(ctx, input)
	if err != nil {
		return Document{}, err
	}
	return s.Approve(ctx, doc.ID, input.ActorID)
}

func (s *Service) postMovements(ctx context.Context, doc Document, actorID int64) error {
	refID := strconv.FormatInt(doc.ID, 10)
	for _, line := range doc.Lines {
		code := fmt.Sprintf("%s-P%d", doc.Number, line.ProductID)
		var err error
		switch doc.Type {
		case TypeReceipt:
			_, err = s.stock.PostInbound(ctx, stock.MovementInput{
				Code:        code,
				WarehouseID: doc.WarehouseID,
				ProductID:   line.ProductID,
				Qty:         line.Qty,
				UnitCost:    line.Price,
				Note:        doc.Note,
				ActorID:     actorID,
				RefModule:   "DOCUMENTS",
				RefID:       refID,
			})
		case TypeWriteoff:
			_, err = s.stock.PostOutbound(ctx, stock.MovementInput{
				Code:        code,
				WarehouseID: doc.WarehouseID,
				ProductID:   line.ProductID,
				Qty:         line.Qty,
				Note:        doc.Note,
				ActorID:     actorID,
				RefModule:   "DOCUMENTS",
				RefID:       refID,
			})
		case TypeTransfer:
			_, _, err = s.stock.PostTransfer(ctx, stock.TransferInput{
				Code:         code,
				ProductID:    line.ProductID,
				Qty:          line.Qty,
				SrcWarehouse: doc.WarehouseID,
				DstWarehouse: *doc.DstWarehouseID,
				UnitCost:     line.Price,
				Note:         doc.Note,
				ActorID:      actorID,
				RefModule:    "DOCUMENTS",
				RefID:        refID,
			})
		}
		// A duplicate key means the line was booked by an earlier attempt.
		if err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			return fmt.Errorf("documents: post movement %s: %w", code, err)
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, documentID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "document",
		EntityID: strconv.FormatInt(documentID, 10),
		Meta:     meta,
	})
}
