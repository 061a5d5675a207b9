package documents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mensa-erp/mensa-erp/internal/shared"
	"github.com/mensa-erp/mensa-erp/internal/stock"
)

type memRepo struct {
	docSeq  int64
	lineSeq int64
	numSeq  int64
	docs    map[int64]*Document
	lines   map[int64]*Line
}

func newMemRepo() *memRepo {
	return &memRepo{docs: make(map[int64]*Document), lines: make(map[int64]*Line)}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memTx{repo: r})
}

func (r *memRepo) Get(_ context.Context, id int64) (Document, error) {
	doc, ok := r.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	out := *doc
	out.Lines = nil
	return out, nil
}

func (r *memRepo) GetLines(_ context.Context, documentID int64) ([]Line, error) {
	lines := make([]Line, 0)
	for _, line := range r.lines {
		if line.DocumentID == documentID {
			lines = append(lines, *line)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (r *memRepo) List(_ context.Context, filter ListFilter) ([]Document, int, error) {
	list := make([]Document, 0)
	for _, doc := range r.docs {
		if filter.RefModule != "" && doc.RefModule != filter.RefModule {
			continue
		}
		if filter.RefID != "" && doc.RefID != filter.RefID {
			continue
		}
		list = append(list, *doc)
	}
	return list, len(list), nil
}

func (r *memRepo) NextNumber(_ context.Context, docType Type, date time.Time) (string, error) {
	r.numSeq++
	return fmt.Sprintf("%s-%d-%06d", docType, date.Year(), r.numSeq), nil
}

type memTx struct {
	repo *memRepo
}

func (t *memTx) GetForUpdate(ctx context.Context, id int64) (Document, error) {
	return t.repo.Get(ctx, id)
}

func (t *memTx) Insert(_ context.Context, doc Document) (int64, error) {
	t.repo.docSeq++
	doc.ID = t.repo.docSeq
	t.repo.docs[doc.ID] = &doc
	return doc.ID, nil
}

func (t *memTx) InsertLines(_ context.Context, documentID int64, lines []Line) error {
	for _, line := range lines {
		t.repo.lineSeq++
		line.ID = t.repo.lineSeq
		line.DocumentID = documentID
		stored := line
		t.repo.lines[line.ID] = &stored
	}
	return nil
}

func (t *memTx) UpdateStatusIf(_ context.Context, id int64, from, to Status, approvedBy *int64, approvedAt *time.Time) error {
	doc, ok := t.repo.docs[id]
	if !ok || doc.Status != from {
		return ErrInvalidState
	}
	doc.Status = to
	if approvedBy != nil {
		doc.ApprovedBy = approvedBy
	}
	if approvedAt != nil {
		doc.ApprovedAt = approvedAt
	}
	return nil
}

type stockStub struct {
	posted map[string]int
	failOn map[string]error
}

func newStockStub() *stockStub {
	return &stockStub{posted: map[string]int{}, failOn: map[string]error{}}
}

func (s *stockStub) post(code string) error {
	if err := s.failOn[code]; err != nil {
		return err
	}
	if s.posted[code] > 0 {
		return shared.ErrIdempotencyConflict
	}
	s.posted[code]++
	return nil
}

func (s *stockStub) PostInbound(_ context.Context, input stock.MovementInput) (stock.CardEntry, error) {
	return stock.CardEntry{Code: input.Code}, s.post(input.Code)
}

func (s *stockStub) PostOutbound(_ context.Context, input stock.MovementInput) (stock.CardEntry, error) {
	return stock.CardEntry{Code: input.Code}, s.post(input.Code)
}

func (s *stockStub) PostTransfer(_ context.Context, input stock.TransferInput) (stock.CardEntry, stock.CardEntry, error) {
	return stock.CardEntry{Code: input.Code}, stock.CardEntry{Code: input.Code}, s.post(input.Code)
}

func fixture() (*Service, *memRepo, *stockStub) {
	repo := newMemRepo()
	stocks := newStockStub()
	svc := NewService(repo, stocks, nil, nil)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc, repo, stocks
}

func receiptInput(lines ...LineInput) CreateInput {
	if len(lines) == 0 {
		lines = []LineInput{{ProductID: 1, Qty: 2, Price: decimal.RequireFromString("4.00")}}
	}
	return CreateInput{Type: TypeReceipt, WarehouseID: 1, ActorID: 7, Lines: lines}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := fixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Type: TypeReceipt, WarehouseID: 1, ActorID: 7})
	require.ErrorIs(t, err, ErrNoLines)

	_, err = svc.Create(ctx, receiptInput(LineInput{ProductID: 1, Qty: -1}))
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Create(ctx, CreateInput{Type: TypeTransfer, WarehouseID: 1, ActorID: 7,
		Lines: []LineInput{{ProductID: 1, Qty: 1}}})
	require.Error(t, err)

	dst := int64(1)
	_, err = svc.Create(ctx, CreateInput{Type: TypeTransfer, WarehouseID: 1, DstWarehouseID: &dst, ActorID: 7,
		Lines: []LineInput{{ProductID: 1, Qty: 1}}})
	require.Error(t, err)
}

func TestCreateDraft(t *testing.T) {
	svc, _, stocks := fixture()

	doc, err := svc.Create(context.Background(), receiptInput())
	require.NoError(t, err)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, "RECEIPT-2025-000001", doc.Number)
	require.Len(t, doc.Lines, 1)
	require.Empty(t, stocks.posted)
}

func TestApproveBooksMovements(t *testing.T) {
	svc, _, stocks := fixture()
	ctx := context.Background()
	doc, err := svc.Create(ctx, receiptInput(
		LineInput{ProductID: 1, Qty: 2, Price: decimal.RequireFromString("4.00")},
		LineInput{ProductID: 2, Qty: 5, Price: decimal.RequireFromString("1.50")},
	))
	require.NoError(t, err)

	doc, err = svc.Approve(ctx, doc.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, doc.Status)
	require.NotNil(t, doc.ApprovedBy)
	require.Equal(t, int64(9), *doc.ApprovedBy)
	require.NotNil(t, doc.ApprovedAt)
	require.Len(t, stocks.posted, 2)
	require.Equal(t, 1, stocks.posted[doc.Number+"-P1"])
	require.Equal(t, 1, stocks.posted[doc.Number+"-P2"])

	_, err = svc.Approve(ctx, doc.ID, 9)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestApproveRetryDoesNotDoubleBook(t *testing.T) {
	svc, _, stocks := fixture()
	ctx := context.Background()
	doc, err := svc.Create(ctx, receiptInput(
		LineInput{ProductID: 1, Qty: 2, Price: decimal.RequireFromString("4.00")},
		LineInput{ProductID: 2, Qty: 5, Price: decimal.RequireFromString("1.50")},
	))
	require.NoError(t, err)
	stocks.failOn[doc.Number+"-P2"] = errors.New("stock unavailable")

	_, err = svc.Approve(ctx, doc.ID, 9)
	require.Error(t, err)
	got, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)

	delete(stocks.failOn, doc.Number+"-P2")
	got, err = svc.Approve(ctx, doc.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
	require.Equal(t, 1, stocks.posted[doc.Number+"-P1"])
	require.Equal(t, 1, stocks.posted[doc.Number+"-P2"])
}

func TestCancelOnlyDraft(t *testing.T) {
	svc, _, _ := fixture()
	ctx := context.Background()

	doc, err := svc.Create(ctx, receiptInput())
	require.NoError(t, err)
	doc, err = svc.Cancel(ctx, doc.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, doc.Status)

	approved, err := svc.Post(ctx, receiptInput())
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, approved.ID, 7)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPostCreatesAndApproves(t *testing.T) {
	svc, _, stocks := fixture()

	doc, err := svc.Post(context.Background(), receiptInput())
	require.NoError(t, err)
	require.Equal(t, StatusApproved, doc.Status)
	require.Len(t, stocks.posted, 1)
}
