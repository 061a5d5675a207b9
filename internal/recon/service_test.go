package recon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mensa-erp/mensa-erp/internal/shared"
)

type memRepo struct {
	mu          sync.Mutex
	invSeq      int64
	itemSeq     int64
	numSeq      int64
	inventories map[int64]*Inventory
	items       map[int64]*Item
}

func newMemRepo() *memRepo {
	return &memRepo{
		inventories: make(map[int64]*Inventory),
		items:       make(map[int64]*Item),
	}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memTx{repo: r})
}

func (r *memRepo) GetInventory(_ context.Context, id int64) (Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getInventory(id)
}

func (r *memRepo) getInventory(id int64) (Inventory, error) {
	inv, ok := r.inventories[id]
	if !ok {
		return Inventory{}, ErrNotFound
	}
	out := *inv
	out.AdjustmentDocumentIDs = append([]int64(nil), inv.AdjustmentDocumentIDs...)
	out.Items = nil
	return out, nil
}

func (r *memRepo) GetInventoryItems(_ context.Context, inventoryID int64) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]Item, 0)
	for _, item := range r.items {
		if item.InventoryID == inventoryID {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (r *memRepo) ListInventories(_ context.Context, filter ListFilter) ([]Inventory, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]Inventory, 0)
	for _, inv := range r.inventories {
		if filter.WarehouseID != nil && inv.WarehouseID != *filter.WarehouseID {
			continue
		}
		if filter.Status != nil && inv.Status != *filter.Status {
			continue
		}
		list = append(list, *inv)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return list, len(list), nil
}

func (r *memRepo) NextNumber(_ context.Context, date time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numSeq++
	return fmt.Sprintf("INV-%d-%06d", date.Year(), r.numSeq), nil
}

type memTx struct {
	repo *memRepo
}

func (t *memTx) GetInventoryForUpdate(_ context.Context, id int64) (Inventory, error) {
	return t.repo.getInventory(id)
}

func (t *memTx) GetItemForUpdate(_ context.Context, itemID int64) (Item, error) {
	item, ok := t.repo.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return *item, nil
}

func (t *memTx) InsertInventory(_ context.Context, inv Inventory) (int64, error) {
	t.repo.invSeq++
	inv.ID = t.repo.invSeq
	inv.AdjustmentDocumentIDs = []int64{}
	t.repo.inventories[inv.ID] = &inv
	return inv.ID, nil
}

func (t *memTx) InsertItems(_ context.Context, inventoryID int64, items []Item) error {
	for _, item := range items {
		t.repo.itemSeq++
		item.ID = t.repo.itemSeq
		item.InventoryID = inventoryID
		item.Version = 1
		stored := item
		t.repo.items[item.ID] = &stored
	}
	return nil
}

func (t *memTx) UpdateStatusIf(_ context.Context, id int64, from, to Status, updates map[string]any) error {
	inv, ok := t.repo.inventories[id]
	if !ok || inv.Status != from {
		return ErrInvalidState
	}
	inv.Status = to
	if v, ok := updates["approved_by"]; ok {
		actor := v.(int64)
		inv.ApprovedBy = &actor
	}
	if v, ok := updates["approved_at"]; ok {
		at := v.(time.Time)
		inv.ApprovedAt = &at
	}
	return nil
}

func (t *memTx) UpdateItemCount(_ context.Context, itemID int64, update ItemCountUpdate) (Item, error) {
	item, ok := t.repo.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	qty := update.ActualQty
	at := update.CountedAt
	by := update.CountedBy
	item.ActualQty = &qty
	item.Notes = update.Notes
	item.CountedBy = &by
	item.CountedAt = &at
	item.Version++
	return *item, nil
}

func (t *memTx) SetAdjustmentDocuments(_ context.Context, inventoryID int64, documentIDs []int64) error {
	inv, ok := t.repo.inventories[inventoryID]
	if !ok {
		return ErrNotFound
	}
	inv.AdjustmentDocumentIDs = append([]int64(nil), documentIDs...)
	return nil
}

func (t *memTx) DeleteInventory(_ context.Context, id int64) error {
	if _, ok := t.repo.inventories[id]; !ok {
		return ErrNotFound
	}
	delete(t.repo.inventories, id)
	for itemID, item := range t.repo.items {
		if item.InventoryID == id {
			delete(t.repo.items, itemID)
		}
	}
	return nil
}

type docStub struct {
	nextID  int64
	failOn  map[DocumentType]error
	created []DocumentInput
}

func (d *docStub) CreateDocument(_ context.Context, input DocumentInput) (AdjustmentDocument, error) {
	if err := d.failOn[input.Type]; err != nil {
		return AdjustmentDocument{}, err
	}
	d.nextID++
	d.created = append(d.created, input)
	return AdjustmentDocument{ID: d.nextID, Number: fmt.Sprintf("DOC-%06d", d.nextID), Type: input.Type}, nil
}

type idemStub struct {
	keys map[string]bool
}

func (s *idemStub) CheckAndInsert(_ context.Context, key, _ string) error {
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *idemStub) Delete(_ context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

func serviceFixture() (*Service, *memRepo, *docStub, *idemStub) {
	repo := newMemRepo()
	balances := &stubBalances{balances: map[int64][]StockBalance{
		1: {
			{ProductID: 10, Qty: 5, AvgCost: decimal.RequireFromString("2.00")},
			{ProductID: 20, Qty: 8, AvgCost: decimal.RequireFromString("10.00")},
		},
	}}
	catalog := &stubCatalog{warehouses: map[int64]bool{1: true}}
	docs := &docStub{failOn: map[DocumentType]error{}}
	idem := &idemStub{keys: map[string]bool{}}
	svc := NewService(repo, NewSheetGenerator(balances, catalog), catalog, docs, nil, nil, idem)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc, repo, docs, idem
}

func mustCreate(t *testing.T, svc *Service) Inventory {
	t.Helper()
	inv, err := svc.CreateFromBalances(context.Background(), CreateInput{WarehouseID: 1, ActorID: 7}, SheetFilter{})
	require.NoError(t, err)
	return inv
}

func TestCreateFromBalancesSeedsLines(t *testing.T) {
	svc, _, _, _ := serviceFixture()

	inv := mustCreate(t, svc)

	require.Equal(t, StatusDraft, inv.Status)
	require.Equal(t, "INV-2025-000001", inv.Number)
	require.Len(t, inv.Items, 2)
	require.Equal(t, int64(10), inv.Items[0].ProductID)
	require.InDelta(t, 5, inv.Items[0].ExpectedQty, 1e-9)
	require.False(t, inv.Items[0].Counted())
	require.Equal(t, int64(1), inv.Items[0].Version)
}

func TestCreateUnknownWarehouse(t *testing.T) {
	svc, _, _, _ := serviceFixture()

	_, err := svc.Create(context.Background(), CreateInput{WarehouseID: 99, ActorID: 7})
	require.ErrorIs(t, err, ErrWarehouseNotFound)
}

func TestLifecycleHappyPath(t *testing.T) {
	svc, _, _, _ := serviceFixture()
	ctx := context.Background()
	inv := mustCreate(t, svc)

	inv, err := svc.StartCounting(ctx, inv.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, inv.Status)

	for _, item := range inv.Items {
		_, err := svc.SetActual(ctx, item.ID, SetActualInput{ActualQty: item.ExpectedQty, ActorID: 7})
		require.NoError(t, err)
	}

	inv, err = svc.CompleteCounting(ctx, inv.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, inv.Status)

	inv, err = svc.Approve(ctx, inv.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, inv.Status)
	require.NotNil(t, inv.ApprovedBy)
	require.Equal(t, int64(9), *inv.ApprovedBy)
	require.NotNil(t, inv.ApprovedAt)
}

func TestTransitionsRejectWrongState(t *testing.T) {
	svc, _, _, _ := serviceFixture()
	ctx := context.Background()
	inv := mustCreate(t, svc)

	_, err := svc.CompleteCounting(ctx, inv.ID, 7)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = svc.Approve(ctx, inv.ID, 7)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.StartCounting(ctx, inv.ID, 7)
	require.NoError(t, err)
	_, err = svc.StartCounting(ctx, inv.ID, 7)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSetActualRecordsCounter(t *testing.T) {
	svc, _, _, _ := serviceFixture()
	ctx := context.Background()
	inv := mustCreate(t, svc)
	itemID := inv.Items[0].ID

	item, err := svc.SetActual(ctx, itemID, SetActualInput{ActualQty: 4.5, ActorID: 7})
	require.NoError(t, err)
	require.NotNil(t, item.ActualQty)
	require.InDelta(t, 4.5, *item.ActualQty, 1e-9)
	require.NotNil(t, item.CountedBy)
	require.Equal(t, int64(7), *item.CountedBy)
	require.Equal(t, int64(2), item.Version)

	// Last writer wins without an expected version.
	item, err = svc.SetActual(ctx, itemID, SetActualInput{ActualQty: 6, ActorID: 8})
	require.NoError(t, err)
	require.InDelta(t, 6, *item.ActualQty, 1e-9)
	require.Equal(t, int64(8), *item.CountedBy)
}

func TestSetActualRejectsNegative(t *testing.T) {
	svc, _, _, _ := serviceFixture()
	inv := mustCreate(t, svc)

	_, err := svc.SetActual(context.Background(), inv.Items[0].ID, SetActualInput{ActualQty: -1, ActorID: 7})
	require.ErrorIs(t, err, ErrNegativeQuantity)
}

func TestSetActualVersionConflict(t *testing.T) {
	svc, _, _, _ := serviceFixture()
	ctx := context.Background()
	inv := mustCreate(t, svc)
	itemID := inv.Items[0].ID

	stale := int64(1)
	item, err := svc.SetActual(ctx, itemID, SetActualInput{ActualQty: 3, ActorID: 7, ExpectedVersion: &stale})
	require.NoError(t, err)
	require.Equal(t, int64(2), item.Version)

	_, err = svc.SetActual(ctx, itemID, SetActualInput{ActualQty: 4, ActorID: 8, ExpectedVersion: &stale})
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestSetActualRejectedAfterComplete(t *testing.T) {
	svc, _, _, _ := serviceFixture()
	ctx := context.Background()
	inv := mustCreate(t, svc)
	itemID := inv.Items[0].ID

	_, err := svc.StartCounting(ctx, inv.ID, 7)
	require.NoError(t, err)
	_, err = svc.SetActual(ctx, itemID, SetActualInput{ActualQty: 5, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.CompleteCounting(ctx, inv.ID, 7)
	require.NoError(t, err)

	_, err = svc.SetActual(ctx, itemID, SetActualInput{ActualQty: 9, ActorID: 7})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestBulkSetActualPartialOutcomes(t *testing.T) {
	svc, _, _, _ := serviceFixture()
	ctx := context.Background()
	inv := mustCreate(t, svc)
	other := mustCreate(t, svc)

	lines := []BulkLine{
		{ItemID: inv.Items[0].ID, ActualQty: 4},
		{ItemID: other.Items[0].ID, ActualQty: 2}, // belongs to another inventory
		{ItemID: 9999, ActualQty: 1},
	}
	results, err := svc.BulkSetActual(ctx, inv.ID, lines, 7)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Item)
	require.ErrorIs(t, results[1].Err, ErrItemNotFound)
	require.ErrorIs(t, results[2].Err, ErrItemNotFound)

	// The foreign line was not touched.
	got, err := svc.Get(ctx, other.ID)
	require.NoError(t, err)
	require.False(t, got.Items[0].Counted())
}

func TestBulkSetActualValidatesUpfront(t *testing.T) {
	svc, _, _, _ := serviceFixture()
	ctx := context.Background()
	inv := mustCreate(t, svc)

	_, err := svc.BulkSetActual(ctx, inv.ID, nil, 7)
	require.ErrorIs(t, err, ErrNoLines)

	lines := []BulkLine{
		{ItemID: inv.Items[0].ID, ActualQty: 4},
		{ItemID: inv.Items[1].ID, ActualQty: -2},
	}
	_, err = svc.BulkSetActual(ctx, inv.ID, lines, 7)
	require.ErrorIs(t, err, ErrNegativeQuantity)

	// Nothing was written: validation failed before any persistence.
	got, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.False(t, got.Items[0].Counted())
}

func TestDeleteOnlyDraft(t *testing.T) {
	svc, _, _, _ := serviceFixture()
	ctx := context.Background()

	inv := mustCreate(t, svc)
	_, err := svc.StartCounting(ctx, inv.ID, 7)
	require.NoError(t, err)
	require.ErrorIs(t, svc.Delete(ctx, inv.ID, 7), ErrInvalidState)

	draft := mustCreate(t, svc)
	require.NoError(t, svc.Delete(ctx, draft.ID, 7))
	_, err = svc.Get(ctx, draft.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAnalyzeValidation(t *testing.T) {
	svc, _, _, _ := serviceFixture()
	ctx := context.Background()
	inv := mustCreate(t, svc)

	_, err := svc.Analyze(ctx, inv.ID, -1)
	require.ErrorIs(t, err, ErrNegativeThreshold)
	_, err = svc.Analyze(ctx, 9999, 0)
	require.ErrorIs(t, err, ErrNotFound)

	report, err := svc.Analyze(ctx, inv.ID, 0)
	require.NoError(t, err)
	require.Equal(t, 0, report.TotalItems) // nothing counted yet
}

func completedInventory(t *testing.T, svc *Service, counts map[int64]float64) Inventory {
	t.Helper()
	ctx := context.Background()
	inv := mustCreate(t, svc)
	_, err := svc.StartCounting(ctx, inv.ID, 7)
	require.NoError(t, err)
	for _, item := range inv.Items {
		qty, ok := counts[item.ProductID]
		if !ok {
			qty = item.ExpectedQty
		}
		_, err := svc.SetActual(ctx, item.ID, SetActualInput{ActualQty: qty, ActorID: 7})
		require.NoError(t, err)
	}
	inv, err = svc.CompleteCounting(ctx, inv.ID, 7)
	require.NoError(t, err)
	return inv
}

func TestCreateAdjustmentsBooksBothKinds(t *testing.T) {
	svc, _, docs, _ := serviceFixture()
	ctx := context.Background()
	// Product 10: expected 5, counted 7 (surplus). Product 20: expected 8, counted 6 (shortage).
	inv := completedInventory(t, svc, map[int64]float64{10: 7, 20: 6})

	result, err := svc.CreateAdjustments(ctx, inv.ID, 9)
	require.NoError(t, err)
	require.Len(t, result.Created, 2)
	require.Len(t, result.DocumentIDs, 2)
	require.Empty(t, result.Failures)
	require.False(t, result.AlreadyAdjusted)

	require.Len(t, docs.created, 2)
	receipt, writeoff := docs.created[0], docs.created[1]
	require.Equal(t, DocumentReceipt, receipt.Type)
	require.Len(t, receipt.Lines, 1)
	require.Equal(t, int64(10), receipt.Lines[0].ProductID)
	require.InDelta(t, 2, receipt.Lines[0].Qty, 1e-9)
	require.Equal(t, DocumentWriteoff, writeoff.Type)
	require.Len(t, writeoff.Lines, 1)
	require.Equal(t, int64(20), writeoff.Lines[0].ProductID)
	require.InDelta(t, 2, writeoff.Lines[0].Qty, 1e-9)

	got, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, result.DocumentIDs, got.AdjustmentDocumentIDs)
}

func TestCreateAdjustmentsIdempotent(t *testing.T) {
	svc, _, docs, _ := serviceFixture()
	ctx := context.Background()
	inv := completedInventory(t, svc, map[int64]float64{10: 7})

	first, err := svc.CreateAdjustments(ctx, inv.ID, 9)
	require.NoError(t, err)
	require.Len(t, first.DocumentIDs, 1)

	second, err := svc.CreateAdjustments(ctx, inv.ID, 9)
	require.NoError(t, err)
	require.True(t, second.AlreadyAdjusted)
	require.Equal(t, first.DocumentIDs, second.DocumentIDs)
	require.Len(t, docs.created, 1)
}

func TestCreateAdjustmentsNoVariance(t *testing.T) {
	svc, _, docs, _ := serviceFixture()
	inv := completedInventory(t, svc, nil)

	result, err := svc.CreateAdjustments(context.Background(), inv.ID, 9)
	require.NoError(t, err)
	require.Equal(t, ReasonNoVariance, result.Reason)
	require.Empty(t, result.DocumentIDs)
	require.Empty(t, docs.created)
}

func TestCreateAdjustmentsRequiresCompleted(t *testing.T) {
	svc, _, _, _ := serviceFixture()
	inv := mustCreate(t, svc)

	_, err := svc.CreateAdjustments(context.Background(), inv.ID, 9)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateAdjustmentsInFlight(t *testing.T) {
	svc, _, _, idem := serviceFixture()
	inv := completedInventory(t, svc, map[int64]float64{10: 7})
	idem.keys[fmt.Sprintf("recon:adjust:%d", inv.ID)] = true

	_, err := svc.CreateAdjustments(context.Background(), inv.ID, 9)
	require.ErrorIs(t, err, ErrAdjustmentInFlight)
}

func TestCreateAdjustmentsPartialFailure(t *testing.T) {
	svc, _, docs, _ := serviceFixture()
	ctx := context.Background()
	docs.failOn[DocumentWriteoff] = errors.New("documents unavailable")
	inv := completedInventory(t, svc, map[int64]float64{10: 7, 20: 6})

	result, err := svc.CreateAdjustments(ctx, inv.ID, 9)
	require.ErrorIs(t, err, ErrPartialAdjustment)
	require.Len(t, result.Created, 1)
	require.Equal(t, DocumentReceipt, result.Created[0].Type)
	require.Len(t, result.Failures, 1)
	require.Equal(t, VarianceShortage, result.Failures[0].Kind)

	// The created receipt is linked, so a retry cannot book it twice.
	got, err := svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, result.DocumentIDs, got.AdjustmentDocumentIDs)
	second, err := svc.CreateAdjustments(ctx, inv.ID, 9)
	require.NoError(t, err)
	require.True(t, second.AlreadyAdjusted)
}

func TestCreateAdjustmentsFullFailureAllowsRetry(t *testing.T) {
	svc, _, docs, idem := serviceFixture()
	ctx := context.Background()
	docs.failOn[DocumentReceipt] = errors.New("documents unavailable")
	inv := completedInventory(t, svc, map[int64]float64{10: 7})

	_, err := svc.CreateAdjustments(ctx, inv.ID, 9)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPartialAdjustment)
	require.Empty(t, idem.keys)

	delete(docs.failOn, DocumentReceipt)
	result, err := svc.CreateAdjustments(ctx, inv.ID, 9)
	require.NoError(t, err)
	require.Len(t, result.DocumentIDs, 1)
}
