package stock

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	balances map[string]Balance
	cards    []CardEntry
	nextID   int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[string]Balance)}
}

func key(warehouseID, productID int64) string {
	return fmt.Sprintf("%d:%d", warehouseID, productID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetStockCard(_ context.Context, _ CardFilter) ([]CardEntry, error) {
	result := make([]CardEntry, len(r.cards))
	copy(result, r.cards)
	return result, nil
}

func (r *memoryRepo) ListBalances(_ context.Context, warehouseID int64) ([]Balance, error) {
	var balances []Balance
	for _, bal := range r.balances {
		if bal.WarehouseID == warehouseID {
			balances = append(balances, bal)
		}
	}
	return balances, nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, _ Movement) (int64, error) {
	tx.repo.nextID++
	return tx.repo.nextID, nil
}

func (tx *memoryTx) InsertMovementLines(_ context.Context, _ int64, _ []MovementLine) error {
	return nil
}

func (tx *memoryTx) GetBalanceForUpdate(_ context.Context, warehouseID, productID int64) (Balance, error) {
	if bal, ok := tx.repo.balances[key(warehouseID, productID)]; ok {
		return bal, nil
	}
	return Balance{WarehouseID: warehouseID, ProductID: productID}, ErrBalanceNotFound
}

func (tx *memoryTx) UpsertBalance(_ context.Context, balance Balance) error {
	tx.repo.balances[key(balance.WarehouseID, balance.ProductID)] = balance
	return nil
}

func (tx *memoryTx) InsertCardEntry(_ context.Context, card CardEntry, _, _, _ int64) error {
	tx.repo.cards = append(tx.repo.cards, card)
	return nil
}

func cost(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAverageMovingCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	entry, err := svc.PostInbound(ctx, MovementInput{WarehouseID: 1, ProductID: 1, Qty: 10, UnitCost: cost("100.00"), Note: "GRN#1"})
	require.NoError(t, err)
	require.InDelta(t, 10.0, entry.BalanceQty, 0.0001)
	require.True(t, entry.BalanceCost.Equal(cost("100")), entry.BalanceCost.String())

	entry, err = svc.PostInbound(ctx, MovementInput{WarehouseID: 1, ProductID: 1, Qty: 5, UnitCost: cost("120.00"), Note: "GRN#2"})
	require.NoError(t, err)
	require.InDelta(t, 15.0, entry.BalanceQty, 0.0001)
	require.True(t, entry.BalanceCost.Equal(cost("106.6667")), entry.BalanceCost.String())

	entry, err = svc.PostOutbound(ctx, MovementInput{WarehouseID: 1, ProductID: 1, Qty: 8, Note: "Issue"})
	require.NoError(t, err)
	require.InDelta(t, 7.0, entry.BalanceQty, 0.0001)
	// Outbound is valued at the running average.
	require.True(t, entry.UnitCost.Equal(cost("106.6667")), entry.UnitCost.String())
	require.True(t, entry.BalanceCost.Equal(cost("106.6667")), entry.BalanceCost.String())
}

func TestTransfer(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.PostInbound(ctx, MovementInput{WarehouseID: 1, ProductID: 1, Qty: 20, UnitCost: cost("50.00"), Note: "GRN"})
	require.NoError(t, err)

	out, in, err := svc.PostTransfer(ctx, TransferInput{SrcWarehouse: 1, DstWarehouse: 2, ProductID: 1, Qty: 5, UnitCost: cost("50.00"), Note: "Move"})
	require.NoError(t, err)
	require.InDelta(t, 15, out.BalanceQty, 0.0001)
	require.InDelta(t, 5, in.BalanceQty, 0.0001)
	require.True(t, in.UnitCost.Equal(cost("50")), in.UnitCost.String())

	_, _, err = svc.PostTransfer(ctx, TransferInput{SrcWarehouse: 1, DstWarehouse: 2, ProductID: 1, Qty: 50, UnitCost: cost("50.00"), Note: "Too much"})
	require.Error(t, err)
}

func TestNegativeStockGuard(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, MovementInput{WarehouseID: 1, ProductID: 1, Qty: -1, Note: "negative"})
	require.ErrorIs(t, err, ErrNegativeStock)

	_, err = svc.PostOutbound(ctx, MovementInput{WarehouseID: 1, ProductID: 1, Qty: 1, Note: "issue"})
	require.ErrorIs(t, err, ErrNegativeStock)
}

func TestAllowNegativeStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{AllowNegativeStock: true})

	entry, err := svc.PostOutbound(context.Background(), MovementInput{WarehouseID: 1, ProductID: 1, Qty: 3, Note: "issue"})
	require.NoError(t, err)
	require.InDelta(t, -3, entry.BalanceQty, 0.0001)
}

func TestListBalancesSnapshot(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.PostInbound(ctx, MovementInput{WarehouseID: 1, ProductID: 1, Qty: 4, UnitCost: cost("2.00")})
	require.NoError(t, err)
	_, err = svc.PostInbound(ctx, MovementInput{WarehouseID: 1, ProductID: 2, Qty: 6, UnitCost: cost("3.00")})
	require.NoError(t, err)
	_, err = svc.PostInbound(ctx, MovementInput{WarehouseID: 2, ProductID: 1, Qty: 9, UnitCost: cost("2.00")})
	require.NoError(t, err)

	balances, err := svc.ListBalances(ctx, 1)
	require.NoError(t, err)
	require.Len(t, balances, 2)
}
