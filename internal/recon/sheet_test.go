package recon

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubBalances struct {
	balances map[int64][]StockBalance
}

func (s *stubBalances) ListBalances(_ context.Context, warehouseID int64) ([]StockBalance, error) {
	return s.balances[warehouseID], nil
}

type stubCatalog struct {
	warehouses map[int64]bool
	categories map[int64][]int64
}

func (s *stubCatalog) WarehouseExists(_ context.Context, warehouseID int64) (bool, error) {
	return s.warehouses[warehouseID], nil
}

func (s *stubCatalog) ProductIDsByCategories(_ context.Context, categoryIDs []int64) ([]int64, error) {
	var ids []int64
	for _, cat := range categoryIDs {
		ids = append(ids, s.categories[cat]...)
	}
	return ids, nil
}

func sheetFixture() *SheetGenerator {
	balances := &stubBalances{balances: map[int64][]StockBalance{
		1: {
			{ProductID: 30, Qty: 12, AvgCost: decimal.RequireFromString("4.50")},
			{ProductID: 10, Qty: 3, AvgCost: decimal.RequireFromString("2.00")},
			{ProductID: 20, Qty: 0, AvgCost: decimal.RequireFromString("8.00")},
		},
	}}
	catalog := &stubCatalog{
		warehouses: map[int64]bool{1: true},
		categories: map[int64][]int64{5: {20, 30}},
	}
	return NewSheetGenerator(balances, catalog)
}

func TestSheetGeneratorSkipsZeroBalances(t *testing.T) {
	gen := sheetFixture()

	lines, err := gen.Generate(context.Background(), 1, SheetFilter{})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, int64(10), lines[0].ProductID)
	require.Equal(t, int64(30), lines[1].ProductID)
	require.InDelta(t, 3, lines[0].ExpectedQty, 1e-9)
}

func TestSheetGeneratorIncludesZeroBalances(t *testing.T) {
	gen := sheetFixture()

	lines, err := gen.Generate(context.Background(), 1, SheetFilter{IncludeZeroBalances: true})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, int64(20), lines[1].ProductID)
	require.InDelta(t, 0, lines[1].ExpectedQty, 1e-9)
}

func TestSheetGeneratorFiltersUnion(t *testing.T) {
	gen := sheetFixture()

	// Product filter and category filter combine as a union.
	lines, err := gen.Generate(context.Background(), 1, SheetFilter{
		ProductIDs:          []int64{10},
		CategoryIDs:         []int64{5},
		IncludeZeroBalances: true,
	})
	require.NoError(t, err)
	require.Len(t, lines, 3)

	lines, err = gen.Generate(context.Background(), 1, SheetFilter{CategoryIDs: []int64{5}})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, int64(30), lines[0].ProductID)
}

func TestSheetGeneratorUnknownWarehouse(t *testing.T) {
	gen := sheetFixture()

	_, err := gen.Generate(context.Background(), 99, SheetFilter{})
	require.ErrorIs(t, err, ErrWarehouseNotFound)
}

func TestSheetGeneratorEmptyWarehouse(t *testing.T) {
	gen := NewSheetGenerator(
		&stubBalances{balances: map[int64][]StockBalance{}},
		&stubCatalog{warehouses: map[int64]bool{1: true}},
	)

	lines, err := gen.Generate(context.Background(), 1, SheetFilter{})
	require.NoError(t, err)
	require.NotNil(t, lines)
	require.Empty(t, lines)
}
