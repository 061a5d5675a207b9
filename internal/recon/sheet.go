package recon

import (
	"context"
	"fmt"
	"sort"
)

// BalancePort reads stock balances for sheet generation. ListBalances must
// return the warehouse's balances from a single consistent snapshot, or the
// frozen expected quantities are not trustworthy as a unit.
type BalancePort interface {
	ListBalances(ctx context.Context, warehouseID int64) ([]StockBalance, error)
}

// CatalogPort resolves master data the sheet generation needs.
type CatalogPort interface {
	WarehouseExists(ctx context.Context, warehouseID int64) (bool, error)
	ProductIDsByCategories(ctx context.Context, categoryIDs []int64) ([]int64, error)
}

// SheetGenerator builds count sheets from current stock balances.
type SheetGenerator struct {
	balances BalancePort
	catalog  CatalogPort
}

// NewSheetGenerator constructs SheetGenerator.
func NewSheetGenerator(balances BalancePort, catalog CatalogPort) *SheetGenerator {
	return &SheetGenerator{balances: balances, catalog: catalog}
}

// Generate reads every balance of the warehouse and turns matching ones into
// sheet lines. Category and product filters combine as a union. Zero-quantity
// balances are skipped unless the filter asks for them. An empty sheet is a
// valid result, not an error.
func (g *SheetGenerator) Generate(ctx context.Context, warehouseID int64, filter SheetFilter) ([]SheetLine, error) {
	if warehouseID == 0 {
		return nil, ErrWarehouseNotFound
	}
	exists, err := g.catalog.WarehouseExists(ctx, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("recon: check warehouse: %w", err)
	}
	if !exists {
		return nil, ErrWarehouseNotFound
	}

	allowed, restrict, err := g.allowedProducts(ctx, filter)
	if err != nil {
		return nil, err
	}

	balances, err := g.balances.ListBalances(ctx, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("recon: list balances: %w", err)
	}

	lines := []SheetLine{}
	for _, bal := range balances {
		if restrict && !allowed[bal.ProductID] {
			continue
		}
		if bal.Qty == 0 && !filter.IncludeZeroBalances {
			continue
		}
		lines = append(lines, SheetLine{
			ProductID:   bal.ProductID,
			ExpectedQty: bal.Qty,
			Price:       bal.AvgCost,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

// allowedProducts resolves the union of the explicit product filter and the
// products belonging to the filtered categories. The second return value is
// false when no filter was supplied at all.
func (g *SheetGenerator) allowedProducts(ctx context.Context, filter SheetFilter) (map[int64]bool, bool, error) {
	if len(filter.CategoryIDs) == 0 && len(filter.ProductIDs) == 0 {
		return nil, false, nil
	}
	allowed := make(map[int64]bool, len(filter.ProductIDs))
	for _, id := range filter.ProductIDs {
		allowed[id] = true
	}
	if len(filter.CategoryIDs) > 0 {
		ids, err := g.catalog.ProductIDsByCategories(ctx, filter.CategoryIDs)
		if err != nil {
			return nil, false, fmt.Errorf("recon: resolve categories: %w", err)
		}
		for _, id := range ids {
			allowed[id] = true
		}
	}
	return allowed, true, nil
}
