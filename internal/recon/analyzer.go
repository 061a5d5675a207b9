package recon

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// ComputeReport builds a variance report from the given count lines.
// Uncounted lines (nil actual quantity) carry no variance data and are
// excluded from the analysis set entirely. When thresholdPercent > 0 only
// lines whose absolute variance percent reaches the threshold are kept;
// lines with an undefined percent (expected zero) pass any threshold as
// long as they deviate at all. The function is a pure computation: the
// same inputs always produce the same report.
func ComputeReport(inventoryID int64, items []Item, thresholdPercent float64) VarianceReport {
	report := VarianceReport{
		InventoryID:      inventoryID,
		ThresholdPercent: thresholdPercent,
		SurplusValue:     decimal.Zero,
		ShortageValue:    decimal.Zero,
		TotalVariance:    decimal.Zero,
		Items:            []VarianceLine{},
	}
	for _, item := range items {
		if !item.Counted() {
			continue
		}
		line := computeLine(item)
		if !passesThreshold(line, thresholdPercent) {
			continue
		}
		report.Items = append(report.Items, line)
	}
	sort.Slice(report.Items, func(i, j int) bool {
		a, b := report.Items[i], report.Items[j]
		av, bv := a.ValueVariance.Abs(), b.ValueVariance.Abs()
		if !av.Equal(bv) {
			return av.GreaterThan(bv)
		}
		return a.ProductID < b.ProductID
	})
	for _, line := range report.Items {
		switch line.Kind {
		case VarianceSurplus:
			report.SurplusValue = report.SurplusValue.Add(line.ValueVariance)
			report.ItemsWithVariance++
		case VarianceShortage:
			report.ShortageValue = report.ShortageValue.Add(line.ValueVariance.Neg())
			report.ItemsWithVariance++
		default:
			report.ExactMatches++
		}
	}
	report.TotalItems = len(report.Items)
	report.TotalVariance = report.SurplusValue.Sub(report.ShortageValue)
	return report
}

func computeLine(item Item) VarianceLine {
	actual := *item.ActualQty
	qtyVariance := actual - item.ExpectedQty
	line := VarianceLine{
		ItemID:        item.ID,
		ProductID:     item.ProductID,
		ExpectedQty:   item.ExpectedQty,
		ActualQty:     actual,
		QtyVariance:   qtyVariance,
		Price:         item.Price,
		ValueVariance: decimal.NewFromFloat(qtyVariance).Mul(item.Price).Round(2),
	}
	if item.ExpectedQty != 0 {
		pct := round2(qtyVariance / item.ExpectedQty * 100)
		line.VariancePercent = &pct
	}
	switch {
	case qtyVariance > 0:
		line.Kind = VarianceSurplus
	case qtyVariance < 0:
		line.Kind = VarianceShortage
	default:
		line.Kind = VarianceExact
	}
	return line
}

func passesThreshold(line VarianceLine, threshold float64) bool {
	if threshold <= 0 {
		return true
	}
	if line.VariancePercent == nil {
		// Expected zero: the relative deviation is unbounded, so any
		// actual deviation exceeds every threshold.
		return line.QtyVariance != 0
	}
	return math.Abs(*line.VariancePercent) >= threshold
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
