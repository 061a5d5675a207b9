package recon

import (
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ExportRows renders a variance report as CSV rows, header first.
func ExportRows(report VarianceReport) [][]string {
	printer := message.NewPrinter(language.English)
	rows := [][]string{
		{"product_id", "expected_qty", "actual_qty", "qty_variance", "variance_percent", "price", "value_variance", "kind"},
	}
	for _, line := range report.Items {
		percent := ""
		if line.VariancePercent != nil {
			percent = strconv.FormatFloat(*line.VariancePercent, 'f', 2, 64)
		}
		rows = append(rows, []string{
			strconv.FormatInt(line.ProductID, 10),
			printer.Sprintf("%.3f", line.ExpectedQty),
			printer.Sprintf("%.3f", line.ActualQty),
			printer.Sprintf("%.3f", line.QtyVariance),
			percent,
			line.Price.StringFixed(2),
			line.ValueVariance.StringFixed(2),
			string(line.Kind),
		})
	}
	rows = append(rows,
		[]string{},
		[]string{"total_items", strconv.Itoa(report.TotalItems)},
		[]string{"items_with_variance", strconv.Itoa(report.ItemsWithVariance)},
		[]string{"exact_matches", strconv.Itoa(report.ExactMatches)},
		[]string{"surplus_value", report.SurplusValue.StringFixed(2)},
		[]string{"shortage_value", report.ShortageValue.StringFixed(2)},
		[]string{"total_variance", report.TotalVariance.StringFixed(2)},
	)
	return rows
}
