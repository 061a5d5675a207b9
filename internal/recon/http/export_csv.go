package reconhttp

import (
	"encoding/csv"
	"fmt"
	"net/http"

	"github.com/mensa-erp/mensa-erp/internal/recon"
)

func (h *Handler) exportReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	threshold, err := parseThreshold(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.reports.Report(r.Context(), id, threshold)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=inventory_%d_variance.csv", id))
	writer := csv.NewWriter(w)
	for _, row := range recon.ExportRows(report) {
		if err := writer.Write(row); err != nil {
			break
		}
	}
	writer.Flush()
}
