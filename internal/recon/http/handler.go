// Package reconhttp exposes the reconciliation engine over JSON endpoints.
package reconhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/mensa-erp/mensa-erp/internal/platform/httpx"
	"github.com/mensa-erp/mensa-erp/internal/recon"
	"github.com/mensa-erp/mensa-erp/internal/shared"
	"github.com/mensa-erp/mensa-erp/jobs"
)

// Handler wires reconciliation endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *recon.Service
	reports   *recon.ReportProvider
	approvals *shared.ApprovalRecorder
	audit     *shared.AuditLogger
	jobs      *jobs.Client
	validate  *validator.Validate
}

// NewHandler constructs handler.
func NewHandler(logger *slog.Logger, service *recon.Service, reports *recon.ReportProvider, approvals *shared.ApprovalRecorder, audit *shared.AuditLogger, jobsClient *jobs.Client) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		reports:   reports,
		approvals: approvals,
		audit:     audit,
		jobs:      jobsClient,
		validate:  validator.New(),
	}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventories", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.show)
			r.Delete("/", h.remove)
			r.Post("/start", h.start)
			r.Post("/complete", h.complete)
			r.Post("/approve", h.approve)
			r.Put("/items/{itemID}", h.setActual)
			r.Post("/items/bulk", h.bulkSetActual)
			r.Get("/report", h.report)
			r.Get("/report/export", h.exportReport)
			r.Post("/adjustments", h.createAdjustments)
		})
	})
	r.Get("/count-sheets", h.countSheet)
}

type createRequest struct {
	WarehouseID         int64   `json:"warehouse_id" validate:"required,gt=0"`
	Date                string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ResponsiblePersonID *int64  `json:"responsible_person_id"`
	Notes               *string `json:"notes"`
	FromBalances        bool    `json:"from_balances"`
	CategoryIDs         []int64 `json:"category_ids"`
	ProductIDs          []int64 `json:"product_ids"`
	IncludeZeroBalances bool    `json:"include_zero_balances"`
}

type setActualRequest struct {
	ActualQty       float64 `json:"actual_qty" validate:"gte=0"`
	Notes           *string `json:"notes"`
	ExpectedVersion *int64  `json:"expected_version"`
}

type bulkLineRequest struct {
	ItemID    int64   `json:"item_id" validate:"required,gt=0"`
	ActualQty float64 `json:"actual_qty" validate:"gte=0"`
	Notes     *string `json:"notes"`
}

type bulkRequest struct {
	Lines []bulkLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type bulkLineResponse struct {
	ItemID int64       `json:"item_id"`
	Item   *recon.Item `json:"item,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := recon.CreateInput{
		WarehouseID:         req.WarehouseID,
		ResponsiblePersonID: req.ResponsiblePersonID,
		Notes:               req.Notes,
		ActorID:             shared.ActorID(r.Context()),
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
			return
		}
		input.Date = date
	}

	var (
		inv recon.Inventory
		err error
	)
	if req.FromBalances {
		inv, err = h.service.CreateFromBalances(r.Context(), input, recon.SheetFilter{
			CategoryIDs:         req.CategoryIDs,
			ProductIDs:          req.ProductIDs,
			IncludeZeroBalances: req.IncludeZeroBalances,
		})
	} else {
		inv, err = h.service.Create(r.Context(), input)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := recon.ListFilter{
		Limit:  parseIntDefault(r.URL.Query().Get("limit"), 50),
		Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
	}
	if raw := r.URL.Query().Get("warehouse_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id must be an integer")
			return
		}
		filter.WarehouseID = &id
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := recon.Status(raw)
		if !status.IsValid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = to
	}
	list, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items": list,
		"total": total,
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var (
		inv       recon.Inventory
		approvals []shared.ApprovalLog
		trail     []shared.AuditLog
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		inv, err = h.service.Get(ctx, id)
		return err
	})
	g.Go(func() error {
		if h.approvals == nil {
			return nil
		}
		logs, err := h.approvals.List(ctx, "recon", id)
		if err != nil {
			return err
		}
		approvals = logs
		return nil
	})
	g.Go(func() error {
		if h.audit == nil {
			return nil
		}
		logs, err := h.audit.List(ctx, "inventory", strconv.FormatInt(id, 10), 100)
		if err != nil {
			return err
		}
		trail = logs
		return nil
	})
	if err := g.Wait(); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"inventory": inv,
		"approvals": approvals,
		"audit":     trail,
	})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorID(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.StartCounting)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.service.CompleteCounting(r.Context(), id, shared.ActorID(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.jobs != nil {
		payload := jobs.ReportWarmupPayload{InventoryID: inv.ID}
		if _, err := h.jobs.EnqueueReportWarmup(r.Context(), payload); err != nil && h.logger != nil {
			h.logger.Warn("enqueue report warmup", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, actorID int64) (recon.Inventory, error)) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	inv, err := op(r.Context(), id, shared.ActorID(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) setActual(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.pathID(w, r, "id"); !ok {
		return
	}
	itemID, ok := h.pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req setActualRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := h.service.SetActual(r.Context(), itemID, recon.SetActualInput{
		ActualQty:       req.ActualQty,
		Notes:           req.Notes,
		ActorID:         shared.ActorID(r.Context()),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) bulkSetActual(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req bulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]recon.BulkLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, recon.BulkLine{ItemID: line.ItemID, ActualQty: line.ActualQty, Notes: line.Notes})
	}
	results, err := h.service.BulkSetActual(r.Context(), id, lines, shared.ActorID(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]bulkLineResponse, 0, len(results))
	failed := 0
	for _, res := range results {
		line := bulkLineResponse{ItemID: res.ItemID, Item: res.Item}
		if res.Err != nil {
			line.Error = res.Err.Error()
			failed++
		}
		out = append(out, line)
	}
	status := http.StatusOK
	if failed > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, map[string]any{
		"results": out,
		"failed":  failed,
	})
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	threshold, err := parseThreshold(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	report, err := h.reports.Report(r.Context(), id, threshold)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) createAdjustments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.service.CreateAdjustments(r.Context(), id, shared.ActorID(r.Context()))
	switch {
	case err == nil:
		status := http.StatusCreated
		if result.AlreadyAdjusted || result.Reason == recon.ReasonNoVariance {
			status = http.StatusOK
		}
		httpx.JSON(w, status, result)
	case errors.Is(err, recon.ErrPartialAdjustment):
		httpx.JSON(w, http.StatusMultiStatus, result)
	default:
		h.respondError(w, err)
	}
}

func (h *Handler) countSheet(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("warehouse_id")
	warehouseID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id must be a positive integer")
		return
	}
	filter := recon.SheetFilter{
		CategoryIDs:         parseIDList(r.URL.Query()["category_id"]),
		ProductIDs:          parseIDList(r.URL.Query()["product_id"]),
		IncludeZeroBalances: r.URL.Query().Get("include_zero") == "true",
	}
	lines, err := h.service.GenerateSheet(r.Context(), warehouseID, filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recon.ErrNotFound),
		errors.Is(err, recon.ErrItemNotFound),
		errors.Is(err, recon.ErrWarehouseNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, recon.ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, recon.ErrVersionConflict),
		errors.Is(err, recon.ErrAdjustmentInFlight):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, recon.ErrNegativeQuantity),
		errors.Is(err, recon.ErrNegativeThreshold),
		errors.Is(err, recon.ErrNoLines):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("recon request failed", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseThreshold(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return 0, nil
	}
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New("threshold must be a number")
	}
	if threshold < 0 {
		return 0, errors.New("threshold must not be negative")
	}
	return threshold, nil
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func parseIDList(raw []string) []int64 {
	if len(raw) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
