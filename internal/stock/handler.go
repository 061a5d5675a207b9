package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mensa-erp/mensa-erp/internal/platform/httpx"
	"github.com/mensa-erp/mensa-erp/internal/shared"
)

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances", h.listBalances)
	r.Get("/card", h.stockCard)
	r.Post("/adjustments", h.postAdjustment)
	r.Post("/transfers", h.postTransfer)
}

type adjustmentRequest struct {
	WarehouseID int64   `json:"warehouse_id" validate:"required,gt=0"`
	ProductID   int64   `json:"product_id" validate:"required,gt=0"`
	Qty         float64 `json:"qty" validate:"required"`
	UnitCost    string  `json:"unit_cost"`
	Note        string  `json:"note"`
	Code        string  `json:"code"`
}

type transferRequest struct {
	SrcWarehouse int64   `json:"src_warehouse_id" validate:"required,gt=0"`
	DstWarehouse int64   `json:"dst_warehouse_id" validate:"required,gt=0"`
	ProductID    int64   `json:"product_id" validate:"required,gt=0"`
	Qty          float64 `json:"qty" validate:"required,gt=0"`
	UnitCost     string  `json:"unit_cost"`
	Note         string  `json:"note"`
	Code         string  `json:"code"`
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id must be a positive integer")
		return
	}
	balances, err := h.service.ListBalances(r.Context(), warehouseID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": balances})
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	warehouseID, err := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id must be a positive integer")
		return
	}
	productID, err := strconv.ParseInt(q.Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id must be a positive integer")
		return
	}
	filter := CardFilter{WarehouseID: warehouseID, ProductID: productID, Limit: 500}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	entries, err := h.service.GetStockCard(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unitCost, err := parseCost(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be a decimal number")
		return
	}
	entry, err := h.service.PostAdjustment(r.Context(), MovementInput{
		Code:        req.Code,
		WarehouseID: req.WarehouseID,
		ProductID:   req.ProductID,
		Qty:         req.Qty,
		UnitCost:    unitCost,
		Note:        req.Note,
		ActorID:     shared.ActorID(r.Context()),
		RefModule:   "STOCK",
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) postTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unitCost, err := parseCost(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be a decimal number")
		return
	}
	outCard, inCard, err := h.service.PostTransfer(r.Context(), TransferInput{
		Code:         req.Code,
		ProductID:    req.ProductID,
		Qty:          req.Qty,
		SrcWarehouse: req.SrcWarehouse,
		DstWarehouse: req.DstWarehouse,
		UnitCost:     unitCost,
		Note:         req.Note,
		ActorID:      shared.ActorID(r.Context()),
		RefModule:    "STOCK",
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"out": outCard, "in": inCard})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Negative Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("stock request failed", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseCost(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
