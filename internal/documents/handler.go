package documents

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mensa-erp/mensa-erp/internal/platform/httpx"
	"github.com/mensa-erp/mensa-erp/internal/shared"
	"github.com/mensa-erp/mensa-erp/internal/stock"
)

// Handler wires HTTP endpoints for the documents module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs documents handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Post("/approve", h.approve)
		r.Post("/cancel", h.cancel)
	})
}

type lineRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	Price     string  `json:"price"`
}

type createRequest struct {
	Type           string        `json:"type" validate:"required,oneof=RECEIPT WRITEOFF TRANSFER"`
	WarehouseID    int64         `json:"warehouse_id" validate:"required,gt=0"`
	DstWarehouseID *int64        `json:"dst_warehouse_id"`
	Note           string        `json:"note"`
	Lines          []lineRequest `json:"lines" validate:"required,min=1,dive"`
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
	lines := make([]LineInput, 0, len(req.Lines))
	for i, line := range req.Lines {
		price := decimal.Zero
		if line.Price != "" {
			parsed, err := decimal.NewFromString(line.Price)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed",
					"line "+strconv.Itoa(i+1)+": price must be a decimal number")
				return
			}
			price = parsed
		}
		lines = append(lines, LineInput{ProductID: line.ProductID, Qty: line.Qty, Price: price})
	}
	doc, err := h.service.Create(r.Context(), CreateInput{
		Type:           Type(req.Type),
		WarehouseID:    req.WarehouseID,
		DstWarehouseID: req.DstWarehouseID,
		Note:           req.Note,
		ActorID:        shared.ActorID(r.Context()),
		Lines:          lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		RefModule: q.Get("ref_module"),
		RefID:     q.Get("ref_id"),
	}
	if raw := q.Get("warehouse_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id must be an integer")
			return
		}
		filter.WarehouseID = &id
	}
	if raw := q.Get("type"); raw != "" {
		docType := Type(raw)
		if !docType.IsValid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown document type")
			return
		}
		filter.Type = &docType
	}
	if raw := q.Get("status"); raw != "" {
		status := Status(raw)
		filter.Status = &status
	}
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			filter.Limit = v
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			filter.Offset = v
		}
	}
	list, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": list, "total": total})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Approve(r.Context(), id, shared.ActorID(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Cancel(r.Context(), id, shared.ActorID(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, stock.ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Negative Stock", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("documents request failed", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
