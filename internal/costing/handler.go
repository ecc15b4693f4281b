package costing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the costing module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	entries   EntryCounter
}

// EntryCounter records accepted ledger entries per type.
type EntryCounter interface {
	ObserveEntry(entryType string)
}

// NewHandler constructs costing handler.
func NewHandler(logger *slog.Logger, service *Service, entries EntryCounter) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), entries: entries}
}

// MountRoutes registers costing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchases", h.handlePurchase)
	r.Post("/sales", h.handleSale)
	r.Post("/adjustments", h.handleAdjustment)
	r.Put("/items/{itemID}/method", h.handleSetMethod)
	r.Put("/lots/{lotID}/status", h.handleSetLotStatus)
	r.Get("/items/{itemID}/layers", h.handleLayers)
	r.Get("/items/{itemID}/value", h.handleValue)
	r.Get("/items/{itemID}/value-as-of", h.handleValueAsOf)
}

type inboundRequest struct {
	ItemID   string `json:"item_id" validate:"required"`
	Quantity string `json:"quantity" validate:"required"`
	UnitCost string `json:"unit_cost"`
	LotID    string `json:"lot_id"`
	Expires  string `json:"expires_at"`
	Location string `json:"location"`
	Code     string `json:"code"`
}

type outboundRequest struct {
	ItemID   string `json:"item_id" validate:"required"`
	Quantity string `json:"quantity" validate:"required"`
	LotID    string `json:"lot_id"`
	Code     string `json:"code"`
}

type methodRequest struct {
	Method string `json:"method" validate:"required"`
}

type lotStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type entryResponse struct {
	EntryID    string          `json:"entry_id"`
	ItemID     string          `json:"item_id"`
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	LotID      string          `json:"lot_id,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UnitCost == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost is required")
		return
	}
	qty, cost, ok := h.parseAmounts(w, req.Quantity, req.UnitCost)
	if !ok {
		return
	}
	in := PurchaseInput{ItemID: req.ItemID, Quantity: qty, UnitCost: cost, LotID: req.LotID, Location: req.Location, Code: req.Code, ActorID: actorID(r)}
	if !h.parseExpiry(w, req.Expires, &in.ExpiresAt) {
		return
	}
	entry, err := h.service.RecordPurchase(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.observe(entry.Type)
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	var req outboundRequest
	if !h.decode(w, r, &req) {
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be a decimal string")
		return
	}
	entry, err := h.service.RecordSale(r.Context(), SaleInput{ItemID: req.ItemID, Quantity: qty, LotID: req.LotID, Code: req.Code, ActorID: actorID(r)})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.observe(entry.Type)
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if !h.decode(w, r, &req) {
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be a decimal string")
		return
	}
	if qty.Sign() > 0 && req.UnitCost == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost is required for positive adjustments")
		return
	}
	in := AdjustmentInput{ItemID: req.ItemID, Quantity: qty, LotID: req.LotID, Location: req.Location, Code: req.Code, ActorID: actorID(r)}
	if req.UnitCost != "" {
		cost, err := decimal.NewFromString(req.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be a decimal string")
			return
		}
		in.UnitCost = cost
	}
	if !h.parseExpiry(w, req.Expires, &in.ExpiresAt) {
		return
	}
	entry, err := h.service.RecordAdjustment(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.observe(entry.Type)
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) handleSetMethod(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	var req methodRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetCostingMethod(r.Context(), itemID, Method(req.Method), actorID(r)); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"item_id": itemID, "method": req.Method})
}

func (h *Handler) handleSetLotStatus(w http.ResponseWriter, r *http.Request) {
	lotID := chi.URLParam(r, "lotID")
	var req lotStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	lot, err := h.service.SetLotStatus(r.Context(), lotID, LotStatus(req.Status), actorID(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

func (h *Handler) handleLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := h.service.Layers(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"layers": layers})
}

func (h *Handler) handleValue(w http.ResponseWriter, r *http.Request) {
	exclude := r.URL.Query().Get("exclude_unavailable") == "true"
	valuation, err := h.service.CurrentValue(r.Context(), chi.URLParam(r, "itemID"), exclude)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, valuation)
}

func (h *Handler) handleValueAsOf(w http.ResponseWriter, r *http.Request) {
	at, err := time.Parse(time.RFC3339, r.URL.Query().Get("at"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "at must be RFC3339")
		return
	}
	valuation, err := h.service.ValueAsOf(r.Context(), chi.URLParam(r, "itemID"), at)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, valuation)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) parseAmounts(w http.ResponseWriter, quantity, unitCost string) (decimal.Decimal, decimal.Decimal, bool) {
	qty, err := decimal.NewFromString(quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be a decimal string")
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	cost, err := decimal.NewFromString(unitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be a decimal string")
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	return qty, cost, true
}

func (h *Handler) parseExpiry(w http.ResponseWriter, raw string, target **time.Time) bool {
	if raw == "" {
		return true
	}
	expires, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expires_at must be RFC3339")
		return false
	}
	*target = &expires
	return true
}

func (h *Handler) observe(t EntryType) {
	if h.entries != nil {
		h.entries.ObserveEntry(string(t))
	}
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}

func toEntryResponse(entry Entry) entryResponse {
	return entryResponse{
		EntryID:    entry.ID,
		ItemID:     entry.ItemID,
		Seq:        entry.Seq,
		Type:       string(entry.Type),
		Quantity:   entry.Quantity,
		UnitCost:   entry.ComputedUnitCost,
		LotID:      entry.LotID,
		RecordedAt: entry.RecordedAt,
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost), errors.Is(err, ErrInvalidMethod), errors.Is(err, ErrLotRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrLotNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrLotNotAvailable), errors.Is(err, ErrInvalidLotTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrLockTimeout):
		httpx.Problem(w, http.StatusServiceUnavailable, "Busy", err.Error())
	case errors.Is(err, ErrInsufficientLayerQuantity):
		h.logger.Error("layer ledger divergence", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		h.logger.Error("costing request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
