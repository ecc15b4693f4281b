package assembly

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the assembly module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs assembly handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers assembly routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleDefine)
	r.Get("/", h.handleList)
	r.Get("/{assemblyID}", h.handleGet)
	r.Get("/{assemblyID}/cost", h.handleCost)
}

type componentRequest struct {
	ComponentItemID string `json:"component_item_id" validate:"required"`
	QuantityPerUnit string `json:"quantity_per_unit" validate:"required"`
	UnitCostAtBuild string `json:"unit_cost_at_build"`
}

type defineRequest struct {
	ID           string             `json:"id"`
	ItemID       string             `json:"item_id" validate:"required"`
	Name         string             `json:"name" validate:"required"`
	Components   []componentRequest `json:"components" validate:"required,min=1,dive"`
	LaborCost    string             `json:"labor_cost"`
	OverheadCost string             `json:"overhead_cost"`
	Basis        string             `json:"basis" validate:"required"`
}

func (h *Handler) handleDefine(w http.ResponseWriter, r *http.Request) {
	var req defineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := DefineInput{ID: req.ID, ItemID: req.ItemID, Name: req.Name, Basis: ValuationBasis(req.Basis)}
	var err error
	if input.LaborCost, err = parseMoney(req.LaborCost); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "labor_cost must be a decimal string")
		return
	}
	if input.OverheadCost, err = parseMoney(req.OverheadCost); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "overhead_cost must be a decimal string")
		return
	}
	for _, line := range req.Components {
		component := Component{ComponentItemID: line.ComponentItemID}
		if component.QuantityPerUnit, err = parseMoney(line.QuantityPerUnit); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity_per_unit must be a decimal string")
			return
		}
		if component.UnitCostAtBuild, err = parseMoney(line.UnitCostAtBuild); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost_at_build must be a decimal string")
			return
		}
		input.Components = append(input.Components, component)
	}
	assembly, err := h.service.Define(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assembly)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	assemblies, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assemblies": assemblies})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	assembly, err := h.service.Get(r.Context(), chi.URLParam(r, "assemblyID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assembly)
}

func (h *Handler) handleCost(w http.ResponseWriter, r *http.Request) {
	breakdown, err := h.service.ComputeCost(r.Context(), chi.URLParam(r, "assemblyID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, breakdown)
}

func parseMoney(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidBasis), errors.Is(err, ErrInvalidComponent):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrAssemblyNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrCyclicAssembly):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Cyclic Assembly", err.Error())
	default:
		h.logger.Error("assembly request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
