package assembly

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ValuationBasis selects how component costs feed a rollup.
type ValuationBasis string

const (
	// BasisCurrent values components at their live unit cost under each
	// component item's own costing policy.
	BasisCurrent ValuationBasis = "CURRENT"
	// BasisFrozen values components at the unit cost captured when the
	// assembly definition was built.
	BasisFrozen ValuationBasis = "FROZEN"
)

// Valid reports whether the basis is a known value.
func (b ValuationBasis) Valid() bool {
	return b == BasisCurrent || b == BasisFrozen
}

// Component is one line of a bill of materials.
type Component struct {
	ComponentItemID string          `json:"component_item_id"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit"`
	// UnitCostAtBuild holds the frozen unit cost; ignored under BasisCurrent.
	UnitCostAtBuild decimal.Decimal `json:"unit_cost_at_build"`
}

// Assembly describes how one output item is built from component items.
type Assembly struct {
	ID           string          `json:"id"`
	ItemID       string          `json:"item_id"`
	Name         string          `json:"name"`
	Components   []Component     `json:"components"`
	LaborCost    decimal.Decimal `json:"labor_cost"`
	OverheadCost decimal.Decimal `json:"overhead_cost"`
	Basis        ValuationBasis  `json:"basis"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CostBreakdown is the result of a rollup.
type CostBreakdown struct {
	AssemblyID string          `json:"assembly_id"`
	ItemID     string          `json:"item_id"`
	Materials  decimal.Decimal `json:"materials"`
	Labor      decimal.Decimal `json:"labor"`
	Overhead   decimal.Decimal `json:"overhead"`
	Total      decimal.Decimal `json:"total"`
}

var (
	ErrAssemblyNotFound = errors.New("assembly: not found")
	ErrCyclicAssembly   = errors.New("assembly: bill of materials contains a cycle")
	ErrInvalidBasis     = errors.New("assembly: unknown valuation basis")
	ErrInvalidComponent = errors.New("assembly: component quantity must be positive")
)
