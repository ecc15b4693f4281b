package assembly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts assembly persistence.
type RepositoryPort interface {
	GetAssembly(ctx context.Context, assemblyID string) (Assembly, error)
	GetAssemblyByItem(ctx context.Context, itemID string) (Assembly, error)
	ListAssemblies(ctx context.Context) ([]Assembly, error)
	SaveAssembly(ctx context.Context, assembly Assembly) error
}

// ComponentCoster yields the live unit cost of a component item under its
// own costing policy.
type ComponentCoster interface {
	UnitCostBasis(ctx context.Context, itemID string) (decimal.Decimal, error)
}

// Service computes assembly cost rollups over the bill of materials graph.
type Service struct {
	repo   RepositoryPort
	coster ComponentCoster
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, coster ComponentCoster) *Service {
	return &Service{repo: repo, coster: coster, now: time.Now}
}

// DefineInput describes an assembly definition to create or replace.
type DefineInput struct {
	ID           string
	ItemID       string
	Name         string
	Components   []Component
	LaborCost    decimal.Decimal
	OverheadCost decimal.Decimal
	Basis        ValuationBasis
}

// Define creates or replaces an assembly definition. Definitions are
// validated shallowly; cycles surface at rollup time so that a partially
// entered multi-level BOM can still be saved.
func (s *Service) Define(ctx context.Context, input DefineInput) (Assembly, error) {
	if input.ItemID == "" {
		return Assembly{}, errors.New("assembly: item required")
	}
	if !input.Basis.Valid() {
		return Assembly{}, ErrInvalidBasis
	}
	for _, component := range input.Components {
		if component.ComponentItemID == "" || component.QuantityPerUnit.Sign() <= 0 {
			return Assembly{}, ErrInvalidComponent
		}
		if component.ComponentItemID == input.ItemID {
			return Assembly{}, ErrCyclicAssembly
		}
	}
	assembly := Assembly{
		ID:           input.ID,
		ItemID:       input.ItemID,
		Name:         input.Name,
		Components:   input.Components,
		LaborCost:    input.LaborCost,
		OverheadCost: input.OverheadCost,
		Basis:        input.Basis,
		UpdatedAt:    s.now().UTC(),
	}
	if assembly.ID == "" {
		assembly.ID = uuid.NewString()
	}
	if err := s.repo.SaveAssembly(ctx, assembly); err != nil {
		return Assembly{}, err
	}
	return assembly, nil
}

// Get returns one assembly definition.
func (s *Service) Get(ctx context.Context, assemblyID string) (Assembly, error) {
	return s.repo.GetAssembly(ctx, assemblyID)
}

// List returns all assembly definitions.
func (s *Service) List(ctx context.Context) ([]Assembly, error) {
	return s.repo.ListAssemblies(ctx)
}

// ComputeCost rolls the bill of materials up to a single cost figure:
// sum of component quantity times component unit cost, plus labor and
// overhead. Components that are themselves assemblies recurse; a cycle
// anywhere in the graph aborts with ErrCyclicAssembly rather than looping.
func (s *Service) ComputeCost(ctx context.Context, assemblyID string) (CostBreakdown, error) {
	assembly, err := s.repo.GetAssembly(ctx, assemblyID)
	if err != nil {
		return CostBreakdown{}, err
	}
	visited := map[string]bool{}
	materials, err := s.materialsCost(ctx, assembly, visited)
	if err != nil {
		return CostBreakdown{}, err
	}
	return CostBreakdown{
		AssemblyID: assembly.ID,
		ItemID:     assembly.ItemID,
		Materials:  materials,
		Labor:      assembly.LaborCost,
		Overhead:   assembly.OverheadCost,
		Total:      materials.Add(assembly.LaborCost).Add(assembly.OverheadCost),
	}, nil
}

// unitCost prices one unit of the assembly's output, nested labor and
// overhead included.
func (s *Service) unitCost(ctx context.Context, assembly Assembly, visited map[string]bool) (decimal.Decimal, error) {
	materials, err := s.materialsCost(ctx, assembly, visited)
	if err != nil {
		return decimal.Zero, err
	}
	return materials.Add(assembly.LaborCost).Add(assembly.OverheadCost), nil
}

func (s *Service) materialsCost(ctx context.Context, assembly Assembly, visited map[string]bool) (decimal.Decimal, error) {
	if visited[assembly.ItemID] {
		return decimal.Zero, fmt.Errorf("assembly: item %s references itself: %w", assembly.ItemID, ErrCyclicAssembly)
	}
	visited[assembly.ItemID] = true
	defer delete(visited, assembly.ItemID)

	total := decimal.Zero
	for _, component := range assembly.Components {
		unitCost, err := s.componentUnitCost(ctx, assembly, component, visited)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(component.QuantityPerUnit.Mul(unitCost))
	}
	return total, nil
}

func (s *Service) componentUnitCost(ctx context.Context, parent Assembly, component Component, visited map[string]bool) (decimal.Decimal, error) {
	if parent.Basis == BasisFrozen {
		return component.UnitCostAtBuild, nil
	}
	// A component that is itself an assembly rolls up recursively.
	nested, err := s.repo.GetAssemblyByItem(ctx, component.ComponentItemID)
	if err == nil {
		return s.unitCost(ctx, nested, visited)
	}
	if !errors.Is(err, ErrAssemblyNotFound) {
		return decimal.Zero, err
	}
	return s.coster.UnitCostBasis(ctx, component.ComponentItemID)
}
