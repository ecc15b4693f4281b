package assembly

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	byID   map[string]Assembly
	byItem map[string]Assembly
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byID: make(map[string]Assembly), byItem: make(map[string]Assembly)}
}

func (r *memoryRepo) GetAssembly(ctx context.Context, assemblyID string) (Assembly, error) {
	assembly, ok := r.byID[assemblyID]
	if !ok {
		return Assembly{}, ErrAssemblyNotFound
	}
	return assembly, nil
}

func (r *memoryRepo) GetAssemblyByItem(ctx context.Context, itemID string) (Assembly, error) {
	assembly, ok := r.byItem[itemID]
	if !ok {
		return Assembly{}, ErrAssemblyNotFound
	}
	return assembly, nil
}

func (r *memoryRepo) ListAssemblies(ctx context.Context) ([]Assembly, error) {
	out := make([]Assembly, 0, len(r.byID))
	for _, assembly := range r.byID {
		out = append(out, assembly)
	}
	return out, nil
}

func (r *memoryRepo) SaveAssembly(ctx context.Context, assembly Assembly) error {
	r.byID[assembly.ID] = assembly
	r.byItem[assembly.ItemID] = assembly
	return nil
}

type stubCoster map[string]string

func (c stubCoster) UnitCostBasis(ctx context.Context, itemID string) (decimal.Decimal, error) {
	raw, ok := c[itemID]
	if !ok {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeCostRollup(t *testing.T) {
	repo := newMemoryRepo()
	coster := stubCoster{"itemA": "10.00", "itemB": "4.50"}
	svc := NewService(repo, coster)
	ctx := context.Background()

	assembly, err := svc.Define(ctx, DefineInput{
		ItemID: "kit",
		Name:   "Kit",
		Components: []Component{
			{ComponentItemID: "itemA", QuantityPerUnit: dec("2")},
			{ComponentItemID: "itemB", QuantityPerUnit: dec("1")},
		},
		LaborCost:    dec("45.00"),
		OverheadCost: dec("12.00"),
		Basis:        BasisCurrent,
	})
	require.NoError(t, err)

	breakdown, err := svc.ComputeCost(ctx, assembly.ID)
	require.NoError(t, err)
	// 2*10.00 + 1*4.50 + 45.00 + 12.00
	require.True(t, breakdown.Materials.Equal(dec("24.50")), "got %s", breakdown.Materials)
	require.True(t, breakdown.Total.Equal(dec("81.50")), "got %s", breakdown.Total)
}

func TestComputeCostNestedAssemblies(t *testing.T) {
	repo := newMemoryRepo()
	coster := stubCoster{"bolt": "0.50", "plate": "3.00"}
	svc := NewService(repo, coster)
	ctx := context.Background()

	// bracket unit cost: 4*0.50 + 3.00 + 2.00 = 7.00
	_, err := svc.Define(ctx, DefineInput{
		ItemID: "bracket",
		Name:   "Bracket",
		Components: []Component{
			{ComponentItemID: "bolt", QuantityPerUnit: dec("4")},
			{ComponentItemID: "plate", QuantityPerUnit: dec("1")},
		},
		LaborCost: dec("2.00"),
		Basis:     BasisCurrent,
	})
	require.NoError(t, err)

	top, err := svc.Define(ctx, DefineInput{
		ItemID: "frame",
		Name:   "Frame",
		Components: []Component{
			{ComponentItemID: "bracket", QuantityPerUnit: dec("2")},
			{ComponentItemID: "plate", QuantityPerUnit: dec("3")},
		},
		OverheadCost: dec("1.00"),
		Basis:        BasisCurrent,
	})
	require.NoError(t, err)

	breakdown, err := svc.ComputeCost(ctx, top.ID)
	require.NoError(t, err)
	// 2*7.00 + 3*3.00 + 1.00
	require.True(t, breakdown.Total.Equal(dec("24.00")), "got %s", breakdown.Total)
}

func TestComputeCostFrozenBasis(t *testing.T) {
	repo := newMemoryRepo()
	// Live costs differ from frozen ones; frozen must win.
	coster := stubCoster{"itemA": "99.00"}
	svc := NewService(repo, coster)
	ctx := context.Background()

	assembly, err := svc.Define(ctx, DefineInput{
		ItemID: "kit",
		Name:   "Kit",
		Components: []Component{
			{ComponentItemID: "itemA", QuantityPerUnit: dec("2"), UnitCostAtBuild: dec("10.00")},
		},
		LaborCost: dec("5.00"),
		Basis:     BasisFrozen,
	})
	require.NoError(t, err)

	breakdown, err := svc.ComputeCost(ctx, assembly.ID)
	require.NoError(t, err)
	require.True(t, breakdown.Total.Equal(dec("25.00")), "got %s", breakdown.Total)
}

func TestComputeCostDetectsCycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, stubCoster{})
	ctx := context.Background()

	// Two definitions that reference each other's output items.
	require.NoError(t, repo.SaveAssembly(ctx, Assembly{
		ID: "A", ItemID: "alpha", Basis: BasisCurrent,
		Components: []Component{{ComponentItemID: "beta", QuantityPerUnit: dec("1")}},
	}))
	require.NoError(t, repo.SaveAssembly(ctx, Assembly{
		ID: "B", ItemID: "beta", Basis: BasisCurrent,
		Components: []Component{{ComponentItemID: "alpha", QuantityPerUnit: dec("1")}},
	}))

	_, err := svc.ComputeCost(ctx, "A")
	require.ErrorIs(t, err, ErrCyclicAssembly)
}

func TestDefineValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), stubCoster{})
	ctx := context.Background()

	_, err := svc.Define(ctx, DefineInput{ItemID: "kit", Name: "Kit", Basis: ValuationBasis("SPOT")})
	require.ErrorIs(t, err, ErrInvalidBasis)

	_, err = svc.Define(ctx, DefineInput{
		ItemID: "kit", Name: "Kit", Basis: BasisCurrent,
		Components: []Component{{ComponentItemID: "itemA", QuantityPerUnit: dec("0")}},
	})
	require.ErrorIs(t, err, ErrInvalidComponent)

	// Direct self-reference is caught at definition time.
	_, err = svc.Define(ctx, DefineInput{
		ItemID: "kit", Name: "Kit", Basis: BasisCurrent,
		Components: []Component{{ComponentItemID: "kit", QuantityPerUnit: dec("1")}},
	})
	require.ErrorIs(t, err, ErrCyclicAssembly)
}

func TestComputeCostUnknownAssembly(t *testing.T) {
	svc := NewService(newMemoryRepo(), stubCoster{})
	_, err := svc.ComputeCost(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrAssemblyNotFound)
}
