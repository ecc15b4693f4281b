package assembly

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists assembly definitions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const assemblyColumns = `id, item_id, name, labor_cost, overhead_cost, basis, updated_at`

func (r *Repository) GetAssembly(ctx context.Context, assemblyID string) (Assembly, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assemblyColumns+` FROM assemblies WHERE id=$1`, assemblyID)
	return r.scanWithComponents(ctx, row)
}

func (r *Repository) GetAssemblyByItem(ctx context.Context, itemID string) (Assembly, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assemblyColumns+` FROM assemblies WHERE item_id=$1`, itemID)
	return r.scanWithComponents(ctx, row)
}

func (r *Repository) ListAssemblies(ctx context.Context) ([]Assembly, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+assemblyColumns+` FROM assemblies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assemblies []Assembly
	for rows.Next() {
		assembly, err := scanAssembly(rows)
		if err != nil {
			return nil, err
		}
		assemblies = append(assemblies, assembly)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range assemblies {
		components, err := r.components(ctx, assemblies[i].ID)
		if err != nil {
			return nil, err
		}
		assemblies[i].Components = components
	}
	return assemblies, nil
}

// SaveAssembly replaces the definition and its component lines atomically.
func (r *Repository) SaveAssembly(ctx context.Context, assembly Assembly) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO assemblies (id, item_id, name, labor_cost, overhead_cost, basis, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET item_id=EXCLUDED.item_id, name=EXCLUDED.name, labor_cost=EXCLUDED.labor_cost,
  overhead_cost=EXCLUDED.overhead_cost, basis=EXCLUDED.basis, updated_at=EXCLUDED.updated_at`,
			assembly.ID, assembly.ItemID, assembly.Name, assembly.LaborCost, assembly.OverheadCost, string(assembly.Basis), assembly.UpdatedAt)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM assembly_components WHERE assembly_id=$1`, assembly.ID); err != nil {
			return err
		}
		for i, component := range assembly.Components {
			_, err := tx.Exec(ctx, `INSERT INTO assembly_components (assembly_id, position, component_item_id, qty_per_unit, unit_cost_at_build)
VALUES ($1,$2,$3,$4,$5)`, assembly.ID, i, component.ComponentItemID, component.QuantityPerUnit, component.UnitCostAtBuild)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) scanWithComponents(ctx context.Context, row pgx.Row) (Assembly, error) {
	assembly, err := scanAssembly(row)
	if err != nil {
		return Assembly{}, err
	}
	components, err := r.components(ctx, assembly.ID)
	if err != nil {
		return Assembly{}, err
	}
	assembly.Components = components
	return assembly, nil
}

func (r *Repository) components(ctx context.Context, assemblyID string) ([]Component, error) {
	rows, err := r.pool.Query(ctx, `SELECT component_item_id, qty_per_unit, unit_cost_at_build
FROM assembly_components WHERE assembly_id=$1 ORDER BY position`, assemblyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var components []Component
	for rows.Next() {
		var component Component
		if err := rows.Scan(&component.ComponentItemID, &component.QuantityPerUnit, &component.UnitCostAtBuild); err != nil {
			return nil, err
		}
		components = append(components, component)
	}
	return components, rows.Err()
}

func scanAssembly(row pgx.Row) (Assembly, error) {
	var assembly Assembly
	err := row.Scan(&assembly.ID, &assembly.ItemID, &assembly.Name, &assembly.LaborCost, &assembly.OverheadCost, &assembly.Basis, &assembly.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assembly{}, ErrAssemblyNotFound
	}
	if err != nil {
		return Assembly{}, err
	}
	return assembly, nil
}
