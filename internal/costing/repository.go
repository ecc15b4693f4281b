package costing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists costing data in PostgreSQL. The entry table is
// append-only: there is no update or delete statement for cost_entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("costing: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) GetItem(ctx context.Context, itemID string) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT id, method, reorder_point, active, updated_at FROM cost_items WHERE id=$1`, itemID))
}

func (r *Repository) ListItemIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM cost_items WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) ListLayers(ctx context.Context, itemID string) ([]Layer, error) {
	return queryLayers(ctx, r.pool, itemID, false)
}

func (r *Repository) ListLots(ctx context.Context, itemID string) (map[string]Lot, error) {
	return queryLots(ctx, r.pool, itemID)
}

func (r *Repository) GetLot(ctx context.Context, lotID string) (Lot, error) {
	return scanLot(r.pool.QueryRow(ctx, `SELECT id, item_id, status, expires_at, COALESCE(location,''), updated_at FROM cost_lots WHERE id=$1`, lotID))
}

func (r *Repository) ListEntriesThrough(ctx context.Context, itemID string, through time.Time) ([]Entry, error) {
	return queryEntries(ctx, r.pool, itemID, &through)
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, itemID string) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT id, method, reorder_point, active, updated_at FROM cost_items WHERE id=$1 FOR UPDATE`, itemID))
}

func (r *txRepository) UpsertItem(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO cost_items (id, method, reorder_point, active, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET method=EXCLUDED.method, reorder_point=EXCLUDED.reorder_point, active=EXCLUDED.active, updated_at=EXCLUDED.updated_at`,
		item.ID, string(item.Method), item.ReorderPoint, item.Active, item.UpdatedAt)
	return err
}

func (r *txRepository) ListLayersForUpdate(ctx context.Context, itemID string) ([]Layer, error) {
	return queryLayers(ctx, r.tx, itemID, true)
}

func (r *txRepository) InsertLayer(ctx context.Context, layer Layer) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO cost_layers (id, item_id, remaining, unit_cost, seq, lot_id)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''))`, layer.ID, layer.ItemID, layer.Remaining, layer.UnitCost, layer.Seq, layer.LotID)
	return err
}

func (r *txRepository) UpdateLayerRemaining(ctx context.Context, layerID string, remaining decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE cost_layers SET remaining=$2 WHERE id=$1 AND remaining >= $2`, layerID, remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientLayerQuantity
	}
	return nil
}

func (r *txRepository) ReplaceLayers(ctx context.Context, itemID string, layers []Layer) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM cost_layers WHERE item_id=$1`, itemID); err != nil {
		return err
	}
	for _, layer := range layers {
		if err := r.InsertLayer(ctx, layer); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) NextEntrySeq(ctx context.Context, itemID string) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM cost_entries WHERE item_id=$1`, itemID).Scan(&seq)
	return seq, err
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO cost_entries (id, item_id, seq, recorded_at, entry_type, qty, unit_cost, computed_unit_cost, lot_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''))`,
		entry.ID, entry.ItemID, entry.Seq, entry.RecordedAt, string(entry.Type), entry.Quantity, entry.UnitCost, entry.ComputedUnitCost, entry.LotID)
	if err != nil {
		return err
	}
	for _, link := range entry.Layers {
		if _, err := r.tx.Exec(ctx, `INSERT INTO cost_entry_layers (entry_id, layer_id, qty) VALUES ($1,$2,$3)`, entry.ID, link.LayerID, link.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) ListEntries(ctx context.Context, itemID string) ([]Entry, error) {
	return queryEntries(ctx, r.tx, itemID, nil)
}

func (r *txRepository) GetLotForUpdate(ctx context.Context, lotID string) (Lot, error) {
	return scanLot(r.tx.QueryRow(ctx, `SELECT id, item_id, status, expires_at, COALESCE(location,''), updated_at FROM cost_lots WHERE id=$1 FOR UPDATE`, lotID))
}

func (r *txRepository) ListLotsForUpdate(ctx context.Context, itemID string) (map[string]Lot, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, item_id, status, expires_at, COALESCE(location,''), updated_at FROM cost_lots WHERE item_id=$1 FOR UPDATE`, itemID)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func (r *txRepository) UpsertLot(ctx context.Context, lot Lot) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO cost_lots (id, item_id, status, expires_at, location, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, expires_at=EXCLUDED.expires_at, location=EXCLUDED.location, updated_at=EXCLUDED.updated_at`,
		lot.ID, lot.ItemID, string(lot.Status), lot.ExpiresAt, lot.Location, lot.UpdatedAt)
	return err
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLayers(ctx context.Context, q queryer, itemID string, forUpdate bool) ([]Layer, error) {
	sql := `SELECT id, item_id, remaining, unit_cost, seq, COALESCE(lot_id,'') FROM cost_layers WHERE item_id=$1 ORDER BY seq ASC`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []Layer
	for rows.Next() {
		var layer Layer
		if err := rows.Scan(&layer.ID, &layer.ItemID, &layer.Remaining, &layer.UnitCost, &layer.Seq, &layer.LotID); err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func queryLots(ctx context.Context, q queryer, itemID string) (map[string]Lot, error) {
	rows, err := q.Query(ctx, `SELECT id, item_id, status, expires_at, COALESCE(location,''), updated_at FROM cost_lots WHERE item_id=$1`, itemID)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func collectLots(rows pgx.Rows) (map[string]Lot, error) {
	defer rows.Close()
	lots := make(map[string]Lot)
	for rows.Next() {
		var lot Lot
		if err := rows.Scan(&lot.ID, &lot.ItemID, &lot.Status, &lot.ExpiresAt, &lot.Location, &lot.UpdatedAt); err != nil {
			return nil, err
		}
		lots[lot.ID] = lot
	}
	return lots, rows.Err()
}

func queryEntries(ctx context.Context, q queryer, itemID string, through *time.Time) ([]Entry, error) {
	sql := `SELECT id, item_id, seq, recorded_at, entry_type, qty, unit_cost, computed_unit_cost, COALESCE(lot_id,'')
FROM cost_entries WHERE item_id=$1`
	args := []any{itemID}
	if through != nil {
		sql += ` AND recorded_at <= $2`
		args = append(args, *through)
	}
	sql += ` ORDER BY seq ASC`
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	index := make(map[string]int)
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.ItemID, &entry.Seq, &entry.RecordedAt, &entry.Type, &entry.Quantity, &entry.UnitCost, &entry.ComputedUnitCost, &entry.LotID); err != nil {
			return nil, err
		}
		index[entry.ID] = len(entries)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	linkRows, err := q.Query(ctx, `SELECT el.entry_id, el.layer_id, el.qty
FROM cost_entry_layers el
JOIN cost_entries e ON e.id = el.entry_id
WHERE e.item_id = $1
ORDER BY e.seq ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var entryID string
		var link EntryLayer
		if err := linkRows.Scan(&entryID, &link.LayerID, &link.Quantity); err != nil {
			return nil, err
		}
		if i, ok := index[entryID]; ok {
			entries[i].Layers = append(entries[i].Layers, link)
		}
	}
	return entries, linkRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Method, &item.ReorderPoint, &item.Active, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

func scanLot(row rowScanner) (Lot, error) {
	var lot Lot
	err := row.Scan(&lot.ID, &lot.ItemID, &lot.Status, &lot.ExpiresAt, &lot.Location, &lot.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrLotNotFound
	}
	if err != nil {
		return Lot{}, err
	}
	return lot, nil
}
