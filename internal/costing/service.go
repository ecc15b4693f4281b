package costing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, itemID string) (Item, error)
	ListItemIDs(ctx context.Context) ([]string, error)
	ListLayers(ctx context.Context, itemID string) ([]Layer, error)
	ListLots(ctx context.Context, itemID string) (map[string]Lot, error)
	GetLot(ctx context.Context, lotID string) (Lot, error)
	ListEntriesThrough(ctx context.Context, itemID string, through time.Time) ([]Entry, error)
}

// TxRepository exposes transactional operations used by the service. All
// mutations for one item happen inside a single transaction under the
// per-item lock.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, itemID string) (Item, error)
	UpsertItem(ctx context.Context, item Item) error
	ListLayersForUpdate(ctx context.Context, itemID string) ([]Layer, error)
	InsertLayer(ctx context.Context, layer Layer) error
	UpdateLayerRemaining(ctx context.Context, layerID string, remaining decimal.Decimal) error
	ReplaceLayers(ctx context.Context, itemID string, layers []Layer) error
	NextEntrySeq(ctx context.Context, itemID string) (int64, error)
	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, itemID string) ([]Entry, error)
	GetLotForUpdate(ctx context.Context, lotID string) (Lot, error)
	ListLotsForUpdate(ctx context.Context, itemID string) (map[string]Lot, error)
	UpsertLot(ctx context.Context, lot Lot) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the cost ledger: it records purchase/sale/adjustment events,
// applies the item's costing policy, and appends the audit history.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	locks       *ItemLocks
	cache       *ValuationCache
	integration IntegrationHandler
	now         func() time.Time
}

// NewService builds Service. Audit, idempotency, cache and integration are
// optional.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, locks *ItemLocks, cache *ValuationCache, integration IntegrationHandler) *Service {
	if locks == nil {
		locks = NewItemLocks(0)
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		locks:       locks,
		cache:       cache,
		integration: integration,
		now:         time.Now,
	}
}

// PurchaseInput describes an inbound receipt.
type PurchaseInput struct {
	ItemID    string
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	LotID     string
	ExpiresAt *time.Time
	Location  string
	Code      string
	ActorID   int64
}

// SaleInput describes an outbound withdrawal. LotID is required only when
// the item uses specific identification.
type SaleInput struct {
	ItemID   string
	Quantity decimal.Decimal
	LotID    string
	Code     string
	ActorID  int64
}

// AdjustmentInput describes a signed manual correction. UnitCost applies to
// positive adjustments only; negative adjustments are costed by the policy.
type AdjustmentInput struct {
	ItemID    string
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	LotID     string
	ExpiresAt *time.Time
	Location  string
	Code      string
	ActorID   int64
}

// RecordPurchase appends a purchase entry and creates its cost layer. A new
// layer is always created, even at a unit cost identical to an existing
// layer: layers are never merged, preserving provenance.
func (s *Service) RecordPurchase(ctx context.Context, input PurchaseInput) (Entry, error) {
	if input.ItemID == "" {
		return Entry{}, errors.New("costing: item required")
	}
	if input.Quantity.Sign() <= 0 {
		return Entry{}, ErrInvalidQuantity
	}
	if input.UnitCost.Sign() < 0 {
		return Entry{}, ErrInvalidUnitCost
	}
	return s.postInbound(ctx, inboundParams{
		ItemID:    input.ItemID,
		Quantity:  input.Quantity,
		UnitCost:  input.UnitCost,
		LotID:     input.LotID,
		ExpiresAt: input.ExpiresAt,
		Location:  input.Location,
		Type:      EntryPurchase,
		Code:      input.Code,
		ActorID:   input.ActorID,
	})
}

// RecordSale appends a sale entry, consuming layers under the active policy.
func (s *Service) RecordSale(ctx context.Context, input SaleInput) (Entry, error) {
	if input.ItemID == "" {
		return Entry{}, errors.New("costing: item required")
	}
	if input.Quantity.Sign() <= 0 {
		return Entry{}, ErrInvalidQuantity
	}
	return s.postOutbound(ctx, outboundParams{
		ItemID:   input.ItemID,
		Quantity: input.Quantity,
		LotID:    input.LotID,
		Type:     EntrySale,
		Code:     input.Code,
		ActorID:  input.ActorID,
	})
}

// RecordAdjustment appends a signed adjustment entry. Positive quantities
// create a layer like a purchase; negative quantities consume layers through
// the active policy. Zero is rejected, not ignored.
func (s *Service) RecordAdjustment(ctx context.Context, input AdjustmentInput) (Entry, error) {
	if input.ItemID == "" {
		return Entry{}, errors.New("costing: item required")
	}
	if input.Quantity.Sign() == 0 {
		return Entry{}, ErrInvalidQuantity
	}
	if input.Quantity.Sign() > 0 {
		if input.UnitCost.Sign() < 0 {
			return Entry{}, ErrInvalidUnitCost
		}
		return s.postInbound(ctx, inboundParams{
			ItemID:    input.ItemID,
			Quantity:  input.Quantity,
			UnitCost:  input.UnitCost,
			LotID:     input.LotID,
			ExpiresAt: input.ExpiresAt,
			Location:  input.Location,
			Type:      EntryAdjustment,
			Code:      input.Code,
			ActorID:   input.ActorID,
		})
	}
	return s.postOutbound(ctx, outboundParams{
		ItemID:   input.ItemID,
		Quantity: input.Quantity.Neg(),
		LotID:    input.LotID,
		Type:     EntryAdjustment,
		Code:     input.Code,
		ActorID:  input.ActorID,
	})
}

// SetCostingMethod changes how future consumption selects layers. The switch
// is point-in-time: past entries are never restated.
func (s *Service) SetCostingMethod(ctx context.Context, itemID string, method Method, actorID int64) error {
	if itemID == "" {
		return errors.New("costing: item required")
	}
	if !method.Valid() {
		return ErrInvalidMethod
	}
	release, err := s.locks.Acquire(ctx, itemID)
	if err != nil {
		return err
	}
	defer release()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, itemID)
		if errors.Is(err, ErrItemNotFound) {
			item = Item{ID: itemID, Active: true}
		} else if err != nil {
			return err
		}
		item.Method = method
		item.UpdatedAt = s.now().UTC()
		return tx.UpsertItem(ctx, item)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "costing:set_method", "cost_item", itemID, map[string]any{"method": string(method)})
	return nil
}

// SetLotStatus applies a manual quarantine or release. Expired and depleted
// states are engine-driven and rejected here.
func (s *Service) SetLotStatus(ctx context.Context, lotID string, status LotStatus, actorID int64) (Lot, error) {
	if lotID == "" {
		return Lot{}, errors.New("costing: lot required")
	}
	known, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return Lot{}, err
	}
	release, err := s.locks.Acquire(ctx, known.ItemID)
	if err != nil {
		return Lot{}, err
	}
	defer release()

	var updated Lot
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lot, err := tx.GetLotForUpdate(ctx, lotID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if effective := EffectiveStatus(lot, now); effective != lot.Status {
			lot.Status = effective
		}
		lot, err = Transition(lot, status)
		if err != nil {
			return err
		}
		lot.UpdatedAt = now
		updated = lot
		return tx.UpsertLot(ctx, lot)
	})
	if err != nil {
		return Lot{}, err
	}
	s.bumpCache(ctx)
	s.recordAudit(ctx, actorID, "costing:set_lot_status", "cost_lot", lotID, map[string]any{"status": string(status)})
	return updated, nil
}

type inboundParams struct {
	ItemID    string
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	LotID     string
	ExpiresAt *time.Time
	Location  string
	Type      EntryType
	Code      string
	ActorID   int64
}

type outboundParams struct {
	ItemID   string
	Quantity decimal.Decimal
	LotID    string
	Type     EntryType
	Code     string
	ActorID  int64
}

func (s *Service) postInbound(ctx context.Context, params inboundParams) (Entry, error) {
	release, err := s.locks.Acquire(ctx, params.ItemID)
	if err != nil {
		return Entry{}, err
	}
	defer release()

	now := s.now().UTC()
	code := params.Code
	if code == "" {
		code = fmt.Sprintf("CE-%d", now.UnixNano())
	}
	insertedKey, key, err := s.checkIdempotency(ctx, params.Type, code, params.ItemID)
	if err != nil {
		return Entry{}, err
	}

	var entry Entry
	var onHand decimal.Decimal
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, params.ItemID)
		if errors.Is(err, ErrItemNotFound) {
			item = Item{ID: params.ItemID, Method: MethodFIFO, Active: true}
		} else if err != nil {
			return err
		}
		item.UpdatedAt = now
		if err := tx.UpsertItem(ctx, item); err != nil {
			return err
		}

		seq, err := tx.NextEntrySeq(ctx, params.ItemID)
		if err != nil {
			return err
		}
		layer := Layer{
			ID:        uuid.NewString(),
			ItemID:    params.ItemID,
			Remaining: params.Quantity,
			UnitCost:  params.UnitCost,
			Seq:       seq,
			LotID:     params.LotID,
		}
		if err := tx.InsertLayer(ctx, layer); err != nil {
			return err
		}
		if params.LotID != "" {
			if err := s.createLot(ctx, tx, params, now); err != nil {
				return err
			}
		}
		entry = Entry{
			ID:         uuid.NewString(),
			ItemID:     params.ItemID,
			Seq:        seq,
			RecordedAt: now,
			Type:       params.Type,
			Quantity:   params.Quantity,
			UnitCost:   params.UnitCost,
			LotID:      params.LotID,
			Layers:     []EntryLayer{{LayerID: layer.ID, Quantity: params.Quantity}},
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}

		layers, err := tx.ListLayersForUpdate(ctx, params.ItemID)
		if err != nil {
			return err
		}
		onHand = onHandQuantity(layers)
		return nil
	})
	if err != nil {
		s.rollbackIdempotency(ctx, insertedKey, key)
		return Entry{}, err
	}
	s.finishEntry(ctx, entry, onHand, params.ActorID)
	return entry, nil
}

func (s *Service) postOutbound(ctx context.Context, params outboundParams) (Entry, error) {
	release, err := s.locks.Acquire(ctx, params.ItemID)
	if err != nil {
		return Entry{}, err
	}
	defer release()

	now := s.now().UTC()
	code := params.Code
	if code == "" {
		code = fmt.Sprintf("CE-%d", now.UnixNano())
	}
	insertedKey, key, err := s.checkIdempotency(ctx, params.Type, code, params.ItemID)
	if err != nil {
		return Entry{}, err
	}

	var entry Entry
	var onHand decimal.Decimal
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, params.ItemID)
		if err != nil {
			return err
		}
		layers, err := tx.ListLayersForUpdate(ctx, params.ItemID)
		if err != nil {
			return err
		}
		lots, err := tx.ListLotsForUpdate(ctx, params.ItemID)
		if err != nil {
			return err
		}
		// Persist lazily observed expirations before the policy selects
		// layers, so an expired lot never feeds a withdrawal.
		for id, lot := range lots {
			if effective := EffectiveStatus(lot, now); effective != lot.Status {
				lot.Status = effective
				lot.UpdatedAt = now
				if err := tx.UpsertLot(ctx, lot); err != nil {
					return err
				}
				lots[id] = lot
			}
		}

		policy, err := PolicyFor(item.Method)
		if err != nil {
			return err
		}
		takes, unitCost, err := policy.Consume(ConsumeInput{
			Layers:   layers,
			Lots:     lots,
			Quantity: params.Quantity,
			LotID:    params.LotID,
			AsOf:     now,
		})
		if err != nil {
			return err
		}

		byID := make(map[string]*Layer, len(layers))
		for i := range layers {
			byID[layers[i].ID] = &layers[i]
		}
		entryLayers := make([]EntryLayer, 0, len(takes))
		for _, take := range takes {
			layer, ok := byID[take.LayerID]
			if !ok || take.Quantity.GreaterThan(layer.Remaining) {
				return fmt.Errorf("costing: policy selected layer %s beyond remaining quantity: %w", take.LayerID, ErrInsufficientLayerQuantity)
			}
			layer.Remaining = layer.Remaining.Sub(take.Quantity)
			if err := tx.UpdateLayerRemaining(ctx, layer.ID, layer.Remaining); err != nil {
				return err
			}
			if layer.LotID != "" {
				if lot, ok := lots[layer.LotID]; ok {
					if depleted, changed := depleteIfExhausted(lot, *layer); changed {
						depleted.UpdatedAt = now
						if err := tx.UpsertLot(ctx, depleted); err != nil {
							return err
						}
						lots[layer.LotID] = depleted
					}
				}
			}
			entryLayers = append(entryLayers, EntryLayer{LayerID: take.LayerID, Quantity: take.Quantity})
		}

		seq, err := tx.NextEntrySeq(ctx, params.ItemID)
		if err != nil {
			return err
		}
		entry = Entry{
			ID:               uuid.NewString(),
			ItemID:           params.ItemID,
			Seq:              seq,
			RecordedAt:       now,
			Type:             params.Type,
			Quantity:         params.Quantity.Neg(),
			ComputedUnitCost: unitCost,
			LotID:            params.LotID,
			Layers:           entryLayers,
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		onHand = onHandQuantity(layers)
		return nil
	})
	if err != nil {
		s.rollbackIdempotency(ctx, insertedKey, key)
		return Entry{}, err
	}
	s.finishEntry(ctx, entry, onHand, params.ActorID)
	return entry, nil
}

// RebuildItem replaces the materialized layer view with the result of
// replaying the item's full entry history. Used after backfills and by crash
// recovery; safe to run in parallel across distinct items.
func (s *Service) RebuildItem(ctx context.Context, itemID string) error {
	if itemID == "" {
		return errors.New("costing: item required")
	}
	release, err := s.locks.Acquire(ctx, itemID)
	if err != nil {
		return err
	}
	defer release()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries, err := tx.ListEntries(ctx, itemID)
		if err != nil {
			return err
		}
		layers, err := Rebuild(ctx, entries)
		if err != nil {
			return err
		}
		return tx.ReplaceLayers(ctx, itemID, layers)
	})
	if err != nil {
		return err
	}
	s.bumpCache(ctx)
	return nil
}

// ItemIDs lists known item identifiers, used by batch jobs.
func (s *Service) ItemIDs(ctx context.Context) ([]string, error) {
	return s.repo.ListItemIDs(ctx)
}

func (s *Service) createLot(ctx context.Context, tx TxRepository, params inboundParams, now time.Time) error {
	_, err := tx.GetLotForUpdate(ctx, params.LotID)
	if err == nil {
		// A lot backs exactly one layer; a second receipt must use a new lot.
		return fmt.Errorf("costing: lot %s already backs a layer: %w", params.LotID, ErrInvalidLotTransition)
	}
	if !errors.Is(err, ErrLotNotFound) {
		return err
	}
	return tx.UpsertLot(ctx, Lot{
		ID:        params.LotID,
		ItemID:    params.ItemID,
		Status:    LotAvailable,
		ExpiresAt: params.ExpiresAt,
		Location:  params.Location,
		UpdatedAt: now,
	})
}

func (s *Service) checkIdempotency(ctx context.Context, entryType EntryType, code, itemID string) (bool, string, error) {
	if s.idempotency == nil {
		return false, "", nil
	}
	key := fmt.Sprintf("%s:%s:%s", entryType, code, itemID)
	if err := s.idempotency.CheckAndInsert(ctx, key, "costing"); err != nil {
		return false, key, err
	}
	return true, key, nil
}

func (s *Service) rollbackIdempotency(ctx context.Context, inserted bool, key string) {
	if inserted && s.idempotency != nil {
		_ = s.idempotency.Delete(ctx, key)
	}
}

func (s *Service) finishEntry(ctx context.Context, entry Entry, onHand decimal.Decimal, actorID int64) {
	s.bumpCache(ctx)
	s.recordAudit(ctx, actorID, fmt.Sprintf("costing:%s", entry.Type), "cost_entry", entry.ID, map[string]any{
		"item_id": entry.ItemID,
		"seq":     entry.Seq,
		"qty":     entry.Quantity.String(),
	})
	if s.integration != nil {
		_ = s.integration.HandleEntryRecorded(ctx, EntryRecordedEvent{
			EntryID:     entry.ID,
			ItemID:      entry.ItemID,
			Type:        entry.Type,
			Quantity:    entry.Quantity,
			OnHandAfter: onHand,
			RecordedAt:  entry.RecordedAt,
		})
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
}

func (s *Service) bumpCache(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Bump(ctx)
	}
}

func onHandQuantity(layers []Layer) decimal.Decimal {
	total := decimal.Zero
	for _, layer := range layers {
		total = total.Add(layer.Remaining)
	}
	return total
}
