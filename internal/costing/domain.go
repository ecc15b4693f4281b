package costing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Method enumerates supported costing policies.
type Method string

const (
	// MethodFIFO consumes layers in ascending creation order.
	MethodFIFO Method = "FIFO"
	// MethodLIFO consumes layers in descending creation order.
	MethodLIFO Method = "LIFO"
	// MethodAverage consumes against a single moving-weighted-average pool.
	MethodAverage Method = "AVERAGE"
	// MethodSpecific consumes an explicitly identified lot.
	MethodSpecific Method = "SPECIFIC"
)

// Valid reports whether the method is one of the supported policies.
func (m Method) Valid() bool {
	switch m {
	case MethodFIFO, MethodLIFO, MethodAverage, MethodSpecific:
		return true
	}
	return false
}

// EntryType enumerates ledger entry kinds.
type EntryType string

const (
	// EntryPurchase records an inbound receipt that creates a layer.
	EntryPurchase EntryType = "PURCHASE"
	// EntrySale records an outbound withdrawal costed by the active policy.
	EntrySale EntryType = "SALE"
	// EntryAdjustment records a signed manual correction.
	EntryAdjustment EntryType = "ADJUSTMENT"
)

// Item is the costing master record for a single inventory item.
// Quantity on hand is always derived from open layers, never stored here.
type Item struct {
	ID           string
	Method       Method
	ReorderPoint decimal.Decimal
	Active       bool
	UpdatedAt    time.Time
}

// Layer is one immutable-cost slice of inventory. Remaining only ever
// decreases; replenishment creates a new layer. Exhausted layers are kept
// for audit and excluded from consumption.
type Layer struct {
	ID        string
	ItemID    string
	Remaining decimal.Decimal
	UnitCost  decimal.Decimal
	Seq       int64
	LotID     string
}

// Open reports whether the layer still has quantity to consume.
func (l Layer) Open() bool {
	return l.Remaining.Sign() > 0
}

// Value returns remaining quantity times unit cost.
func (l Layer) Value() decimal.Decimal {
	return l.Remaining.Mul(l.UnitCost)
}

// EntryLayer links a ledger entry to a layer it created or consumed.
type EntryLayer struct {
	LayerID  string
	Quantity decimal.Decimal
}

// Entry is one append-only ledger record. Entries are never updated;
// corrections are recorded as new offsetting entries. Seq is a per-item
// monotonic sequence and is the only ordering replay relies on.
type Entry struct {
	ID               string
	ItemID           string
	Seq              int64
	RecordedAt       time.Time
	Type             EntryType
	Quantity         decimal.Decimal
	UnitCost         decimal.Decimal
	ComputedUnitCost decimal.Decimal
	LotID            string
	Layers           []EntryLayer
}

// Inbound reports whether the entry adds stock.
func (e Entry) Inbound() bool {
	return e.Quantity.Sign() > 0
}

// LotStatus enumerates lot lifecycle states.
type LotStatus string

const (
	// LotAvailable lots are eligible for consumption.
	LotAvailable LotStatus = "AVAILABLE"
	// LotQuarantine lots are manually held and excluded from consumption.
	LotQuarantine LotStatus = "QUARANTINE"
	// LotExpired lots passed their expiration date.
	LotExpired LotStatus = "EXPIRED"
	// LotDepleted lots back a fully consumed layer.
	LotDepleted LotStatus = "DEPLETED"
)

// Valid reports whether the status is a known lot state.
func (s LotStatus) Valid() bool {
	switch s {
	case LotAvailable, LotQuarantine, LotExpired, LotDepleted:
		return true
	}
	return false
}

// Lot is a physically distinguishable sub-batch backing exactly one layer
// when lot tracking is enabled for the item.
type Lot struct {
	ID        string
	ItemID    string
	Status    LotStatus
	ExpiresAt *time.Time
	Location  string
	UpdatedAt time.Time
}

// Sentinel errors surfaced by the engine. Recoverable conditions are
// returned to the caller; ErrInsufficientLayerQuantity indicates a corrupt
// ledger and is never clamped.
var (
	ErrInvalidQuantity           = errors.New("costing: quantity must be positive")
	ErrInvalidUnitCost           = errors.New("costing: unit cost must be >= 0")
	ErrInsufficientStock         = errors.New("costing: withdrawal exceeds quantity on hand")
	ErrInsufficientLayerQuantity = errors.New("costing: layer depletion exceeds remaining quantity")
	ErrLotNotAvailable           = errors.New("costing: lot is not available for consumption")
	ErrLotRequired               = errors.New("costing: specific identification requires a lot id")
	ErrLockTimeout               = errors.New("costing: item lock not acquired in time")
	ErrItemNotFound              = errors.New("costing: item not found")
	ErrLotNotFound               = errors.New("costing: lot not found")
	ErrInvalidMethod             = errors.New("costing: unknown costing method")
	ErrInvalidLotTransition      = errors.New("costing: lot status transition not allowed")
)
