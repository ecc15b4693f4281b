package costing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EntryRecordedEvent notifies the surrounding application that a ledger
// entry was committed, carrying the derived on-hand quantity so callers can
// raise reorder alerts without re-querying.
type EntryRecordedEvent struct {
	EntryID     string
	ItemID      string
	Type        EntryType
	Quantity    decimal.Decimal
	OnHandAfter decimal.Decimal
	RecordedAt  time.Time
}

// IntegrationHandler receives engine events after commit.
type IntegrationHandler interface {
	HandleEntryRecorded(ctx context.Context, evt EntryRecordedEvent) error
}
