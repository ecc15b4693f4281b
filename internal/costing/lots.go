package costing

import "time"

// EffectiveStatus applies lazy expiration to a lot without mutating it.
// Expiry is evaluated against the supplied time at valuation/consumption,
// never by a background clock. Depleted lots stay depleted.
func EffectiveStatus(lot Lot, asOf time.Time) LotStatus {
	if lot.Status == LotDepleted || lot.Status == LotExpired {
		return lot.Status
	}
	if lot.ExpiresAt != nil && asOf.After(*lot.ExpiresAt) {
		return LotExpired
	}
	return lot.Status
}

// manual transitions allowed through SetLotStatus. Expiry and depletion are
// engine-driven and cannot be set by hand.
var manualLotTransitions = map[LotStatus]map[LotStatus]bool{
	LotAvailable:  {LotQuarantine: true},
	LotQuarantine: {LotAvailable: true},
}

// Transition validates and applies a manual lot status change.
func Transition(lot Lot, to LotStatus) (Lot, error) {
	if !to.Valid() {
		return lot, ErrInvalidLotTransition
	}
	allowed := manualLotTransitions[lot.Status]
	if !allowed[to] {
		return lot, ErrInvalidLotTransition
	}
	lot.Status = to
	return lot, nil
}

// depleteIfExhausted moves an available lot to depleted once its backing
// layer has been fully consumed.
func depleteIfExhausted(lot Lot, layer Layer) (Lot, bool) {
	if lot.Status != LotAvailable || layer.Open() {
		return lot, false
	}
	lot.Status = LotDepleted
	return lot, true
}
