package costing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEffectiveStatusLazyExpiry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	require.Equal(t, LotExpired, EffectiveStatus(Lot{Status: LotAvailable, ExpiresAt: &past}, now))
	require.Equal(t, LotAvailable, EffectiveStatus(Lot{Status: LotAvailable, ExpiresAt: &future}, now))
	require.Equal(t, LotAvailable, EffectiveStatus(Lot{Status: LotAvailable}, now))

	// Quarantine wins over expiry only until the clock passes; once expired,
	// the lot reports expired no matter the stored status.
	require.Equal(t, LotExpired, EffectiveStatus(Lot{Status: LotQuarantine, ExpiresAt: &past}, now))
	require.Equal(t, LotDepleted, EffectiveStatus(Lot{Status: LotDepleted, ExpiresAt: &past}, now))
}

func TestManualTransitions(t *testing.T) {
	lot := Lot{ID: "LOT-A", Status: LotAvailable}

	quarantined, err := Transition(lot, LotQuarantine)
	require.NoError(t, err)
	require.Equal(t, LotQuarantine, quarantined.Status)

	released, err := Transition(quarantined, LotAvailable)
	require.NoError(t, err)
	require.Equal(t, LotAvailable, released.Status)

	_, err = Transition(lot, LotExpired)
	require.ErrorIs(t, err, ErrInvalidLotTransition)
	_, err = Transition(lot, LotDepleted)
	require.ErrorIs(t, err, ErrInvalidLotTransition)
	_, err = Transition(Lot{Status: LotExpired}, LotAvailable)
	require.ErrorIs(t, err, ErrInvalidLotTransition)
	_, err = Transition(Lot{Status: LotDepleted}, LotAvailable)
	require.ErrorIs(t, err, ErrInvalidLotTransition)
}

func TestDepleteIfExhausted(t *testing.T) {
	lot := Lot{ID: "LOT-A", Status: LotAvailable}

	updated, changed := depleteIfExhausted(lot, Layer{LotID: "LOT-A", Remaining: dec("0")})
	require.True(t, changed)
	require.Equal(t, LotDepleted, updated.Status)

	_, changed = depleteIfExhausted(lot, Layer{LotID: "LOT-A", Remaining: dec("3")})
	require.False(t, changed)
}
