package asset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAsset(t *testing.T) {
	now := time.Now()
	a := NewAsset("USDC", "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN", now)

	assert.Equal(t, StatusUnverified, a.VerificationStatus)
	assert.Equal(t, 0, a.ReputationScore)
	assert.False(t, a.SourcesVerified())
	assert.Equal(t, now, a.FirstSeenAt)
}

func TestTransition_UnverifiedToVerified(t *testing.T) {
	a := NewAsset("USDC", "GAISSUER", time.Now())
	a.RegistryVerified = true

	err := a.Transition(StatusVerified, false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, a.VerificationStatus)
}

func TestTransition_AnyToSuspicious(t *testing.T) {
	for _, from := range []VerificationStatus{StatusUnverified, StatusVerified} {
		a := NewAsset("EURT", "GAISSUER", time.Now())
		a.VerificationStatus = from

		err := a.Transition(StatusSuspicious, false, time.Now())
		require.NoError(t, err, "from %s", from)
		assert.Equal(t, StatusSuspicious, a.VerificationStatus)
	}
}

func TestTransition_SuspiciousRequiresResolution(t *testing.T) {
	a := NewAsset("EURT", "GAISSUER", time.Now())
	a.VerificationStatus = StatusSuspicious

	// Without an explicit resolution the asset stays suspicious
	err := a.Transition(StatusVerified, false, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusSuspicious, a.VerificationStatus)

	err = a.Transition(StatusUnverified, true, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusUnverified, a.VerificationStatus)
}

func TestTransition_SelfTransitionRejected(t *testing.T) {
	a := NewAsset("USDC", "GAISSUER", time.Now())

	err := a.Transition(StatusUnverified, false, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestHistoryEntry_CapturesBeforeAfter(t *testing.T) {
	now := time.Now()
	before := NewAsset("USDC", "GAISSUER", now)
	after := *before
	after.ReputationScore = 55
	require.NoError(t, after.Transition(StatusVerified, false, now))

	h := NewHistoryEntry(before, &after, "registry check passed", "verification_sweep", now)

	assert.Equal(t, StatusUnverified, h.PreviousStatus)
	assert.Equal(t, StatusVerified, h.NewStatus)
	assert.Equal(t, 0, h.PreviousScore)
	assert.Equal(t, 55, h.NewScore)
	assert.NotEqual(t, h.ID.String(), "00000000-0000-0000-0000-000000000000")
}
