package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidentStatusTransitions(t *testing.T) {
	tests := []struct {
		from IncidentStatus
		to   IncidentStatus
		ok   bool
	}{
		{IncidentReported, IncidentAssistanceAssigned, true},
		{IncidentReported, IncidentResolved, true},
		{IncidentReported, IncidentCancelled, true},
		{IncidentAssistanceAssigned, IncidentResolved, true},
		{IncidentAssistanceAssigned, IncidentCancelled, false},
		{IncidentResolved, IncidentReported, false},
		{IncidentCancelled, IncidentResolved, false},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, IncidentResolved.IsTerminal())
	assert.True(t, IncidentCancelled.IsTerminal())
	assert.False(t, IncidentReported.IsTerminal())
}

func TestIncidentTransitionToStampsResolvedAt(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	inc := &Incident{ID: "i1", Status: IncidentReported}

	require.NoError(t, inc.TransitionTo(IncidentAssistanceAssigned, at))
	assert.Nil(t, inc.ResolvedAt)

	require.NoError(t, inc.TransitionTo(IncidentResolved, at))
	require.NotNil(t, inc.ResolvedAt)
	assert.Equal(t, at, *inc.ResolvedAt)

	err := inc.TransitionTo(IncidentCancelled, at)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestTransferAcceptIsOnce(t *testing.T) {
	at := time.Now()
	tr := &Transfer{ID: "t1", Status: TransferPending}

	require.NoError(t, tr.Accept("d2", "r2", at))
	assert.Equal(t, TransferAccepted, tr.Status)
	require.NotNil(t, tr.NewDriverID)
	assert.Equal(t, "d2", *tr.NewDriverID)

	err := tr.Accept("d3", "r3", at)
	assert.ErrorIs(t, err, ErrOfferWithdrawn)
	assert.Equal(t, "d2", *tr.NewDriverID)
}

func TestRequiredCapacityFor(t *testing.T) {
	assert.InDelta(t, 0.2, RequiredCapacityFor(2), 1e-9)
	assert.InDelta(t, 0.0, RequiredCapacityFor(0), 1e-9)
}
