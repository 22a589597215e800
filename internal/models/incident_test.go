package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalTypeValid(t *testing.T) {
	assert.True(t, SignalStudentSOS.Valid())
	assert.True(t, SignalAIVision.Valid())
	assert.True(t, SignalAIAudio.Valid())
	assert.True(t, SignalPanicButton.Valid())
	assert.False(t, SignalType("FIRE_DRILL").Valid())
	assert.False(t, SignalType("").Valid())
}

func TestSignalTypeSeverity(t *testing.T) {
	assert.Equal(t, 3, SignalStudentSOS.Severity())
	assert.Equal(t, 3, SignalPanicButton.Severity())
	assert.Equal(t, 2, SignalAIVision.Severity())
	assert.Equal(t, 1, SignalAIAudio.Severity())
}

func TestIncidentStatusOpen(t *testing.T) {
	assert.True(t, IncidentCreated.Open())
	assert.True(t, IncidentAssigned.Open())
	assert.True(t, IncidentInProgress.Open())
	assert.False(t, IncidentResolved.Open())
}

func TestAlertStatusTerminal(t *testing.T) {
	assert.False(t, AlertSent.Terminal())
	assert.True(t, AlertAccepted.Terminal())
	assert.True(t, AlertDeclined.Terminal())
	assert.True(t, AlertExpired.Terminal())
}
