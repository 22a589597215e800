package models

import (
	"time"
)

// SignalType classifies an inbound observation.
type SignalType string

const (
	SignalStudentSOS  SignalType = "STUDENT_SOS"
	SignalAIVision    SignalType = "AI_VISION"
	SignalAIAudio     SignalType = "AI_AUDIO"
	SignalPanicButton SignalType = "PANIC_BUTTON"
)

// Valid reports whether the signal type is one of the closed set.
func (s SignalType) Valid() bool {
	switch s {
	case SignalStudentSOS, SignalAIVision, SignalAIAudio, SignalPanicButton:
		return true
	}
	return false
}

// Severity maps a signal type to the incident priority it implies.
// Incident priority is the maximum over all attached signals.
func (s SignalType) Severity() int {
	switch s {
	case SignalStudentSOS, SignalPanicButton:
		return 3
	case SignalAIVision:
		return 2
	case SignalAIAudio:
		return 1
	}
	return 0
}

// IncidentStatus is the incident lifecycle state. RESOLVED is terminal.
type IncidentStatus string

const (
	IncidentCreated    IncidentStatus = "CREATED"
	IncidentAssigned   IncidentStatus = "ASSIGNED"
	IncidentInProgress IncidentStatus = "IN_PROGRESS"
	IncidentResolved   IncidentStatus = "RESOLVED"
)

// Open reports whether the incident still absorbs signals at its beacon.
func (s IncidentStatus) Open() bool {
	return s == IncidentCreated || s == IncidentAssigned || s == IncidentInProgress
}

// Incident is the unit of dispatch (maps to the incidents table).
// At most one non-resolved incident exists per beacon at any time;
// the partial unique index on incidents(beacon_id) enforces this.
type Incident struct {
	IncidentID      string         `json:"incident_id" db:"incident_id"`
	BeaconID        string         `json:"beacon_id" db:"beacon_id"`
	Status          IncidentStatus `json:"status" db:"status"`
	Priority        int            `json:"priority" db:"priority"`
	FirstSignalTime time.Time      `json:"first_signal_time" db:"first_signal_time"`
	LastSignalTime  time.Time      `json:"last_signal_time" db:"last_signal_time"`
	AssignedGuardID *string        `json:"assigned_guard_id,omitempty" db:"assigned_guard_id"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// IncidentSignal is one immutable observation attached to an incident
// (maps to the incident_signals table). Signals are never mutated or
// deleted; the incident row carries the derived state.
type IncidentSignal struct {
	SignalID   string     `json:"signal_id" db:"signal_id"`
	IncidentID string     `json:"incident_id" db:"incident_id"`
	SignalType SignalType `json:"signal_type" db:"signal_type"`
	ReporterID *string    `json:"reporter_id,omitempty" db:"reporter_id"`
	Details    string     `json:"details" db:"details"`
	ReceivedAt time.Time  `json:"received_at" db:"received_at"`
}
