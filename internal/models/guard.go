package models

import (
	"time"
)

// GuardProfile is a guard's dispatch-relevant state (maps to the
// guard_profiles table). CurrentBeaconID is the last reported location
// and is the BFS origin for "guards near this beacon"; a guard with no
// location report yet is never a candidate.
type GuardProfile struct {
	GuardID         string     `json:"guard_id" db:"guard_id"`
	Name            string     `json:"name" db:"name"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	IsAvailable     bool       `json:"is_available" db:"is_available"`
	CurrentBeaconID *string    `json:"current_beacon_id,omitempty" db:"current_beacon_id"`
	LocationPingAt  *time.Time `json:"location_ping_at,omitempty" db:"location_ping_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// AlertStatus is the guard-alert lifecycle state.
// ACCEPTED, DECLINED and EXPIRED are terminal.
type AlertStatus string

const (
	AlertSent     AlertStatus = "SENT"
	AlertAccepted AlertStatus = "ACCEPTED"
	AlertDeclined AlertStatus = "DECLINED"
	AlertExpired  AlertStatus = "EXPIRED"
)

// Terminal reports whether the alert can no longer transition.
func (s AlertStatus) Terminal() bool {
	return s == AlertAccepted || s == AlertDeclined || s == AlertExpired
}

// GuardAlert is a dispatch offer from one incident to one guard (maps
// to the guard_alerts table). At most one SENT alert exists per
// (incident, guard) pair; priority_rank values are monotonically
// increasing in creation order within an incident.
type GuardAlert struct {
	AlertID          string      `json:"alert_id" db:"alert_id"`
	IncidentID       string      `json:"incident_id" db:"incident_id"`
	GuardID          string      `json:"guard_id" db:"guard_id"`
	Status           AlertStatus `json:"status" db:"status"`
	PriorityRank     int         `json:"priority_rank" db:"priority_rank"`
	ViaBeaconID      string      `json:"via_beacon_id" db:"via_beacon_id"`
	HopPriority      int         `json:"hop_priority" db:"hop_priority"`
	ResponseDeadline *time.Time  `json:"response_deadline,omitempty" db:"response_deadline"`
	AssignmentID     *string     `json:"assignment_id,omitempty" db:"assignment_id"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	RespondedAt      *time.Time  `json:"responded_at,omitempty" db:"responded_at"`
}

// CandidateGuard is one ranked result of a dispatch search: the guard,
// the beacon they were found at, the cumulative hop-priority of the
// edge chain traversed to reach them, and the chain itself.
type CandidateGuard struct {
	Guard       GuardProfile `json:"guard"`
	ViaBeaconID string       `json:"via_beacon_id"`
	HopPriority int          `json:"hop_priority"`
	Path        []string     `json:"path"`
}

// GuardAssignment binds one guard to one incident (maps to the
// guard_assignments table). At most one active assignment exists per
// incident and per guard; rows are deactivated, never deleted.
type GuardAssignment struct {
	AssignmentID  string     `json:"assignment_id" db:"assignment_id"`
	IncidentID    string     `json:"incident_id" db:"incident_id"`
	GuardID       string     `json:"guard_id" db:"guard_id"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	AssignedAt    time.Time  `json:"assigned_at" db:"assigned_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
	EndReason     *string    `json:"end_reason,omitempty" db:"end_reason"`
}
