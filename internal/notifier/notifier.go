package notifier

import (
	"context"
	"time"
)

// MessageKind classifies a guard notification.
type MessageKind string

const (
	// KindAlertOffer asks a guard to accept or decline an incident.
	KindAlertOffer MessageKind = "alert_offer"
	// KindAlertStoodDown tells a guard their pending offer expired
	// because another guard accepted first.
	KindAlertStoodDown MessageKind = "alert_stood_down"
	// KindAssignmentConfirmed acknowledges a winning accept.
	KindAssignmentConfirmed MessageKind = "assignment_confirmed"
)

// Message is the payload pushed to one guard.
type Message struct {
	Kind         MessageKind `json:"kind"`
	AlertID      string      `json:"alert_id,omitempty"`
	IncidentID   string      `json:"incident_id"`
	BeaconID     string      `json:"beacon_id,omitempty"`
	Priority     int         `json:"priority,omitempty"`
	PriorityRank int         `json:"priority_rank,omitempty"`
	Deadline     *time.Time  `json:"deadline,omitempty"`
	SentAt       time.Time   `json:"sent_at"`
}

// Notifier pushes messages to guards. Delivery is fire-and-forget from
// the engine's point of view: a failed push is logged and audited but
// never rolls back the alert record, and retry/backoff beyond the
// transport's own is the push collaborator's concern.
type Notifier interface {
	Notify(ctx context.Context, guardID string, msg Message) error
	Close() error
}
