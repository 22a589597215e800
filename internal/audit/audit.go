package audit

import (
	"context"
	"time"

	"campus-dispatch/internal/streams"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Kind classifies an audit event.
type Kind string

const (
	KindIncidentCreated       Kind = "incident_created"
	KindSignalMerged          Kind = "signal_merged"
	KindAlertsDispatched      Kind = "alerts_dispatched"
	KindAlertAccepted         Kind = "alert_accepted"
	KindAlertDeclined         Kind = "alert_declined"
	KindAlertExpired          Kind = "alert_expired"
	KindNoCandidates          Kind = "no_candidates"
	KindNotifyFailed          Kind = "notify_failed"
	KindIncidentResolved      Kind = "incident_resolved"
	KindAssignmentDeactivated Kind = "assignment_deactivated"
)

// Event is one append-only audit record keyed by incident id.
// Incident, alert and signal rows are never deleted; this log is the
// authoritative trail of what the engine decided and when.
type Event struct {
	Kind       Kind                   `json:"kind"`
	IncidentID string                 `json:"incident_id,omitempty"`
	BeaconID   string                 `json:"beacon_id,omitempty"`
	GuardID    string                 `json:"guard_id,omitempty"`
	AlertID    string                 `json:"alert_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// Recorder is the append-only audit sink consumed by the dispatch
// engine. Recording must never fail a dispatch operation, so the
// interface returns nothing; implementations log their own failures.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// StreamRecorder appends events to a redis stream.
type StreamRecorder struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewStreamRecorder creates a redis-streams audit recorder.
func NewStreamRecorder(client *redis.Client, stream string, logger *zap.Logger) *StreamRecorder {
	return &StreamRecorder{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Record appends one event. Failures are logged and swallowed: the
// alert and incident rows are the source of truth, the stream is the
// trail.
func (r *StreamRecorder) Record(ctx context.Context, event Event) {
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}

	if _, err := streams.PublishJSON(ctx, r.client, r.stream, event); err != nil {
		r.logger.Error("Failed to record audit event",
			zap.String("kind", string(event.Kind)),
			zap.String("incident_id", event.IncidentID),
			zap.Error(err),
		)
	}
}
