package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus-dispatch/internal/audit"
	"campus-dispatch/internal/models"
	"campus-dispatch/internal/notifier"
	"campus-dispatch/internal/repository"

	"go.uber.org/zap"
)

// IncidentStore is the incident persistence consumed by the engine.
// Satisfied by *repository.IncidentRepository.
type IncidentStore interface {
	ResolveOrCreateIncident(ctx context.Context, beaconID string, signalType models.SignalType, reporterID *string, details string) (*models.Incident, bool, *models.IncidentSignal, error)
	GetIncident(ctx context.Context, incidentID string) (*models.Incident, error)
	ListSignals(ctx context.Context, incidentID string) ([]models.IncidentSignal, error)
	MarkInProgress(ctx context.Context, incidentID, guardID string) error
	ResolveIncident(ctx context.Context, incidentID, guardID string) (*models.Incident, error)
	UnassignGuard(ctx context.Context, incidentID string) (*models.Incident, error)
}

// AssignmentSource reads assignment history. Satisfied by
// *repository.AssignmentRepository.
type AssignmentSource interface {
	ActiveForIncident(ctx context.Context, incidentID string) (*models.GuardAssignment, error)
	ListForIncident(ctx context.Context, incidentID string) ([]models.GuardAssignment, error)
}

// AlertStore is the alert/assignment persistence consumed by the
// engine. Satisfied by *repository.AlertRepository.
type AlertStore interface {
	CreateAlerts(ctx context.Context, incidentID string, candidates []models.CandidateGuard, deadline time.Time) ([]models.GuardAlert, error)
	GetAlert(ctx context.Context, alertID string) (*models.GuardAlert, error)
	AlertedGuardIDs(ctx context.Context, incidentID string) ([]string, error)
	Accept(ctx context.Context, alertID, guardID string) (*repository.AcceptOutcome, error)
	MarkTerminal(ctx context.Context, alertID, guardID string, status models.AlertStatus) (*models.GuardAlert, bool, error)
	ListOverdueSent(ctx context.Context, now time.Time, limit int) ([]models.GuardAlert, error)
}

// CandidateSearcher finds ranked guard candidates near a beacon.
// Satisfied by *Searcher.
type CandidateSearcher interface {
	FindCandidateGuards(ctx context.Context, originBeaconID string, maxGuards int, excludeGuardIDs []string) ([]models.CandidateGuard, error)
}

// AlertResult is the outcome of a guard response or expiry.
type AlertResult struct {
	Alert      *models.GuardAlert
	Assignment *models.GuardAssignment
	// Stale: the alert was already terminal; nothing changed.
	Stale bool
	// TooLate: the accept lost a race and the alert was auto-expired.
	TooLate bool
	// Escalated: the follow-up alert created after a decline, expiry,
	// or busy accept; nil when no candidate remained.
	Escalated *models.GuardAlert
}

// LifecycleManager drives the guard-alert state machine and escalation.
// It is the only component that creates alerts and (through the alert
// store's transactions) assignments. Notification and audit happen
// after the owning transaction commits, never inside it.
type LifecycleManager struct {
	incidents IncidentStore
	alerts    AlertStore
	searcher  CandidateSearcher
	notifier  notifier.Notifier
	recorder  audit.Recorder
	logger    *zap.Logger

	maxGuards        int
	responseDeadline time.Duration
}

// NewLifecycleManager creates an alert lifecycle manager. maxGuards and
// responseDeadline come from configuration, threaded explicitly.
func NewLifecycleManager(
	incidents IncidentStore,
	alerts AlertStore,
	searcher CandidateSearcher,
	notif notifier.Notifier,
	recorder audit.Recorder,
	maxGuards int,
	responseDeadline time.Duration,
	logger *zap.Logger,
) *LifecycleManager {
	return &LifecycleManager{
		incidents:        incidents,
		alerts:           alerts,
		searcher:         searcher,
		notifier:         notif,
		recorder:         recorder,
		logger:           logger,
		maxGuards:        maxGuards,
		responseDeadline: responseDeadline,
	}
}

// DispatchInitialAlerts alerts the first batch of candidates for a
// freshly created incident. Guards already alerted for this incident
// are excluded, so a raced merge calling in twice cannot re-alert
// anyone. Zero candidates is a reportable, non-fatal condition: the
// incident stays CREATED and a human operator escalation is an
// external concern.
func (m *LifecycleManager) DispatchInitialAlerts(ctx context.Context, incident *models.Incident) ([]models.GuardAlert, error) {
	if incident == nil {
		return nil, fmt.Errorf("incident is required")
	}

	excluded, err := m.alerts.AlertedGuardIDs(ctx, incident.IncidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alerted guards: %w", err)
	}

	candidates, err := m.searcher.FindCandidateGuards(ctx, incident.BeaconID, m.maxGuards, excluded)
	if err != nil {
		return nil, fmt.Errorf("candidate search failed: %w", err)
	}
	if len(candidates) == 0 {
		m.reportNoCandidates(ctx, incident)
		return nil, nil
	}

	deadline := time.Now().UTC().Add(m.responseDeadline)
	created, err := m.alerts.CreateAlerts(ctx, incident.IncidentID, candidates, deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to create alerts: %w", err)
	}
	if len(created) == 0 {
		// The incident picked up an active assignment between dedup
		// and dispatch; nothing to send.
		return nil, nil
	}

	for i := range created {
		m.notifyOffer(ctx, incident, &created[i])
	}

	m.recorder.Record(ctx, audit.Event{
		Kind:       audit.KindAlertsDispatched,
		IncidentID: incident.IncidentID,
		BeaconID:   incident.BeaconID,
		Details: map[string]interface{}{
			"alert_count": len(created),
			"first_rank":  created[0].PriorityRank,
			"last_rank":   created[len(created)-1].PriorityRank,
		},
	})

	return created, nil
}

// Accept applies a guard's accept. First acceptor wins: the result of a
// lost race is TooLate with the alert auto-expired; accepting a
// terminal alert is Stale. Both are flags, not errors.
func (m *LifecycleManager) Accept(ctx context.Context, alertID, guardID string) (*AlertResult, error) {
	outcome, err := m.alerts.Accept(ctx, alertID, guardID)
	if err != nil {
		if errors.Is(err, repository.ErrStaleAlert) {
			return &AlertResult{Alert: outcome.Alert, Stale: true}, nil
		}
		if errors.Is(err, repository.ErrAlreadyAssigned) {
			m.recorder.Record(ctx, audit.Event{
				Kind:       audit.KindAlertExpired,
				IncidentID: outcome.Alert.IncidentID,
				GuardID:    guardID,
				AlertID:    alertID,
				Details:    map[string]interface{}{"reason": "already_assigned"},
			})
			// The guard may be busy on a different incident, in which
			// case this incident is still CREATED and the expired alert
			// could have been its last pending one. Escalate like a
			// decline so the incident keeps moving; escalate itself is a
			// no-op when the incident is no longer CREATED (the
			// rivals-already-expired race).
			escalated, escErr := m.escalate(ctx, outcome.Alert.IncidentID)
			if escErr != nil {
				return &AlertResult{Alert: outcome.Alert, TooLate: true},
					fmt.Errorf("escalation after busy accept failed: %w", escErr)
			}
			return &AlertResult{Alert: outcome.Alert, TooLate: true, Escalated: escalated}, nil
		}
		return nil, err
	}

	incident, getErr := m.incidents.GetIncident(ctx, outcome.Alert.IncidentID)
	if getErr != nil {
		m.logger.Error("Failed to load incident after accept",
			zap.String("incident_id", outcome.Alert.IncidentID),
			zap.Error(getErr),
		)
	}

	m.recorder.Record(ctx, audit.Event{
		Kind:       audit.KindAlertAccepted,
		IncidentID: outcome.Alert.IncidentID,
		GuardID:    guardID,
		AlertID:    alertID,
		Details: map[string]interface{}{
			"assignment_id":  outcome.Assignment.AssignmentID,
			"expired_rivals": len(outcome.ExpiredRivalIDs),
		},
	})

	m.notifyGuard(ctx, guardID, notifier.Message{
		Kind:       notifier.KindAssignmentConfirmed,
		AlertID:    alertID,
		IncidentID: outcome.Alert.IncidentID,
		BeaconID:   beaconIDOf(incident),
	}, outcome.Alert.IncidentID)

	// Rivals were expired inside the accept transaction; tell them.
	for _, rivalID := range outcome.ExpiredRivalIDs {
		rival, err := m.alerts.GetAlert(ctx, rivalID)
		if err != nil {
			m.logger.Warn("Failed to load stood-down alert",
				zap.String("alert_id", rivalID),
				zap.Error(err),
			)
			continue
		}
		m.notifyGuard(ctx, rival.GuardID, notifier.Message{
			Kind:       notifier.KindAlertStoodDown,
			AlertID:    rival.AlertID,
			IncidentID: rival.IncidentID,
			BeaconID:   beaconIDOf(incident),
		}, rival.IncidentID)
	}

	return &AlertResult{Alert: outcome.Alert, Assignment: outcome.Assignment}, nil
}

// Decline applies a guard's decline and escalates to the next
// candidate. Declining a terminal alert is a Stale no-op.
func (m *LifecycleManager) Decline(ctx context.Context, alertID, guardID string) (*AlertResult, error) {
	alert, changed, err := m.alerts.MarkTerminal(ctx, alertID, guardID, models.AlertDeclined)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &AlertResult{Alert: alert, Stale: true}, nil
	}

	m.recorder.Record(ctx, audit.Event{
		Kind:       audit.KindAlertDeclined,
		IncidentID: alert.IncidentID,
		GuardID:    alert.GuardID,
		AlertID:    alert.AlertID,
	})

	escalated, err := m.escalate(ctx, alert.IncidentID)
	if err != nil {
		return &AlertResult{Alert: alert}, fmt.Errorf("escalation after decline failed: %w", err)
	}

	return &AlertResult{Alert: alert, Escalated: escalated}, nil
}

// Expire transitions an overdue SENT alert and escalates, identically
// to a decline except for the terminal state and audit kind. It is
// idempotent: expiring an already-terminal alert changes nothing.
func (m *LifecycleManager) Expire(ctx context.Context, alertID string) (*AlertResult, error) {
	alert, changed, err := m.alerts.MarkTerminal(ctx, alertID, "", models.AlertExpired)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &AlertResult{Alert: alert, Stale: true}, nil
	}

	m.recorder.Record(ctx, audit.Event{
		Kind:       audit.KindAlertExpired,
		IncidentID: alert.IncidentID,
		GuardID:    alert.GuardID,
		AlertID:    alert.AlertID,
		Details:    map[string]interface{}{"reason": "deadline"},
	})

	escalated, err := m.escalate(ctx, alert.IncidentID)
	if err != nil {
		return &AlertResult{Alert: alert}, fmt.Errorf("escalation after expiry failed: %w", err)
	}

	return &AlertResult{Alert: alert, Escalated: escalated}, nil
}

// escalate issues the next-ranked alert for an incident after a decline
// or expiry. The search restarts from the origin beacon every call; the
// exclusion set of ever-alerted guards keeps that correct, it only
// re-traverses a small graph.
func (m *LifecycleManager) escalate(ctx context.Context, incidentID string) (*models.GuardAlert, error) {
	incident, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load incident: %w", err)
	}
	if incident.Status != models.IncidentCreated {
		// Assigned or resolved in the meantime; nothing to escalate.
		return nil, nil
	}

	excluded, err := m.alerts.AlertedGuardIDs(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alerted guards: %w", err)
	}

	candidates, err := m.searcher.FindCandidateGuards(ctx, incident.BeaconID, 1, excluded)
	if err != nil {
		return nil, fmt.Errorf("candidate search failed: %w", err)
	}
	if len(candidates) == 0 {
		m.reportNoCandidates(ctx, incident)
		return nil, nil
	}

	deadline := time.Now().UTC().Add(m.responseDeadline)
	created, err := m.alerts.CreateAlerts(ctx, incidentID, candidates[:1], deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to create escalation alert: %w", err)
	}
	if len(created) == 0 {
		return nil, nil
	}

	next := &created[0]
	m.notifyOffer(ctx, incident, next)

	m.recorder.Record(ctx, audit.Event{
		Kind:       audit.KindAlertsDispatched,
		IncidentID: incidentID,
		BeaconID:   incident.BeaconID,
		GuardID:    next.GuardID,
		AlertID:    next.AlertID,
		Details: map[string]interface{}{
			"alert_count": 1,
			"first_rank":  next.PriorityRank,
			"last_rank":   next.PriorityRank,
			"escalation":  true,
		},
	})

	return next, nil
}

// notifyOffer pushes an alert offer. Delivery failure never rolls back
// the alert record; it is logged and audited so the notification
// collaborator can retry out of band.
func (m *LifecycleManager) notifyOffer(ctx context.Context, incident *models.Incident, alert *models.GuardAlert) {
	m.notifyGuard(ctx, alert.GuardID, notifier.Message{
		Kind:         notifier.KindAlertOffer,
		AlertID:      alert.AlertID,
		IncidentID:   alert.IncidentID,
		BeaconID:     incident.BeaconID,
		Priority:     incident.Priority,
		PriorityRank: alert.PriorityRank,
		Deadline:     alert.ResponseDeadline,
	}, alert.IncidentID)
}

func (m *LifecycleManager) notifyGuard(ctx context.Context, guardID string, msg notifier.Message, incidentID string) {
	if err := m.notifier.Notify(ctx, guardID, msg); err != nil {
		m.logger.Error("Failed to notify guard",
			zap.String("guard_id", guardID),
			zap.String("incident_id", incidentID),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
		m.recorder.Record(ctx, audit.Event{
			Kind:       audit.KindNotifyFailed,
			IncidentID: incidentID,
			GuardID:    guardID,
			AlertID:    msg.AlertID,
			Details:    map[string]interface{}{"error": err.Error()},
		})
	}
}

func (m *LifecycleManager) reportNoCandidates(ctx context.Context, incident *models.Incident) {
	m.logger.Warn("No candidate guards for incident",
		zap.String("incident_id", incident.IncidentID),
		zap.String("beacon_id", incident.BeaconID),
	)
	m.recorder.Record(ctx, audit.Event{
		Kind:       audit.KindNoCandidates,
		IncidentID: incident.IncidentID,
		BeaconID:   incident.BeaconID,
	})
}

func beaconIDOf(incident *models.Incident) string {
	if incident == nil {
		return ""
	}
	return incident.BeaconID
}
