package dispatch

import (
	"context"
	"fmt"

	"campus-dispatch/internal/audit"
	"campus-dispatch/internal/models"

	"go.uber.org/zap"
)

// SignalInput is one inbound emergency signal.
type SignalInput struct {
	BeaconID   string            `json:"beacon_id"`
	SignalType models.SignalType `json:"signal_type"`
	ReporterID *string           `json:"reporter_id,omitempty"`
	Details    string            `json:"details,omitempty"`
}

// DispatchResult is the outcome of one signal submission.
type DispatchResult struct {
	Incident   *models.Incident       `json:"incident"`
	WasCreated bool                   `json:"was_created"`
	Signal     *models.IncidentSignal `json:"signal"`
	Alerts     []models.GuardAlert    `json:"alerts,omitempty"`
}

// GuardStore mutates guard dispatch state. Satisfied by
// *repository.GuardRepository.
type GuardStore interface {
	GetGuard(ctx context.Context, guardID string) (*models.GuardProfile, error)
	UpdateLocation(ctx context.Context, guardID, beaconID string) error
	SetAvailability(ctx context.Context, guardID string, available bool) error
}

// IncidentDetail is the full review view of one incident: the merged
// signals and the assignment history alongside the incident row.
type IncidentDetail struct {
	Incident    *models.Incident         `json:"incident"`
	Signals     []models.IncidentSignal  `json:"signals"`
	Assignments []models.GuardAssignment `json:"assignments"`
}

// Orchestrator is the entrypoint of the dispatch engine: it validates
// signals, runs dedup, and hands fresh incidents to the lifecycle
// manager. Guard responses and manual operations pass through it so
// every state change is audited in one place.
type Orchestrator struct {
	incidents   IncidentStore
	guards      GuardStore
	assignments AssignmentSource
	lifecycle   *LifecycleManager
	recorder    audit.Recorder
	logger      *zap.Logger
}

// NewOrchestrator creates a dispatch orchestrator.
func NewOrchestrator(
	incidents IncidentStore,
	guards GuardStore,
	assignments AssignmentSource,
	lifecycle *LifecycleManager,
	recorder audit.Recorder,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		incidents:   incidents,
		guards:      guards,
		assignments: assignments,
		lifecycle:   lifecycle,
		recorder:    recorder,
		logger:      logger,
	}
}

// HandleSignal deduplicates an inbound signal into an incident and, for
// a freshly created incident, dispatches the initial alert batch. A
// merged signal never re-dispatches; escalation for an already-open
// incident is driven only by declines and expiries.
func (o *Orchestrator) HandleSignal(ctx context.Context, input SignalInput) (*DispatchResult, error) {
	if input.BeaconID == "" {
		return nil, fmt.Errorf("beacon_id is required")
	}
	if !input.SignalType.Valid() {
		return nil, fmt.Errorf("signal type %q: %w", input.SignalType, ErrInvalidSignalType)
	}

	incident, wasCreated, signal, err := o.incidents.ResolveOrCreateIncident(
		ctx, input.BeaconID, input.SignalType, input.ReporterID, input.Details,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}

	kind := audit.KindSignalMerged
	if wasCreated {
		kind = audit.KindIncidentCreated
	}
	o.recorder.Record(ctx, audit.Event{
		Kind:       kind,
		IncidentID: incident.IncidentID,
		BeaconID:   incident.BeaconID,
		Details: map[string]interface{}{
			"signal_id":   signal.SignalID,
			"signal_type": string(signal.SignalType),
			"priority":    incident.Priority,
		},
	})

	o.logger.Info("Signal handled",
		zap.String("incident_id", incident.IncidentID),
		zap.String("beacon_id", incident.BeaconID),
		zap.String("signal_type", string(input.SignalType)),
		zap.Bool("was_created", wasCreated),
		zap.Int("priority", incident.Priority),
	)

	result := &DispatchResult{
		Incident:   incident,
		WasCreated: wasCreated,
		Signal:     signal,
	}

	if wasCreated {
		alerts, err := o.lifecycle.DispatchInitialAlerts(ctx, incident)
		if err != nil {
			// The incident row exists and is the source of truth; a
			// dispatch failure leaves it CREATED for a later retry.
			return result, fmt.Errorf("initial dispatch failed: %w", err)
		}
		result.Alerts = alerts
	}

	return result, nil
}

// AcceptAlert records a guard's accept.
func (o *Orchestrator) AcceptAlert(ctx context.Context, alertID, guardID string) (*AlertResult, error) {
	return o.lifecycle.Accept(ctx, alertID, guardID)
}

// DeclineAlert records a guard's decline and escalates.
func (o *Orchestrator) DeclineAlert(ctx context.Context, alertID, guardID string) (*AlertResult, error) {
	return o.lifecycle.Decline(ctx, alertID, guardID)
}

// StartIncident moves an assigned incident to IN_PROGRESS when its
// guard arrives on scene.
func (o *Orchestrator) StartIncident(ctx context.Context, incidentID, guardID string) error {
	return o.incidents.MarkInProgress(ctx, incidentID, guardID)
}

// ResolveIncident closes an incident. The beacon becomes eligible for a
// new incident immediately after this returns.
func (o *Orchestrator) ResolveIncident(ctx context.Context, incidentID, guardID string) (*models.Incident, error) {
	incident, err := o.incidents.ResolveIncident(ctx, incidentID, guardID)
	if err != nil {
		return nil, err
	}

	o.recorder.Record(ctx, audit.Event{
		Kind:       audit.KindIncidentResolved,
		IncidentID: incident.IncidentID,
		BeaconID:   incident.BeaconID,
		GuardID:    guardID,
	})

	return incident, nil
}

// UnassignGuard releases an incident's active assignment and
// re-dispatches. Every guard ever alerted for the incident stays
// excluded, including the guard just released.
func (o *Orchestrator) UnassignGuard(ctx context.Context, incidentID string) (*models.Incident, error) {
	incident, err := o.incidents.UnassignGuard(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	o.recorder.Record(ctx, audit.Event{
		Kind:       audit.KindAssignmentDeactivated,
		IncidentID: incident.IncidentID,
		BeaconID:   incident.BeaconID,
	})

	if _, err := o.lifecycle.DispatchInitialAlerts(ctx, incident); err != nil {
		return incident, fmt.Errorf("re-dispatch after unassignment failed: %w", err)
	}

	return incident, nil
}

// ExpireAlert expires one overdue alert and escalates. Used by the
// expiry sweeper.
func (o *Orchestrator) ExpireAlert(ctx context.Context, alertID string) (*AlertResult, error) {
	return o.lifecycle.Expire(ctx, alertID)
}

// UpdateGuardLocation records a guard's location ping. Stale pings are
// the guard client's concern; the engine keeps only the latest.
func (o *Orchestrator) UpdateGuardLocation(ctx context.Context, guardID, beaconID string) error {
	return o.guards.UpdateLocation(ctx, guardID, beaconID)
}

// SetGuardAvailability toggles whether a guard receives alert offers.
// Going unavailable does not touch an existing active assignment.
func (o *Orchestrator) SetGuardAvailability(ctx context.Context, guardID string, available bool) error {
	return o.guards.SetAvailability(ctx, guardID, available)
}

// GetGuard returns a guard profile.
func (o *Orchestrator) GetGuard(ctx context.Context, guardID string) (*models.GuardProfile, error) {
	return o.guards.GetGuard(ctx, guardID)
}

// GetIncidentDetail returns the incident with its signal and assignment
// history for review tooling.
func (o *Orchestrator) GetIncidentDetail(ctx context.Context, incidentID string) (*IncidentDetail, error) {
	incident, err := o.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	signals, err := o.incidents.ListSignals(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}

	assignments, err := o.assignments.ListForIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	return &IncidentDetail{
		Incident:    incident,
		Signals:     signals,
		Assignments: assignments,
	}, nil
}
