package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campus-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// uniqueViolation is the postgres error code raised by the partial
// unique index on incidents(beacon_id) WHERE status <> 'RESOLVED'.
const uniqueViolation = "23505"

// IncidentRepository owns the incident dedup invariant: exactly one
// non-resolved incident per beacon. All writes run inside a transaction
// that first locks the beacon row, so concurrent submissions for the
// same beacon serialize here.
type IncidentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIncidentRepository creates an incident repository.
func NewIncidentRepository(db *sql.DB, logger *zap.Logger) *IncidentRepository {
	return &IncidentRepository{
		db:     db,
		logger: logger,
	}
}

const incidentColumns = `
	incident_id, beacon_id, status, priority,
	first_signal_time, last_signal_time, assigned_guard_id,
	created_at, updated_at
`

// ResolveOrCreateIncident attaches the signal to the open incident at
// the beacon, or creates a new incident when none exists. A unique
// violation racing past the beacon lock is retried once as a merge, so
// duplicate incidents are never surfaced.
func (r *IncidentRepository) ResolveOrCreateIncident(
	ctx context.Context,
	beaconID string,
	signalType models.SignalType,
	reporterID *string,
	details string,
) (*models.Incident, bool, *models.IncidentSignal, error) {
	if beaconID == "" {
		return nil, false, nil, fmt.Errorf("beacon_id is required")
	}
	if !signalType.Valid() {
		return nil, false, nil, fmt.Errorf("invalid signal type: %s", signalType)
	}

	// One retry: a concurrent creation that slipped past the lock
	// turns this call into a merge on the second attempt.
	for attempt := 0; attempt < 2; attempt++ {
		incident, wasCreated, signal, err := r.resolveOrCreateOnce(ctx, beaconID, signalType, reporterID, details)
		if err != nil {
			if isUniqueViolation(err) && attempt == 0 {
				r.logger.Warn("Incident creation raced, retrying as merge",
					zap.String("beacon_id", beaconID),
				)
				continue
			}
			return nil, false, nil, err
		}
		return incident, wasCreated, signal, nil
	}

	return nil, false, nil, fmt.Errorf("incident dedup retry exhausted for beacon %s", beaconID)
}

func (r *IncidentRepository) resolveOrCreateOnce(
	ctx context.Context,
	beaconID string,
	signalType models.SignalType,
	reporterID *string,
	details string,
) (*models.Incident, bool, *models.IncidentSignal, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Per-beacon serialization point.
	if err := lockBeacon(ctx, tx, beaconID); err != nil {
		return nil, false, nil, err
	}

	now := time.Now().UTC()
	severity := signalType.Severity()

	incident, err := openIncidentForBeacon(ctx, tx, beaconID)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, nil, fmt.Errorf("failed to query open incident: %w", err)
	}

	wasCreated := false
	if err == sql.ErrNoRows {
		incident = &models.Incident{
			IncidentID:      uuid.NewString(),
			BeaconID:        beaconID,
			Status:          models.IncidentCreated,
			Priority:        severity,
			FirstSignalTime: now,
			LastSignalTime:  now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO incidents (
				incident_id, beacon_id, status, priority,
				first_signal_time, last_signal_time,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			incident.IncidentID,
			incident.BeaconID,
			incident.Status,
			incident.Priority,
			incident.FirstSignalTime,
			incident.LastSignalTime,
			incident.CreatedAt,
			incident.UpdatedAt,
		); err != nil {
			return nil, false, nil, fmt.Errorf("failed to create incident: %w", err)
		}
		wasCreated = true
	} else {
		// Merge: signals never downgrade priority.
		if severity > incident.Priority {
			incident.Priority = severity
		}
		incident.LastSignalTime = now
		incident.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			UPDATE incidents
			SET priority = $2, last_signal_time = $3, updated_at = $3
			WHERE incident_id = $1
		`, incident.IncidentID, incident.Priority, now); err != nil {
			return nil, false, nil, fmt.Errorf("failed to merge signal into incident: %w", err)
		}
	}

	signal := &models.IncidentSignal{
		SignalID:   uuid.NewString(),
		IncidentID: incident.IncidentID,
		SignalType: signalType,
		ReporterID: reporterID,
		Details:    details,
		ReceivedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO incident_signals (
			signal_id, incident_id, signal_type, reporter_id, details, received_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`,
		signal.SignalID,
		signal.IncidentID,
		signal.SignalType,
		signal.ReporterID,
		signal.Details,
		signal.ReceivedAt,
	); err != nil {
		return nil, false, nil, fmt.Errorf("failed to insert incident signal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, nil, fmt.Errorf("failed to commit incident transaction: %w", err)
	}

	return incident, wasCreated, signal, nil
}

// GetIncident returns one incident by id.
func (r *IncidentRepository) GetIncident(ctx context.Context, incidentID string) (*models.Incident, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE incident_id = $1`,
		incidentID,
	)
	incident, err := scanIncident(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	return incident, nil
}

// ListSignals returns the signals attached to an incident in arrival order.
func (r *IncidentRepository) ListSignals(ctx context.Context, incidentID string) ([]models.IncidentSignal, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT signal_id, incident_id, signal_type, reporter_id, details, received_at
		FROM incident_signals
		WHERE incident_id = $1
		ORDER BY received_at, signal_id
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incident signals: %w", err)
	}
	defer rows.Close()

	var signals []models.IncidentSignal
	for rows.Next() {
		var s models.IncidentSignal
		var reporter sql.NullString
		if err := rows.Scan(&s.SignalID, &s.IncidentID, &s.SignalType, &reporter, &s.Details, &s.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan incident signal: %w", err)
		}
		if reporter.Valid {
			s.ReporterID = &reporter.String
		}
		signals = append(signals, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incident signals: %w", err)
	}

	return signals, nil
}

// MarkInProgress transitions an ASSIGNED incident to IN_PROGRESS. Only
// the assigned guard may start work on it.
func (r *IncidentRepository) MarkInProgress(ctx context.Context, incidentID, guardID string) error {
	if incidentID == "" {
		return fmt.Errorf("incident_id is required")
	}
	if guardID == "" {
		return fmt.Errorf("guard_id is required")
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE incidents
		SET status = $3, updated_at = $4
		WHERE incident_id = $1 AND assigned_guard_id = $2 AND status = $5
	`, incidentID, guardID, models.IncidentInProgress, time.Now().UTC(), models.IncidentAssigned)
	if err != nil {
		return fmt.Errorf("failed to mark incident in progress: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("incident %s is not assigned to guard %s: %w", incidentID, guardID, ErrNotFound)
	}

	return nil
}

// ResolveIncident terminates an incident: status RESOLVED, the active
// assignment deactivated, and any still-pending alerts expired. Rows
// are never deleted.
func (r *IncidentRepository) ResolveIncident(ctx context.Context, incidentID, guardID string) (*models.Incident, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	incident, err := lockIncident(ctx, tx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status == models.IncidentResolved {
		// Idempotent: resolving twice is a no-op.
		return incident, tx.Commit()
	}

	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET status = $2, updated_at = $3
		WHERE incident_id = $1
	`, incidentID, models.IncidentResolved, now); err != nil {
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE guard_assignments
		SET is_active = FALSE, deactivated_at = $2, end_reason = 'resolved'
		WHERE incident_id = $1 AND is_active
	`, incidentID, now); err != nil {
		return nil, fmt.Errorf("failed to deactivate assignment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE guard_alerts
		SET status = $2, responded_at = $3
		WHERE incident_id = $1 AND status = $4
	`, incidentID, models.AlertExpired, now, models.AlertSent); err != nil {
		return nil, fmt.Errorf("failed to expire pending alerts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit incident resolution: %w", err)
	}

	incident.Status = models.IncidentResolved
	incident.UpdatedAt = now

	r.logger.Info("Incident resolved",
		zap.String("incident_id", incidentID),
		zap.String("guard_id", guardID),
	)

	return incident, nil
}

// UnassignGuard manually releases the active assignment and returns the
// incident to CREATED so it can be dispatched again.
func (r *IncidentRepository) UnassignGuard(ctx context.Context, incidentID string) (*models.Incident, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	incident, err := lockIncident(ctx, tx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status == models.IncidentResolved {
		return nil, fmt.Errorf("incident %s is already resolved", incidentID)
	}

	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE guard_assignments
		SET is_active = FALSE, deactivated_at = $2, end_reason = 'unassigned'
		WHERE incident_id = $1 AND is_active
	`, incidentID, now); err != nil {
		return nil, fmt.Errorf("failed to deactivate assignment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET status = $2, assigned_guard_id = NULL, updated_at = $3
		WHERE incident_id = $1
	`, incidentID, models.IncidentCreated, now); err != nil {
		return nil, fmt.Errorf("failed to reset incident status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit unassignment: %w", err)
	}

	incident.Status = models.IncidentCreated
	incident.AssignedGuardID = nil
	incident.UpdatedAt = now

	return incident, nil
}

// ============================================
// Shared helpers (also used by the alert repository)
// ============================================

// openIncidentForBeacon finds the most recent non-resolved incident at
// a beacon. Caller holds the beacon row lock.
func openIncidentForBeacon(ctx context.Context, tx *sql.Tx, beaconID string) (*models.Incident, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+incidentColumns+`
		FROM incidents
		WHERE beacon_id = $1 AND status <> $2
		ORDER BY first_signal_time DESC
		LIMIT 1
	`, beaconID, models.IncidentResolved)
	return scanIncident(row)
}

// lockIncident takes the per-incident row lock serializing alert and
// assignment transitions for one incident.
func lockIncident(ctx context.Context, tx *sql.Tx, incidentID string) (*models.Incident, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE incident_id = $1 FOR UPDATE`,
		incidentID,
	)
	incident, err := scanIncident(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock incident row: %w", err)
	}
	return incident, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var incident models.Incident
	var assignedGuard sql.NullString
	if err := row.Scan(
		&incident.IncidentID,
		&incident.BeaconID,
		&incident.Status,
		&incident.Priority,
		&incident.FirstSignalTime,
		&incident.LastSignalTime,
		&assignedGuard,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if assignedGuard.Valid {
		incident.AssignedGuardID = &assignedGuard.String
	}
	return &incident, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
