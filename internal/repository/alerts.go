package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"campus-dispatch/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertRepository drives the guard-alert state machine
// (SENT -> ACCEPTED | DECLINED | EXPIRED) and is the only writer of
// guard_assignments. Every transition locks the incident row first, so
// the uniqueness invariants are enforced transactionally rather than
// checked-then-written.
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository creates an alert repository.
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	alert_id, incident_id, guard_id, status, priority_rank,
	via_beacon_id, hop_priority, response_deadline, assignment_id,
	created_at, responded_at
`

// AcceptOutcome is the result of a successful accept transaction.
type AcceptOutcome struct {
	Alert           *models.GuardAlert
	Assignment      *models.GuardAssignment
	ExpiredRivalIDs []string
}

// CreateAlerts inserts one SENT alert per candidate with consecutive
// priority ranks continuing after the incident's current maximum. The
// incident row lock makes rank assignment race-free; if the incident
// already holds an active assignment nothing is inserted (a raced merge
// must not double-dispatch). Notification happens after this commits.
func (r *AlertRepository) CreateAlerts(
	ctx context.Context,
	incidentID string,
	candidates []models.CandidateGuard,
	deadline time.Time,
) ([]models.GuardAlert, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}
	if len(candidates) == 0 {
		return nil, nil
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
		return nil, nil
	}

	assigned, err := incidentHasActiveAssignment(ctx, tx, incidentID)
	if err != nil {
		return nil, err
	}
	if assigned {
		return nil, nil
	}

	var maxRank int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(priority_rank), 0)
		FROM guard_alerts
		WHERE incident_id = $1
	`, incidentID).Scan(&maxRank); err != nil {
		return nil, fmt.Errorf("failed to read max priority rank: %w", err)
	}

	now := time.Now().UTC()
	alerts := make([]models.GuardAlert, 0, len(candidates))
	for i, candidate := range candidates {
		alert := models.GuardAlert{
			AlertID:          uuid.NewString(),
			IncidentID:       incidentID,
			GuardID:          candidate.Guard.GuardID,
			Status:           models.AlertSent,
			PriorityRank:     maxRank + i + 1,
			ViaBeaconID:      candidate.ViaBeaconID,
			HopPriority:      candidate.HopPriority,
			ResponseDeadline: &deadline,
			CreatedAt:        now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO guard_alerts (
				alert_id, incident_id, guard_id, status, priority_rank,
				via_beacon_id, hop_priority, response_deadline, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			alert.AlertID,
			alert.IncidentID,
			alert.GuardID,
			alert.Status,
			alert.PriorityRank,
			alert.ViaBeaconID,
			alert.HopPriority,
			alert.ResponseDeadline,
			alert.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to insert guard alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit alert creation: %w", err)
	}

	return alerts, nil
}

// GetAlert returns one alert by id.
func (r *AlertRepository) GetAlert(ctx context.Context, alertID string) (*models.GuardAlert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM guard_alerts WHERE alert_id = $1`,
		alertID,
	)
	alert, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// AlertedGuardIDs returns every guard ever alerted for an incident,
// regardless of alert state. Used as the search exclusion set so a
// guard is never re-alerted for the same incident.
func (r *AlertRepository) AlertedGuardIDs(ctx context.Context, incidentID string) ([]string, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT guard_id
		FROM guard_alerts
		WHERE incident_id = $1
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerted guards: %w", err)
	}
	defer rows.Close()

	var guardIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan guard id: %w", err)
		}
		guardIDs = append(guardIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerted guards: %w", err)
	}

	return guardIDs, nil
}

// Accept executes the first-acceptor-wins transition: the alert becomes
// ACCEPTED, an active assignment is created, the incident moves to
// ASSIGNED, and every rival SENT alert is expired, all in one
// transaction under the incident row lock. Losing a race to a
// concurrent accept expires this alert and returns ErrAlreadyAssigned.
func (r *AlertRepository) Accept(ctx context.Context, alertID, guardID string) (*AcceptOutcome, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}
	if guardID == "" {
		return nil, fmt.Errorf("guard_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	alert, err := lockAlert(ctx, tx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.GuardID != guardID {
		return nil, fmt.Errorf("alert %s does not belong to guard %s", alertID, guardID)
	}

	// Incident lock orders all transitions for this incident.
	if _, err := lockIncident(ctx, tx, alert.IncidentID); err != nil {
		return nil, err
	}

	if alert.Status != models.AlertSent {
		return &AcceptOutcome{Alert: alert}, fmt.Errorf("alert %s is %s: %w", alertID, alert.Status, ErrStaleAlert)
	}

	now := time.Now().UTC()

	incidentTaken, err := incidentHasActiveAssignment(ctx, tx, alert.IncidentID)
	if err != nil {
		return nil, err
	}
	guardBusy := false
	if !incidentTaken {
		guardBusy, err = guardHasActiveAssignment(ctx, tx, guardID)
		if err != nil {
			return nil, err
		}
	}
	if incidentTaken || guardBusy {
		// Lost the race; stand this alert down.
		if _, err := tx.ExecContext(ctx, `
			UPDATE guard_alerts
			SET status = $2, responded_at = $3
			WHERE alert_id = $1
		`, alertID, models.AlertExpired, now); err != nil {
			return nil, fmt.Errorf("failed to expire losing alert: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit alert expiry: %w", err)
		}
		alert.Status = models.AlertExpired
		alert.RespondedAt = &now
		return &AcceptOutcome{Alert: alert}, fmt.Errorf("accept of alert %s: %w", alertID, ErrAlreadyAssigned)
	}

	assignment := &models.GuardAssignment{
		AssignmentID: uuid.NewString(),
		IncidentID:   alert.IncidentID,
		GuardID:      guardID,
		IsActive:     true,
		AssignedAt:   now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO guard_assignments (assignment_id, incident_id, guard_id, is_active, assigned_at)
		VALUES ($1, $2, $3, TRUE, $4)
	`, assignment.AssignmentID, assignment.IncidentID, assignment.GuardID, assignment.AssignedAt); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE guard_alerts
		SET status = $2, assignment_id = $3, responded_at = $4
		WHERE alert_id = $1
	`, alertID, models.AlertAccepted, assignment.AssignmentID, now); err != nil {
		return nil, fmt.Errorf("failed to mark alert accepted: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET status = $2, assigned_guard_id = $3, updated_at = $4
		WHERE incident_id = $1
	`, alert.IncidentID, models.IncidentAssigned, guardID, now); err != nil {
		return nil, fmt.Errorf("failed to advance incident status: %w", err)
	}

	// Rivals are stood down: the race is won.
	rivalRows, err := tx.QueryContext(ctx, `
		UPDATE guard_alerts
		SET status = $3, responded_at = $4
		WHERE incident_id = $1 AND alert_id <> $2 AND status = $5
		RETURNING alert_id
	`, alert.IncidentID, alertID, models.AlertExpired, now, models.AlertSent)
	if err != nil {
		return nil, fmt.Errorf("failed to expire rival alerts: %w", err)
	}
	var expiredRivals []string
	for rivalRows.Next() {
		var id string
		if err := rivalRows.Scan(&id); err != nil {
			rivalRows.Close()
			return nil, fmt.Errorf("failed to scan rival alert id: %w", err)
		}
		expiredRivals = append(expiredRivals, id)
	}
	rivalRows.Close()
	if err := rivalRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rival alerts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit accept transaction: %w", err)
	}

	alert.Status = models.AlertAccepted
	alert.AssignmentID = &assignment.AssignmentID
	alert.RespondedAt = &now

	r.logger.Info("Alert accepted",
		zap.String("alert_id", alertID),
		zap.String("incident_id", alert.IncidentID),
		zap.String("guard_id", guardID),
		zap.Int("expired_rivals", len(expiredRivals)),
	)

	return &AcceptOutcome{
		Alert:           alert,
		Assignment:      assignment,
		ExpiredRivalIDs: expiredRivals,
	}, nil
}

// MarkTerminal transitions a SENT alert to DECLINED or EXPIRED. Calling
// it on an already-terminal alert is an idempotent no-op (changed is
// false). guardID is checked when non-empty; the expiry sweeper passes
// an empty guard id.
func (r *AlertRepository) MarkTerminal(ctx context.Context, alertID, guardID string, status models.AlertStatus) (*models.GuardAlert, bool, error) {
	if alertID == "" {
		return nil, false, fmt.Errorf("alert_id is required")
	}
	if status != models.AlertDeclined && status != models.AlertExpired {
		return nil, false, fmt.Errorf("invalid terminal status: %s", status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	alert, err := lockAlert(ctx, tx, alertID)
	if err != nil {
		return nil, false, err
	}
	if guardID != "" && alert.GuardID != guardID {
		return nil, false, fmt.Errorf("alert %s does not belong to guard %s", alertID, guardID)
	}
	if alert.Status.Terminal() {
		return alert, false, tx.Commit()
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE guard_alerts
		SET status = $2, responded_at = $3
		WHERE alert_id = $1
	`, alertID, status, now); err != nil {
		return nil, false, fmt.Errorf("failed to mark alert %s: %w", status, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit alert transition: %w", err)
	}

	alert.Status = status
	alert.RespondedAt = &now

	return alert, true, nil
}

// ListOverdueSent returns SENT alerts whose response deadline has
// passed, oldest first, for the expiry sweeper.
func (r *AlertRepository) ListOverdueSent(ctx context.Context, now time.Time, limit int) ([]models.GuardAlert, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM guard_alerts
		WHERE status = $1 AND response_deadline IS NOT NULL AND response_deadline <= $2
		ORDER BY response_deadline
		LIMIT $3
	`, models.AlertSent, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.GuardAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan overdue alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate overdue alerts: %w", err)
	}

	return alerts, nil
}

// lockAlert reads an alert under FOR UPDATE.
func lockAlert(ctx context.Context, tx *sql.Tx, alertID string) (*models.GuardAlert, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM guard_alerts WHERE alert_id = $1 FOR UPDATE`,
		alertID,
	)
	alert, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock alert row: %w", err)
	}
	return alert, nil
}

func incidentHasActiveAssignment(ctx context.Context, tx *sql.Tx, incidentID string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM guard_assignments
			WHERE incident_id = $1 AND is_active
		)
	`, incidentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check incident assignment: %w", err)
	}
	return exists, nil
}

func guardHasActiveAssignment(ctx context.Context, tx *sql.Tx, guardID string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM guard_assignments
			WHERE guard_id = $1 AND is_active
		)
	`, guardID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check guard assignment: %w", err)
	}
	return exists, nil
}

func scanAlert(row rowScanner) (*models.GuardAlert, error) {
	var alert models.GuardAlert
	var deadline, respondedAt sql.NullTime
	var assignmentID sql.NullString
	if err := row.Scan(
		&alert.AlertID,
		&alert.IncidentID,
		&alert.GuardID,
		&alert.Status,
		&alert.PriorityRank,
		&alert.ViaBeaconID,
		&alert.HopPriority,
		&deadline,
		&assignmentID,
		&alert.CreatedAt,
		&respondedAt,
	); err != nil {
		return nil, err
	}
	if deadline.Valid {
		alert.ResponseDeadline = &deadline.Time
	}
	if assignmentID.Valid {
		alert.AssignmentID = &assignmentID.String
	}
	if respondedAt.Valid {
		alert.RespondedAt = &respondedAt.Time
	}
	return &alert, nil
}
