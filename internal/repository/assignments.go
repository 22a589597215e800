package repository

import (
	"context"
	"database/sql"
	"fmt"

	"campus-dispatch/internal/models"

	"go.uber.org/zap"
)

// AssignmentRepository reads guard assignments. Writes happen inside
// the alert and incident transactions; assignments are deactivated,
// never deleted, to preserve history.
type AssignmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAssignmentRepository creates an assignment repository.
func NewAssignmentRepository(db *sql.DB, logger *zap.Logger) *AssignmentRepository {
	return &AssignmentRepository{
		db:     db,
		logger: logger,
	}
}

const assignmentColumns = `
	assignment_id, incident_id, guard_id, is_active,
	assigned_at, deactivated_at, end_reason
`

// ActiveForIncident returns the active assignment for an incident, or
// ErrNotFound when the incident is unassigned.
func (r *AssignmentRepository) ActiveForIncident(ctx context.Context, incidentID string) (*models.GuardAssignment, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM guard_assignments
		WHERE incident_id = $1 AND is_active
	`, incidentID)
	return scanAssignment(row, "incident "+incidentID)
}

// ActiveForGuard returns the guard's active assignment, or ErrNotFound
// when the guard is uncommitted.
func (r *AssignmentRepository) ActiveForGuard(ctx context.Context, guardID string) (*models.GuardAssignment, error) {
	if guardID == "" {
		return nil, fmt.Errorf("guard_id is required")
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM guard_assignments
		WHERE guard_id = $1 AND is_active
	`, guardID)
	return scanAssignment(row, "guard "+guardID)
}

// ListForIncident returns the full assignment history of an incident,
// newest first.
func (r *AssignmentRepository) ListForIncident(ctx context.Context, incidentID string) ([]models.GuardAssignment, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM guard_assignments
		WHERE incident_id = $1
		ORDER BY assigned_at DESC
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []models.GuardAssignment
	for rows.Next() {
		a, err := scanAssignmentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}

	return assignments, nil
}

func scanAssignment(row *sql.Row, subject string) (*models.GuardAssignment, error) {
	a, err := scanAssignmentRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("active assignment for %s: %w", subject, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

func scanAssignmentRow(row rowScanner) (*models.GuardAssignment, error) {
	var a models.GuardAssignment
	var deactivatedAt sql.NullTime
	var endReason sql.NullString
	if err := row.Scan(
		&a.AssignmentID,
		&a.IncidentID,
		&a.GuardID,
		&a.IsActive,
		&a.AssignedAt,
		&deactivatedAt,
		&endReason,
	); err != nil {
		return nil, err
	}
	if deactivatedAt.Valid {
		a.DeactivatedAt = &deactivatedAt.Time
	}
	if endReason.Valid {
		a.EndReason = &endReason.String
	}
	return &a, nil
}
