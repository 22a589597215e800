package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"campus-dispatch/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// GuardRepository reads and mutates guard dispatch state: availability
// toggles and periodic location pings.
type GuardRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewGuardRepository creates a guard repository.
func NewGuardRepository(db *sql.DB, logger *zap.Logger) *GuardRepository {
	return &GuardRepository{
		db:     db,
		logger: logger,
	}
}

// GetGuard returns one guard profile by id.
func (r *GuardRepository) GetGuard(ctx context.Context, guardID string) (*models.GuardProfile, error) {
	if guardID == "" {
		return nil, fmt.Errorf("guard_id is required")
	}

	query := `
		SELECT guard_id, name, is_active, is_available, current_beacon_id,
		       location_ping_at, created_at, updated_at
		FROM guard_profiles
		WHERE guard_id = $1
	`

	var g models.GuardProfile
	var beaconID sql.NullString
	var pingAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, guardID).Scan(
		&g.GuardID,
		&g.Name,
		&g.IsActive,
		&g.IsAvailable,
		&beaconID,
		&pingAt,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("guard %s: %w", guardID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get guard: %w", err)
	}

	if beaconID.Valid {
		g.CurrentBeaconID = &beaconID.String
	}
	if pingAt.Valid {
		g.LocationPingAt = &pingAt.Time
	}

	return &g, nil
}

// AvailableGuardsByBeacon returns dispatchable guards grouped by their
// current beacon: on duty, available, with a reported location, not in
// the exclusion set, and not holding an active assignment elsewhere.
// Guards within a beacon are ordered by guard_id so search results are
// deterministic.
func (r *GuardRepository) AvailableGuardsByBeacon(ctx context.Context, excludeGuardIDs []string) (map[string][]models.GuardProfile, error) {
	if excludeGuardIDs == nil {
		excludeGuardIDs = []string{}
	}

	query := `
		SELECT g.guard_id, g.name, g.current_beacon_id, g.location_ping_at
		FROM guard_profiles g
		WHERE g.is_active
		  AND g.is_available
		  AND g.current_beacon_id IS NOT NULL
		  AND NOT (g.guard_id = ANY($1))
		  AND NOT EXISTS (
			SELECT 1 FROM guard_assignments a
			WHERE a.guard_id = g.guard_id AND a.is_active
		  )
		ORDER BY g.guard_id
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(excludeGuardIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list available guards: %w", err)
	}
	defer rows.Close()

	byBeacon := make(map[string][]models.GuardProfile)
	for rows.Next() {
		var g models.GuardProfile
		var beaconID string
		var pingAt sql.NullTime
		if err := rows.Scan(&g.GuardID, &g.Name, &beaconID, &pingAt); err != nil {
			return nil, fmt.Errorf("failed to scan guard: %w", err)
		}
		g.IsActive = true
		g.IsAvailable = true
		g.CurrentBeaconID = &beaconID
		if pingAt.Valid {
			g.LocationPingAt = &pingAt.Time
		}
		byBeacon[beaconID] = append(byBeacon[beaconID], g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate guards: %w", err)
	}

	return byBeacon, nil
}

// UpdateLocation records a guard location ping.
func (r *GuardRepository) UpdateLocation(ctx context.Context, guardID, beaconID string) error {
	if guardID == "" {
		return fmt.Errorf("guard_id is required")
	}
	if beaconID == "" {
		return fmt.Errorf("beacon_id is required")
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE guard_profiles
		SET current_beacon_id = $2, location_ping_at = $3, updated_at = $3
		WHERE guard_id = $1
	`, guardID, beaconID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update guard location: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("guard %s: %w", guardID, ErrNotFound)
	}

	return nil
}

// SetAvailability toggles whether a guard can receive alerts.
func (r *GuardRepository) SetAvailability(ctx context.Context, guardID string, available bool) error {
	if guardID == "" {
		return fmt.Errorf("guard_id is required")
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE guard_profiles
		SET is_available = $2, updated_at = $3
		WHERE guard_id = $1
	`, guardID, available, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set guard availability: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("guard %s: %w", guardID, ErrNotFound)
	}

	r.logger.Info("Guard availability updated",
		zap.String("guard_id", guardID),
		zap.Bool("is_available", available),
	)

	return nil
}
