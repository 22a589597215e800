package repository

import (
	"context"
	"database/sql"
	"fmt"

	"campus-dispatch/internal/models"

	"go.uber.org/zap"
)

// BeaconRepository reads the beacon graph and maintains the proximity
// edge ordering. Edge reindexing runs under the same per-beacon row
// lock the dispatch path takes, so a search never observes a
// half-renumbered sibling set.
type BeaconRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBeaconRepository creates a beacon repository.
func NewBeaconRepository(db *sql.DB, logger *zap.Logger) *BeaconRepository {
	return &BeaconRepository{
		db:     db,
		logger: logger,
	}
}

// GetBeacon returns one beacon by id.
func (r *BeaconRepository) GetBeacon(ctx context.Context, beaconID string) (*models.Beacon, error) {
	if beaconID == "" {
		return nil, fmt.Errorf("beacon_id is required")
	}

	query := `
		SELECT beacon_id, name, building, floor, is_active, created_at, updated_at
		FROM beacons
		WHERE beacon_id = $1
	`

	var b models.Beacon
	err := r.db.QueryRowContext(ctx, query, beaconID).Scan(
		&b.BeaconID,
		&b.Name,
		&b.Building,
		&b.Floor,
		&b.IsActive,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("beacon %s: %w", beaconID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get beacon: %w", err)
	}

	return &b, nil
}

// ListProximities returns every directed edge between active beacons,
// ordered by (from_beacon_id, priority). The search layer builds its
// adjacency snapshot from this single read.
func (r *BeaconRepository) ListProximities(ctx context.Context) ([]models.BeaconProximity, error) {
	query := `
		SELECT p.from_beacon_id, p.to_beacon_id, p.priority
		FROM beacon_proximities p
		JOIN beacons f ON f.beacon_id = p.from_beacon_id AND f.is_active
		JOIN beacons t ON t.beacon_id = p.to_beacon_id AND t.is_active
		ORDER BY p.from_beacon_id, p.priority
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list beacon proximities: %w", err)
	}
	defer rows.Close()

	var edges []models.BeaconProximity
	for rows.Next() {
		var e models.BeaconProximity
		if err := rows.Scan(&e.FromBeaconID, &e.ToBeaconID, &e.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan beacon proximity: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate beacon proximities: %w", err)
	}

	return edges, nil
}

// ============================================
// Proximity reindex operations
// ============================================
//
// Sibling priorities of one from_beacon stay a dense 1..n ordering.
// These run outside the dispatch hot path but take the same beacon row
// lock ResolveOrCreateIncident takes.

// AddProximity inserts an edge at the given priority, shifting later
// siblings down by one. A priority beyond the current tail is clamped
// to tail+1.
func (r *BeaconRepository) AddProximity(ctx context.Context, fromBeaconID, toBeaconID string, priority int) error {
	if fromBeaconID == "" || toBeaconID == "" {
		return fmt.Errorf("from_beacon_id and to_beacon_id are required")
	}
	if fromBeaconID == toBeaconID {
		return fmt.Errorf("proximity edge cannot be a self loop")
	}
	if priority < 1 {
		priority = 1
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockBeacon(ctx, tx, fromBeaconID); err != nil {
		return err
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM beacon_proximities WHERE from_beacon_id = $1`,
		fromBeaconID,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to count sibling edges: %w", err)
	}
	if priority > count+1 {
		priority = count + 1
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE beacon_proximities
		SET priority = priority + 1
		WHERE from_beacon_id = $1 AND priority >= $2
	`, fromBeaconID, priority); err != nil {
		return fmt.Errorf("failed to shift sibling edges: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO beacon_proximities (from_beacon_id, to_beacon_id, priority)
		VALUES ($1, $2, $3)
	`, fromBeaconID, toBeaconID, priority); err != nil {
		return fmt.Errorf("failed to insert proximity edge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit proximity insert: %w", err)
	}

	r.logger.Info("Proximity edge added",
		zap.String("from_beacon_id", fromBeaconID),
		zap.String("to_beacon_id", toBeaconID),
		zap.Int("priority", priority),
	)

	return nil
}

// RemoveProximity deletes an edge and closes the gap it leaves.
func (r *BeaconRepository) RemoveProximity(ctx context.Context, fromBeaconID, toBeaconID string) error {
	if fromBeaconID == "" || toBeaconID == "" {
		return fmt.Errorf("from_beacon_id and to_beacon_id are required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockBeacon(ctx, tx, fromBeaconID); err != nil {
		return err
	}

	var removed int
	err = tx.QueryRowContext(ctx, `
		DELETE FROM beacon_proximities
		WHERE from_beacon_id = $1 AND to_beacon_id = $2
		RETURNING priority
	`, fromBeaconID, toBeaconID).Scan(&removed)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("proximity edge %s -> %s: %w", fromBeaconID, toBeaconID, ErrNotFound)
		}
		return fmt.Errorf("failed to delete proximity edge: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE beacon_proximities
		SET priority = priority - 1
		WHERE from_beacon_id = $1 AND priority > $2
	`, fromBeaconID, removed); err != nil {
		return fmt.Errorf("failed to renumber sibling edges: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit proximity delete: %w", err)
	}

	return nil
}

// MoveProximity changes an edge's priority, renumbering the siblings in
// between so the ordering stays dense.
func (r *BeaconRepository) MoveProximity(ctx context.Context, fromBeaconID, toBeaconID string, newPriority int) error {
	if fromBeaconID == "" || toBeaconID == "" {
		return fmt.Errorf("from_beacon_id and to_beacon_id are required")
	}
	if newPriority < 1 {
		newPriority = 1
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockBeacon(ctx, tx, fromBeaconID); err != nil {
		return err
	}

	var oldPriority, count int
	err = tx.QueryRowContext(ctx, `
		SELECT priority,
		       (SELECT COUNT(*) FROM beacon_proximities WHERE from_beacon_id = $1)
		FROM beacon_proximities
		WHERE from_beacon_id = $1 AND to_beacon_id = $2
	`, fromBeaconID, toBeaconID).Scan(&oldPriority, &count)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("proximity edge %s -> %s: %w", fromBeaconID, toBeaconID, ErrNotFound)
		}
		return fmt.Errorf("failed to read proximity edge: %w", err)
	}

	if newPriority > count {
		newPriority = count
	}
	if newPriority == oldPriority {
		return tx.Commit()
	}

	if newPriority < oldPriority {
		_, err = tx.ExecContext(ctx, `
			UPDATE beacon_proximities
			SET priority = priority + 1
			WHERE from_beacon_id = $1 AND priority >= $2 AND priority < $3
		`, fromBeaconID, newPriority, oldPriority)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE beacon_proximities
			SET priority = priority - 1
			WHERE from_beacon_id = $1 AND priority > $2 AND priority <= $3
		`, fromBeaconID, oldPriority, newPriority)
	}
	if err != nil {
		return fmt.Errorf("failed to renumber sibling edges: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE beacon_proximities
		SET priority = $3
		WHERE from_beacon_id = $1 AND to_beacon_id = $2
	`, fromBeaconID, toBeaconID, newPriority); err != nil {
		return fmt.Errorf("failed to move proximity edge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit proximity move: %w", err)
	}

	return nil
}

// lockBeacon takes the per-beacon row lock that serializes dispatch
// and reindex writes for one beacon. Inactive beacons do not lock.
func lockBeacon(ctx context.Context, tx *sql.Tx, beaconID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT beacon_id FROM beacons
		WHERE beacon_id = $1 AND is_active
		FOR UPDATE
	`, beaconID).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("beacon %s: %w", beaconID, ErrUnknownBeacon)
		}
		return fmt.Errorf("failed to lock beacon row: %w", err)
	}
	return nil
}
