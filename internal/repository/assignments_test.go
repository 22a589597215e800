package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAssignmentRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AssignmentRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewAssignmentRepository(db, zap.NewNop())
	return db, mock, repo
}

func assignmentColumnNames() []string {
	return []string{
		"assignment_id", "incident_id", "guard_id", "is_active",
		"assigned_at", "deactivated_at", "end_reason",
	}
}

func TestActiveForIncident(t *testing.T) {
	db, mock, repo := setupAssignmentRepo(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM guard_assignments`).
		WithArgs("inc-1").
		WillReturnRows(sqlmock.NewRows(assignmentColumnNames()).
			AddRow("asg-1", "inc-1", "guard-1", true, now, nil, nil))

	a, err := repo.ActiveForIncident(context.Background(), "inc-1")
	require.NoError(t, err)
	assert.Equal(t, "guard-1", a.GuardID)
	assert.True(t, a.IsActive)
	assert.Nil(t, a.DeactivatedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveForGuard_Uncommitted(t *testing.T) {
	db, mock, repo := setupAssignmentRepo(t)
	defer db.Close()

	mock.ExpectQuery(`FROM guard_assignments`).
		WithArgs("guard-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.ActiveForGuard(context.Background(), "guard-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForIncident_NewestFirstWithHistory(t *testing.T) {
	db, mock, repo := setupAssignmentRepo(t)
	defer db.Close()

	now := time.Now()
	earlier := now.Add(-10 * time.Minute)
	reason := "unassigned"
	mock.ExpectQuery(`FROM guard_assignments`).
		WithArgs("inc-1").
		WillReturnRows(sqlmock.NewRows(assignmentColumnNames()).
			AddRow("asg-2", "inc-1", "guard-2", true, now, nil, nil).
			AddRow("asg-1", "inc-1", "guard-1", false, earlier, now, reason))

	history, err := repo.ListForIncident(context.Background(), "inc-1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "guard-2", history[0].GuardID)
	assert.True(t, history[0].IsActive)

	assert.Equal(t, "guard-1", history[1].GuardID)
	assert.False(t, history[1].IsActive)
	require.NotNil(t, history[1].EndReason)
	assert.Equal(t, "unassigned", *history[1].EndReason)
	require.NotNil(t, history[1].DeactivatedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}
