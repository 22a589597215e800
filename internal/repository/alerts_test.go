package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"campus-dispatch/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAlertRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlertRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewAlertRepository(db, zap.NewNop())
	return db, mock, repo
}

func alertRows(alertID, incidentID, guardID string, status models.AlertStatus, rank int) *sqlmock.Rows {
	now := time.Now().UTC()
	deadline := now.Add(2 * time.Minute)
	return sqlmock.NewRows([]string{
		"alert_id", "incident_id", "guard_id", "status", "priority_rank",
		"via_beacon_id", "hop_priority", "response_deadline", "assignment_id",
		"created_at", "responded_at",
	}).AddRow(alertID, incidentID, guardID, string(status), rank, "LIB-1", 0, deadline, nil, now, nil)
}

func expectIncidentLock(mock sqlmock.Sqlmock, incidentID string, status models.IncidentStatus) {
	mock.ExpectQuery(`FROM incidents`).
		WithArgs(incidentID).
		WillReturnRows(incidentRows(incidentID, "LIB-1", status, 3))
}

func TestCreateAlerts_AssignsConsecutiveRanks(t *testing.T) {
	db, mock, repo := setupAlertRepo(t)
	defer db.Close()

	candidates := []models.CandidateGuard{
		{Guard: models.GuardProfile{GuardID: "guard-1"}, ViaBeaconID: "LIB-1", HopPriority: 0},
		{Guard: models.GuardProfile{GuardID: "guard-2"}, ViaBeaconID: "LIB-2", HopPriority: 1},
	}

	mock.ExpectBegin()
	expectIncidentLock(mock, "incident-1", models.IncidentCreated)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("incident-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`COALESCE\(MAX\(priority_rank\), 0\)`).
		WithArgs("incident-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO guard_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO guard_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deadline := time.Now().UTC().Add(2 * time.Minute)
	alerts, err := repo.CreateAlerts(context.Background(), "incident-1", candidates, deadline)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	// Ranks continue after the incident's current maximum.
	assert.Equal(t, 3, alerts[0].PriorityRank)
	assert.Equal(t, 4, alerts[1].PriorityRank)
	assert.Equal(t, models.AlertSent, alerts[0].Status)
	assert.Equal(t, "guard-1", alerts[0].GuardID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlerts_SkipsResolvedIncident(t *testing.T) {
	db, mock, repo := setupAlertRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	expectIncidentLock(mock, "incident-1", models.IncidentResolved)
	mock.ExpectRollback()

	alerts, err := repo.CreateAlerts(context.Background(), "incident-1",
		[]models.CandidateGuard{{Guard: models.GuardProfile{GuardID: "guard-1"}}},
		time.Now().UTC(),
	)
	require.NoError(t, err)
	assert.Nil(t, alerts)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlerts_SkipsIncidentWithActiveAssignment(t *testing.T) {
	db, mock, repo := setupAlertRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	expectIncidentLock(mock, "incident-1", models.IncidentAssigned)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("incident-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	alerts, err := repo.CreateAlerts(context.Background(), "incident-1",
		[]models.CandidateGuard{{Guard: models.GuardProfile{GuardID: "guard-1"}}},
		time.Now().UTC(),
	)
	require.NoError(t, err)
	assert.Nil(t, alerts)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccept_WinnerTransaction(t *testing.T) {
	db, mock, repo := setupAlertRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM guard_alerts`).
		WithArgs("alert-1").
		WillReturnRows(alertRows("alert-1", "incident-1", "guard-1", models.AlertSent, 1))
	expectIncidentLock(mock, "incident-1", models.IncidentCreated)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("incident-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("guard-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO guard_assignments`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE guard_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE incidents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`RETURNING alert_id`).
		WillReturnRows(sqlmock.NewRows([]string{"alert_id"}).AddRow("alert-2").AddRow("alert-3"))
	mock.ExpectCommit()

	outcome, err := repo.Accept(context.Background(), "alert-1", "guard-1")
	require.NoError(t, err)

	assert.Equal(t, models.AlertAccepted, outcome.Alert.Status)
	require.NotNil(t, outcome.Assignment)
	assert.Equal(t, "incident-1", outcome.Assignment.IncidentID)
	assert.Equal(t, "guard-1", outcome.Assignment.GuardID)
	assert.True(t, outcome.Assignment.IsActive)
	assert.Equal(t, []string{"alert-2", "alert-3"}, outcome.ExpiredRivalIDs)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccept_StaleWhenAlertTerminal(t *testing.T) {
	db, mock, repo := setupAlertRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM guard_alerts`).
		WithArgs("alert-1").
		WillReturnRows(alertRows("alert-1", "incident-1", "guard-1", models.AlertDeclined, 1))
	expectIncidentLock(mock, "incident-1", models.IncidentCreated)
	mock.ExpectRollback()

	outcome, err := repo.Accept(context.Background(), "alert-1", "guard-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleAlert)
	require.NotNil(t, outcome)
	assert.Equal(t, models.AlertDeclined, outcome.Alert.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccept_LoserIsExpired(t *testing.T) {
	db, mock, repo := setupAlertRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM guard_alerts`).
		WithArgs("alert-1").
		WillReturnRows(alertRows("alert-1", "incident-1", "guard-1", models.AlertSent, 1))
	expectIncidentLock(mock, "incident-1", models.IncidentAssigned)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("incident-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`UPDATE guard_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := repo.Accept(context.Background(), "alert-1", "guard-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
	require.NotNil(t, outcome)
	assert.Equal(t, models.AlertExpired, outcome.Alert.Status)
	assert.Nil(t, outcome.Assignment)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccept_RejectsForeignGuard(t *testing.T) {
	db, mock, repo := setupAlertRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM guard_alerts`).
		WithArgs("alert-1").
		WillReturnRows(alertRows("alert-1", "incident-1", "guard-1", models.AlertSent, 1))
	mock.ExpectRollback()

	_, err := repo.Accept(context.Background(), "alert-1", "guard-2")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTerminal_DeclinesSentAlert(t *testing.T) {
	db, mock, repo := setupAlertRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM guard_alerts`).
		WithArgs("alert-1").
		WillReturnRows(alertRows("alert-1", "incident-1", "guard-1", models.AlertSent, 1))
	mock.ExpectExec(`UPDATE guard_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	alert, changed, err := repo.MarkTerminal(context.Background(), "alert-1", "guard-1", models.AlertDeclined)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.AlertDeclined, alert.Status)
	require.NotNil(t, alert.RespondedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTerminal_IdempotentOnTerminalAlert(t *testing.T) {
	db, mock, repo := setupAlertRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM guard_alerts`).
		WithArgs("alert-1").
		WillReturnRows(alertRows("alert-1", "incident-1", "guard-1", models.AlertExpired, 1))
	mock.ExpectCommit()

	alert, changed, err := repo.MarkTerminal(context.Background(), "alert-1", "", models.AlertExpired)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.AlertExpired, alert.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTerminal_RejectsAcceptedAsTarget(t *testing.T) {
	db, _, repo := setupAlertRepo(t)
	defer db.Close()

	_, _, err := repo.MarkTerminal(context.Background(), "alert-1", "guard-1", models.AlertAccepted)
	assert.Error(t, err)
}

func TestListOverdueSent(t *testing.T) {
	db, mock, repo := setupAlertRepo(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM guard_alerts`).
		WithArgs(string(models.AlertSent), now, 10).
		WillReturnRows(alertRows("alert-1", "incident-1", "guard-1", models.AlertSent, 1))

	alerts, err := repo.ListOverdueSent(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "alert-1", alerts[0].AlertID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlert_NotFound(t *testing.T) {
	db, mock, repo := setupAlertRepo(t)
	defer db.Close()

	mock.ExpectQuery(`FROM guard_alerts`).
		WithArgs("alert-missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetAlert(context.Background(), "alert-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
