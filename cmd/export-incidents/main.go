package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"campus-dispatch/internal/config"
	"campus-dispatch/internal/logger"
	"campus-dispatch/internal/models"

	_ "github.com/lib/pq"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var incidentHeader = []string{
	"Incident ID",
	"Beacon ID",
	"Status",
	"Priority",
	"First Signal",
	"Last Signal",
	"Assigned Guard",
	"Signal Count",
}

var alertHeader = []string{
	"Alert ID",
	"Incident ID",
	"Guard ID",
	"Status",
	"Rank",
	"Via Beacon",
	"Hop Priority",
	"Deadline",
	"Responded At",
}

// export-incidents dumps the incident and alert history to an XLSX
// workbook for campus security review. Read-only; it never touches the
// dispatch tables beyond SELECT.
func main() {
	var (
		output string
		since  string
	)
	flag.StringVar(&output, "o", "incidents.xlsx", "output file path")
	flag.StringVar(&since, "since", "", "only include incidents created on or after this date (YYYY-MM-DD)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, "console", "export-incidents")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	var sinceTime time.Time
	if since != "" {
		sinceTime, err = time.Parse("2006-01-02", since)
		if err != nil {
			log.Fatal("Invalid -since date, expected YYYY-MM-DD", zap.String("since", since))
		}
	}

	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("Failed to ping database", zap.Error(err))
	}

	incidents, signalCounts, err := loadIncidents(ctx, db, sinceTime)
	if err != nil {
		log.Fatal("Failed to load incidents", zap.Error(err))
	}
	alerts, err := loadAlerts(ctx, db, sinceTime)
	if err != nil {
		log.Fatal("Failed to load alerts", zap.Error(err))
	}

	if err := writeWorkbook(output, incidents, signalCounts, alerts); err != nil {
		log.Fatal("Failed to write workbook", zap.Error(err))
	}

	log.Info("Export finished",
		zap.String("output", output),
		zap.Int("incidents", len(incidents)),
		zap.Int("alerts", len(alerts)),
	)
}

func loadIncidents(ctx context.Context, db *sql.DB, since time.Time) ([]models.Incident, map[string]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT i.incident_id, i.beacon_id, i.status, i.priority,
		       i.first_signal_time, i.last_signal_time, i.assigned_guard_id,
		       i.created_at, i.updated_at,
		       (SELECT COUNT(*) FROM incident_signals s WHERE s.incident_id = i.incident_id)
		FROM incidents i
		WHERE i.created_at >= $1
		ORDER BY i.created_at
	`, since)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	counts := make(map[string]int)
	for rows.Next() {
		var incident models.Incident
		var assignedGuard sql.NullString
		var signalCount int
		if err := rows.Scan(
			&incident.IncidentID,
			&incident.BeaconID,
			&incident.Status,
			&incident.Priority,
			&incident.FirstSignalTime,
			&incident.LastSignalTime,
			&assignedGuard,
			&incident.CreatedAt,
			&incident.UpdatedAt,
			&signalCount,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		if assignedGuard.Valid {
			incident.AssignedGuardID = &assignedGuard.String
		}
		incidents = append(incidents, incident)
		counts[incident.IncidentID] = signalCount
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}

	return incidents, counts, nil
}

func loadAlerts(ctx context.Context, db *sql.DB, since time.Time) ([]models.GuardAlert, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT a.alert_id, a.incident_id, a.guard_id, a.status, a.priority_rank,
		       a.via_beacon_id, a.hop_priority, a.response_deadline, a.responded_at
		FROM guard_alerts a
		JOIN incidents i ON i.incident_id = a.incident_id
		WHERE i.created_at >= $1
		ORDER BY a.incident_id, a.priority_rank
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.GuardAlert
	for rows.Next() {
		var alert models.GuardAlert
		var deadline, respondedAt sql.NullTime
		if err := rows.Scan(
			&alert.AlertID,
			&alert.IncidentID,
			&alert.GuardID,
			&alert.Status,
			&alert.PriorityRank,
			&alert.ViaBeaconID,
			&alert.HopPriority,
			&deadline,
			&respondedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if deadline.Valid {
			alert.ResponseDeadline = &deadline.Time
		}
		if respondedAt.Valid {
			alert.RespondedAt = &respondedAt.Time
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

func writeWorkbook(path string, incidents []models.Incident, signalCounts map[string]int, alerts []models.GuardAlert) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeIncidentSheet(f, incidents, signalCounts); err != nil {
		return err
	}
	if err := writeAlertSheet(f, alerts); err != nil {
		return err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to remove default sheet: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeIncidentSheet(f *excelize.File, incidents []models.Incident, signalCounts map[string]int) error {
	const sheet = "Incidents"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := writeHeader(f, sheet, incidentHeader); err != nil {
		return err
	}

	for i, incident := range incidents {
		assigned := ""
		if incident.AssignedGuardID != nil {
			assigned = *incident.AssignedGuardID
		}
		row := []interface{}{
			incident.IncidentID,
			incident.BeaconID,
			string(incident.Status),
			incident.Priority,
			incident.FirstSignalTime.Format(time.RFC3339),
			incident.LastSignalTime.Format(time.RFC3339),
			assigned,
			signalCounts[incident.IncidentID],
		}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	return nil
}

func writeAlertSheet(f *excelize.File, alerts []models.GuardAlert) error {
	const sheet = "Alerts"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	if err := writeHeader(f, sheet, alertHeader); err != nil {
		return err
	}

	for i, alert := range alerts {
		row := []interface{}{
			alert.AlertID,
			alert.IncidentID,
			alert.GuardID,
			string(alert.Status),
			alert.PriorityRank,
			alert.ViaBeaconID,
			alert.HopPriority,
			formatTime(alert.ResponseDeadline),
			formatTime(alert.RespondedAt),
		}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	return nil
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
