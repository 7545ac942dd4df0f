package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lyallcooper/scanstream/internal/types"
)

const scanRunColumns = `id, url, standard, schedule_id, status, started_at, completed_at,
	score, total_issues, critical, serious, moderate, minor, error_message, report_key`

// CreateScanRun records a new running scan
func (db *DB) CreateScanRun(url, standard string, scheduleID *int64) (*ScanRun, error) {
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO scan_runs (id, url, standard, schedule_id, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, url, standard, scheduleID, ScanRunStatusRunning, time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	return db.GetScanRun(id)
}

// GetScanRun retrieves a scan run by ID
func (db *DB) GetScanRun(id string) (*ScanRun, error) {
	row := db.QueryRow(`SELECT `+scanRunColumns+` FROM scan_runs WHERE id = ?`, id)
	r, err := scanScanRun(row)
	return r, notFound(err)
}

// ListScanRuns returns scan runs, newest first
func (db *DB) ListScanRuns(limit, offset int) ([]*ScanRun, error) {
	rows, err := db.Query(`SELECT `+scanRunColumns+`
		FROM scan_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*ScanRun{}
	for rows.Next() {
		r, err := scanScanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CountScanRuns returns the total number of recorded runs
func (db *DB) CountScanRuns() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM scan_runs").Scan(&n)
	return n, err
}

// GetLastRunForSchedule returns the most recent run started by a schedule
func (db *DB) GetLastRunForSchedule(scheduleID int64) (*ScanRun, error) {
	row := db.QueryRow(`SELECT `+scanRunColumns+`
		FROM scan_runs WHERE schedule_id = ? ORDER BY started_at DESC LIMIT 1`, scheduleID)
	r, err := scanScanRun(row)
	return r, notFound(err)
}

// CompleteScanRun marks a run completed with its score and issue breakdown
func (db *DB) CompleteScanRun(id string, score, totalIssues int, b types.SeverityBreakdown) error {
	res, err := db.Exec(`
		UPDATE scan_runs SET status = ?, completed_at = ?, score = ?, total_issues = ?,
			critical = ?, serious = ?, moderate = ?, minor = ?
		WHERE id = ?`,
		ScanRunStatusCompleted, time.Now().UTC(), score, totalIssues,
		b.Critical, b.Serious, b.Moderate, b.Minor, id,
	)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// FailScanRun marks a run failed or cancelled
func (db *DB) FailScanRun(id string, status ScanRunStatus, errorMsg string) error {
	res, err := db.Exec(`
		UPDATE scan_runs SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?`,
		status, time.Now().UTC(), errorMsg, id,
	)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// SetScanRunReport records the archived report key for a run
func (db *DB) SetScanRunReport(id, key string) error {
	res, err := db.Exec("UPDATE scan_runs SET report_key = ? WHERE id = ?", key, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func scanScanRun(row rowScanner) (*ScanRun, error) {
	var r ScanRun
	var scheduleID sql.NullInt64
	var completedAt sql.NullTime
	var score sql.NullInt64
	var errorMsg, reportKey sql.NullString

	err := row.Scan(&r.ID, &r.URL, &r.Standard, &scheduleID, &r.Status, &r.StartedAt, &completedAt,
		&score, &r.TotalIssues, &r.Critical, &r.Serious, &r.Moderate, &r.Minor, &errorMsg, &reportKey)
	if err != nil {
		return nil, err
	}

	if scheduleID.Valid {
		r.ScheduleID = &scheduleID.Int64
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if score.Valid {
		s := int(score.Int64)
		r.Score = &s
	}
	if errorMsg.Valid {
		r.ErrorMessage = &errorMsg.String
	}
	if reportKey.Valid {
		r.ReportKey = &reportKey.String
	}

	return &r, nil
}

// CleanupOldData removes finished runs older than the retention period
func (db *DB) CleanupOldData(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	res, err := db.Exec("DELETE FROM scan_runs WHERE completed_at < ? AND status != 'running'", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
