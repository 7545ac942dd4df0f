package db

import (
	"database/sql"
	"encoding/json"
	"time"
)

const scheduleColumns = `id, name, url, cron_expression, options, enabled, last_run_at, next_run_at, created_at`

// CreateSchedule stores a new schedule
func (db *DB) CreateSchedule(s *Schedule) (*Schedule, error) {
	optionsJSON, _ := json.Marshal(s.Options)

	result, err := db.Exec(`
		INSERT INTO schedules (name, url, cron_expression, options, enabled, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.Name, s.URL, s.CronExpression, string(optionsJSON), s.Enabled, utcPtr(s.NextRunAt),
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetSchedule(id)
}

// GetSchedule retrieves a schedule by ID
func (db *DB) GetSchedule(id int64) (*Schedule, error) {
	row := db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	s, err := scanSchedule(row)
	return s, notFound(err)
}

// ListSchedules returns all schedules
func (db *DB) ListSchedules() ([]*Schedule, error) {
	return db.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY name`)
}

// GetEnabledSchedules returns all enabled schedules
func (db *DB) GetEnabledSchedules() ([]*Schedule, error) {
	return db.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules WHERE enabled = 1 ORDER BY next_run_at`)
}

func (db *DB) querySchedules(query string) ([]*Schedule, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := []*Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// UpdateScheduleLastRun updates the last run time and next run time
func (db *DB) UpdateScheduleLastRun(id int64, lastRun, nextRun time.Time) error {
	_, err := db.Exec(`
		UPDATE schedules SET last_run_at = ?, next_run_at = ?
		WHERE id = ?`,
		lastRun.UTC(), nextRun.UTC(), id,
	)
	return err
}

// SetScheduleEnabled enables or disables a schedule and sets its next run
func (db *DB) SetScheduleEnabled(id int64, enabled bool, nextRun *time.Time) error {
	res, err := db.Exec("UPDATE schedules SET enabled = ?, next_run_at = ? WHERE id = ?",
		enabled, utcPtr(nextRun), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// DeleteSchedule deletes a schedule
func (db *DB) DeleteSchedule(id int64) error {
	res, err := db.Exec("DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var s Schedule
	var optionsJSON string
	var lastRun, nextRun sql.NullTime

	err := row.Scan(&s.ID, &s.Name, &s.URL, &s.CronExpression, &optionsJSON, &s.Enabled,
		&lastRun, &nextRun, &s.CreatedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(optionsJSON), &s.Options)
	if lastRun.Valid {
		s.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		s.NextRunAt = &nextRun.Time
	}

	return &s, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
