package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyallcooper/scanstream/internal/types"
)

// testDB creates a temporary database for testing
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Migrate())

	var version int
	require.NoError(t, db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 2, version)
}

func TestScanRunLifecycle(t *testing.T) {
	db := testDB(t)
	scheduleID := int64(7)

	created, err := db.CreateScanRun("https://example.com", "wcag2aa", &scheduleID)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, ScanRunStatusRunning, created.Status)
	assert.Nil(t, created.CompletedAt)
	assert.Nil(t, created.Score)
	require.NotNil(t, created.ScheduleID)
	assert.Equal(t, scheduleID, *created.ScheduleID)

	b := types.SeverityBreakdown{Critical: 2, Minor: 1}
	require.NoError(t, db.CompleteScanRun(created.ID, 79, 3, b))
	require.NoError(t, db.SetScanRunReport(created.ID, "reports/"+created.ID+".json"))

	got, err := db.GetScanRun(created.ID)
	require.NoError(t, err)
	assert.Equal(t, ScanRunStatusCompleted, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 79, *got.Score)
	assert.Equal(t, 3, got.TotalIssues)
	assert.Equal(t, 2, got.Critical)
	assert.Equal(t, 1, got.Minor)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.ReportKey)
	assert.Equal(t, "reports/"+created.ID+".json", *got.ReportKey)

	last, err := db.GetLastRunForSchedule(scheduleID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, last.ID)
}

func TestFailScanRun(t *testing.T) {
	db := testDB(t)

	run, err := db.CreateScanRun("https://example.com", "", nil)
	require.NoError(t, err)
	require.NoError(t, db.FailScanRun(run.ID, ScanRunStatusFailed, "boom"))

	got, err := db.GetScanRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, ScanRunStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "boom", *got.ErrorMessage)
	assert.Nil(t, got.ScheduleID)

	assert.ErrorIs(t, db.FailScanRun("missing", ScanRunStatusFailed, "x"), ErrNotFound)
}

func TestGetScanRunNotFound(t *testing.T) {
	db := testDB(t)

	_, err := db.GetScanRun("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.GetLastRunForSchedule(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListScanRuns(t *testing.T) {
	db := testDB(t)

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := db.CreateScanRun("https://example.com", "", nil)
		require.NoError(t, err)
		ids = append(ids, run.ID)
		time.Sleep(5 * time.Millisecond)
	}

	runs, err := db.ListScanRuns(2, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID, "newest first")
	assert.Equal(t, ids[1], runs[1].ID)

	runs, err = db.ListScanRuns(10, 2)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ids[0], runs[0].ID)

	n, err := db.CountScanRuns()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCleanupOldData(t *testing.T) {
	db := testDB(t)

	old, err := db.CreateScanRun("https://old.example.com", "", nil)
	require.NoError(t, err)
	require.NoError(t, db.CompleteScanRun(old.ID, 100, 0, types.SeverityBreakdown{}))
	_, err = db.Exec("UPDATE scan_runs SET completed_at = ? WHERE id = ?",
		time.Now().UTC().AddDate(0, 0, -60), old.ID)
	require.NoError(t, err)

	recent, err := db.CreateScanRun("https://new.example.com", "", nil)
	require.NoError(t, err)
	require.NoError(t, db.CompleteScanRun(recent.ID, 100, 0, types.SeverityBreakdown{}))

	running, err := db.CreateScanRun("https://running.example.com", "", nil)
	require.NoError(t, err)

	deleted, err := db.CleanupOldData(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = db.GetScanRun(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetScanRun(recent.ID)
	assert.NoError(t, err)
	_, err = db.GetScanRun(running.ID)
	assert.NoError(t, err)
}

func TestWebhooks(t *testing.T) {
	db := testDB(t)

	all, err := db.CreateWebhook(&Webhook{URL: "https://hooks.example.com/all", Enabled: true})
	require.NoError(t, err)
	assert.Empty(t, all.Events)
	assert.True(t, all.Subscribes("scan.failed"))

	critical, err := db.CreateWebhook(&Webhook{
		URL:     "https://hooks.example.com/critical",
		Events:  []string{"critical.found"},
		Secret:  "s3cret",
		Enabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", critical.Secret)
	assert.True(t, critical.Subscribes("critical.found"))
	assert.False(t, critical.Subscribes("scan.completed"))

	require.NoError(t, db.SetWebhookEnabled(all.ID, false))
	enabled, err := db.ListEnabledWebhooks()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, critical.ID, enabled[0].ID)

	at := time.Now()
	require.NoError(t, db.RecordWebhookDelivery(critical.ID, "200 OK", at))
	got, err := db.GetWebhook(critical.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastStatus)
	assert.Equal(t, "200 OK", *got.LastStatus)
	require.NotNil(t, got.LastDeliveryAt)
	assert.WithinDuration(t, at, *got.LastDeliveryAt, time.Second)

	require.NoError(t, db.DeleteWebhook(all.ID))
	assert.ErrorIs(t, db.DeleteWebhook(all.ID), ErrNotFound)

	hooks, err := db.ListWebhooks()
	require.NoError(t, err)
	assert.Len(t, hooks, 1)
}

func TestSchedules(t *testing.T) {
	db := testDB(t)

	next := time.Now().Add(time.Hour)
	created, err := db.CreateSchedule(&Schedule{
		Name:           "nightly",
		URL:            "https://example.com",
		CronExpression: "0 3 * * *",
		Options:        ScheduleOptions{Standard: "wcag21aa", IncludeWarnings: true},
		Enabled:        true,
		NextRunAt:      &next,
	})
	require.NoError(t, err)
	assert.Equal(t, "wcag21aa", created.Options.Standard)
	require.NotNil(t, created.NextRunAt)
	assert.WithinDuration(t, next, *created.NextRunAt, time.Second)

	req := created.ScanRequest()
	assert.Equal(t, "https://example.com", req.URL)
	assert.True(t, req.IncludeWarnings)

	_, err = db.CreateSchedule(&Schedule{Name: "paused", URL: "https://b.example.com", CronExpression: "@daily"})
	require.NoError(t, err)

	enabled, err := db.GetEnabledSchedules()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, created.ID, enabled[0].ID)

	last := time.Now()
	later := last.Add(24 * time.Hour)
	require.NoError(t, db.UpdateScheduleLastRun(created.ID, last, later))
	got, err := db.GetSchedule(created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.WithinDuration(t, last, *got.LastRunAt, time.Second)

	require.NoError(t, db.SetScheduleEnabled(created.ID, false, nil))
	got, err = db.GetSchedule(created.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextRunAt)

	require.NoError(t, db.DeleteSchedule(created.ID))
	_, err = db.GetSchedule(created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.SetScheduleEnabled(created.ID, true, nil), ErrNotFound)

	all, err := db.ListSchedules()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
