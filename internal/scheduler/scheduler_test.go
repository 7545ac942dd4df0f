package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyallcooper/scanstream/internal/db"
	"github.com/lyallcooper/scanstream/internal/services"
	"github.com/lyallcooper/scanstream/internal/types"
)

// mockRunner records the scans it is asked to run
type mockRunner struct {
	mu    sync.Mutex
	reqs  []types.ScanRequest
	block bool
}

func (m *mockRunner) Run(ctx context.Context, req types.ScanRequest, sink services.EventSink, opts ...services.RunOption) error {
	defer sink.End()
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *mockRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

func testDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func createSchedule(t *testing.T, database *db.DB, name, expr string, enabled bool, next *time.Time) *db.Schedule {
	t.Helper()
	s, err := database.CreateSchedule(&db.Schedule{
		Name:           name,
		URL:            "https://" + name + ".example.com",
		CronExpression: expr,
		Options:        db.ScheduleOptions{Standard: "wcag2a"},
		Enabled:        enabled,
		NextRunAt:      next,
	})
	require.NoError(t, err)
	return s
}

func TestStartStop(t *testing.T) {
	s := New(testDB(t), &mockRunner{}, logr.Discard())

	s.Start()
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	assert.True(t, running, "scheduler should be running after Start")

	// Double start should be idempotent
	s.Start()

	s.Stop()
	s.mu.RLock()
	running = s.running
	s.mu.RUnlock()
	assert.False(t, running, "scheduler should not be running after Stop")

	// Double stop should be safe
	s.Stop()
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		expr    string
		want    time.Time
		wantErr bool
	}{
		{"0 * * * *", time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC), false},
		{"*/15 * * * *", time.Date(2026, 1, 1, 12, 45, 0, 0, time.UTC), false},
		{"0 3 * * *", time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC), false},
		{"@daily", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), false},
		{"not a cron", time.Time{}, true},
		{"* * * * * *", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := NextRun(tt.expr, from)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckSchedulesRunsDueOnly(t *testing.T) {
	database := testDB(t)
	runner := &mockRunner{}
	s := New(database, runner, logr.Discard())

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	due := createSchedule(t, database, "due", "0 * * * *", true, &past)
	createSchedule(t, database, "later", "0 * * * *", true, &future)
	createSchedule(t, database, "paused", "0 * * * *", false, &past)
	createSchedule(t, database, "unscheduled", "0 * * * *", true, nil)

	s.checkSchedules(context.Background())
	s.wg.Wait()

	require.Equal(t, 1, runner.count())
	assert.Equal(t, "https://due.example.com", runner.reqs[0].URL)
	assert.Equal(t, "wcag2a", runner.reqs[0].Standard)

	got, err := database.GetSchedule(due.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now()), "next run moves into the future")
}

func TestCheckSchedulesSkipsInvalidCron(t *testing.T) {
	database := testDB(t)
	runner := &mockRunner{}
	s := New(database, runner, logr.Discard())

	past := time.Now().Add(-time.Minute)
	createSchedule(t, database, "broken", "every tuesday", true, &past)

	s.checkSchedules(context.Background())
	s.wg.Wait()

	assert.Zero(t, runner.count())
}

func TestCheckSchedulesDoesNotOverlap(t *testing.T) {
	database := testDB(t)
	runner := &mockRunner{block: true}
	s := New(database, runner, logr.Discard())

	past := time.Now().Add(-time.Minute)
	sched := createSchedule(t, database, "slow", "* * * * *", true, &past)

	ctx, cancel := context.WithCancel(context.Background())
	s.checkSchedules(ctx)
	require.Eventually(t, func() bool { return runner.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	// Force it due again while the first run is still going
	require.NoError(t, database.UpdateScheduleLastRun(sched.ID, past, past))
	s.checkSchedules(ctx)

	cancel()
	s.wg.Wait()
	assert.Equal(t, 1, runner.count())
}

func TestGracefulShutdown(t *testing.T) {
	database := testDB(t)
	runner := &mockRunner{block: true}
	s := New(database, runner, logr.Discard())

	past := time.Now().Add(-time.Minute)
	createSchedule(t, database, "long", "0 * * * *", true, &past)

	s.Start()
	require.Eventually(t, func() bool { return runner.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the running scan")
	}
}
