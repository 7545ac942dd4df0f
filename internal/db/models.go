package db

import (
	"time"

	"github.com/lyallcooper/scanstream/internal/types"
)

// ScanRunStatus represents the status of a scan run
type ScanRunStatus string

const (
	ScanRunStatusRunning   ScanRunStatus = "running"
	ScanRunStatusCompleted ScanRunStatus = "completed"
	ScanRunStatusFailed    ScanRunStatus = "failed"
	ScanRunStatusCancelled ScanRunStatus = "cancelled"
)

// ScanRun represents a single execution of a scan
type ScanRun struct {
	ID           string        `json:"id"`
	URL          string        `json:"url"`
	Standard     string        `json:"standard,omitempty"`
	ScheduleID   *int64        `json:"scheduleId,omitempty"`
	Status       ScanRunStatus `json:"status"`
	StartedAt    time.Time     `json:"startedAt"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
	Score        *int          `json:"score,omitempty"`
	TotalIssues  int           `json:"totalIssues"`
	Critical     int           `json:"critical"`
	Serious      int           `json:"serious"`
	Moderate     int           `json:"moderate"`
	Minor        int           `json:"minor"`
	ErrorMessage *string       `json:"error,omitempty"`
	ReportKey    *string       `json:"reportKey,omitempty"`
}

// Webhook is a subscription to scan events
type Webhook struct {
	ID             int64      `json:"id"`
	URL            string     `json:"url"`
	Events         []string   `json:"events"` // empty = all events
	Secret         string     `json:"-"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastDeliveryAt *time.Time `json:"lastDeliveryAt,omitempty"`
	LastStatus     *string    `json:"lastStatus,omitempty"`
}

// Subscribes reports whether the webhook wants event
func (w *Webhook) Subscribes(event string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// ScheduleOptions are the scan options stored with a schedule
type ScheduleOptions struct {
	Standard           string `json:"standard,omitempty"`
	Viewport           string `json:"viewport,omitempty"`
	IncludeWarnings    bool   `json:"includeWarnings,omitempty"`
	IncludeCustomRules bool   `json:"includeCustomRules,omitempty"`
}

// Schedule is a cron-driven recurring scan
type Schedule struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	URL            string          `json:"url"`
	CronExpression string          `json:"cronExpression"`
	Options        ScheduleOptions `json:"options"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time      `json:"nextRunAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ScanRequest builds the request a schedule runs
func (s *Schedule) ScanRequest() types.ScanRequest {
	return types.ScanRequest{
		URL:                s.URL,
		Standard:           s.Options.Standard,
		Viewport:           s.Options.Viewport,
		IncludeWarnings:    s.Options.IncludeWarnings,
		IncludeCustomRules: s.Options.IncludeCustomRules,
	}
}
