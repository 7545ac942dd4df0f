package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/lyallcooper/scanstream/internal/db"
	"github.com/lyallcooper/scanstream/internal/scheduler"
)

// scheduleRequest is the body of POST /schedules
type scheduleRequest struct {
	Name           string             `json:"name"`
	URL            string             `json:"url"`
	CronExpression string             `json:"cronExpression"`
	Options        db.ScheduleOptions `json:"options"`
	Enabled        *bool              `json:"enabled"`
}

// ListSchedules handles GET /schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.db.ListSchedules()
	if err != nil {
		h.storeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

// CreateSchedule handles POST /schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.URL = strings.TrimSpace(req.URL)
	req.CronExpression = strings.TrimSpace(req.CronExpression)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	next, err := scheduler.NextRun(req.CronExpression, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sched := &db.Schedule{
		Name:           req.Name,
		URL:            req.URL,
		CronExpression: req.CronExpression,
		Options:        req.Options,
		Enabled:        enabled,
	}
	if enabled {
		sched.NextRunAt = &next
	}

	created, err := h.db.CreateSchedule(sched)
	if err != nil {
		h.storeError(w, err, "")
		return
	}
	h.log.Info("schedule created", "id", created.ID, "name", created.Name, "cron", created.CronExpression)
	writeJSON(w, http.StatusCreated, created)
}

// ToggleSchedule handles POST /schedules/{id}/toggle. Enabling a schedule
// recomputes its next run from now; disabling clears it.
func (h *Handler) ToggleSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid schedule ID")
		return
	}

	sched, err := h.db.GetSchedule(id)
	if err != nil {
		h.storeError(w, err, "Schedule not found")
		return
	}

	enabled := !sched.Enabled
	var nextRun *time.Time
	if enabled {
		next, err := scheduler.NextRun(sched.CronExpression, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		nextRun = &next
	}

	if err := h.db.SetScheduleEnabled(id, enabled, nextRun); err != nil {
		h.storeError(w, err, "Schedule not found")
		return
	}

	updated, err := h.db.GetSchedule(id)
	if err != nil {
		h.storeError(w, err, "Schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteSchedule handles DELETE /schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid schedule ID")
		return
	}
	if err := h.db.DeleteSchedule(id); err != nil {
		h.storeError(w, err, "Schedule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
