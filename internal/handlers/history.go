package handlers

import (
	"net/http"

	"github.com/lyallcooper/scanstream/internal/db"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ScanRunView extends ScanRun with its duration
type ScanRunView struct {
	*db.ScanRun
	Duration string `json:"duration,omitempty"`
}

// ScanListResponse is the body of GET /scans
type ScanListResponse struct {
	Runs    []*ScanRunView `json:"runs"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"hasMore"`
}

func newScanRunView(run *db.ScanRun) *ScanRunView {
	view := &ScanRunView{ScanRun: run}
	if run.CompletedAt != nil {
		view.Duration = formatDuration(run.CompletedAt.Sub(run.StartedAt))
	}
	return view
}

// ListScans handles GET /scans
func (h *Handler) ListScans(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize)
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	offset := queryInt(r, "offset", 0)

	runs, err := h.db.ListScanRuns(limit, offset)
	if err != nil {
		h.storeError(w, err, "")
		return
	}
	total, err := h.db.CountScanRuns()
	if err != nil {
		h.storeError(w, err, "")
		return
	}

	views := make([]*ScanRunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newScanRunView(run))
	}

	writeJSON(w, http.StatusOK, ScanListResponse{
		Runs:    views,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(runs) < total,
	})
}

// GetScan handles GET /scans/{id}
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	run, err := h.db.GetScanRun(r.PathValue("id"))
	if err != nil {
		h.storeError(w, err, "Scan not found")
		return
	}
	writeJSON(w, http.StatusOK, newScanRunView(run))
}

// CancelScan handles POST /scans/{id}/cancel
func (h *Handler) CancelScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.scanner.CancelScan(id) {
		writeError(w, http.StatusNotFound, "Scan is not running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}
