package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/lyallcooper/scanstream/internal/db"
	"github.com/lyallcooper/scanstream/internal/services"
	"github.com/lyallcooper/scanstream/internal/types"
)

// maxRequestBody caps JSON request bodies
const maxRequestBody = 1 << 20

// ScanService runs and cancels scans
type ScanService interface {
	Run(ctx context.Context, req types.ScanRequest, sink services.EventSink, opts ...services.RunOption) error
	CancelScan(runID string) bool
}

// Handler holds all HTTP handlers
type Handler struct {
	db      *db.DB
	scanner ScanService
	log     logr.Logger
	version string
}

// New creates a new Handler
func New(database *db.DB, scanner ScanService, log logr.Logger, version string) *Handler {
	return &Handler{
		db:      database,
		scanner: scanner,
		log:     log,
		version: version,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Health)

	// Scans
	mux.HandleFunc("POST /scan", h.Scan)
	mux.HandleFunc("GET /scans", h.ListScans)
	mux.HandleFunc("GET /scans/{id}", h.GetScan)
	mux.HandleFunc("POST /scans/{id}/cancel", h.CancelScan)

	// Webhooks
	mux.HandleFunc("GET /webhooks", h.ListWebhooks)
	mux.HandleFunc("POST /webhooks", h.CreateWebhook)
	mux.HandleFunc("POST /webhooks/{id}/toggle", h.ToggleWebhook)
	mux.HandleFunc("DELETE /webhooks/{id}", h.DeleteWebhook)

	// Schedules
	mux.HandleFunc("GET /schedules", h.ListSchedules)
	mux.HandleFunc("POST /schedules", h.CreateSchedule)
	mux.HandleFunc("POST /schedules/{id}/toggle", h.ToggleSchedule)
	mux.HandleFunc("DELETE /schedules/{id}", h.DeleteSchedule)
}

// Routes returns the full handler chain
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h.logRequests(cors(mux))
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorResponse is the body of every non-2xx JSON response
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a size-limited JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	return json.NewDecoder(r.Body).Decode(v)
}

// pathID parses the numeric {id} path value
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// queryInt reads a non-negative integer query parameter
func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// storeError maps a database error to a response
func (h *Handler) storeError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	h.log.Error(err, "database error")
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
