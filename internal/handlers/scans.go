package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/lyallcooper/scanstream/internal/sse"
	"github.com/lyallcooper/scanstream/internal/types"
)

// Scan handles POST /scan. A request without a URL is rejected with a JSON
// 400 before the stream opens; every other outcome, including engine
// failures, is reported inside the stream.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req types.ScanRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	emitter, err := sse.NewEmitter(w, h.log.WithName("sse"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	// Failures were already sent as error events
	_ = h.scanner.Run(r.Context(), req, emitter)
}
