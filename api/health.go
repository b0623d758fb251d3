package api

import (
	"net/http"

	"github.com/docqa/docqa/internal/log"
	"github.com/docqa/docqa/internal/rag"
)

// HealthHandler handles health probes and collection stats.
type HealthHandler struct {
	engine *rag.Engine
	logger log.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(engine *rag.Engine, logger log.Logger) *HealthHandler {
	return &HealthHandler{engine: engine, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
	mux.HandleFunc("GET /api/collection", h.collection)
}

// liveness is a liveness probe endpoint.
// Returns 200 OK if the process is alive.
func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness is a readiness probe endpoint. It performs an actual check
// against the vector store.
func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if _, err := h.engine.Stats(r.Context()); err != nil {
		h.logger.Error("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "not_ready", "vector store not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// collection returns vector collection counters.
func (h *HealthHandler) collection(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
