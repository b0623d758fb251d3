package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/docqa/docqa/internal/chunker"
	"github.com/docqa/docqa/internal/rag"
)

// writeJSON encodes data as the response body under the given status.
// The status line is already on the wire when encoding runs, so an
// encode failure can only be logged, not reported to the client.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response body", "error", err)
	}
}

// ErrorResponse is the envelope for every non-2xx response: a stable
// machine-readable code plus a human-readable message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writePipelineError maps pipeline sentinel errors to HTTP responses.
// Client mistakes (bad format, empty document) are 400s; upstream
// failures (model, embedder, vector store) are 502s.
func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chunker.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, "unsupported_format", err.Error())
	case errors.Is(err, rag.ErrEmptyDocument):
		writeError(w, http.StatusBadRequest, "empty_document", err.Error())
	case errors.Is(err, rag.ErrGenerationFailed):
		writeError(w, http.StatusBadGateway, "generation_failed", err.Error())
	case errors.Is(err, rag.ErrEmbeddingFailed):
		writeError(w, http.StatusBadGateway, "embedding_failed", err.Error())
	case errors.Is(err, rag.ErrRetrievalUnavailable):
		writeError(w, http.StatusBadGateway, "retrieval_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
