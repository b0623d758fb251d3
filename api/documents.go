package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/docqa/docqa/internal/chunker"
	"github.com/docqa/docqa/internal/log"
	"github.com/docqa/docqa/internal/rag"
)

const (
	// maxUploadSize caps document uploads.
	maxUploadSize = 10 << 20 // 10 MiB

	// maxTextBodySize caps raw text ingestion bodies.
	maxTextBodySize = 10 << 20
)

// DocumentsHandler handles document ingestion and source management.
type DocumentsHandler struct {
	engine *rag.Engine
	logger log.Logger
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(engine *rag.Engine, logger log.Logger) *DocumentsHandler {
	return &DocumentsHandler{engine: engine, logger: logger}
}

// RegisterRoutes registers document routes on the given mux.
func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents", h.upload)
	mux.HandleFunc("POST /api/text", h.ingestText)
	mux.HandleFunc("GET /api/sources/{conversation_id}", h.listSources)
	mux.HandleFunc("DELETE /api/sources/{conversation_id}/{source...}", h.deleteSource)
}

// upload ingests an uploaded file.
//
//	POST /api/documents (multipart/form-data)
//	fields: file (required), conversation_id (optional)
func (h *DocumentsHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "parsing multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "file field is required")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "reading upload: "+err.Error())
		return
	}

	conversationID := r.FormValue("conversation_id")

	result, err := h.engine.IngestDocument(r.Context(), conversationID, header.Filename, raw)
	if err != nil {
		h.logger.Error("document ingestion failed",
			"source_id", header.Filename,
			"inserted", result.ChunksInserted,
			"error", err,
		)
		writeIngestError(w, err, result)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// defaultTextSource names raw text ingested without an explicit source.
const defaultTextSource = "manual_input"

// textRequest is the request body for POST /api/text.
type textRequest struct {
	Text           string `json:"text"`
	SourceID       string `json:"source_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ingestText ingests raw text. The source name is caller-chosen and
// defaults to "manual_input".
//
//	POST /api/text
//	{"text": "...", "source_id": "notes.txt", "conversation_id": "..."}
func (h *DocumentsHandler) ingestText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTextBodySize)
	var req textRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sourceID := strings.TrimSpace(req.SourceID)
	if sourceID == "" {
		sourceID = defaultTextSource
	}

	result, err := h.engine.IngestText(r.Context(), req.ConversationID, sourceID, req.Text)
	if err != nil {
		h.logger.Error("text ingestion failed",
			"source_id", sourceID,
			"inserted", result.ChunksInserted,
			"error", err,
		)
		writeIngestError(w, err, result)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// listSources lists the sources stored for a conversation.
//
//	GET /api/sources/{conversation_id}
func (h *DocumentsHandler) listSources(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversation_id")

	sources, err := h.engine.ListSources(r.Context(), conversationID)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"sources":         sources,
	})
}

// deleteSource removes a source's chunks from a conversation.
// The source segment is a wildcard because source names may contain
// slashes (e.g. paths).
//
//	DELETE /api/sources/{conversation_id}/{source...}
func (h *DocumentsHandler) deleteSource(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversation_id")
	source := r.PathValue("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "source is required")
		return
	}

	removed, err := h.engine.DeleteSource(r.Context(), conversationID, source)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if removed == 0 {
		writeError(w, http.StatusNotFound, "not_found", "source not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"source":          source,
		"removed":         removed,
	})
}

// ingestErrorResponse reports a failed ingestion together with how much
// of the document was stored before the failure.
type ingestErrorResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	ChunksTotal    int    `json:"chunks_total"`
	ChunksInserted int    `json:"chunks_inserted"`
}

// writeIngestError maps ingestion errors to HTTP responses, preserving
// the exact partial-insert counts.
func writeIngestError(w http.ResponseWriter, err error, result rag.IngestResult) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, chunker.ErrUnsupportedFormat):
		status, code = http.StatusBadRequest, "unsupported_format"
	case errors.Is(err, rag.ErrEmptyDocument):
		status, code = http.StatusBadRequest, "empty_document"
	case errors.Is(err, rag.ErrEmbeddingFailed):
		status, code = http.StatusBadGateway, "embedding_failed"
	case errors.Is(err, rag.ErrRetrievalUnavailable):
		status, code = http.StatusBadGateway, "retrieval_unavailable"
	}

	writeJSON(w, status, ingestErrorResponse{
		Error:          code,
		Message:        err.Error(),
		ChunksTotal:    result.ChunksTotal,
		ChunksInserted: result.ChunksInserted,
	})
}
