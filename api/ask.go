package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/docqa/docqa/internal/log"
	"github.com/docqa/docqa/internal/rag"
)

// maxAskBodySize caps the /api/ask request body.
const maxAskBodySize = 1 << 20 // 1 MiB

// AskHandler handles question answering and conversation management.
type AskHandler struct {
	engine *rag.Engine
	logger log.Logger
}

// NewAskHandler creates a new ask handler.
func NewAskHandler(engine *rag.Engine, logger log.Logger) *AskHandler {
	return &AskHandler{engine: engine, logger: logger}
}

// RegisterRoutes registers ask routes on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ask", h.ask)
	mux.HandleFunc("POST /api/conversations/{id}/clear", h.clearConversation)
}

// askRequest is the request body for POST /api/ask.
type askRequest struct {
	Question string `json:"question"`

	// ConversationID is optional; omitted or empty starts a new
	// conversation whose ID is returned in the answer.
	ConversationID string `json:"conversation_id,omitempty"`

	// Mode is "rag" (default) or "general".
	Mode string `json:"mode,omitempty"`

	// ActiveSources restricts retrieval to the named sources. Empty or
	// omitted means all of the conversation's sources are searched.
	ActiveSources []string `json:"active_sources,omitempty"`
}

// ask answers a question.
//
//	POST /api/ask
//	{"question": "...", "conversation_id": "...", "mode": "rag", "active_sources": ["a.txt"]}
func (h *AskHandler) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}
	mode, err := rag.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	answer, err := h.engine.Ask(r.Context(), req.ConversationID, req.Question, mode, req.ActiveSources)
	if err != nil {
		h.logger.Error("ask failed",
			"conversation_id", req.ConversationID,
			"error", err,
		)
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// clearConversation resets a conversation's dialogue history.
//
//	POST /api/conversations/{id}/clear
func (h *AskHandler) clearConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "conversation id is required")
		return
	}

	h.engine.ClearConversation(id)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":          "cleared",
		"conversation_id": id,
	})
}

// decodeJSON decodes a JSON request body with a size cap and strict
// field checking.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}
