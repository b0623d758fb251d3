package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	genkitapi "github.com/firebase/genkit/go/core/api"

	"github.com/docqa/docqa/internal/chunker"
	"github.com/docqa/docqa/internal/conversation"
	"github.com/docqa/docqa/internal/log"
	"github.com/docqa/docqa/internal/rag"
	"github.com/docqa/docqa/internal/vectorstore/memory"
)

// mockEmbedder implements ai.Embedder with a fixed vector per input.
type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(_ genkitapi.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	resp := &ai.EmbedResponse{}
	for range req.Input {
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: []float32{1, 0, 0}})
	}
	return resp, nil
}

// stubGenerator implements rag.Generator with a fixed reply or error.
type stubGenerator struct {
	text string
	err  error
}

func (s *stubGenerator) Generate(_ context.Context, _ ...ai.GenerateOption) (*ai.ModelResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ai.ModelResponse{
		Message: ai.NewModelMessage(ai.NewTextPart(s.text)),
	}, nil
}

func newTestServer(t *testing.T, emb *mockEmbedder, gen *stubGenerator) *httptest.Server {
	t.Helper()

	logger := log.NewNop()
	store := memory.New()

	retriever, err := rag.NewRetriever(emb, store, 5, logger)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	composer, err := rag.NewComposer(rag.ComposerConfig{
		Generator: gen,
		ModelName: "googleai/test-model",
		Logger:    logger,
		Retry: rag.RetryConfig{
			MaxRetries:      1,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("NewComposer: %v", err)
	}
	splitter, err := chunker.New(1000, 200)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	engine, err := rag.NewEngine(rag.EngineConfig{
		Retriever:          retriever,
		Composer:           composer,
		Store:              store,
		Conversations:      conversation.NewStore(10),
		Splitter:           splitter,
		Logger:             logger,
		RelevanceThreshold: 0.75,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	server, err := NewServer(engine, []string{"http://localhost:3000"}, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "ok"})

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestAskEndpoint(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "The answer."})

	resp := postJSON(t, ts.URL+"/api/ask", map[string]string{
		"question": "What is up?",
		"mode":     "general",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	answer := decodeBody[rag.Answer](t, resp)
	if answer.Text != "The answer." {
		t.Errorf("answer = %q", answer.Text)
	}
	if answer.Mode != rag.ModeGeneral {
		t.Errorf("mode = %q, want general", answer.Mode)
	}
	if answer.ConversationID == "" {
		t.Error("conversation_id missing from answer")
	}
}

func TestAskActiveSourcesFilter(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "Grounded."})

	for _, src := range []string{"alpha.txt", "beta.txt"} {
		resp := postJSON(t, ts.URL+"/api/text", map[string]string{
			"text":            "Facts from " + src,
			"source_id":       src,
			"conversation_id": "conv-1",
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("ingest %s = %d, want 201", src, resp.StatusCode)
		}
	}

	resp := postJSON(t, ts.URL+"/api/ask", map[string]any{
		"question":        "What are the facts?",
		"conversation_id": "conv-1",
		"active_sources":  []string{"alpha.txt"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	answer := decodeBody[rag.Answer](t, resp)
	if answer.Mode != rag.ModeRAG {
		t.Errorf("mode = %q, want rag", answer.Mode)
	}
	if len(answer.Sources) == 0 {
		t.Fatal("no sources cited")
	}
	for _, s := range answer.Sources {
		if s.SourceID != "alpha.txt" {
			t.Errorf("cited %q, want only alpha.txt", s.SourceID)
		}
	}
}

func TestAskValidation(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "x"})

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"missing question", `{"mode":"rag"}`},
		{"blank question", `{"question":"   "}`},
		{"bad mode", `{"question":"hi","mode":"banana"}`},
		{"unknown field", `{"question":"hi","temperature":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/ask", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestAskGenerationFailureIs502(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{err: errors.New("invalid argument")})

	resp := postJSON(t, ts.URL+"/api/ask", map[string]string{
		"question": "hi",
		"mode":     "general",
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	body := decodeBody[ErrorResponse](t, resp)
	if body.Error != "generation_failed" {
		t.Errorf("error = %q", body.Error)
	}
}

func uploadFile(t *testing.T, url, filename, content string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	if err := mw.WriteField("conversation_id", "conv-1"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	mw.Close()

	resp, err := http.Post(url+"/api/documents", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /api/documents: %v", err)
	}
	return resp
}

func TestDocumentUpload(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "x"})

	resp := uploadFile(t, ts.URL, "notes.txt", "Cats are wonderful companions.")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	result := decodeBody[rag.IngestResult](t, resp)
	if result.SourceID != "notes.txt" || result.ChunksInserted != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.ConversationID != "conv-1" {
		t.Errorf("conversation_id = %q, want conv-1", result.ConversationID)
	}
}

func TestDocumentUploadUnsupportedFormat(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "x"})

	resp := uploadFile(t, ts.URL, "photo.png", "\x89PNG")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody[ErrorResponse](t, resp)
	if body.Error != "unsupported_format" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestDocumentUploadEmbedderDownIs502WithCounts(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{err: errors.New("quota exceeded")}, &stubGenerator{text: "x"})

	resp := uploadFile(t, ts.URL, "notes.txt", "Some content to ingest.")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	body := decodeBody[ingestErrorResponse](t, resp)
	if body.Error != "embedding_failed" {
		t.Errorf("error = %q", body.Error)
	}
	if body.ChunksTotal != 1 || body.ChunksInserted != 0 {
		t.Errorf("counts = %d/%d, want 0/1", body.ChunksInserted, body.ChunksTotal)
	}
}

func TestTextIngestAndSourceLifecycle(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "x"})

	// Ingest raw text.
	resp := postJSON(t, ts.URL+"/api/text", map[string]string{
		"text":            "The refund policy lasts 30 days.",
		"source_id":       "policy.md",
		"conversation_id": "conv-9",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	// List it.
	resp, err := http.Get(ts.URL + "/api/sources/conv-9")
	if err != nil {
		t.Fatalf("GET sources: %v", err)
	}
	listing := decodeBody[struct {
		ConversationID string `json:"conversation_id"`
		Sources        []struct {
			Name   string `json:"name"`
			Chunks int    `json:"chunks"`
		} `json:"sources"`
	}](t, resp)
	if len(listing.Sources) != 1 || listing.Sources[0].Name != "policy.md" {
		t.Fatalf("sources = %+v", listing.Sources)
	}

	// Delete it.
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sources/conv-9/policy.md", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	deletion := decodeBody[struct {
		Removed int `json:"removed"`
	}](t, resp)
	if deletion.Removed != 1 {
		t.Errorf("removed = %d, want 1", deletion.Removed)
	}

	// Deleting again is a 404.
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE again: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestTextIngestDefaultsSourceName(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "x"})

	resp := postJSON(t, ts.URL+"/api/text", map[string]string{"text": "hello world"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	result := decodeBody[rag.IngestResult](t, resp)
	if result.SourceID != "manual_input" {
		t.Errorf("source_id = %q, want manual_input", result.SourceID)
	}
}

func TestTextIngestEmptyTextIs400(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "x"})

	resp := postJSON(t, ts.URL+"/api/text", map[string]string{"source_id": "empty.txt", "text": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody[ingestErrorResponse](t, resp)
	if body.Error != "empty_document" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestClearConversationEndpoint(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "reply"})

	resp := postJSON(t, ts.URL+"/api/ask", map[string]string{
		"question":        "hi",
		"conversation_id": "conv-2",
		"mode":            "general",
	})
	resp.Body.Close()

	resp, err := http.Post(ts.URL+"/api/conversations/conv-2/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("POST clear: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("clear status = %d, want 200", resp.StatusCode)
	}
}

func TestCollectionStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "x"})

	resp := postJSON(t, ts.URL+"/api/text", map[string]string{
		"text":      "some content",
		"source_id": "doc.txt",
	})
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/collection")
	if err != nil {
		t.Fatalf("GET collection: %v", err)
	}
	stats := decodeBody[struct {
		PointCount uint64 `json:"point_count"`
	}](t, resp)
	if stats.PointCount != 1 {
		t.Errorf("point_count = %d, want 1", stats.PointCount)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, &mockEmbedder{}, &stubGenerator{text: "x"})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/ask", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}

	// Unlisted origins get no CORS headers.
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unlisted origin = %q, want empty", got)
	}
}
