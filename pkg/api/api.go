// Package api exposes the question-answering pipeline over a JSON HTTP
// API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/barekit/sage/pkg/pipeline"
)

// Answerer is the slice of the pipeline the API consumes.
type Answerer interface {
	AnswerQuestion(ctx context.Context, question string, topK int) (*pipeline.Answer, error)
	Count(ctx context.Context) (int, error)
	StoreName() string
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Logger         *slog.Logger
	Pipeline       Answerer // nil yields 503 on every pipeline route
	Collection     string
	EmbeddingModel string
	LLMModel       string
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		logger:         logger,
		pipeline:       cfg.Pipeline,
		collection:     cfg.Collection,
		embeddingModel: cfg.EmbeddingModel,
		llmModel:       cfg.LLMModel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /api/ask", h.ask)
	mux.HandleFunc("GET /api/stats", h.stats)

	return &Server{mux: mux}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type handler struct {
	logger         *slog.Logger
	pipeline       Answerer
	collection     string
	embeddingModel string
	llmModel       string
}

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "RAG Q&A Support Bot API",
		"endpoints": map[string]string{
			"health": "/health",
			"ask":    "/api/ask",
			"stats":  "/api/stats",
		},
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "pipeline not initialized"})
		return
	}
	count, err := h.pipeline.Count(r.Context())
	if err != nil {
		h.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "health check failed: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"vector_db_count": count,
	})
}

// ask answers one question. Validation failures map to 400, an
// uninitialized pipeline to 503, backend failures to 500; diagnostic
// messages go in the error field only, never into an answer.
func (h *handler) ask(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "pipeline not initialized"})
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	answer, err := h.pipeline.AnswerQuestion(r.Context(), req.Question, req.TopK)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrEmptyQuestion), errors.Is(err, pipeline.ErrInvalidTopK):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		default:
			h.logger.Error("failed to answer question", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error processing question: " + err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "pipeline not initialized"})
		return
	}
	count, err := h.pipeline.Count(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error getting stats: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_documents": count,
		"collection_name": h.collection,
		"vector_store":    h.pipeline.StoreName(),
		"embedding_model": h.embeddingModel,
		"llm_model":       h.llmModel,
	})
}

// writeJSON encodes into a buffer first so headers are only sent after
// a successful encode.
func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
