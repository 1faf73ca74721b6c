package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aretw0/recall"
	"github.com/aretw0/recall/internal/logging"
	presentation "github.com/aretw0/recall/internal/presentation/graph"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/graph"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Conversations is the agent surface served over HTTP.
type Conversations interface {
	Stream(ctx context.Context, key domain.ConversationKey, question string) iter.Seq2[string, error]
	Thread(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error)
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
	Question string `json:"question"`
}

// Server serves the conversational API.
type Server struct {
	conv    Conversations
	graph   *graph.Graph
	streams *StreamManager
	metrics http.Handler
	logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithGraph enables GET /graph.
func WithGraph(g *graph.Graph) Option {
	return func(s *Server) {
		s.graph = g
	}
}

// WithStreams enables GET /events. The manager's Hooks must be installed on the agent.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.streams = sm
	}
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHandler creates the HTTP handler for conv.
func NewHandler(conv Conversations, opts ...Option) http.Handler {
	s := &Server{conv: conv, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.GetRoot)
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Post("/chat", s.Chat)
	r.Get("/threads/{owner}/{thread}", s.GetThread)
	if s.graph != nil {
		r.Get("/graph", s.GetGraph)
	}
	if s.streams != nil {
		r.Get("/events", s.SubscribeEvents)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetRoot handles GET /.
func (s *Server) GetRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the recall API. POST /chat to talk to the agent."})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "recall-http",
		"version": strings.TrimSpace(recall.Version),
	})
}

// Trailers sent on /chat when the stream fails after the first fragment was written.
// TrailerStatus carries the status the failure would have had before streaming began.
const (
	TrailerStatus    = "X-Recall-Status"
	TrailerError     = "X-Recall-Error"
	TrailerRetryable = "X-Recall-Retryable"
)

// Chat handles POST /chat. The reply is streamed as text/plain, one flush per fragment.
// Errors that happen before the first fragment are reported with a status code; later
// ones end the stream and are reported in the trailers.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("Chat: Invalid request body", "err", err)
		return
	}
	key := domain.ConversationKey{OwnerID: body.UserID, ThreadID: body.ThreadID}
	if err := key.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	next, stop := iter.Pull2(s.conv.Stream(r.Context(), key, body.Question))
	defer stop()

	fragment, err, ok := next()
	if ok && err != nil {
		s.writeError(w, key, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Trailer", strings.Join([]string{TrailerStatus, TrailerError, TrailerRetryable}, ", "))
	w.WriteHeader(http.StatusOK)

	for ok {
		if err != nil {
			s.logger.Error("Chat: stream aborted", "key", key.String(), "err", err)
			w.Header().Set(TrailerStatus, strconv.Itoa(statusFor(err)))
			w.Header().Set(TrailerError, err.Error())
			w.Header().Set(TrailerRetryable, strconv.FormatBool(domain.IsRetryable(err)))
			return
		}
		if _, werr := w.Write([]byte(fragment)); werr != nil {
			s.logger.Debug("Chat: client went away", "key", key.String(), "err", werr)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		fragment, err, ok = next()
	}
}

// GetThread handles GET /threads/{owner}/{thread}.
func (s *Server) GetThread(w http.ResponseWriter, r *http.Request) {
	key := domain.ConversationKey{OwnerID: chi.URLParam(r, "owner"), ThreadID: chi.URLParam(r, "thread")}
	cp, err := s.conv.Thread(r.Context(), key)
	if err != nil {
		s.writeError(w, key, err)
		return
	}
	if cp.Version == 0 {
		http.Error(w, "thread not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// GetGraph handles GET /graph with a Mermaid flowchart.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, presentation.GenerateMermaid(s.graph, nil))
}

// statusFor maps engine errors to HTTP status codes: conflicts are 409, other
// retryable failures 503, invalid input 400, everything else 500.
func statusFor(err error) int {
	var cme *domain.ConcurrentModificationError
	switch {
	case errors.Is(err, domain.ErrInvalidKey), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &cme), errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case domain.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, key domain.ConversationKey, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "key", key.String(), "status", status, "err", err)
	}
	if status == http.StatusConflict || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, map[string]any{
		"error":     err.Error(),
		"retryable": domain.IsRetryable(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
