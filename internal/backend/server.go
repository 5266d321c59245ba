package backend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/prdflow/internal/logging"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/wire"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is a development backend speaking both workflow transports.
type Server struct {
	manager *Manager
	logger  *slog.Logger
	// delay paces streamed records and socket messages.
	delay       time.Duration
	resultDelay time.Duration
	pinger      Pinger

	upgrader    websocket.Upgrader
	connections atomic.Int64

	wg sync.WaitGroup
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithDelay sets the pause between streamed steps.
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// WithResultDelay sets how long a background run takes before
// get_result returns it.
func WithResultDelay(d time.Duration) Option {
	return func(s *Server) { s.resultDelay = d }
}

// WithPinger makes /health report the store's reachability.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// NewServer creates a Server over manager.
func NewServer(manager *Manager, opts ...Option) *Server {
	s := &Server{
		manager:     manager,
		logger:      logging.NewNop(),
		resultDelay: 2 * time.Second,
		upgrader: websocket.Upgrader{
			// Development server: any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/start_conversation", s.startConversation)
	r.Post("/continue_clarifier", s.continueClarifier)
	r.Get("/get_state/{thread_id}", s.getState)
	r.Post("/run_workflow", s.runWorkflow)
	r.Get("/get_result/{thread_id}", s.getResult)
	r.Post("/run_workflow_stream", s.runWorkflowStream)
	r.Get("/ws/{client_id}", s.socket)
	r.Get("/health", s.health)
	return enableCORS(r)
}

// Wait blocks until background runs have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, wire.ErrorBody{Detail: detail})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		s.logger.Warn("invalid request body", "path", r.URL.Path, "err", err)
		return false
	}
	return true
}

func (s *Server) threadError(w http.ResponseWriter, err error) {
	if IsNotFound(err) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	s.logger.Error("thread operation failed", "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) startConversation(w http.ResponseWriter, r *http.Request) {
	var req wire.StartRequest
	if !s.decode(w, r, &req) {
		return
	}
	input := strings.TrimSpace(req.TextInput)
	if input == "" {
		writeError(w, http.StatusBadRequest, "text_input is required")
		return
	}
	c, err := s.manager.Start(r.Context(), input)
	if err != nil {
		s.threadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.StartResponse{Type: "start", ThreadID: c.ID})
}

func (s *Server) continueClarifier(w http.ResponseWriter, r *http.Request) {
	var req wire.ContinueRequest
	if !s.decode(w, r, &req) {
		return
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = req.SessionID
	}
	c, err := s.manager.Continue(r.Context(), threadID, req.Answers)
	if err != nil {
		s.threadError(w, err)
		return
	}
	content, err := wire.EncodeContinuation(c.Questions, c.Done)
	if err != nil {
		s.threadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ContinueResponse{Type: "continue", ThreadID: c.ID, Content: content})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	c, err := s.manager.Load(r.Context(), threadID)
	if err != nil {
		s.threadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id":      threadID,
		"state":          c,
		"clarifier_done": c.Done,
		"current_round":  c.Round,
	})
}

func (s *Server) runWorkflow(w http.ResponseWriter, r *http.Request) {
	var req wire.ContinueRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.manager.Update(r.Context(), req.ThreadID, func(c *domain.Conversation) error {
		if !c.Done {
			return errClarifierIncomplete
		}
		c.Result = nil
		return nil
	})
	if errors.Is(err, errClarifierIncomplete) {
		writeError(w, http.StatusBadRequest, "Clarifier not completed")
		return
	}
	if err != nil {
		s.threadError(w, err)
		return
	}

	s.wg.Add(1)
	go func(id string) {
		defer s.wg.Done()
		time.Sleep(s.resultDelay)
		_, err := s.manager.Update(context.Background(), id, func(c *domain.Conversation) error {
			c.Result = finalResult(c)
			return nil
		})
		if err != nil {
			s.logger.Error("background run failed", "thread_id", id, "err", err)
		}
	}(c.ID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "workflow_started", "thread_id": c.ID})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.Load(r.Context(), chi.URLParam(r, "thread_id"))
	if err != nil {
		s.threadError(w, err)
		return
	}
	if c.Result == nil {
		writeError(w, http.StatusAccepted, "Workflow still processing")
		return
	}
	writeJSON(w, http.StatusOK, c.Result)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"timestamp":   float64(time.Now().UnixNano()) / 1e9,
		"connections": s.connections.Load(),
	}
	if ids, err := s.manager.List(r.Context()); err == nil {
		resp["conversations"] = len(ids)
	}
	status := http.StatusOK
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// pause waits for the configured delay or until ctx ends.
func (s *Server) pause(ctx context.Context) bool {
	if s.delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
