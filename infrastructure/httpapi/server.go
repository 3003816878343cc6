// Package httpapi exposes the hub over a JSON HTTP API plus one WebSocket
// delivery stream per participant.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/asynctalk/chatroom/errors"
	"github.com/asynctalk/chatroom/hub"
	"github.com/asynctalk/chatroom/services"
)

type Server struct {
	log           *slog.Logger
	service       services.IChatService
	hub           *hub.Hub
	validate      *validator.Validate
	upgrader      websocket.Upgrader
	drainInterval time.Duration
	idleBound     time.Duration
}

func NewServer(log *slog.Logger, service services.IChatService, h *hub.Hub,
	drainInterval, idleBound time.Duration) *Server {
	return &Server{
		log:      log,
		service:  service,
		hub:      h,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The hub trusts its local agents; origin policy belongs to a
			// fronting proxy if one is ever deployed.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		drainInterval: drainInterval,
		idleBound:     idleBound,
	}
}

// Handler builds the route table. Every handler is wrapped in the logging
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleHome)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /reconnect", s.handleReconnect)
	mux.HandleFunc("POST /unregister", s.handleUnregister)
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("POST /talking_stick", s.handleTalkingStick)
	mux.HandleFunc("POST /check_event", s.handleCheckEvent)
	mux.HandleFunc("GET /users", s.handleUsers)
	mux.HandleFunc("GET /events", s.handleEvents)
	return s.logging(mux)
}

type userRequest struct {
	Username string `json:"username" validate:"required"`
}

type sendRequest struct {
	Username string `json:"username" validate:"required"`
	Message  string `json:"message" validate:"required"`
}

type checkEventRequest struct {
	Username string  `json:"username" validate:"required"`
	Delay    float64 `json:"delay"`
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<html><head><title>Chatroom Hub</title></head>
<body><h1>Chatroom Hub</h1>
<p>Server is running. Connect using the client application.</p></body></html>`)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.service.Register(req.Username); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.service.Reconnect(req.Username); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleUnregister always succeeds, even for unknown names or during
// shutdown preparation.
func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.service.Unregister(req.Username)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.service.Send(req.Username, req.Message); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleTalkingStick(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.service.ClaimTalkingStick(req.Username); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleCheckEvent(w http.ResponseWriter, r *http.Request) {
	var req checkEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	delay := time.Duration(req.Delay * float64(time.Second))
	if err := s.service.AnnounceWaiting(req.Username, delay); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	users, err := s.service.ListUsers()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// decode parses and validates a JSON body, replying with a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid request body"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"detail": err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, errors.MapToHTTPStatus(err), map[string]any{"detail": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}

// statusRecorder captures the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades hijack the connection; wrapping the writer
		// would break the upgrade handshake.
		if r.URL.Path == "/events" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
