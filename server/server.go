// Package server exposes the companion over HTTP and WebSocket: one guarded
// converse call per identifier, persona and server-knowledge administration,
// forum comments, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/observability"
)

// User-visible messages. Internal error detail is never sent unless
// Config.ExposeErrors is set.
const (
	MsgBusy       = "⏳ Still processing your previous message, please wait a moment!"
	MsgTooLong    = "That's a lot to read! Please keep it under %d characters."
	MsgRetryLater = "Something went wrong on my side, please try again later."
)

// Companion is the conversational surface the server drives.
type Companion interface {
	Converse(ctx context.Context, id, observedProfile, message string) (core.Reply, error)
	GetPersona(ctx context.Context, id string) (string, bool, error)
	SetPersona(ctx context.Context, id, displayName, rawInput string) (string, error)
	RefreshServerKnowledge(ctx context.Context, scopeID, rawText string) (string, error)
	Comment(ctx context.Context, title, content, persona, tone string) string
}

// Config configures the server.
type Config struct {
	// MaxMessageChars rejects longer converse messages. Default: 800
	MaxMessageChars int

	// ExposeErrors includes internal error detail in responses.
	ExposeErrors bool

	// AllowAnyOrigin accepts WebSocket upgrades from any Origin.
	AllowAnyOrigin bool
}

// Server is the HTTP surface.
type Server struct {
	cfg       Config
	companion Companion
	guard     *Guard
	metrics   *observability.Metrics
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// New creates a Server.
func New(cfg Config, companion Companion, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = 800
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		companion: companion,
		guard:     NewGuard(),
		metrics:   metrics,
		logger:    logger.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := r.Header.Get("Origin")
				// Non-browser clients omit Origin
				return origin == "" || strings.HasSuffix(origin, "://"+r.Host)
			},
		},
	}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Post("/v1/converse", s.handleConverse)
	r.Get("/v1/converse/ws", s.handleConverseWS)
	r.Get("/v1/personas/{id}", s.handleGetPersona)
	r.Put("/v1/personas/{id}", s.handleSetPersona)
	r.Put("/v1/knowledge/{scope}", s.handleRefreshKnowledge)
	r.Post("/v1/comments", s.handleComment)
	return r
}

type converseRequest struct {
	UserID  string `json:"user_id"`
	Profile string `json:"profile"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// converse runs one guarded converse call and maps failures to a status
// code and a user-visible error.
func (s *Server) converse(ctx context.Context, req converseRequest) (core.Reply, int, *errorResponse) {
	if strings.TrimSpace(req.UserID) == "" {
		return core.Reply{}, http.StatusBadRequest, &errorResponse{Error: "user_id is required", Code: "invalid_request"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return core.Reply{}, http.StatusBadRequest, &errorResponse{Error: "message is required", Code: "invalid_request"}
	}
	if utf8.RuneCountInString(req.Message) > s.cfg.MaxMessageChars {
		return core.Reply{}, http.StatusRequestEntityTooLarge, &errorResponse{
			Error: fmt.Sprintf(MsgTooLong, s.cfg.MaxMessageChars),
			Code:  "message_too_long",
		}
	}

	release, err := s.guard.Acquire(req.UserID)
	if err != nil {
		s.metrics.Conversation("busy", 0)
		return core.Reply{}, http.StatusTooManyRequests, &errorResponse{Error: MsgBusy, Code: "busy"}
	}
	defer release()

	reply, err := s.companion.Converse(ctx, req.UserID, req.Profile, req.Message)
	if err != nil {
		s.logger.Error("converse failed", zap.String("user_id", req.UserID), zap.Error(err))
		status, errResp := s.internalError(err)
		return core.Reply{}, status, errResp
	}
	return reply, http.StatusOK, nil
}

func (s *Server) handleConverse(w http.ResponseWriter, r *http.Request) {
	var req converseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reply, status, errResp := s.converse(r.Context(), req)
	if errResp != nil {
		respondJSON(w, status, errResp)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

// handleConverseWS serves converse over a WebSocket. Each text frame is a
// converse request; each answer is a reply or an error frame. Frames on one
// connection are handled in order.
func (s *Server) handleConverseWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(64 << 10)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var out any
		var req converseRequest
		if err := json.Unmarshal(data, &req); err != nil {
			out = errorResponse{Error: "invalid message", Code: "invalid_request"}
		} else if reply, _, errResp := s.converse(r.Context(), req); errResp != nil {
			out = errResp
		} else {
			out = reply
		}

		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(out); err != nil {
			s.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	persona, ok, err := s.companion.GetPersona(r.Context(), id)
	if err != nil {
		s.logger.Error("get persona failed", zap.String("user_id", id), zap.Error(err))
		s.respondInternal(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no persona set")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"persona": persona})
}

func (s *Server) handleSetPersona(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		DisplayName string `json:"display_name"`
		Input       string `json:"input"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "input is required")
		return
	}

	persona, err := s.companion.SetPersona(r.Context(), id, req.DisplayName, req.Input)
	if err != nil {
		s.logger.Error("set persona failed", zap.String("user_id", id), zap.Error(err))
		s.respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"persona": persona})
}

func (s *Server) handleRefreshKnowledge(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	msg, err := s.companion.RefreshServerKnowledge(r.Context(), scope, req.Text)
	if err != nil {
		s.logger.Error("refresh knowledge failed", zap.String("scope_id", scope), zap.Error(err))
		s.respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		Persona string `json:"persona"`
		Tone    string `json:"tone"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	comment := s.companion.Comment(r.Context(), req.Title, req.Content, req.Persona, req.Tone)
	respondJSON(w, http.StatusOK, map[string]string{"comment": comment})
}

// internalError maps a companion error to a status and a response that
// hides internal detail unless ExposeErrors is set.
func (s *Server) internalError(err error) (int, *errorResponse) {
	if errors.Is(err, core.ErrEmptyIdentifier) {
		return http.StatusBadRequest, &errorResponse{Error: err.Error(), Code: "invalid_request"}
	}
	if s.cfg.ExposeErrors {
		return http.StatusInternalServerError, &errorResponse{Error: err.Error(), Code: "internal"}
	}
	return http.StatusInternalServerError, &errorResponse{Error: MsgRetryLater, Code: "internal"}
}

func (s *Server) respondInternal(w http.ResponseWriter, err error) {
	status, errResp := s.internalError(err)
	respondJSON(w, status, errResp)
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
