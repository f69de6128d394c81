package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/memory"
	"github.com/antoniostano/relay/internal/observability"
	"github.com/antoniostano/relay/internal/protocol"
	"github.com/antoniostano/relay/internal/reliability"
	"github.com/antoniostano/relay/internal/router"
	"github.com/antoniostano/relay/internal/session"
	"github.com/antoniostano/relay/internal/vector"
)

const defaultSessionTurnLimit = 50

type Server struct {
	cfg      config.Config
	routes   *router.Manager
	store    memory.Store
	index    vector.Index
	registry *session.Registry
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, routes *router.Manager, store memory.Store, index vector.Index, registry *session.Registry, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		routes:   routes,
		store:    store,
		index:    index,
		registry: registry,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other websites cannot drive a chat session
				// if the relay is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Delete("/v1/sessions/{id}", s.handleDeleteSession)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"memory_enabled": s.cfg.MemoryEnabled,
		"memory_mode":    s.cfg.MemoryMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type chatRequest struct {
	SessionID   string   `json:"session_id"`
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	MaxHistory  *int     `json:"max_history,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ov := router.Overrides{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		MaxHistory:  req.MaxHistory,
		TopK:        req.TopK,
	}
	result, err := s.routes.Route(r.Context(), req.SessionID, req.Prompt, ov, nil)
	if err != nil {
		code := router.ErrorCode(err)
		respondError(w, statusForCode(code), code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	limit := defaultSessionTurnLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	turns, err := s.store.Tail(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if len(turns) == 0 {
		respondError(w, http.StatusNotFound, "session_not_found", "no turns recorded for session "+id)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      turns,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	if err := s.store.Clear(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if s.index != nil {
		// The log is already gone; a stale index entry only wastes space and
		// can never be retrieved into a window for this session again.
		if err := s.index.DeleteSession(r.Context(), id); err != nil {
			log.Printf("httpapi: deleting index entries for session %s: %v", id, err)
		}
	}
	s.registry.Forget(id)
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("cleared").Inc()
		s.metrics.ActiveSessions.Set(float64(s.registry.ActiveCount()))
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "cleared"})
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	defaultSession := strings.TrimSpace(r.URL.Query().Get("session_id"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.sendWS(ctx, outbound, protocol.NewErrorEvent("invalid_client_message", false, err.Error()))
			continue
		}

		sessionID := strings.TrimSpace(parsed.SessionID)
		if sessionID == "" {
			sessionID = defaultSession
		}
		ov := router.Overrides{
			Temperature: parsed.Temperature,
			MaxTokens:   parsed.MaxTokens,
			MaxHistory:  parsed.MaxHistory,
			TopK:        parsed.TopK,
		}

		result, err := s.routes.Route(ctx, sessionID, parsed.Prompt, ov, func(delta string) error {
			return s.sendWS(ctx, outbound, protocol.NewTextDelta(delta))
		})
		if err != nil {
			code := router.ErrorCode(err)
			s.sendWS(ctx, outbound, protocol.NewErrorEvent(code, reliability.IsRetryableErrorCode(code), err.Error()))
			continue
		}
		s.sendWS(ctx, outbound, protocol.NewTurnEnd(result.Text, result.Backend, result.SessionID, result.TurnIndex, result.ContextTurns))
	}

	cancel()
	close(outbound)
	<-writerDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
}

func (s *Server) sendWS(ctx context.Context, outbound chan<- any, msg any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case outbound <- msg:
		return nil
	}
}

func statusForCode(code string) int {
	switch code {
	case "invalid_input":
		return http.StatusBadRequest
	case "timeout":
		return http.StatusGatewayTimeout
	case "authentication", "unavailable", "invalid_response":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
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
