package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/cheerup/internal/chat"
	"github.com/ent0n29/cheerup/internal/config"
	"github.com/ent0n29/cheerup/internal/observability"
	"github.com/ent0n29/cheerup/internal/taskruntime"
)

type Server struct {
	cfg            config.Config
	service        *taskruntime.Service
	hub            *chat.Hub
	metrics        *observability.Metrics
	metricsHandler http.Handler
	logger         *slog.Logger
	upgrader       websocket.Upgrader
}

type Option func(*Server)

// WithMetricsHandler overrides the handler mounted at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(cfg config.Config, service *taskruntime.Service, hub *chat.Hub, metrics *observability.Metrics, opts ...Option) *Server {
	s := &Server{
		cfg:            cfg,
		service:        service,
		hub:            hub,
		metrics:        metrics,
		metricsHandler: observability.MetricsHandler(),
		logger:         slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only subscribe from the same origin unless
				// APP_ALLOW_ANY_ORIGIN is set.
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
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metricsHandler.ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/characters", s.handleListCharacters)

	r.Post("/v1/tasks", s.handleRequestTask)
	r.Post("/v1/tasks/duration", s.handleChooseDuration)
	r.Post("/v1/tasks/start", s.handleStartTask)

	r.Route("/v1/users/{userID}", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/outcome", s.handleOutcome)
		r.Post("/done", s.handleFinishEarly)
		r.Post("/abandon", s.handleRequestAbandon)
		r.Post("/abandon/confirm", s.handleConfirmAbandon)
		r.Post("/abandon/cancel", s.handleCancelAbandon)
		r.Get("/history", s.handleHistory)
		r.Get("/events", s.handleEvents)
	})

	r.Get("/v1/channels/{channelID}/ws", s.handleChannelWS)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"characters": len(s.service.Characters()),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

func (s *Server) handleListCharacters(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"characters": s.service.Characters()})
}

func (s *Server) handleChannelWS(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimSpace(chi.URLParam(r, "channelID"))
	if channelID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing channel id")
		return
	}
	if s.hub == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "message hub not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()
	s.logger.Debug("channel subscriber connected", "channel_id", channelID)
	s.hub.Serve(r.Context(), channelID, conn)
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

func limitParam(r *http.Request, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > 200 {
		return 200
	}
	return n
}
