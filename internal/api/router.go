package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexconsult/consult-control-plane/internal/auth"
	"github.com/lexconsult/consult-control-plane/internal/config"
	"github.com/lexconsult/consult-control-plane/internal/consult"
	"github.com/lexconsult/consult-control-plane/internal/eventbus"
	"github.com/lexconsult/consult-control-plane/internal/metrics"
	"github.com/lexconsult/consult-control-plane/internal/model"
)

// Consultations looks up the consultation a session id refers to.
type Consultations interface {
	GetConsultation(ctx context.Context, consultationID string) (*model.Consultation, error)
}

type Server struct {
	cfg           config.Config
	consultations Consultations
	sessions      *consult.Manager
	bus           *eventbus.Bus
	upgrader      websocket.Upgrader
	log           zerolog.Logger
}

func NewRouter(cfg config.Config, consultations Consultations, sessions *consult.Manager, bus *eventbus.Bus, logger zerolog.Logger) http.Handler {
	s := &Server{
		cfg:           cfg,
		consultations: consultations,
		sessions:      sessions,
		bus:           bus,
		upgrader:      makeUpgrader(cfg.AllowedOrigins),
		log:           logger,
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/metrics", metrics.Default().Handler().ServeHTTP)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(auth.Middleware(cfg.JWTSecret))
		// The event stream is long lived and must not sit behind the timeout.
		v1.Get("/sessions/{id}/events", s.handleEvents)
		v1.Group(func(authed chi.Router) {
			// End of call waits on the payment report.
			authed.Use(middleware.Timeout(cfg.PaymentTimeout + 5*time.Second))
			authed.Post("/sessions/{id}/open", s.handleOpen)
			authed.Get("/sessions/{id}", s.handleSnapshot)
			authed.Post("/sessions/{id}/participants", s.handleParticipants)
			authed.Post("/sessions/{id}/end", s.handleEnd)
			authed.Post("/sessions/{id}/unload", s.handleUnload)
			authed.Post("/sessions/{id}/left", s.handleLeft)
			authed.Post("/sessions/{id}/rating", s.handleRating)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http request")
	})
}

type apiError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	var payload apiError
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
