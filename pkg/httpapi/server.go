// Package httpapi is the REST and WebSocket surface of the engine.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/bus"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/config"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/enrich"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/orchestrator"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/ratelimit"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/session"
)

// Sessions is the slice of the session manager the API exposes.
type Sessions interface {
	Create(ctx context.Context, userID string) (session.Snapshot, error)
	QR(sessionID string) (session.QRInfo, error)
	Disconnect(sessionID string) error
}

// Server wires the routes onto a chi router.
type Server struct {
	orch     *orchestrator.Orchestrator
	sessions Sessions
	ws       http.Handler
	inbound  bus.Publisher
	limiter  *ratelimit.Keyed
	log      zerolog.Logger
	router   chi.Router
}

func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, sessions Sessions, ws http.Handler, inbound bus.Publisher, log zerolog.Logger) *Server {
	s := &Server{
		orch:     orch,
		sessions: sessions,
		ws:       ws,
		inbound:  inbound,
		limiter:  ratelimit.NewKeyed(cfg.RateLimit.Points, cfg.RateLimit.Window),
		log:      log.With().Str("component", "httpapi").Logger(),
	}

	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(s.rateLimit)

	r.Post("/send-message", s.handleSendMessage)
	r.Post("/send-bulk-messages", s.handleSendBulk)
	r.Post("/enrich-lead", s.handleEnrichLead)
	r.Post("/enrich/batch", s.handleEnrichBatch)
	r.Get("/queue/status", s.handleQueueStatus)
	r.Get("/queue/dead-letters", s.handleDeadLetters)
	r.Delete("/jobs/{id}", s.handleCancelJob)
	r.Get("/health", s.handleHealth)
	r.Post("/webhooks/inbound", s.handleInboundWebhook)

	r.Post("/sessions/create", s.handleSessionCreate)
	r.Get("/sessions/{id}/qr", s.handleSessionQR)
	r.Delete("/sessions/{id}", s.handleSessionDisconnect)

	if ws != nil {
		r.Get("/ws", ws.ServeHTTP)
	}

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", clientIP(r)).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.limiter.Allow(clientIP(r)); err != nil {
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.SendRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.orch.Submit(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":     job.ID,
		"messageId": job.MessageID,
		"state":     job.State,
	})
}

func (s *Server) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []orchestrator.SendRequest `json:"messages"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	jobs, err := s.orch.SubmitBulk(req.Messages)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"jobIds": ids, "queued": len(ids)})
}

func (s *Server) handleEnrichLead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		enrich.Request
		Priority string `json:"priority,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.orch.EnrichLead(req.Request, req.Priority)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"jobId": job.ID, "state": job.State})
}

func (s *Server) handleEnrichBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Leads    []enrich.Request `json:"leads"`
		Priority string           `json:"priority,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	jobs, err := s.orch.EnrichBatch(req.Leads, req.Priority)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"jobIds": ids, "queued": len(ids)})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.QueueStatus())
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	letters, err := s.orch.DeadLetters(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deadLetters": letters})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.orch.CancelJob(id) {
		s.writeJSON(w, http.StatusNotFound, map[string]any{"error": "job is not queued"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cancelled": id})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Health(r.Context()))
}

func (s *Server) handleInboundWebhook(w http.ResponseWriter, r *http.Request) {
	var env bus.InboundEnvelope
	if !s.decode(w, r, &env) {
		return
	}
	if env.Channel == "" || env.From == "" {
		s.writeError(w, apperr.New(apperr.KindValidation, "channel and from are required"))
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	if !s.inbound.PublishInbound(env) {
		s.writeError(w, apperr.New(apperr.KindInternal, "inbound bus unavailable"))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	snap, err := s.sessions.Create(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.QR(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSessionDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Disconnect(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"disconnected": true})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

// writeError maps the error taxonomy onto status codes with a stable error
// string in the body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if errors.Is(err, session.ErrUnknownSession) {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, map[string]any{"error": err.Error()})
}
