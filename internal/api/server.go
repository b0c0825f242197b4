// Package api provides the HTTP server for pubd.
// It serves invitations to discovered pubs on /invited/json and a small
// JSON API for operators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/easypub/pubd/internal/discovery"
	"github.com/easypub/pubd/internal/domain"
	"github.com/easypub/pubd/internal/health"
)

// Trust is the slice of the trust store the API needs.
type Trust interface {
	domain.InvitationIssuer
	domain.PeerRegistry
	RedeemInvitation(ctx context.Context, inv domain.Invitation) error
	AcceptInvitationFrom(ctx context.Context, inv domain.Invitation, source domain.PeerSource) error
	RemovePeer(ctx context.Context, key string) error
}

// DiscoveryStats reports discovery pipeline counters.
type DiscoveryStats interface {
	Stats() discovery.Stats
}

// HealthReporter reports the latest health check results.
type HealthReporter interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// Server is the pubd HTTP API server.
type Server struct {
	trust          Trust
	version        string
	inviteUses     int
	discovery      DiscoveryStats
	health         HealthReporter
	metricsEnabled bool
	log            *zap.SugaredLogger
}

// NewServer creates a new API server.
func NewServer(trust Trust, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		trust:      trust,
		version:    version,
		inviteUses: 1,
		log:        logger.Named("api").Sugar(),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetInviteUses sets how many times each served invitation may be redeemed.
func (s *Server) SetInviteUses(n int) {
	if n > 0 {
		s.inviteUses = n
	}
}

// SetDiscovery exposes discovery counters on /api/discovery.
func (s *Server) SetDiscovery(d DiscoveryStats) { s.discovery = d }

// SetHealth reports health check results on /health.
func (s *Server) SetHealth(h HealthReporter) { s.health = h }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	// Served to remote pubs that discovered us
	r.Get(discovery.InvitationPath, s.handleInvited)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"version": s.version,
			})
		})
		r.Get("/peers", s.handleListPeers)
		r.Post("/peers", s.handleAddPeer)
		r.Delete("/peers/{key}", s.handleRemovePeer)
		r.Post("/invitations", s.handleCreateInvitation)
		r.Post("/invitations/redeem", s.handleRedeem)
		r.Get("/discovery", s.handleDiscovery)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleInvited(w http.ResponseWriter, r *http.Request) {
	inv, err := s.trust.CreateInvitation(r.Context(), s.inviteUses)
	if err != nil {
		s.log.Warnw("could not create invitation", "remote", r.RemoteAddr, "error", err)
		writeError(w, http.StatusInternalServerError, "could not create invitation")
		return
	}
	s.log.Infow("issued invitation to pub", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{
		"invitation": string(inv),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.trust.FederatedPeers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if peers == nil {
		peers = []domain.FederatedPeer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"peers": peers})
}

type invitationRequest struct {
	Invitation string `json:"invitation"`
}

func (s *Server) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	var req invitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Invitation == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"invitation\": \"<code>\"}")
		return
	}
	err := s.trust.AcceptInvitationFrom(r.Context(), domain.Invitation(req.Invitation), domain.SourceManual)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{"status": "accepted"})
	case errors.Is(err, domain.ErrInvalidInvitation), errors.Is(err, domain.ErrOwnInvitation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleRemovePeer(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad peer key")
		return
	}
	err = s.trust.RemovePeer(r.Context(), key)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrPeerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Uses int `json:"uses"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	inv, err := s.trust.CreateInvitation(r.Context(), req.Uses)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"invitation": string(inv)})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req invitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Invitation == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"invitation\": \"<code>\"}")
		return
	}
	err := s.trust.RedeemInvitation(r.Context(), domain.Invitation(req.Invitation))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "redeemed"})
	case errors.Is(err, domain.ErrInvalidInvitation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvitationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvitationUsed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if s.discovery == nil {
		writeError(w, http.StatusNotFound, domain.ErrDiscoveryDisabled.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.discovery.Stats())
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// corsMiddleware adds CORS headers for local tooling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
