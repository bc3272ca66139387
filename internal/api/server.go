// ABOUTME: HTTP server wiring for the hub request/response surface
// ABOUTME: Routes, JSON envelopes, auth middleware and health/capabilities

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alphahub/hub/internal/auth"
	"github.com/alphahub/hub/internal/blob"
	"github.com/alphahub/hub/internal/capability"
	"github.com/alphahub/hub/internal/events"
	"github.com/alphahub/hub/internal/ident"
	"github.com/alphahub/hub/internal/protocol"
	"github.com/alphahub/hub/internal/session"
	"github.com/alphahub/hub/internal/store"
)

// Server holds the handlers for the hub HTTP surface.
type Server struct {
	store    store.Store
	blobs    *blob.Store
	bus      *events.Bus
	caps     *capability.Registry
	orch     session.TurnRunner
	verifier auth.Verifier
	logger   *slog.Logger
}

// New builds an API server over the hub's collaborators.
func New(st store.Store, blobs *blob.Store, bus *events.Bus, caps *capability.Registry, orch session.TurnRunner, verifier auth.Verifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    st,
		blobs:    blobs,
		bus:      bus,
		caps:     caps,
		orch:     orch,
		verifier: verifier,
		logger:   logger.With("component", "api"),
	}
}

// Routes returns the hub's HTTP handler. All routes live under /v1;
// health is the only unauthenticated one.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /v1/capabilities", s.requireAuth(http.HandlerFunc(s.handleCapabilities)))
	mux.Handle("POST /v1/messages", s.requireAuth(http.HandlerFunc(s.handleCreateMessage)))
	mux.Handle("GET /v1/conversations/{id}/messages", s.requireAuth(http.HandlerFunc(s.handleListMessages)))
	mux.Handle("POST /v1/attachments", s.requireAuth(http.HandlerFunc(s.handleUploadAttachment)))
	mux.Handle("GET /v1/attachments/{id}/download", s.requireAuth(http.HandlerFunc(s.handleDownloadAttachment)))
	mux.HandleFunc("GET /v1/ws/chat", s.handleChat)

	return corsMiddleware(mux)
}

// okEnvelope is the JSON shape of every successful response.
type okEnvelope struct {
	Status  string `json:"status"`
	TraceID string `json:"trace_id"`
	Data    any    `json:"data"`
}

// errorEnvelope is the JSON shape of every error response.
type errorEnvelope struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id"`
}

func (s *Server) writeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(okEnvelope{
		Status:  "ok",
		TraceID: ident.NewTraceID(),
		Data:    data,
	}); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, httpStatus int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(errorEnvelope{
		Status:  "error",
		Code:    code,
		Message: message,
		TraceID: ident.NewTraceID(),
	}); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.authenticate(r); err != nil {
			s.writeError(w, http.StatusUnauthorized, protocol.CodeUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate verifies the request's bearer token.
func (s *Server) authenticate(r *http.Request) error {
	token, err := auth.ExtractBearer(r)
	if err != nil {
		return err
	}
	if _, err := s.verifier.Verify(token); err != nil {
		return err
	}
	return nil
}

// corsMiddleware is permissive; the hub fronts local and trusted
// clients. Tighten per deployment if exposed.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth handles GET /v1/health. Public by design.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, map[string]any{
		"service":  "hub",
		"time_utc": time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
	})
}

// capabilityItem is the JSON shape of one capability snapshot row.
type capabilityItem struct {
	Name                string `json:"name"`
	Status              string `json:"status"`
	NotifyPolicyDefault string `json:"notify_policy_default"`
	Enabled             bool   `json:"enabled"`
	Mode                string `json:"mode"`
	LastChangedAt       string `json:"last_changed_at_utc"`
}

// handleCapabilities handles GET /v1/capabilities.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	states := s.caps.Snapshot()
	items := make([]capabilityItem, 0, len(states))
	for _, st := range states {
		items = append(items, capabilityItem{
			Name:                st.Name,
			Status:              st.Status,
			NotifyPolicyDefault: st.NotifyPolicyDefault,
			Enabled:             st.Enabled,
			Mode:                st.Mode,
			LastChangedAt:       st.LastChangedAt.Format(time.RFC3339),
		})
	}
	s.writeOK(w, map[string]any{"items": items})
}
