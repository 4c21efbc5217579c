package httpserver

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentraguard/internal/auth"
	"sentraguard/internal/engine"
)

func NewRouter(
	logger *slog.Logger,
	authSvc *auth.Service,
	eng *engine.Engine,
	ingestToken string,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Auth
	mux.Handle("/api/v1/auth/login", loginHandler(authSvc, logger))

	// Producer-facing surface: event ingest and the containment gate.
	ingest := &IngestHandler{Engine: eng, Logger: logger, IngestToken: ingestToken}
	mux.Handle("/api/v1/ingest/events", ingest)
	mux.Handle("/api/v1/containment/check", &CheckHandler{Engine: eng})
	mux.Handle("/api/v1/containment/advisory", &AdvisoryHandler{Engine: eng})

	// Release runs on the operator token + nonce inside the request body;
	// the release authority, not the JWT layer, is the gatekeeper.
	mux.Handle("/api/v1/containment/release", &ReleaseHandler{Engine: eng, Logger: logger})

	// Operator read API.
	secured := auth.JWTMiddleware(authSvc)
	mux.Handle("/api/v1/incidents", secured(&IncidentListHandler{Engine: eng, Logger: logger}))
	mux.Handle("/api/v1/incidents/", secured(&IncidentDetailHandler{Engine: eng, Logger: logger}))
	auditHandler := &AuditHandler{Engine: eng, Logger: logger}
	mux.Handle("/api/v1/audit", secured(auth.RequireRole(auditHandler.ServeHTTP, auth.RoleAdmin, auth.RoleOperator)))
	mux.Handle("/api/v1/stats", secured(&StatsHandler{Engine: eng}))

	// CORS wrapper (simple, for local UI/tools).
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Api-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
