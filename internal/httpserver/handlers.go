package httpserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"sentraguard/internal/auth"
	"sentraguard/internal/engine"
	"sentraguard/internal/events"
	"sentraguard/internal/incidents"
	"sentraguard/internal/release"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loginHandler(svc *auth.Service, logger *slog.Logger) http.Handler {
	type loginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		op, token, err := svc.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		logger.Info("operator logged in", "username", op.Username, "role", op.Role)
		writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "operator": op})
	})
}

// IngestHandler accepts producer events, guarded by a shared ingest token.
type IngestHandler struct {
	Engine      *engine.Engine
	Logger      *slog.Logger
	IngestToken string
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.IngestToken != "" {
		if r.Header.Get("X-Api-Key") != h.IngestToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	var e events.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if e.Sender == "" || e.Channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	inc, err := h.Engine.IngestEvent(r.Context(), e)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	resp := map[string]interface{}{"accepted": true}
	if inc != nil {
		resp["incident"] = inc
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// CheckHandler is the gate consumers hit before acting on a message.
type CheckHandler struct {
	Engine *engine.Engine
}

func (h *CheckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sender := r.URL.Query().Get("sender")
	channel := r.URL.Query().Get("channel")
	st := h.Engine.CheckContainment(r.Context(), sender, channel)
	if st == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"contained": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contained": true, "state": st})
}

type AdvisoryHandler struct {
	Engine *engine.Engine
}

func (h *AdvisoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"advisory_only": h.Engine.IsAdvisoryOnlyMode()})
}

// ReleaseHandler runs the authenticated release pipeline. Authentication
// lives in the request body (operator token + nonce), not in the JWT layer.
type ReleaseHandler struct {
	Engine *engine.Engine
	Logger *slog.Logger
}

func (h *ReleaseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req release.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.SourceIP == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			req.SourceIP = host
		} else {
			req.SourceIP = r.RemoteAddr
		}
	}
	res := h.Engine.ReleaseContainment(r.Context(), req)
	writeJSON(w, statusForResult(res), res)
}

func statusForResult(res release.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Error {
	case release.ReasonInvalidTarget:
		return http.StatusBadRequest
	case release.ReasonRateLimited:
		return http.StatusTooManyRequests
	case release.ReasonLockedOut, release.ReasonAuthFailed:
		return http.StatusUnauthorized
	case release.ReasonReplayDetected:
		return http.StatusConflict
	case release.ReasonNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type IncidentListHandler struct {
	Engine *engine.Engine
	Logger *slog.Logger
}

func (h *IncidentListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	incs, err := h.Engine.Incidents(r.Context(), limit)
	if err != nil {
		h.Logger.Error("list incidents", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"incidents": incs})
}

// IncidentDetailHandler serves /api/v1/incidents/{id}, plus the
// /{id}/bundle forensic export and the /{id}/close transition.
type IncidentDetailHandler struct {
	Engine *engine.Engine
	Logger *slog.Logger
}

func (h *IncidentDetailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/incidents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		inc, err := h.Engine.Incident(r.Context(), id)
		if err != nil {
			h.respondErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inc)
	case len(parts) == 2 && parts[1] == "bundle" && r.Method == http.MethodGet:
		bundle, err := h.Engine.ExportBundle(r.Context(), id)
		if err != nil {
			h.respondErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bundle)
	case len(parts) == 2 && parts[1] == "close" && r.Method == http.MethodPost:
		closed := h.Engine.CloseIncident(r.Context(), id)
		writeJSON(w, http.StatusOK, map[string]bool{"closed": closed})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *IncidentDetailHandler) respondErr(w http.ResponseWriter, err error) {
	if errors.Is(err, incidents.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.Logger.Error("incident lookup", "err", err)
	w.WriteHeader(http.StatusInternalServerError)
}

type AuditHandler struct {
	Engine *engine.Engine
	Logger *slog.Logger
}

func (h *AuditHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.Engine.AuditRecords(r.Context(), limit, r.URL.Query().Get("target_id"))
	if err != nil {
		h.Logger.Error("list audit records", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": recs})
}

type StatsHandler struct {
	Engine *engine.Engine
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Stats())
}
