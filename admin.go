package abac

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/oarkflow/abac/logger"
)

// AdminHandler exposes the administrative surface over HTTP/JSON: rule CRUD,
// enforcement checks, explain, and the validation-error listing. Mount it
// under an authenticated prefix; it performs no authentication itself.
type AdminHandler struct {
	store    *PolicyStore
	enforcer *Enforcer
	lg       logger.Logger
	mux      *http.ServeMux
}

func NewAdminHandler(store *PolicyStore, enforcer *Enforcer, lg logger.Logger) *AdminHandler {
	if lg == nil {
		lg = logger.NewNullLogger()
	}
	h := &AdminHandler{store: store, enforcer: enforcer, lg: lg, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /rules", h.listRules)
	h.mux.HandleFunc("POST /rules", h.createRule)
	h.mux.HandleFunc("DELETE /rules/{id}", h.deleteRule)
	h.mux.HandleFunc("POST /enforce", h.enforce)
	h.mux.HandleFunc("POST /explain", h.explain)
	h.mux.HandleFunc("GET /validation-errors", h.validationErrors)
	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) listRules(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Kind:    r.URL.Query().Get("kind"),
		Subject: r.URL.Query().Get("subject"),
	}
	writeJSON(w, http.StatusOK, h.store.List(filter))
}

func (h *AdminHandler) createRule(w http.ResponseWriter, r *http.Request) {
	var rule Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule body: "+err.Error())
		return
	}
	stored, err := h.store.Add(r.Context(), rule)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, verr)
			return
		}
		h.lg.Error("rule create failed", "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *AdminHandler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Remove(r.Context(), id); err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		h.lg.Error("rule delete failed", "rule_id", id, "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type enforceRequest struct {
	Subject string         `json:"subject"`
	Object  string         `json:"object"`
	Action  string         `json:"action"`
	Context enforceContext `json:"context"`
}

type enforceContext struct {
	RemoteAddr       string    `json:"remote_addr"`
	UserAgent        string    `json:"user_agent"`
	Time             time.Time `json:"time"`
	Department       string    `json:"department"`
	Location         string    `json:"location"`
	MFAVerified      bool      `json:"mfa_verified"`
	SessionStartedAt time.Time `json:"session_started_at"`
}

func (c enforceContext) raw() RawRequest {
	return RawRequest{
		RemoteAddr:       c.RemoteAddr,
		UserAgent:        c.UserAgent,
		Time:             c.Time,
		Department:       c.Department,
		Location:         c.Location,
		MFAVerified:      c.MFAVerified,
		SessionStartedAt: c.SessionStartedAt,
	}
}

func (h *AdminHandler) enforce(w http.ResponseWriter, r *http.Request) {
	var req enforceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid enforce body: "+err.Error())
		return
	}
	d := h.enforcer.Enforce(r.Context(), req.Subject, req.Object, req.Action, BuildContext(req.Context.raw()))
	writeJSON(w, http.StatusOK, d)
}

func (h *AdminHandler) explain(w http.ResponseWriter, r *http.Request) {
	var req enforceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid explain body: "+err.Error())
		return
	}
	d := h.enforcer.Explain(r.Context(), req.Subject, req.Object, req.Action, BuildContext(req.Context.raw()))
	writeJSON(w, http.StatusOK, d)
}

func (h *AdminHandler) validationErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ValidationErrors())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
