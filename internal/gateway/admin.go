package gateway

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lwen/dailynote/internal/store"
)

type statusResponse struct {
	Messages     int               `json:"messages"`
	Fingerprints int               `json:"fingerprints"`
	Deferred     int               `json:"deferred"`
	Whitelist    int               `json:"whitelist"`
	Channels     []string          `json:"channels"`
	Jobs         []schedJobStatus  `json:"jobs"`
}

type schedJobStatus struct {
	Name       string `json:"name"`
	Schedule   string `json:"schedule"`
	LastStatus string `json:"lastStatus,omitempty"`
	LastError  string `json:"lastError,omitempty"`
}

type whitelistRequest struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

func (g *Gateway) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/status", g.handleStatus)
	r.Get("/api/whitelist", g.handleWhitelistList)
	r.Post("/api/whitelist", g.handleWhitelistAdd)
	r.Delete("/api/whitelist/{sessionID}", g.handleWhitelistRemove)
	r.Post("/api/jobs/{name}/run", g.handleJobRun)

	return r
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	messages, _ := g.store.MessageCount()
	fingerprints, _ := g.store.FingerprintCount()
	deferred, _ := g.store.DeferredScanCount()
	entries, _ := g.store.ListWhitelist()

	jobs := make([]schedJobStatus, 0)
	for _, j := range g.sched.Status() {
		jobs = append(jobs, schedJobStatus{
			Name:       j.Name,
			Schedule:   j.Schedule,
			LastStatus: j.LastStatus,
			LastError:  j.LastError,
		})
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Messages:     messages,
		Fingerprints: fingerprints,
		Deferred:     deferred,
		Whitelist:    len(entries),
		Channels:     g.channels.EnabledChannels(),
		Jobs:         jobs,
	})
}

func (g *Gateway) handleWhitelistList(w http.ResponseWriter, r *http.Request) {
	entries, err := g.whitelist.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []store.WhitelistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (g *Gateway) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	if err := g.whitelist.Allow(req.SessionID, req.DisplayName, req.Kind); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": req.SessionID})
}

func (g *Gateway) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := g.whitelist.Deny(sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleJobRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := g.sched.RunNow(r.Context(), name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[gateway] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
