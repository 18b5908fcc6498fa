// Package api exposes the service over HTTP (chi) and MCP. All /v1 routes
// sit behind bearer-token auth; /health is open for probes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/obi/internal/ingest"
	"github.com/kalambet/obi/internal/profile"
	"github.com/kalambet/obi/internal/session"
	"github.com/kalambet/obi/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the collaborators behind the HTTP surface.
type Deps struct {
	Registry *session.Registry
	Profiles *profile.Source
	Store    *storage.Store
	Ingester *ingest.Ingester
	APIToken string
	Logger   *slog.Logger
}

// handler tracks the conversation context per thread so repeat messages on
// one thread reuse the same session.
type handler struct {
	deps Deps

	mu            sync.Mutex
	conversations map[string]*session.Context
}

// NewHandler builds the full HTTP route tree.
func NewHandler(deps Deps) http.Handler {
	h := &handler{deps: deps, conversations: make(map[string]*session.Context)}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if deps.APIToken != "" {
			r.Use(BearerAuth(deps.APIToken))
		}
		r.Get("/profiles", h.handleListProfiles)
		r.Post("/conversations/{threadID}/messages", h.handleMessage)
		r.Get("/conversations/{threadID}", h.handleGetTranscript)
		r.Delete("/conversations/{threadID}", h.handleEndConversation)
		r.Get("/conversations/{threadID}/casefile", h.handleCaseFile)
		r.Get("/differentiation-level", h.handleGetLevel)
		r.Put("/differentiation-level", h.handleSetLevel)
		r.Post("/ingest", h.handleIngest)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type profileSummary struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	License  string `json:"license_type,omitempty"`
}

func (h *handler) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	all := h.deps.Profiles.All()
	out := make([]profileSummary, len(all))
	for i, p := range all {
		out[i] = profileSummary{
			ID:       p.ID,
			FullName: p.Personal.FullName,
			License:  p.License.Current.Type,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type messageRequest struct {
	Message   string `json:"message"`
	ProfileID string `json:"profile_id"`
	Visible   *bool  `json:"visible,omitempty"`
}

type messageResponse struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

func (h *handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.Message == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
		return
	}

	convCtx, err := h.contextFor(threadID, req.ProfileID)
	if err != nil {
		httpError(w, http.StatusNotFound, "invalid_request_error", "%v", err)
		return
	}

	visible := true
	if req.Visible != nil {
		visible = *req.Visible
	}

	reply, ok := h.deps.Registry.GetResponse(r.Context(), req.Message, convCtx, visible)
	writeJSON(w, http.StatusOK, messageResponse{Response: reply, Success: ok})
}

// contextFor returns the conversation context for a thread, creating it on
// first use. A new thread requires a known profile id; an existing thread
// ignores the profile id entirely.
func (h *handler) contextFor(threadID, profileID string) (*session.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if convCtx, ok := h.conversations[threadID]; ok {
		return convCtx, nil
	}

	p := h.deps.Profiles.ByID(profileID)
	if p == nil {
		return nil, fmt.Errorf("unknown profile %q", profileID)
	}
	convCtx := &session.Context{ThreadID: threadID, Profile: p}
	h.conversations[threadID] = convCtx
	return convCtx, nil
}

func (h *handler) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	thread, err := h.deps.Store.GetThread(threadID)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "invalid_request_error", "no transcript for thread %s", threadID)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading transcript: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (h *handler) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	h.mu.Lock()
	delete(h.conversations, threadID)
	h.mu.Unlock()

	if !h.deps.Registry.EndSession(threadID) {
		httpError(w, http.StatusNotFound, "invalid_request_error", "no live session for thread %s", threadID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ended": true})
}

func (h *handler) handleCaseFile(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	caseFile, ok := h.deps.Registry.CaseFile(threadID)
	if !ok {
		httpError(w, http.StatusNotFound, "invalid_request_error", "no live session for thread %s", threadID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"casefile": caseFile})
}

func (h *handler) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"level": h.deps.Registry.DifferentiationLevel()})
}

type levelRequest struct {
	Level json.Number `json:"level"`
}

func (h *handler) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req levelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	level, err := strconv.ParseFloat(req.Level.String(), 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "level must be a number")
		return
	}

	before := h.deps.Registry.DifferentiationLevel()
	if err := h.deps.Registry.SetDifferentiationLevel(level); err != nil {
		// Some sessions failed to recalibrate; the dial still moved.
		h.deps.Logger.Warn("partial recalibration", "error", err)
	}
	after := h.deps.Registry.DifferentiationLevel()
	writeJSON(w, http.StatusOK, map[string]any{
		"level":   after,
		"updated": after != before,
	})
}

type ingestRequest struct {
	Dir string `json:"dir"`
}

func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ingester == nil {
		httpError(w, http.StatusServiceUnavailable, "api_error", "ingestion not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.Dir == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "dir is required")
		return
	}

	res, err := h.deps.Ingester.IngestDir(r.Context(), req.Dir)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "ingestion failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"files": res.Files, "chunks": res.Chunks})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
