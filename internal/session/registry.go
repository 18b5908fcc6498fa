package session

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
)

// Citizen-facing apologies for the two failure classes. Wording is part of
// the persona contract: no exclamation points, no internal detail.
const (
	apologyNoProfile  = "I apologize, but I cannot access your citizen record right now. Please restart the session and try again."
	apologyProcessing = "I apologize, but I ran into a problem while processing your request. Please try again in a moment."
)

// openerMessage is the invisible first turn sent on session start so the
// assistant opens the conversation with a calibrated greeting.
const openerMessage = "Hello?"

// Registry owns every live session, keyed by conversation thread id, and is
// the single entry point for message processing and dial changes. New
// sessions inherit the registry's current differentiation level.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Orchestrator
	level    float64

	completer Completer
	retriever DocRetriever
	topK      int
	store     ThreadStore
	logger    *slog.Logger
}

// NewRegistry creates an empty registry at the given starting level. topK
// bounds retrieved document passages per turn; zero means the default.
func NewRegistry(level float64, topK int, completer Completer, retriever DocRetriever, store ThreadStore, logger *slog.Logger) *Registry {
	return &Registry{
		sessions:  make(map[string]*Orchestrator),
		level:     clampLevel(level),
		completer: completer,
		retriever: retriever,
		topK:      topK,
		store:     store,
		logger:    logger,
	}
}

// GetResponse processes one user message for the given conversation. It is
// the sole message entry point: the session is created on first use. The
// boolean reports success; on any failure the string is a citizen-safe
// apology and the error stays in the logs.
func (r *Registry) GetResponse(ctx context.Context, message string, convCtx *Context, visible bool) (string, bool) {
	sess, err := r.sessionFor(convCtx)
	if err != nil {
		r.logger.Error("cannot establish session", "error", err)
		return apologyNoProfile, false
	}

	reply, err := sess.Respond(ctx, message, visible)
	if err != nil {
		r.logger.Error("failed to process message", "thread_id", sess.ThreadID(), "error", err)
		return apologyProcessing, false
	}
	return reply, true
}

// InitializeSession establishes a session for the conversation and returns
// the assistant's opening greeting. The greeting comes from an invisible
// synthetic turn; if it fails the session still exists and the error is
// returned so callers can fall back to a static greeting.
func (r *Registry) InitializeSession(ctx context.Context, convCtx *Context) (string, error) {
	sess, err := r.sessionFor(convCtx)
	if err != nil {
		return "", err
	}
	greeting, err := sess.Respond(ctx, openerMessage, false)
	if err != nil {
		return "", err
	}
	return greeting, nil
}

// SetDifferentiationLevel moves the dial for every live session and for all
// sessions created afterwards. Out-of-range values are clamped to [0, 100].
// A value equal to the current level is a no-op. Sessions recalibrate
// independently: one session's failure is logged and does not stop the
// fan-out, and the joined error reports every failure.
func (r *Registry) SetDifferentiationLevel(level float64) error {
	level = clampLevel(level)

	r.mu.Lock()
	if level == r.level {
		r.mu.Unlock()
		return nil
	}
	r.level = level
	targets := make([]*Orchestrator, 0, len(r.sessions))
	for _, sess := range r.sessions {
		targets = append(targets, sess)
	}
	r.mu.Unlock()

	var errs []error
	for _, sess := range targets {
		if err := sess.UpdateDifferentiationLevel(level); err != nil {
			r.logger.Error("session recalibration failed",
				"thread_id", sess.ThreadID(), "level", level, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DifferentiationLevel returns the registry's current dial position.
func (r *Registry) DifferentiationLevel() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// CaseFile renders the calibrated parameters for a live session.
func (r *Registry) CaseFile(threadID string) (string, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[threadID]
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	return sess.CaseFile(), true
}

// Session returns the live session for a thread id, if any.
func (r *Registry) Session(threadID string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[threadID]
	return sess, ok
}

// EndSession removes a session from the registry. The persisted transcript
// is untouched.
func (r *Registry) EndSession(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[threadID]; !ok {
		return false
	}
	delete(r.sessions, threadID)
	return true
}

// sessionFor returns the live session for the context, creating it at the
// registry's current level if needed.
func (r *Registry) sessionFor(convCtx *Context) (*Orchestrator, error) {
	if convCtx == nil || convCtx.Profile == nil {
		return nil, ErrMissingProfile
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[convCtx.ThreadID]; ok {
		return sess, nil
	}
	sess, err := NewOrchestrator(convCtx, r.level, r.topK, r.completer, r.retriever, r.store, r.logger)
	if err != nil {
		return nil, err
	}
	r.sessions[convCtx.ThreadID] = sess
	return sess, nil
}

func clampLevel(level float64) float64 {
	if math.IsNaN(level) || level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}
