package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/obi/internal/calibration"
	"github.com/kalambet/obi/internal/controller"
	"github.com/kalambet/obi/internal/llm"
	"github.com/kalambet/obi/internal/retrieval"
	"github.com/kalambet/obi/internal/storage"
)

// ErrMissingProfile is returned when a session is initialized without a
// citizen profile attached to its conversation context.
var ErrMissingProfile = errors.New("conversation context has no profile")

// Model routing: every completion goes to the primary model first; a single
// retry against the fallback happens only on an overload condition.
const (
	primaryModel  = "claude-3-5-sonnet-20241022"
	fallbackModel = "claude-3-opus-20240229"
)

// defaultRetrievalTopK bounds how many document passages are injected per
// turn when no explicit limit is configured.
const defaultRetrievalTopK = 3

// Completer produces one model completion.
type Completer interface {
	Complete(ctx context.Context, model, system string, messages []llm.Message) (string, error)
}

// DocRetriever finds document passages relevant to a query. A nil slice
// means no context is available and the turn proceeds without it.
type DocRetriever interface {
	Query(ctx context.Context, text string, topK int) ([]retrieval.Passage, error)
}

// ThreadStore persists conversation transcripts.
type ThreadStore interface {
	ReplaceThread(threadID string, messages []storage.ThreadMessage) error
}

// Orchestrator drives one citizen's conversation: it owns the calibrated
// controls, the system prompt, and the transcript, and serializes all
// mutations behind its mutex. Recalibration is transactional: the new
// controls, prompt, and calibration notice are built first and swapped in
// together, so a failed calibration leaves the session exactly as it was.
type Orchestrator struct {
	mu sync.Mutex

	convCtx      *Context
	level        float64
	controls     calibration.Controls
	systemPrompt string

	// pendingNotice is the calibration update awaiting in-band delivery.
	// Only the latest recalibration survives: each swap replaces the
	// pointer, and Respond clears it only if the pointer it delivered is
	// still the current one.
	pendingNotice *string

	completer Completer
	retriever DocRetriever
	topK      int
	store     ThreadStore
	logger    *slog.Logger
}

// NewOrchestrator initializes a session for the given conversation context
// at the given differentiation level. The context must carry a profile.
// topK bounds retrieved document passages per turn; zero means the default.
func NewOrchestrator(convCtx *Context, level float64, topK int, completer Completer, retriever DocRetriever, store ThreadStore, logger *slog.Logger) (*Orchestrator, error) {
	if convCtx == nil || convCtx.Profile == nil {
		return nil, ErrMissingProfile
	}
	if topK <= 0 {
		topK = defaultRetrievalTopK
	}

	controls, err := calibration.Calibrate(level, convCtx.Profile.Metadata)
	if err != nil {
		return nil, fmt.Errorf("calibrating session: %w", err)
	}

	o := &Orchestrator{
		convCtx:      convCtx,
		level:        level,
		controls:     controls,
		systemPrompt: BuildSystemPrompt(convCtx.Profile, controls, level),
		completer:    completer,
		retriever:    retriever,
		topK:         topK,
		store:        store,
		logger:       logger,
	}
	return o, nil
}

// ThreadID returns the stable conversation thread id.
func (o *Orchestrator) ThreadID() string {
	return o.convCtx.ThreadID
}

// Level returns the session's current differentiation level.
func (o *Orchestrator) Level() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

// Controls returns the session's current calibrated controls.
func (o *Orchestrator) Controls() calibration.Controls {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.controls
}

// CaseFile renders the session's calibrated parameters for inspection.
func (o *Orchestrator) CaseFile() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "CASE FILE: %s\n\n", o.convCtx.Profile.Personal.FullName)
	b.WriteString(controller.CaseFile(o.controls, o.level))
	return b.String()
}

// Transcript returns a copy of the visible conversation turns.
func (o *Orchestrator) Transcript() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Message, 0, len(o.convCtx.Messages))
	for _, m := range o.convCtx.Messages {
		if m.Visible {
			out = append(out, m)
		}
	}
	return out
}

// UpdateDifferentiationLevel recalibrates the session to a new level.
// Everything derived from the level is rebuilt before any session state
// changes; on a validation failure the session keeps its previous
// calibration untouched. The new style reaches the model via a
// [COMMUNICATION UPDATE] notice prepended to the next outgoing turn.
func (o *Orchestrator) UpdateDifferentiationLevel(level float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	controls, err := calibration.Calibrate(level, o.convCtx.Profile.Metadata)
	if err != nil {
		return err
	}
	prompt := BuildSystemPrompt(o.convCtx.Profile, controls, level)
	notice := CalibrationNotice(controls, level)

	o.level = level
	o.controls = controls
	o.systemPrompt = prompt
	o.pendingNotice = &notice
	o.convCtx.NeedsRefresh = true

	o.logger.Info("session recalibrated",
		"thread_id", o.convCtx.ThreadID,
		"level", level,
		"band", calibration.BandFor(level).String(),
	)
	return nil
}

// Respond processes one user turn: it assembles the outgoing request from
// the current calibration and transcript, calls the model (with a single
// fallback on overload), post-processes the reply, and records both turns.
// The mutex is released for the duration of the model call so recalibration
// never waits on the network.
func (o *Orchestrator) Respond(ctx context.Context, content string, visible bool) (string, error) {
	o.mu.Lock()
	system := o.systemPrompt
	controls := o.controls
	notice := o.pendingNotice

	outgoing := make([]llm.Message, 0, len(o.convCtx.Messages)+2)
	if notice != nil {
		outgoing = append(outgoing, llm.Message{Role: RoleUser, Content: *notice})
	}
	// Only visible turns reach the model as history; synthetic turns such
	// as the opener influence their own request and nothing after it. The
	// current turn is always appended below, so the request never ends up
	// empty.
	for _, m := range o.convCtx.Messages {
		if m.Role == RoleSystem || !m.Visible {
			continue
		}
		outgoing = append(outgoing, llm.Message{Role: m.Role, Content: m.Content})
	}
	o.convCtx.NeedsRefresh = false
	o.mu.Unlock()

	outgoing = append(outgoing, llm.Message{Role: RoleUser, Content: o.withDocumentContext(ctx, content)})

	reply, err := o.complete(ctx, system, outgoing)
	if err != nil {
		return "", err
	}

	reply = controller.NormalizeFormatting(reply)
	reply = controller.ApplyControls(reply, controls)

	now := time.Now().UTC()
	o.mu.Lock()
	o.convCtx.Messages = append(o.convCtx.Messages,
		Message{Role: RoleUser, Content: content, Visible: visible, Timestamp: now},
		Message{Role: RoleAssistant, Content: reply, Visible: true, Timestamp: now},
	)
	if o.pendingNotice == notice {
		o.pendingNotice = nil
	}
	snapshot := o.threadSnapshot()
	threadID := o.convCtx.ThreadID
	o.mu.Unlock()

	// Persistence is best effort: a storage failure never loses the turn.
	if o.store != nil {
		if err := o.store.ReplaceThread(threadID, snapshot); err != nil {
			o.logger.Warn("failed to persist thread", "thread_id", threadID, "error", err)
		}
	}
	return reply, nil
}

// complete calls the primary model, retrying exactly once against the
// fallback when the primary reports an overload.
func (o *Orchestrator) complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	reply, err := o.completer.Complete(ctx, primaryModel, system, messages)
	if err == nil {
		return reply, nil
	}
	if !llm.IsOverloaded(err) {
		return "", err
	}

	o.logger.Warn("primary model overloaded, trying fallback",
		"thread_id", o.convCtx.ThreadID,
		"primary", primaryModel,
		"fallback", fallbackModel,
	)
	reply, err = o.completer.Complete(ctx, fallbackModel, system, messages)
	if err != nil {
		return "", fmt.Errorf("fallback model: %w", err)
	}
	return reply, nil
}

// withDocumentContext appends retrieved passages to the outgoing user turn.
// Retrieval failures degrade to answering without document context.
func (o *Orchestrator) withDocumentContext(ctx context.Context, content string) string {
	if o.retriever == nil {
		return content
	}

	passages, err := o.retriever.Query(ctx, content, o.topK)
	if err != nil {
		o.logger.Warn("document retrieval failed", "thread_id", o.convCtx.ThreadID, "error", err)
		return content
	}
	if len(passages) == 0 {
		return content
	}

	var b strings.Builder
	b.WriteString(content)
	b.WriteString("\n\nRelevant Document Context:\n")
	for _, p := range passages {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", p.Source, p.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// threadSnapshot converts the transcript for persistence. Callers must hold
// the mutex. System turns are never stored.
func (o *Orchestrator) threadSnapshot() []storage.ThreadMessage {
	out := make([]storage.ThreadMessage, 0, len(o.convCtx.Messages))
	for _, m := range o.convCtx.Messages {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, storage.ThreadMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Visible:   m.Visible,
		})
	}
	return out
}
