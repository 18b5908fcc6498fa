package session

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newTestRegistry(level float64, completer Completer) *Registry {
	return NewRegistry(level, 0, completer, nil, nil, slog.New(slog.DiscardHandler))
}

func TestGetResponseCreatesSessionOnFirstUse(t *testing.T) {
	completer := &fakeCompleter{replies: []string{"Good morning."}}
	r := newTestRegistry(50, completer)
	convCtx := NewContext(testProfile())

	reply, ok := r.GetResponse(context.Background(), "Hello?", convCtx, true)
	if !ok {
		t.Fatalf("GetResponse failed: %q", reply)
	}
	if reply != "Good morning." {
		t.Errorf("reply = %q", reply)
	}

	sess, found := r.Session(convCtx.ThreadID)
	if !found {
		t.Fatal("session not registered after first message")
	}
	if sess.Level() != 50 {
		t.Errorf("session level = %g, want registry level 50", sess.Level())
	}

	// A second message reuses the same session.
	if _, ok := r.GetResponse(context.Background(), "And the fee?", convCtx, true); !ok {
		t.Fatal("second message failed")
	}
	if got := len(sess.Transcript()); got != 4 {
		t.Errorf("transcript has %d visible turns, want 4", got)
	}
}

func TestGetResponseWithoutProfile(t *testing.T) {
	completer := &fakeCompleter{}
	r := newTestRegistry(50, completer)

	reply, ok := r.GetResponse(context.Background(), "Hello?", &Context{ThreadID: "t"}, true)
	if ok {
		t.Error("expected failure for missing profile")
	}
	if reply != apologyNoProfile {
		t.Errorf("reply = %q, want no-profile apology", reply)
	}
	if strings.Contains(reply, "!") {
		t.Error("apology contains an exclamation point")
	}
	if len(completer.calls) != 0 {
		t.Error("model called despite missing profile")
	}
	if _, found := r.Session("t"); found {
		t.Error("session created despite missing profile")
	}
}

func TestGetResponseProcessingFailure(t *testing.T) {
	completer := &fakeCompleter{errs: []error{context.DeadlineExceeded}}
	r := newTestRegistry(50, completer)
	convCtx := NewContext(testProfile())

	reply, ok := r.GetResponse(context.Background(), "Hello?", convCtx, true)
	if ok {
		t.Error("expected failure")
	}
	if reply != apologyProcessing {
		t.Errorf("reply = %q, want processing apology", reply)
	}

	// The session survives the failed turn and can serve the retry.
	if _, found := r.Session(convCtx.ThreadID); !found {
		t.Error("session discarded after processing failure")
	}
}

func TestInitializeSessionReturnsGreeting(t *testing.T) {
	completer := &fakeCompleter{replies: []string{"Good morning. How may I help you today?"}}
	r := newTestRegistry(50, completer)
	convCtx := NewContext(testProfile())

	greeting, err := r.InitializeSession(context.Background(), convCtx)
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	if greeting == "" {
		t.Fatal("empty greeting")
	}

	// The synthetic opener is sent as an invisible turn.
	call := completer.lastCall(t)
	if len(call.messages) != 1 || call.messages[0].Content != openerMessage {
		t.Errorf("outgoing = %+v, want single %q turn", call.messages, openerMessage)
	}
	sess, _ := r.Session(convCtx.ThreadID)
	if vis := sess.Transcript(); len(vis) != 1 || vis[0].Role != RoleAssistant {
		t.Errorf("visible transcript = %+v, want greeting only", vis)
	}
}

func TestSetDifferentiationLevelFansOut(t *testing.T) {
	completer := &fakeCompleter{}
	r := newTestRegistry(50, completer)

	ctxA := NewContext(testProfile())
	ctxB := NewContext(testProfile())
	if _, ok := r.GetResponse(context.Background(), "Hello?", ctxA, true); !ok {
		t.Fatal("session A setup failed")
	}
	if _, ok := r.GetResponse(context.Background(), "Hello?", ctxB, true); !ok {
		t.Fatal("session B setup failed")
	}

	if err := r.SetDifferentiationLevel(80); err != nil {
		t.Fatalf("SetDifferentiationLevel: %v", err)
	}
	if r.DifferentiationLevel() != 80 {
		t.Errorf("registry level = %g, want 80", r.DifferentiationLevel())
	}
	for _, threadID := range []string{ctxA.ThreadID, ctxB.ThreadID} {
		sess, _ := r.Session(threadID)
		if sess.Level() != 80 {
			t.Errorf("session %s level = %g, want 80", threadID, sess.Level())
		}
	}

	// Sessions created after the move inherit the new level.
	ctxC := NewContext(testProfile())
	if _, ok := r.GetResponse(context.Background(), "Hello?", ctxC, true); !ok {
		t.Fatal("session C setup failed")
	}
	sess, _ := r.Session(ctxC.ThreadID)
	if sess.Level() != 80 {
		t.Errorf("new session level = %g, want 80", sess.Level())
	}
}

func TestRecalibrationIsolatedToOneSession(t *testing.T) {
	completer := &fakeCompleter{}
	r := newTestRegistry(50, completer)

	ctxA := NewContext(testProfile())
	ctxB := NewContext(testProfile())
	if _, ok := r.GetResponse(context.Background(), "Hello?", ctxA, true); !ok {
		t.Fatal("session A setup failed")
	}
	if _, ok := r.GetResponse(context.Background(), "Hello?", ctxB, true); !ok {
		t.Fatal("session B setup failed")
	}

	sessA, _ := r.Session(ctxA.ThreadID)
	sessB, _ := r.Session(ctxB.ThreadID)
	controlsB := sessB.Controls()

	if err := sessA.UpdateDifferentiationLevel(90); err != nil {
		t.Fatalf("UpdateDifferentiationLevel: %v", err)
	}

	// Only the recalibrated session changes; its sibling keeps its level,
	// controls, and a notice-free next request.
	if sessA.Level() != 90 {
		t.Errorf("session A level = %g, want 90", sessA.Level())
	}
	if sessB.Level() != 50 {
		t.Errorf("session B level = %g, want unchanged 50", sessB.Level())
	}
	if sessB.Controls() != controlsB {
		t.Error("session B controls changed by a sibling's recalibration")
	}

	if _, ok := r.GetResponse(context.Background(), "Next question.", ctxB, true); !ok {
		t.Fatal("session B message failed")
	}
	for _, m := range completer.lastCall(t).messages {
		if strings.HasPrefix(m.Content, "[COMMUNICATION UPDATE]") {
			t.Error("sibling session received a calibration notice")
		}
	}

	if _, ok := r.GetResponse(context.Background(), "Next question.", ctxA, true); !ok {
		t.Fatal("session A message failed")
	}
	var notices int
	for _, m := range completer.lastCall(t).messages {
		if strings.HasPrefix(m.Content, "[COMMUNICATION UPDATE]") {
			notices++
		}
	}
	if notices != 1 {
		t.Errorf("recalibrated session sent %d notices, want 1", notices)
	}
}

func TestSetDifferentiationLevelClampsOutOfRange(t *testing.T) {
	r := newTestRegistry(50, &fakeCompleter{})

	if err := r.SetDifferentiationLevel(150); err != nil {
		t.Fatalf("SetDifferentiationLevel(150): %v", err)
	}
	if r.DifferentiationLevel() != 100 {
		t.Errorf("level = %g, want clamped 100", r.DifferentiationLevel())
	}

	if err := r.SetDifferentiationLevel(-5); err != nil {
		t.Fatalf("SetDifferentiationLevel(-5): %v", err)
	}
	if r.DifferentiationLevel() != 0 {
		t.Errorf("level = %g, want clamped 0", r.DifferentiationLevel())
	}
}

func TestSetDifferentiationLevelNoOpOnEqualValue(t *testing.T) {
	completer := &fakeCompleter{}
	r := newTestRegistry(50, completer)
	convCtx := NewContext(testProfile())
	if _, ok := r.GetResponse(context.Background(), "Hello?", convCtx, true); !ok {
		t.Fatal("setup failed")
	}

	if err := r.SetDifferentiationLevel(50); err != nil {
		t.Fatalf("no-op move: %v", err)
	}

	// No recalibration happened, so the next turn must not carry a
	// calibration notice.
	if _, ok := r.GetResponse(context.Background(), "Next question.", convCtx, true); !ok {
		t.Fatal("message failed")
	}
	for _, m := range completer.lastCall(t).messages {
		if strings.HasPrefix(m.Content, "[COMMUNICATION UPDATE]") {
			t.Error("no-op dial move produced a calibration notice")
		}
	}
}

func TestCaseFileForLiveSession(t *testing.T) {
	r := newTestRegistry(50, &fakeCompleter{})
	convCtx := NewContext(testProfile())

	if _, found := r.CaseFile(convCtx.ThreadID); found {
		t.Error("case file reported for nonexistent session")
	}

	if _, ok := r.GetResponse(context.Background(), "Hello?", convCtx, true); !ok {
		t.Fatal("setup failed")
	}
	cf, found := r.CaseFile(convCtx.ThreadID)
	if !found {
		t.Fatal("case file missing for live session")
	}
	if !strings.Contains(cf, "Margaret Chen") {
		t.Errorf("case file = %q", cf)
	}
}

func TestEndSession(t *testing.T) {
	r := newTestRegistry(50, &fakeCompleter{})
	convCtx := NewContext(testProfile())
	if _, ok := r.GetResponse(context.Background(), "Hello?", convCtx, true); !ok {
		t.Fatal("setup failed")
	}

	if !r.EndSession(convCtx.ThreadID) {
		t.Error("EndSession returned false for live session")
	}
	if _, found := r.Session(convCtx.ThreadID); found {
		t.Error("session still registered after EndSession")
	}
	if r.EndSession(convCtx.ThreadID) {
		t.Error("second EndSession returned true")
	}
}

func TestClampLevel(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-10, 0},
		{0, 0},
		{42.5, 42.5},
		{100, 100},
		{250, 100},
	}
	for _, tt := range tests {
		if got := clampLevel(tt.in); got != tt.want {
			t.Errorf("clampLevel(%g) = %g, want %g", tt.in, got, tt.want)
		}
	}
}
