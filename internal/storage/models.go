package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Thread is a persisted conversation transcript keyed by thread id.
type Thread struct {
	ThreadID  string          `json:"thread_id"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []ThreadMessage `json:"messages"`
}

// ThreadMessage is one stored turn. System-role messages are never
// persisted; Visible mirrors the session flag so transcript rendering can
// skip synthetic turns.
type ThreadMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Visible   bool      `json:"visible"`
}
