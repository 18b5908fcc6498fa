package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/obi/internal/profile"
)

// Chat roles on the wire and in stored transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one conversation turn. Visible distinguishes turns a citizen
// typed (or should see) from synthetic turns such as the invisible opener
// and calibration notices.
type Message struct {
	Role      string
	Content   string
	Visible   bool
	Timestamp time.Time
}

// Context identifies one citizen's conversation: a stable thread id, the
// profile selected at session start, and the running transcript. NeedsRefresh
// is raised when a recalibration invalidates the cached system prompt.
type Context struct {
	ThreadID     string
	Profile      *profile.UserProfile
	Messages     []Message
	NeedsRefresh bool
}

// NewContext creates a conversation context with a fresh thread id.
func NewContext(p *profile.UserProfile) *Context {
	return &Context{
		ThreadID: uuid.NewString(),
		Profile:  p,
	}
}
