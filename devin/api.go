package devin

import (
	"context"

	"github.com/justapithecus/mender/types"
)

// Remote session status values reported by the API. The session package
// maps these onto internal statuses.
const (
	RemoteWorking         = "working"
	RemoteFinished        = "finished"
	RemoteBlocked         = "blocked"
	RemoteExpired         = "expired"
	RemoteSuspendReq      = "suspend_requested"
	RemoteResumeRequested = "resume_requested"
	RemoteResumed         = "resumed"
)

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Prompt                 string         `json:"prompt"`
	PlaybookID             string         `json:"playbook_id,omitempty"`
	Tags                   []string       `json:"tags,omitempty"`
	StructuredOutputSchema map[string]any `json:"structured_output_schema,omitempty"`
	MaxACULimit            int            `json:"max_acu_limit,omitempty"`
	Idempotent             bool           `json:"idempotent"`
}

// CreateSessionResponse is the body returned by POST /sessions.
type CreateSessionResponse struct {
	SessionID    string `json:"session_id"`
	URL          string `json:"url"`
	IsNewSession bool   `json:"is_new_session"`
}

// PullRequest is the pull request attached to a finished session.
type PullRequest struct {
	URL string `json:"url"`
}

// SessionDetail is the body returned by GET /sessions/{id} and the element
// type of session listings.
type SessionDetail struct {
	SessionID        string                  `json:"session_id"`
	StatusEnum       string                  `json:"status_enum"`
	Title            string                  `json:"title,omitempty"`
	Tags             []string                `json:"tags,omitempty"`
	StructuredOutput *types.StructuredOutput `json:"structured_output,omitempty"`
	PullRequest      *PullRequest            `json:"pull_request,omitempty"`
}

// Playbook is a remote playbook summary.
type Playbook struct {
	PlaybookID string `json:"playbook_id"`
	Title      string `json:"title"`
}

// Client is the remote agent API surface the orchestrator depends on.
// HTTPClient talks to the real service; MockClient simulates it locally.
type Client interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error)
	GetSession(ctx context.Context, sessionID string) (*SessionDetail, error)
	ListSessions(ctx context.Context, tags []string, limit, offset int) ([]SessionDetail, error)
	SendMessage(ctx context.Context, sessionID, message string) error
	TerminateSession(ctx context.Context, sessionID string) error
	// TerminateSessionBestEffort swallows errors and reports whether the
	// session is gone. Used during cleanup where failures are tolerable.
	TerminateSessionBestEffort(ctx context.Context, sessionID string) bool
	CreatePlaybook(ctx context.Context, title, body string) (*Playbook, error)
	ListPlaybooks(ctx context.Context) ([]Playbook, error)
	// ResetCircuitBreaker force-closes the breaker, clearing failure state
	// left over from a previous run.
	ResetCircuitBreaker()
	Close() error
}
