package types

import "time"

// SessionStatus is the orchestrator-side status of a remediation session.
type SessionStatus string

// Session status constants.
const (
	SessionPending    SessionStatus = "pending"
	SessionDispatched SessionStatus = "dispatched"
	SessionWorking    SessionStatus = "working"
	SessionBlocked    SessionStatus = "blocked"
	SessionSuccess    SessionStatus = "success"
	SessionFailed     SessionStatus = "failed"
	SessionTimeout    SessionStatus = "timeout"
)

// IsActive reports whether the session should still be polled.
// Blocked is active: the remote may still attach a PR, which promotes
// the session to success on the next poll.
func (s SessionStatus) IsActive() bool {
	return s == SessionDispatched || s == SessionWorking || s == SessionBlocked
}

// IsTerminal reports whether polling stops for this status.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionSuccess || s == SessionFailed || s == SessionTimeout
}

// IsSettled reports whether the session counts as completed for run
// aggregates. Unlike IsTerminal, blocked counts here: a blocked session
// is a completed-but-failed outcome for counting purposes even while the
// poller keeps watching it.
func (s SessionStatus) IsSettled() bool {
	return s.IsTerminal() || s == SessionBlocked
}

// IsFailure reports whether the status counts as a failure in aggregates.
func (s SessionStatus) IsFailure() bool {
	return s == SessionFailed || s == SessionTimeout || s == SessionBlocked
}

// IsRetriable reports whether a session in this status is eligible for a
// second attempt.
func (s SessionStatus) IsRetriable() bool {
	return s == SessionFailed || s == SessionTimeout
}

// DataSource selects which client a session (or run) is served by.
type DataSource string

// Data source constants.
const (
	DataSourceLive   DataSource = "live"
	DataSourceMock   DataSource = "mock"
	DataSourceHybrid DataSource = "hybrid"
)

// ReviewStatus is set by the external human reviewer. The orchestrator
// never writes these fields; it only preserves them across saves.
type ReviewStatus string

// Review status constants.
const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// StructuredOutput is the schema-validated progress blob the remote agent
// reports. The first four fields are required by the schema; the rest are
// populated as the session advances.
type StructuredOutput struct {
	FindingID     string   `json:"finding_id"`
	Status        string   `json:"status"`
	ProgressPct   int      `json:"progress_pct"`
	CurrentStep   string   `json:"current_step"`
	FixApproach   string   `json:"fix_approach,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	TestsPassed   *bool    `json:"tests_passed,omitempty"`
	TestsAdded    int      `json:"tests_added,omitempty"`
	PRURL         string   `json:"pr_url,omitempty"`
	ErrorMessage  string   `json:"error_message,omitempty"`
	Confidence    string   `json:"confidence,omitempty"`
}

// RemediationSession is one agent task aimed at one finding, one attempt.
// It is the central mutable entity of a run; every mutation must bump
// Version via Touch so concurrent readers of the state file can detect
// staleness.
type RemediationSession struct {
	// SessionID is assigned by the remote on creation; empty until then.
	SessionID string  `json:"session_id,omitempty"`
	Finding   Finding `json:"finding"`
	// PlaybookID names the pre-uploaded prompt template for this category.
	PlaybookID string        `json:"playbook_id"`
	Status     SessionStatus `json:"status"`
	DevinURL   string        `json:"devin_url,omitempty"`
	PRURL      string        `json:"pr_url,omitempty"`
	// StructuredOutput is the last progress blob observed by the poller.
	StructuredOutput *StructuredOutput `json:"structured_output,omitempty"`
	WaveNumber       int               `json:"wave_number"`
	// Attempt is 1 on first dispatch, 2 after a retry reset. Never exceeds 2.
	Attempt      int        `json:"attempt"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DataSource   DataSource `json:"data_source"`
	// Version increments on every mutation; readers use it to detect change.
	Version int `json:"version"`
	// Review fields are written by the external reviewer and preserved here.
	ReviewStatus *ReviewStatus `json:"review_status,omitempty"`
	ReviewedBy   string        `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time    `json:"reviewed_at,omitempty"`
	ReviewReason string        `json:"review_reason,omitempty"`
}

// Touch bumps the session version. Call after any mutation.
func (s *RemediationSession) Touch() {
	s.Version++
}

// ResetForRetry returns the session to pending for a second attempt,
// clearing every artifact of the failed attempt and bumping Attempt.
func (s *RemediationSession) ResetForRetry() {
	s.Status = SessionPending
	s.SessionID = ""
	s.PRURL = ""
	s.ErrorMessage = ""
	s.CompletedAt = nil
	s.StructuredOutput = nil
	s.Attempt++
	s.Touch()
}

// Stage returns the structured-output stage, or "" when none observed yet.
func (s *RemediationSession) Stage() string {
	if s.StructuredOutput == nil {
		return ""
	}
	return s.StructuredOutput.Status
}
