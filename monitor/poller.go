// Package monitor observes in-flight remediation sessions: the Poller
// folds remote responses into session state and enforces timeouts, and the
// Tracker recomputes run aggregates and persists them.
package monitor

import (
	"context"
	"time"

	"github.com/justapithecus/mender/devin"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/session"
	"github.com/justapithecus/mender/types"
)

// stageLabels are the human-readable names used in progress events.
var stageLabels = map[string]string{
	"analyzing":   "Analyzing code",
	"fixing":      "Applying fix",
	"testing":     "Running tests",
	"creating_pr": "Creating pull request",
	"completed":   "Completed",
	"failed":      "Failed",
}

// Poller drives session polling for one client.
type Poller struct {
	timeout time.Duration
	logger  *log.Logger

	now func() time.Time // test seam
}

// NewPoller creates a poller enforcing the given per-session wall-clock
// timeout.
func NewPoller(timeout time.Duration, logger *log.Logger) *Poller {
	return &Poller{timeout: timeout, logger: logger, now: time.Now}
}

// PollSession fetches the session's remote state and folds it into sess.
// Poll errors leave the session untouched: only remote-reported terminals
// or the timeout enforcer move a session out of an active state.
func (p *Poller) PollSession(ctx context.Context, client devin.Client, sess *types.RemediationSession) {
	detail, err := client.GetSession(ctx, sess.SessionID)
	if err != nil {
		p.logger.Warn("poll failed, leaving session unchanged", map[string]any{
			"session_id": sess.SessionID,
			"finding_id": sess.Finding.FindingID,
			"error":      err.Error(),
		})
		return
	}

	status, known := session.Interpret(detail)
	if !known {
		p.logger.Warn("unknown remote status, treating as working", map[string]any{
			"session_id":  sess.SessionID,
			"status_enum": detail.StatusEnum,
		})
	}

	if detail.StructuredOutput != nil {
		sess.StructuredOutput = detail.StructuredOutput
	}
	if pr := session.PRURL(detail); pr != "" {
		sess.PRURL = pr
	}
	if msg := session.ErrorMessage(detail); msg != "" {
		sess.ErrorMessage = msg
	}

	if status != sess.Status {
		sess.Status = status
		if status.IsTerminal() && sess.CompletedAt == nil {
			now := p.now().UTC()
			sess.CompletedAt = &now
		}
	}
	sess.Touch()
}

// PollActiveSessions advances every active session in the slice by one
// observation: timed-out sessions are failed locally without a remote
// call, the rest are polled. Progress and transition events go through the
// tracker, state is persisted once at the end, and the still-active subset
// is returned.
func (p *Poller) PollActiveSessions(ctx context.Context, client devin.Client, sessions []*types.RemediationSession, tracker *Tracker) []*types.RemediationSession {
	for _, sess := range sessions {
		if !sess.Status.IsActive() {
			continue
		}

		oldStatus := sess.Status
		oldStage := sess.Stage()

		if p.timedOut(sess) {
			now := p.now().UTC()
			sess.Status = types.SessionTimeout
			sess.ErrorMessage = "Session timed out"
			sess.CompletedAt = &now
			sess.Touch()
			tracker.UpdateSession(sess)
			tracker.AddEvent(types.EventSessionFailed, "Session timed out: "+sess.Finding.FindingID, map[string]any{
				"finding_id": sess.Finding.FindingID,
				"session_id": sess.SessionID,
				"status":     string(types.SessionTimeout),
			})
			continue
		}

		p.PollSession(ctx, client, sess)

		if stage := sess.Stage(); stage != oldStage && stage != "" {
			details := map[string]any{
				"finding_id": sess.Finding.FindingID,
				"stage":      stage,
			}
			label := stageLabels[stage]
			if label == "" {
				label = stage
			}
			if so := sess.StructuredOutput; so != nil {
				details["progress_pct"] = so.ProgressPct
				details["current_step"] = so.CurrentStep
			}
			tracker.AddEvent(types.EventSessionProgress, label+": "+sess.Finding.FindingID, details)
		}

		if sess.Status != oldStatus {
			tracker.UpdateSession(sess)
			switch {
			case sess.Status == types.SessionSuccess:
				tracker.AddEvent(types.EventSessionCompleted, "Session completed: "+sess.Finding.FindingID, map[string]any{
					"finding_id": sess.Finding.FindingID,
					"session_id": sess.SessionID,
					"pr_url":     sess.PRURL,
				})
			case sess.Status.IsTerminal():
				tracker.AddEvent(types.EventSessionFailed, "Session failed: "+sess.Finding.FindingID, map[string]any{
					"finding_id": sess.Finding.FindingID,
					"session_id": sess.SessionID,
					"status":     string(sess.Status),
					"error":      sess.ErrorMessage,
				})
			}
		}
	}

	if err := tracker.SaveState(); err != nil {
		p.logger.Warn("state save failed after poll batch", map[string]any{"error": err.Error()})
	}

	var active []*types.RemediationSession
	for _, sess := range sessions {
		if sess.Status.IsActive() {
			active = append(active, sess)
		}
	}
	return active
}

func (p *Poller) timedOut(sess *types.RemediationSession) bool {
	if sess.CreatedAt == nil {
		return false
	}
	return p.now().Sub(*sess.CreatedAt) > p.timeout
}
