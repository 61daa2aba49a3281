package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/mender/devin"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/types"
)

// scriptedClient returns canned session details keyed by session id.
type scriptedClient struct {
	devin.Client
	details map[string]*devin.SessionDetail
	err     error
	polls   int
}

func (c *scriptedClient) GetSession(_ context.Context, id string) (*devin.SessionDetail, error) {
	c.polls++
	if c.err != nil {
		return nil, c.err
	}
	d, ok := c.details[id]
	if !ok {
		return nil, &devin.APIError{Status: 404, Message: "not found"}
	}
	return d, nil
}

func activeSession(id string, created time.Time) *types.RemediationSession {
	return &types.RemediationSession{
		SessionID:  id,
		Finding:    types.Finding{FindingID: "F-" + id, Category: types.CategoryXSS, ServiceName: "user-service", Severity: types.SeverityHigh},
		Status:     types.SessionWorking,
		Attempt:    1,
		WaveNumber: 1,
		CreatedAt:  &created,
	}
}

func pollerFixture(t *testing.T, sessions []*types.RemediationSession) (*Poller, *Tracker) {
	t.Helper()
	dir := t.TempDir()
	run := &types.BatchRun{
		RunID:      "run-p",
		StartedAt:  time.Now().UTC(),
		Status:     types.RunRunning,
		DataSource: types.DataSourceMock,
		Waves:      []*types.Wave{{WaveNumber: 1, Sessions: sessions, Status: types.WaveRunning}},
	}
	tracker := NewTracker(run, filepath.Join(dir, "runs"), "", "", log.Nop())
	return NewPoller(90*time.Minute, log.Nop()), tracker
}

func TestPollSession_FoldsRemoteState(t *testing.T) {
	now := time.Now().UTC()
	sess := activeSession("s1", now)
	client := &scriptedClient{details: map[string]*devin.SessionDetail{
		"s1": {
			SessionID:        "s1",
			StatusEnum:       devin.RemoteFinished,
			StructuredOutput: &types.StructuredOutput{Status: "completed", ProgressPct: 100, PRURL: "https://github.com/x/y/pull/7"},
			PullRequest:      &devin.PullRequest{URL: "https://github.com/x/y/pull/7"},
		},
	}}

	p, _ := pollerFixture(t, []*types.RemediationSession{sess})
	v := sess.Version
	p.PollSession(context.Background(), client, sess)

	if sess.Status != types.SessionSuccess {
		t.Errorf("Status = %s, want success", sess.Status)
	}
	if sess.PRURL != "https://github.com/x/y/pull/7" {
		t.Errorf("PRURL = %q", sess.PRURL)
	}
	if sess.CompletedAt == nil {
		t.Error("CompletedAt not set on terminal transition")
	}
	if sess.Version <= v {
		t.Error("Version not bumped")
	}
}

func TestPollSession_ErrorLeavesSessionUnchanged(t *testing.T) {
	now := time.Now().UTC()
	sess := activeSession("s1", now)
	client := &scriptedClient{err: &devin.APIError{Status: 503, Message: "down"}}

	p, _ := pollerFixture(t, []*types.RemediationSession{sess})
	p.PollSession(context.Background(), client, sess)

	if sess.Status != types.SessionWorking {
		t.Errorf("Status = %s, poll errors must not mutate status", sess.Status)
	}
	if sess.CompletedAt != nil || sess.ErrorMessage != "" {
		t.Errorf("session mutated on poll error: %+v", sess)
	}
}

func TestPollActiveSessions_TimeoutBeforePoll(t *testing.T) {
	created := time.Now().UTC().Add(-2 * time.Hour)
	sess := activeSession("s1", created)
	client := &scriptedClient{details: map[string]*devin.SessionDetail{}}

	p, tracker := pollerFixture(t, []*types.RemediationSession{sess})
	active := p.PollActiveSessions(context.Background(), client, []*types.RemediationSession{sess}, tracker)

	if client.polls != 0 {
		t.Errorf("polls = %d, timed-out session must not be polled", client.polls)
	}
	if sess.Status != types.SessionTimeout || sess.ErrorMessage != "Session timed out" {
		t.Errorf("session = %s / %q", sess.Status, sess.ErrorMessage)
	}
	if len(active) != 0 {
		t.Errorf("active = %d, want 0", len(active))
	}

	run := tracker.Run()
	if run.Failed != 1 || run.Completed != 1 {
		t.Errorf("counters = failed %d completed %d", run.Failed, run.Completed)
	}
	found := false
	for _, e := range run.Events {
		if e.EventType == types.EventSessionFailed {
			found = true
		}
	}
	if !found {
		t.Error("no session_failed event emitted for timeout")
	}
}

func TestPollActiveSessions_ProgressAndCompletionEvents(t *testing.T) {
	now := time.Now().UTC()
	s1 := activeSession("s1", now)
	s2 := activeSession("s2", now)
	client := &scriptedClient{details: map[string]*devin.SessionDetail{
		"s1": {
			SessionID:        "s1",
			StatusEnum:       devin.RemoteWorking,
			StructuredOutput: &types.StructuredOutput{Status: "fixing", ProgressPct: 40, CurrentStep: "Applying fix"},
		},
		"s2": {
			SessionID:        "s2",
			StatusEnum:       devin.RemoteBlocked,
			StructuredOutput: &types.StructuredOutput{Status: "failed", ErrorMessage: "Tests failed"},
		},
	}}

	p, tracker := pollerFixture(t, []*types.RemediationSession{s1, s2})
	active := p.PollActiveSessions(context.Background(), client, []*types.RemediationSession{s1, s2}, tracker)

	// s1 stays working; s2 moved to blocked, which is still active.
	if len(active) != 2 {
		t.Errorf("active = %d, want 2 (blocked remains pollable)", len(active))
	}
	if s2.Status != types.SessionBlocked {
		t.Errorf("s2 = %s, want blocked", s2.Status)
	}

	var progress, failed int
	for _, e := range tracker.Run().Events {
		switch e.EventType {
		case types.EventSessionProgress:
			progress++
		case types.EventSessionFailed:
			failed++
		}
	}
	if progress != 2 {
		t.Errorf("progress events = %d, want 2 (both stage changes)", progress)
	}
	// blocked is active, not terminal: no failure event yet.
	if failed != 0 {
		t.Errorf("failed events = %d, want 0", failed)
	}
}

func TestPollActiveSessions_BlockedPromotesToSuccess(t *testing.T) {
	now := time.Now().UTC()
	sess := activeSession("s1", now)
	sess.Status = types.SessionBlocked
	client := &scriptedClient{details: map[string]*devin.SessionDetail{
		"s1": {
			SessionID:   "s1",
			StatusEnum:  devin.RemoteBlocked,
			PullRequest: &devin.PullRequest{URL: "https://github.com/x/y/pull/3"},
		},
	}}

	p, tracker := pollerFixture(t, []*types.RemediationSession{sess})
	active := p.PollActiveSessions(context.Background(), client, []*types.RemediationSession{sess}, tracker)

	if sess.Status != types.SessionSuccess {
		t.Errorf("Status = %s, want success once PR appears", sess.Status)
	}
	if len(active) != 0 {
		t.Errorf("active = %d, want 0", len(active))
	}

	var completed int
	for _, e := range tracker.Run().Events {
		if e.EventType == types.EventSessionCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("session_completed events = %d, want 1", completed)
	}
}
