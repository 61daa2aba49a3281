package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/justapithecus/mender/devin"
	"github.com/justapithecus/mender/ledger"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/types"
)

// StructuredOutputSchema is the schema sent with every session create so
// the remote reports progress in the shape the poller expects.
var StructuredOutputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"finding_id":     map[string]any{"type": "string"},
		"status":         map[string]any{"type": "string", "enum": []string{"analyzing", "fixing", "testing", "creating_pr", "completed", "failed"}},
		"progress_pct":   map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		"current_step":   map[string]any{"type": "string"},
		"fix_approach":   map[string]any{"type": "string"},
		"files_modified": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"tests_passed":   map[string]any{"type": "boolean"},
		"tests_added":    map[string]any{"type": "integer"},
		"pr_url":         map[string]any{"type": "string"},
		"error_message":  map[string]any{"type": "string"},
		"confidence":     map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
	},
	"required": []string{"finding_id", "status", "progress_pct", "current_step"},
}

// Manager creates remediation sessions through the idempotency ledger.
type Manager struct {
	ledger           *ledger.Ledger
	maxACUPerSession int
	logger           *log.Logger
}

// NewManager builds a session manager. ledger may be nil, which disables
// idempotent dispatch (used by one-off tooling, never by run execution).
func NewManager(led *ledger.Ledger, maxACUPerSession int, logger *log.Logger) *Manager {
	return &Manager{
		ledger:           led,
		maxACUPerSession: maxACUPerSession,
		logger:           logger,
	}
}

// Create dispatches sess to the remote via client. The ledger is consulted
// first: a hit writes the recorded session_id back without any API call,
// which keeps dispatch at-most-once per (run, finding, attempt) across
// process restarts. The ledger is recorded only after the remote returns.
//
// Creation failures mark the session failed and return nil; the run
// continues with the remaining sessions.
func (m *Manager) Create(ctx context.Context, client devin.Client, sess *types.RemediationSession, runID, prompt, playbookID string, dataSource types.DataSource) error {
	key := ledger.Key(runID, sess.Finding.FindingID, sess.Attempt)

	if m.ledger != nil {
		if entry, ok := m.ledger.Lookup(key); ok {
			sess.SessionID = entry.SessionID
			sess.DevinURL = entry.URL
			sess.Status = types.SessionDispatched
			sess.DataSource = dataSource
			sess.Touch()
			m.logger.Info("session already dispatched, reusing", map[string]any{
				"finding_id": sess.Finding.FindingID,
				"session_id": entry.SessionID,
				"attempt":    sess.Attempt,
			})
			return nil
		}
	}

	resp, err := client.CreateSession(ctx, devin.CreateSessionRequest{
		Prompt:                 prompt,
		PlaybookID:             playbookID,
		Tags:                   sessionTags(sess),
		StructuredOutputSchema: StructuredOutputSchema,
		MaxACULimit:            m.maxACUPerSession,
		Idempotent:             true,
	})
	if err != nil {
		sess.Status = types.SessionFailed
		sess.ErrorMessage = fmt.Sprintf("session creation failed: %v", err)
		now := time.Now().UTC()
		sess.CompletedAt = &now
		sess.Touch()
		m.logger.Error("session creation failed", map[string]any{
			"finding_id": sess.Finding.FindingID,
			"error":      err.Error(),
		})
		return nil
	}

	now := time.Now().UTC()
	sess.SessionID = resp.SessionID
	sess.DevinURL = resp.URL
	sess.CreatedAt = &now
	sess.Status = types.SessionDispatched
	sess.DataSource = dataSource
	sess.PlaybookID = playbookID
	sess.Touch()

	if m.ledger != nil {
		if err := m.ledger.Record(key, ledger.Entry{SessionID: resp.SessionID, URL: resp.URL, CreatedAt: now}); err != nil {
			// Session exists remotely; a lost ledger write risks a duplicate
			// on restart, which the remote's idempotent create absorbs.
			m.logger.Warn("ledger record failed", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
	return nil
}

func sessionTags(sess *types.RemediationSession) []string {
	return []string{
		fmt.Sprintf("wave-%d", sess.WaveNumber),
		string(sess.Finding.Category),
		sess.Finding.ServiceName,
	}
}

// DetermineDataSource routes a finding to live or mock. In hybrid mode a
// finding goes live iff its service name substring-matches a connected
// repo in either direction; otherwise the configured mode applies to all.
func DetermineDataSource(f *types.Finding, hybrid, mock bool, connectedRepos []string) types.DataSource {
	if !hybrid {
		if mock {
			return types.DataSourceMock
		}
		return types.DataSourceLive
	}

	for _, repo := range connectedRepos {
		if repo == "" {
			continue
		}
		if strings.Contains(f.ServiceName, repo) || strings.Contains(repo, f.ServiceName) {
			return types.DataSourceLive
		}
	}
	return types.DataSourceMock
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
