package memory

import (
	"time"

	"github.com/justapithecus/mender/types"
)

// Extract produces a memory item for every settled session in the run:
// success, failed, timeout, and blocked all carry a lesson. Outcome is
// success only for status success.
func Extract(run *types.BatchRun) []*Item {
	var items []*Item

	run.EachSession(func(_ *types.Wave, sess *types.RemediationSession) {
		if !sess.Status.IsSettled() {
			return
		}
		items = append(items, fromSession(run, sess))
	})
	return items
}

func fromSession(run *types.BatchRun, sess *types.RemediationSession) *Item {
	outcome := OutcomeFailed
	if sess.Status == types.SessionSuccess {
		outcome = OutcomeSuccess
	}

	createdAt := time.Now().UTC()
	if sess.CompletedAt != nil {
		createdAt = sess.CompletedAt.UTC()
	}

	item := &Item{
		ItemID:       ItemID(run.RunID, sess.Finding.FindingID),
		RunID:        run.RunID,
		FindingID:    sess.Finding.FindingID,
		Category:     string(sess.Finding.Category),
		Service:      sess.Finding.ServiceName,
		Severity:     string(sess.Finding.Severity),
		Outcome:      outcome,
		PRURL:        sess.PRURL,
		ErrorMessage: sess.ErrorMessage,
		DataSource:   string(sess.DataSource),
		CreatedAt:    createdAt,
	}

	if so := sess.StructuredOutput; so != nil {
		item.Confidence = so.Confidence
		item.FixApproach = so.FixApproach
		item.FilesModified = so.FilesModified
		item.TestsPassed = so.TestsPassed
		item.TestsAdded = so.TestsAdded
		if item.PRURL == "" {
			item.PRURL = so.PRURL
		}
	}
	return item
}
