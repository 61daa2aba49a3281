// Package ledger persists the idempotency ledger for a run: a mapping from
// dispatch keys to remote session identifiers. A key present in the ledger
// means the remote session was already created, so a crashed or resumed run
// never dispatches the same finding attempt twice.
package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/justapithecus/mender/fsx"
	"github.com/justapithecus/mender/log"
)

// Entry records one dispatched session.
type Entry struct {
	SessionID string    `json:"session_id"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger is the on-disk idempotency ledger for a single run. Not safe for
// concurrent use; the wave manager owns it for the life of the run.
type Ledger struct {
	path    string
	entries map[string]Entry
	logger  *log.Logger
}

// Key builds the ledger key for one dispatch attempt.
func Key(runID, findingID string, attempt int) string {
	return fmt.Sprintf("%s-%s-attempt-%d", runID, findingID, attempt)
}

// Open loads the ledger at path, creating an empty one if the file does not
// exist. A corrupt file falls back to an empty ledger with a warning; the
// next Record overwrites it.
func Open(path string, logger *log.Logger) *Ledger {
	l := &Ledger{
		path:    path,
		entries: make(map[string]Entry),
		logger:  logger,
	}

	if err := fsx.ReadJSON(path, &l.entries); err != nil {
		l.entries = make(map[string]Entry)
		if !isNotExist(err) {
			logger.Warn("idempotency ledger unreadable, starting empty", map[string]any{
				"path":  path,
				"error": err.Error(),
			})
		}
	}
	return l
}

// Lookup returns the recorded entry for key, if any.
func (l *Ledger) Lookup(key string) (Entry, bool) {
	e, ok := l.entries[key]
	return e, ok
}

// Record stores an entry and persists the ledger immediately. Recording
// happens only after the remote create succeeds, so a crash between the
// remote call and the write errs toward a duplicate create, never a lost
// session.
func (l *Ledger) Record(key string, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	l.entries[key] = entry

	if err := fsx.EnsureParent(l.path); err != nil {
		return err
	}
	if err := fsx.AtomicWriteJSON(l.path, l.entries); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// Len reports the number of recorded dispatches.
func (l *Ledger) Len() int { return len(l.entries) }

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
