package monitor

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/justapithecus/mender/fsx"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/memory"
	"github.com/justapithecus/mender/types"
)

// Tracker owns the BatchRun's aggregate counters, timeline, and
// persistence. Counters are never incremented in place: every update
// recounts the whole run, so applying the same session twice is harmless.
type Tracker struct {
	run         *types.BatchRun
	runsDir     string
	legacyPath  string
	csvFilename string
	logger      *log.Logger
}

// NewTracker wraps a run for tracking. legacyPath is the back-compat
// top-level state.json mirror; empty disables it. csvFilename is recorded
// in the run index for provenance.
func NewTracker(run *types.BatchRun, runsDir, legacyPath, csvFilename string, logger *log.Logger) *Tracker {
	return &Tracker{
		run:         run,
		runsDir:     runsDir,
		legacyPath:  legacyPath,
		csvFilename: csvFilename,
		logger:      logger,
	}
}

// Run returns the tracked run.
func (t *Tracker) Run() *types.BatchRun { return t.run }

// UpdateSession recomputes every aggregate from scratch. O(N) over all
// sessions, deliberately: idempotence matters more than cost at this
// scale.
func (t *Tracker) UpdateSession(_ *types.RemediationSession) {
	t.Recount()
}

// Recount recomputes run-level and per-wave counters by iterating every
// session in every wave.
func (t *Tracker) Recount() {
	completed, successful, failed, prs := 0, 0, 0, 0

	for _, wave := range t.run.Waves {
		waveSuccess, waveFailure := 0, 0
		for _, sess := range wave.Sessions {
			if sess.Status.IsSettled() {
				completed++
			}
			if sess.Status == types.SessionSuccess {
				successful++
				waveSuccess++
			}
			if sess.Status.IsFailure() {
				failed++
				waveFailure++
			}
			if sess.PRURL != "" {
				prs++
			}
		}
		wave.SuccessCount = waveSuccess
		wave.FailureCount = waveFailure
	}

	t.run.Completed = completed
	t.run.Successful = successful
	t.run.Failed = failed
	t.run.PRsCreated = prs
}

// AddEvent appends a timeline entry with a UTC timestamp.
func (t *Tracker) AddEvent(eventType, message string, details map[string]any) {
	t.run.Events = append(t.run.Events, types.TimelineEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Summary is the dashboard view of a run.
type Summary struct {
	RunID          string           `json:"run_id"`
	Status         types.RunStatus  `json:"status"`
	DataSource     types.DataSource `json:"data_source"`
	StartedAt      time.Time        `json:"started_at"`
	TotalFindings  int              `json:"total_findings"`
	Completed      int              `json:"completed"`
	Successful     int              `json:"successful"`
	Failed         int              `json:"failed"`
	PRsCreated     int              `json:"prs_created"`
	ActiveSessions int              `json:"active_sessions"`
	PendingReviews int              `json:"pending_reviews"`
	CurrentWave    int              `json:"current_wave"`
	TotalWaves     int              `json:"total_waves"`
	SuccessRate    float64          `json:"success_rate"`
}

// Summary derives the dashboard view. active counts only dispatched and
// working sessions: blocked may still promote but holds no remote slot
// worth surfacing.
func (t *Tracker) Summary() Summary {
	active, pendingReviews, currentWave := 0, 0, 0
	for _, wave := range t.run.Waves {
		for _, sess := range wave.Sessions {
			if sess.Status == types.SessionDispatched || sess.Status == types.SessionWorking {
				active++
			}
			if sess.PRURL != "" {
				pendingReviews++
			}
			if sess.Status != types.SessionPending && wave.WaveNumber > currentWave {
				currentWave = wave.WaveNumber
			}
		}
	}

	rate := 0.0
	if t.run.Completed > 0 {
		rate = float64(t.run.Successful) / float64(t.run.Completed)
	}

	return Summary{
		RunID:          t.run.RunID,
		Status:         t.run.Status,
		DataSource:     t.run.DataSource,
		StartedAt:      t.run.StartedAt,
		TotalFindings:  t.run.TotalFindings,
		Completed:      t.run.Completed,
		Successful:     t.run.Successful,
		Failed:         t.run.Failed,
		PRsCreated:     t.run.PRsCreated,
		ActiveSessions: active,
		PendingReviews: pendingReviews,
		CurrentWave:    currentWave,
		TotalWaves:     len(t.run.Waves),
		SuccessRate:    rate,
	}
}

// SaveState persists the run snapshot, upserts the shared run index, and
// mirrors the legacy top-level state file. The index lock spans all three
// writes so dashboard readers never see the index ahead of the snapshot.
func (t *Tracker) SaveState() error {
	statePath := filepath.Join(t.runsDir, t.run.RunID, "state.json")
	if err := fsx.EnsureParent(statePath); err != nil {
		return err
	}
	indexPath := filepath.Join(t.runsDir, "index.json")

	return fsx.WithLock(indexPath, fsx.LockOptions{Writer: "orchestrator"}, func() error {
		if err := fsx.AtomicWriteJSON(statePath, t.run); err != nil {
			return fmt.Errorf("save run state: %w", err)
		}
		if err := t.upsertIndex(indexPath); err != nil {
			return err
		}
		if t.legacyPath != "" {
			if err := fsx.AtomicWriteJSON(t.legacyPath, t.run); err != nil {
				return fmt.Errorf("save legacy state: %w", err)
			}
		}
		return nil
	})
}

func (t *Tracker) upsertIndex(indexPath string) error {
	var index []types.RunIndexEntry
	if err := fsx.ReadJSON(indexPath, &index); err != nil && !isNotExist(err) {
		t.logger.Warn("run index unreadable, rebuilding", map[string]any{
			"path":  indexPath,
			"error": err.Error(),
		})
		index = nil
	}

	entry := types.RunIndexEntry{
		RunID:         t.run.RunID,
		StartedAt:     t.run.StartedAt,
		Status:        t.run.Status,
		TotalFindings: t.run.TotalFindings,
		DataSource:    t.run.DataSource,
	}
	if t.csvFilename != "" {
		entry.CSVFilename = &t.csvFilename
	}

	replaced := false
	for i := range index {
		if index[i].RunID == t.run.RunID {
			index[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		index = append(index, entry)
	}

	if err := fsx.AtomicWriteJSON(indexPath, index); err != nil {
		return fmt.Errorf("save run index: %w", err)
	}
	return nil
}

// ExtractAndSaveMemories extracts memory items from the run's settled
// sessions and upserts them into the store. Returns the number saved.
func (t *Tracker) ExtractAndSaveMemories(store *memory.Store) (int, error) {
	items := memory.Extract(t.run)
	if len(items) == 0 {
		return 0, nil
	}

	g := store.LoadGraph()
	for _, item := range items {
		if err := store.Upsert(item, g); err != nil {
			return 0, err
		}
	}
	if err := store.SaveGraph(g); err != nil {
		return 0, err
	}
	return len(items), nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
