package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/memory"
	"github.com/justapithecus/mender/types"
)

func buildRun() *types.BatchRun {
	mk := func(id string, status types.SessionStatus, pr string) *types.RemediationSession {
		return &types.RemediationSession{
			Finding: types.Finding{FindingID: id, Category: types.CategoryXSS, ServiceName: "user-service", Severity: types.SeverityHigh},
			Status:  status,
			PRURL:   pr,
			Attempt: 1,
		}
	}
	return &types.BatchRun{
		RunID:         "run-t",
		StartedAt:     time.Now().UTC(),
		Status:        types.RunRunning,
		DataSource:    types.DataSourceMock,
		TotalFindings: 5,
		Waves: []*types.Wave{
			{
				WaveNumber: 1,
				Sessions: []*types.RemediationSession{
					mk("A", types.SessionSuccess, "https://github.com/x/y/pull/1"),
					mk("B", types.SessionFailed, ""),
					mk("C", types.SessionBlocked, ""),
				},
			},
			{
				WaveNumber: 2,
				Sessions: []*types.RemediationSession{
					mk("D", types.SessionWorking, ""),
					mk("E", types.SessionPending, ""),
				},
			},
		},
	}
}

func newTestTracker(t *testing.T, run *types.BatchRun) *Tracker {
	t.Helper()
	dir := t.TempDir()
	return NewTracker(run, filepath.Join(dir, "runs"), filepath.Join(dir, "state.json"), "findings.csv", log.Nop())
}

func TestRecount(t *testing.T) {
	run := buildRun()
	tr := newTestTracker(t, run)

	// Run several times; recount must be idempotent.
	tr.Recount()
	tr.UpdateSession(run.Waves[0].Sessions[0])

	if run.Completed != 3 {
		t.Errorf("Completed = %d, want 3 (success+failed+blocked)", run.Completed)
	}
	if run.Successful != 1 {
		t.Errorf("Successful = %d, want 1", run.Successful)
	}
	if run.Failed != 2 {
		t.Errorf("Failed = %d, want 2 (failed+blocked)", run.Failed)
	}
	if run.PRsCreated != 1 {
		t.Errorf("PRsCreated = %d, want 1", run.PRsCreated)
	}

	w1 := run.Waves[0]
	if w1.SuccessCount != 1 || w1.FailureCount != 2 {
		t.Errorf("wave 1 counts = %d/%d, want 1/2", w1.SuccessCount, w1.FailureCount)
	}
	w2 := run.Waves[1]
	if w2.SuccessCount != 0 || w2.FailureCount != 0 {
		t.Errorf("wave 2 counts = %d/%d, want 0/0", w2.SuccessCount, w2.FailureCount)
	}
}

func TestSummary(t *testing.T) {
	run := buildRun()
	tr := newTestTracker(t, run)
	tr.Recount()

	s := tr.Summary()
	if s.ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d, want 1 (working only; blocked excluded)", s.ActiveSessions)
	}
	if s.PendingReviews != 1 {
		t.Errorf("PendingReviews = %d, want 1", s.PendingReviews)
	}
	if s.CurrentWave != 2 {
		t.Errorf("CurrentWave = %d, want 2", s.CurrentWave)
	}
	if s.SuccessRate != 1.0/3.0 {
		t.Errorf("SuccessRate = %g, want 1/3", s.SuccessRate)
	}
	if s.TotalWaves != 2 {
		t.Errorf("TotalWaves = %d", s.TotalWaves)
	}
}

func TestSummary_ZeroCompleted(t *testing.T) {
	run := buildRun()
	for _, w := range run.Waves {
		for _, s := range w.Sessions {
			s.Status = types.SessionPending
		}
	}
	tr := newTestTracker(t, run)
	tr.Recount()

	if rate := tr.Summary().SuccessRate; rate != 0 {
		t.Errorf("SuccessRate = %g, want 0 with no completed sessions", rate)
	}
}

func TestSaveState_WritesAllThreeFiles(t *testing.T) {
	run := buildRun()
	dir := t.TempDir()
	runsDir := filepath.Join(dir, "runs")
	legacy := filepath.Join(dir, "state.json")
	tr := NewTracker(run, runsDir, legacy, "findings.csv", log.Nop())
	tr.Recount()

	if err := tr.SaveState(); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	var snapshot types.BatchRun
	data, err := os.ReadFile(filepath.Join(runsDir, "run-t", "state.json"))
	if err != nil {
		t.Fatalf("run snapshot missing: %v", err)
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("snapshot not parseable: %v", err)
	}
	if snapshot.RunID != "run-t" || snapshot.Completed != 3 {
		t.Errorf("snapshot = %s/%d", snapshot.RunID, snapshot.Completed)
	}

	var index []types.RunIndexEntry
	data, err = os.ReadFile(filepath.Join(runsDir, "index.json"))
	if err != nil {
		t.Fatalf("index missing: %v", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		t.Fatalf("index not parseable: %v", err)
	}
	if len(index) != 1 || index[0].RunID != "run-t" {
		t.Errorf("index = %+v", index)
	}
	if index[0].CSVFilename == nil || *index[0].CSVFilename != "findings.csv" {
		t.Errorf("CSVFilename = %v", index[0].CSVFilename)
	}

	if _, err := os.Stat(legacy); err != nil {
		t.Errorf("legacy mirror missing: %v", err)
	}

	// No lock or temp residue after save.
	if _, err := os.Stat(filepath.Join(runsDir, "index.json.lock")); !os.IsNotExist(err) {
		t.Error("index lock left behind")
	}
}

func TestSaveState_IndexUpsertNotAppend(t *testing.T) {
	run := buildRun()
	tr := newTestTracker(t, run)

	if err := tr.SaveState(); err != nil {
		t.Fatal(err)
	}
	run.Status = types.RunCompleted
	if err := tr.SaveState(); err != nil {
		t.Fatal(err)
	}

	var index []types.RunIndexEntry
	data, err := os.ReadFile(filepath.Join(tr.runsDir, "index.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		t.Fatal(err)
	}
	if len(index) != 1 {
		t.Fatalf("index entries = %d, want 1 after upsert", len(index))
	}
	if index[0].Status != types.RunCompleted {
		t.Errorf("index status = %s, want completed", index[0].Status)
	}
}

func TestAddEvent(t *testing.T) {
	run := buildRun()
	tr := newTestTracker(t, run)

	tr.AddEvent(types.EventWaveStarted, "Wave 1 started", map[string]any{"wave": 1})
	tr.AddEvent(types.EventWaveCompleted, "Wave 1 completed", nil)

	if len(run.Events) != 2 {
		t.Fatalf("events = %d", len(run.Events))
	}
	if run.Events[0].EventType != types.EventWaveStarted || run.Events[0].Timestamp.IsZero() {
		t.Errorf("first event = %+v", run.Events[0])
	}
}

func TestExtractAndSaveMemories(t *testing.T) {
	run := buildRun()
	now := time.Now().UTC()
	run.EachSession(func(_ *types.Wave, s *types.RemediationSession) {
		if s.Status.IsSettled() {
			s.CompletedAt = &now
		}
	})
	tr := newTestTracker(t, run)
	store := memory.NewStore(t.TempDir(), log.Nop())

	n, err := tr.ExtractAndSaveMemories(store)
	if err != nil {
		t.Fatalf("ExtractAndSaveMemories failed: %v", err)
	}
	if n != 3 {
		t.Errorf("saved = %d, want 3 settled sessions", n)
	}

	g := store.LoadGraph()
	if len(g.Entries) != 3 {
		t.Errorf("graph entries = %d", len(g.Entries))
	}
}
