package memory

import (
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), log.Nop())
}

func testItem(id, runID, category, service string) *Item {
	return &Item{
		ItemID:      ItemID(runID, id),
		RunID:       runID,
		FindingID:   id,
		Category:    category,
		Service:     service,
		Severity:    "high",
		Outcome:     OutcomeSuccess,
		Confidence:  "high",
		FixApproach: "Parameterized the query and added a regression test",
		DataSource:  "live",
		CreatedAt:   time.Now().UTC(),
	}
}

func TestSummarize(t *testing.T) {
	if got := summarize("short", 100); got != "short" {
		t.Errorf("summarize = %q, want unchanged", got)
	}

	long := strings.Repeat("a", 150)
	if got := summarize(long, 100); len(got) != 100 {
		t.Errorf("len = %d, want 100", len(got))
	}

	// Truncation counts characters, so multi-byte runes never get split.
	accented := strings.Repeat("é", 150)
	got := summarize(accented, 100)
	if runes := []rune(got); len(runes) != 100 {
		t.Errorf("runes = %d, want 100", len(runes))
	}
	if !strings.HasSuffix(got, "é") {
		t.Errorf("summary ends mid-rune: %q", got[len(got)-4:])
	}
}

func TestUpsert_AddsEntryAndBody(t *testing.T) {
	s := newTestStore(t)
	g := s.LoadGraph()

	item := testItem("SEC-001", "run-1", "sql_injection", "payment-service")
	item.FilesModified = []string{"src/OrderRepo.java"}
	item.PRURL = "https://github.com/x/y/pull/1"

	if err := s.Upsert(item, g); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.SaveGraph(g); err != nil {
		t.Fatalf("SaveGraph failed: %v", err)
	}

	reloaded := s.LoadGraph()
	if len(reloaded.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(reloaded.Entries))
	}
	entry := reloaded.Entries[0]
	if entry.ItemID != "run-1-SEC-001" || entry.Category != "sql_injection" {
		t.Errorf("entry = %+v", entry)
	}

	body, err := s.LoadItemBody(item.ItemID)
	if err != nil {
		t.Fatalf("LoadItemBody failed: %v", err)
	}
	for _, want := range []string{"sql_injection", "payment-service", "Parameterized the query", "success"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestUpsert_RelationshipsBothDirections(t *testing.T) {
	s := newTestStore(t)
	g := s.LoadGraph()

	a := testItem("SEC-001", "run-1", "sql_injection", "payment-service")
	b := testItem("SEC-001", "run-2", "sql_injection", "payment-service")

	if err := s.Upsert(a, g); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(b, g); err != nil {
		t.Fatal(err)
	}

	if len(g.Entries) != 2 {
		t.Fatalf("two runs of the same finding must keep two entries, got %d", len(g.Entries))
	}

	hasRel := func(entry *GraphEntry, target, relType string) bool {
		for _, r := range entry.Relationships {
			if r.ItemID == target && r.Type == relType {
				return true
			}
		}
		return false
	}

	first := g.Find("run-1-SEC-001")
	second := g.Find("run-2-SEC-001")
	for _, relType := range []string{RelSameCategory, RelSameService} {
		if !hasRel(second, first.ItemID, relType) {
			t.Errorf("new entry missing %s edge to %s", relType, first.ItemID)
		}
		if !hasRel(first, second.ItemID, relType) {
			t.Errorf("existing entry missing reciprocal %s edge", relType)
		}
	}
}

func TestUpsert_ReplacesExistingEntry(t *testing.T) {
	s := newTestStore(t)
	g := s.LoadGraph()

	item := testItem("SEC-001", "run-1", "xss", "user-service")
	if err := s.Upsert(item, g); err != nil {
		t.Fatal(err)
	}

	item.Outcome = OutcomeFailed
	if err := s.Upsert(item, g); err != nil {
		t.Fatal(err)
	}

	if len(g.Entries) != 1 {
		t.Fatalf("entries = %d, want 1 after re-upsert", len(g.Entries))
	}
	if g.Entries[0].Outcome != OutcomeFailed {
		t.Errorf("Outcome = %s, want replaced value", g.Entries[0].Outcome)
	}
}

func TestRetrieve_RankingAndGate(t *testing.T) {
	s := newTestStore(t)
	g := s.LoadGraph()
	now := time.Now().UTC()

	// A: same category and service, success, high confidence.
	a := testItem("SEC-A", "run-1", "sql_injection", "payment-service")
	a.CreatedAt = now
	// B: same category only, failed outcome.
	b := testItem("SEC-B", "run-1", "sql_injection", "catalog-service")
	b.Outcome = OutcomeFailed
	b.CreatedAt = now
	// C: matches neither category nor service; relevance gate excludes it.
	c := testItem("SEC-C", "run-1", "xss", "user-service")
	c.CreatedAt = now

	for _, item := range []*Item{a, b, c} {
		if err := s.Upsert(item, g); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveGraph(g); err != nil {
		t.Fatal(err)
	}

	f := &types.Finding{
		Category:    types.CategorySQLInjection,
		Severity:    types.SeverityHigh,
		ServiceName: "payment-service",
	}
	got := s.Retrieve(f, RetrieveOptions{PreferLive: true})

	if len(got) != 2 {
		t.Fatalf("results = %d, want 2 (gate excludes C)", len(got))
	}
	if got[0].Entry.FindingID != "SEC-A" || got[1].Entry.FindingID != "SEC-B" {
		t.Errorf("order = %s, %s; want SEC-A then SEC-B", got[0].Entry.FindingID, got[1].Entry.FindingID)
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores not descending: %g vs %g", got[0].Score, got[1].Score)
	}
	if !strings.Contains(got[0].SourceNote, "run-1") || !strings.Contains(got[0].SourceNote, "live") {
		t.Errorf("SourceNote = %q", got[0].SourceNote)
	}
}

func TestRetrieve_FreshnessDecay(t *testing.T) {
	s := newTestStore(t)
	g := s.LoadGraph()
	now := time.Now().UTC()

	fresh := testItem("SEC-FRESH", "run-1", "sql_injection", "payment-service")
	fresh.CreatedAt = now
	old := testItem("SEC-OLD", "run-2", "sql_injection", "payment-service")
	old.CreatedAt = now.Add(-60 * 24 * time.Hour)

	for _, item := range []*Item{old, fresh} {
		if err := s.Upsert(item, g); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveGraph(g); err != nil {
		t.Fatal(err)
	}

	f := &types.Finding{Category: types.CategorySQLInjection, ServiceName: "payment-service", Severity: types.SeverityHigh}
	got := s.Retrieve(f, RetrieveOptions{})
	if len(got) != 2 {
		t.Fatalf("results = %d", len(got))
	}
	if got[0].Entry.FindingID != "SEC-FRESH" {
		t.Errorf("fresh item should outrank the stale twin, got %s first", got[0].Entry.FindingID)
	}
	// Past the 30-day window, decay bottoms out at half weight.
	if got[1].Score*2 < got[0].Score-0.01 {
		t.Errorf("stale score %g below the half-weight floor of %g", got[1].Score, got[0].Score)
	}
}

func TestRetrieve_MockAdvisoryNote(t *testing.T) {
	s := newTestStore(t)
	g := s.LoadGraph()

	item := testItem("SEC-M", "run-1", "xss", "user-service")
	item.DataSource = "mock"
	if err := s.Upsert(item, g); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveGraph(g); err != nil {
		t.Fatal(err)
	}

	f := &types.Finding{Category: types.CategoryXSS, ServiceName: "user-service"}
	got := s.Retrieve(f, RetrieveOptions{PreferLive: true})
	if len(got) != 1 {
		t.Fatalf("results = %d", len(got))
	}
	if !strings.Contains(got[0].SourceNote, "simulated session") {
		t.Errorf("SourceNote = %q, want mock advisory", got[0].SourceNote)
	}
}

func TestExtract(t *testing.T) {
	now := time.Now().UTC()
	passed := true

	run := &types.BatchRun{
		RunID: "run-9",
		Waves: []*types.Wave{{
			WaveNumber: 1,
			Sessions: []*types.RemediationSession{
				{
					Finding:     types.Finding{FindingID: "SEC-1", Category: types.CategorySQLInjection, ServiceName: "payment-service", Severity: types.SeverityCritical},
					Status:      types.SessionSuccess,
					PRURL:       "https://github.com/x/y/pull/1",
					CompletedAt: &now,
					DataSource:  types.DataSourceLive,
					StructuredOutput: &types.StructuredOutput{
						FixApproach: "Parameterized the query",
						TestsPassed: &passed,
						Confidence:  "high",
					},
				},
				{
					Finding:      types.Finding{FindingID: "SEC-2", Category: types.CategoryXSS, ServiceName: "user-service", Severity: types.SeverityHigh},
					Status:       types.SessionBlocked,
					ErrorMessage: "Tests failed",
					DataSource:   types.DataSourceMock,
				},
				{
					Finding: types.Finding{FindingID: "SEC-3", Category: types.CategoryXSS, ServiceName: "user-service", Severity: types.SeverityHigh},
					Status:  types.SessionWorking,
				},
			},
		}},
	}

	items := Extract(run)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (working session excluded)", len(items))
	}

	if items[0].ItemID != "run-9-SEC-1" || items[0].Outcome != OutcomeSuccess {
		t.Errorf("first item = %+v", items[0])
	}
	if items[0].FixApproach != "Parameterized the query" || items[0].Confidence != "high" {
		t.Errorf("structured output not carried: %+v", items[0])
	}
	if items[1].Outcome != OutcomeFailed {
		t.Errorf("blocked session outcome = %s, want failed", items[1].Outcome)
	}
}
