package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/mender/types"
)

// DefaultMaxResults bounds how many memories enrich one prompt.
const DefaultMaxResults = 3

// Retrieved is one ranked retrieval result.
type Retrieved struct {
	Entry      GraphEntry
	Score      float64
	Body       string
	SourceNote string
}

// RetrieveOptions tunes retrieval.
type RetrieveOptions struct {
	MaxResults int
	// PreferLive boosts memories from live sessions and flags mock-derived
	// advice in the citation.
	PreferLive bool

	now func() time.Time // test seam
}

func (o RetrieveOptions) withDefaults() RetrieveOptions {
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Retrieve ranks stored memories by relevance to the finding and returns
// the top results with their narrative bodies loaded.
func (s *Store) Retrieve(f *types.Finding, opts RetrieveOptions) []Retrieved {
	opts = opts.withDefaults()
	g := s.LoadGraph()

	var scored []Retrieved
	for _, entry := range g.Entries {
		score := scoreEntry(&entry, f, opts)
		if score <= 0 {
			continue
		}
		scored = append(scored, Retrieved{Entry: entry, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > opts.MaxResults {
		scored = scored[:opts.MaxResults]
	}

	for i := range scored {
		body, err := s.LoadItemBody(scored[i].Entry.ItemID)
		if err != nil {
			s.logger.Warn("memory body missing", map[string]any{
				"item_id": scored[i].Entry.ItemID,
				"error":   err.Error(),
			})
			body = scored[i].Entry.FixApproachSummary
		}
		scored[i].Body = body
		scored[i].SourceNote = sourceNote(&scored[i].Entry, opts.PreferLive)
	}
	return scored
}

// RenderContext formats retrieval results as a prompt fragment. Empty when
// nothing scored above the relevance gate.
func (s *Store) RenderContext(f *types.Finding, opts RetrieveOptions) string {
	results := s.Retrieve(f, opts)
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n%s\n", r.SourceNote, strings.TrimSpace(r.Body))
	}
	return b.String()
}

// scoreEntry implements the relevance ranking. Category and service are
// the gate: an entry matching neither scores zero and is skipped.
func scoreEntry(entry *GraphEntry, f *types.Finding, opts RetrieveOptions) float64 {
	score := 0.0
	if entry.Category == string(f.Category) {
		score += 10
	}
	if entry.Service == f.ServiceName {
		score += 5
	}
	if score == 0 {
		return 0
	}

	if entry.Severity == string(f.Severity) {
		score += 2
	}
	switch entry.Confidence {
	case "high":
		score += 3
	case "medium":
		score += 1.5
	case "low":
		score += 0.5
	}
	if opts.PreferLive && entry.DataSource == string(types.DataSourceLive) {
		score += 2
	}
	if entry.Outcome == OutcomeSuccess {
		score += 3
	}

	// Freshness decay: items older than 30 days contribute at half weight.
	if !entry.CreatedAt.IsZero() {
		ageDays := opts.now().Sub(entry.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		decay := 1 - ageDays/30
		if decay < 0 {
			decay = 0
		}
		score *= 0.5 + 0.5*decay
	}
	return score
}

func sourceNote(entry *GraphEntry, preferLive bool) string {
	note := fmt.Sprintf("[Memory from run %s, source: %s]", entry.RunID, entry.DataSource)
	if preferLive && entry.DataSource == string(types.DataSourceMock) {
		note += " (simulated session; verify approach against the real codebase)"
	}
	return note
}
