// Package memory persists narrative records of past remediation sessions
// and retrieves the most relevant ones to enrich future prompts.
package memory

import (
	"fmt"
	"time"
)

// Outcome of a remembered session.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Relationship types between memory items.
const (
	RelSameCategory = "same_category"
	RelSameService  = "same_service"
	RelSimilarFix   = "similar_fix"
)

// Item is the full narrative record of one terminal session.
type Item struct {
	ItemID        string    `json:"item_id"`
	RunID         string    `json:"run_id"`
	FindingID     string    `json:"finding_id"`
	Category      string    `json:"category"`
	Service       string    `json:"service"`
	Severity      string    `json:"severity"`
	Outcome       string    `json:"outcome"`
	Confidence    string    `json:"confidence,omitempty"`
	FixApproach   string    `json:"fix_approach,omitempty"`
	FilesModified []string  `json:"files_modified,omitempty"`
	TestsPassed   *bool     `json:"tests_passed,omitempty"`
	TestsAdded    int       `json:"tests_added,omitempty"`
	PRURL         string    `json:"pr_url,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	DataSource    string    `json:"data_source"`
	CreatedAt     time.Time `json:"created_at"`
}

// ItemID builds the globally unique item identifier. Repeated runs of the
// same finding accumulate distinct items rather than overwriting.
func ItemID(runID, findingID string) string {
	return fmt.Sprintf("%s-%s", runID, findingID)
}

// Relationship is a typed edge between two items in the graph.
type Relationship struct {
	ItemID string `json:"item_id"`
	Type   string `json:"type"`
}

// GraphEntry is the metadata-only index record for one item. Retrieval
// ranks entries without loading every markdown body.
type GraphEntry struct {
	ItemID             string         `json:"item_id"`
	RunID              string         `json:"run_id"`
	FindingID          string         `json:"finding_id"`
	Category           string         `json:"category"`
	Service            string         `json:"service"`
	Severity           string         `json:"severity"`
	Outcome            string         `json:"outcome"`
	Confidence         string         `json:"confidence,omitempty"`
	FixApproachSummary string         `json:"fix_approach_summary,omitempty"`
	PRURL              string         `json:"pr_url,omitempty"`
	DataSource         string         `json:"data_source"`
	CreatedAt          time.Time      `json:"created_at"`
	Relationships      []Relationship `json:"relationships,omitempty"`
}

// Graph is the persisted index of all memory items.
type Graph struct {
	Entries []GraphEntry `json:"entries"`
}

// Find returns a pointer to the entry with the given id, or nil.
func (g *Graph) Find(itemID string) *GraphEntry {
	for i := range g.Entries {
		if g.Entries[i].ItemID == itemID {
			return &g.Entries[i]
		}
	}
	return nil
}
