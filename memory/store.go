package memory

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/justapithecus/mender/fsx"
	"github.com/justapithecus/mender/log"
)

// Store owns the memory directory: graph.json plus items/<item_id>.md.
// graph.json is cross-process shared with the dashboard, so writes go
// through the file lock; markdown bodies are private to the orchestrator.
type Store struct {
	dir    string
	logger *log.Logger
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, logger *log.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

func (s *Store) graphPath() string { return filepath.Join(s.dir, "graph.json") }

func (s *Store) itemPath(itemID string) string {
	return filepath.Join(s.dir, "items", itemID+".md")
}

// LoadGraph reads the graph index, returning an empty graph for a missing
// or corrupt file. Corruption is logged; the next save overwrites it.
func (s *Store) LoadGraph() *Graph {
	var g Graph
	if err := fsx.ReadJSON(s.graphPath(), &g); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("memory graph unreadable, starting empty", map[string]any{
				"path":  s.graphPath(),
				"error": err.Error(),
			})
		}
		return &Graph{}
	}
	return &g
}

// SaveGraph persists the graph under the cross-process lock.
func (s *Store) SaveGraph(g *Graph) error {
	if err := fsx.EnsureDir(s.dir); err != nil {
		return err
	}
	return fsx.WithLock(s.graphPath(), fsx.LockOptions{Writer: "memory-store"}, func() error {
		return fsx.AtomicWriteJSON(s.graphPath(), g)
	})
}

// Upsert writes the item's markdown body and inserts or replaces its graph
// entry, wiring same_category and same_service edges in both directions.
// The caller persists the graph with SaveGraph once the batch is done.
func (s *Store) Upsert(item *Item, g *Graph) error {
	if err := fsx.EnsureDir(filepath.Join(s.dir, "items")); err != nil {
		return err
	}
	if err := fsx.AtomicWrite(s.itemPath(item.ItemID), []byte(renderItem(item))); err != nil {
		return fmt.Errorf("write memory item: %w", err)
	}

	entry := GraphEntry{
		ItemID:             item.ItemID,
		RunID:              item.RunID,
		FindingID:          item.FindingID,
		Category:           item.Category,
		Service:            item.Service,
		Severity:           item.Severity,
		Outcome:            item.Outcome,
		Confidence:         item.Confidence,
		FixApproachSummary: summarize(item.FixApproach, 100),
		PRURL:              item.PRURL,
		DataSource:         item.DataSource,
		CreatedAt:          item.CreatedAt,
	}

	for i := range g.Entries {
		other := &g.Entries[i]
		if other.ItemID == item.ItemID {
			continue
		}
		if other.Category == item.Category {
			entry.Relationships = append(entry.Relationships, Relationship{ItemID: other.ItemID, Type: RelSameCategory})
			other.addRelationship(Relationship{ItemID: item.ItemID, Type: RelSameCategory})
		}
		if other.Service == item.Service {
			entry.Relationships = append(entry.Relationships, Relationship{ItemID: other.ItemID, Type: RelSameService})
			other.addRelationship(Relationship{ItemID: item.ItemID, Type: RelSameService})
		}
	}

	if existing := g.Find(item.ItemID); existing != nil {
		*existing = entry
	} else {
		g.Entries = append(g.Entries, entry)
	}
	return nil
}

// LoadItemBody reads the markdown body for an item.
func (s *Store) LoadItemBody(itemID string) (string, error) {
	data, err := os.ReadFile(s.itemPath(itemID))
	if err != nil {
		return "", fmt.Errorf("load memory item %s: %w", itemID, err)
	}
	return string(data), nil
}

func (e *GraphEntry) addRelationship(rel Relationship) {
	for _, existing := range e.Relationships {
		if existing == rel {
			return
		}
	}
	e.Relationships = append(e.Relationships, rel)
}

// summarize truncates to limit characters, not bytes, so multi-byte
// runes in fix approaches survive intact.
func summarize(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// renderItem produces the narrative markdown body for an item.
func renderItem(item *Item) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Remediation memory: %s\n\n", item.FindingID)
	fmt.Fprintf(&b, "- Run: %s\n", item.RunID)
	fmt.Fprintf(&b, "- Category: %s\n", item.Category)
	fmt.Fprintf(&b, "- Service: %s\n", item.Service)
	fmt.Fprintf(&b, "- Severity: %s\n", item.Severity)
	fmt.Fprintf(&b, "- Outcome: %s\n", item.Outcome)
	if item.Confidence != "" {
		fmt.Fprintf(&b, "- Confidence: %s\n", item.Confidence)
	}
	fmt.Fprintf(&b, "- Data source: %s\n", item.DataSource)
	fmt.Fprintf(&b, "- Created: %s\n", item.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))

	if item.FixApproach != "" {
		fmt.Fprintf(&b, "\n## Fix approach\n\n%s\n", item.FixApproach)
	}
	if len(item.FilesModified) > 0 {
		b.WriteString("\n## Files modified\n\n")
		for _, f := range item.FilesModified {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if item.TestsPassed != nil || item.TestsAdded > 0 {
		b.WriteString("\n## Tests\n\n")
		if item.TestsPassed != nil {
			fmt.Fprintf(&b, "- Passed: %t\n", *item.TestsPassed)
		}
		if item.TestsAdded > 0 {
			fmt.Fprintf(&b, "- Added: %d\n", item.TestsAdded)
		}
	}
	if item.PRURL != "" {
		fmt.Fprintf(&b, "\n## Pull request\n\n%s\n", item.PRURL)
	}
	if item.ErrorMessage != "" {
		fmt.Fprintf(&b, "\n## Error\n\n%s\n", item.ErrorMessage)
	}

	return b.String()
}
