package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/justapithecus/mender/devin"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/types"
)

// fallbackPlaybook is used for categories without a dedicated playbook.
const fallbackPlaybook = "dependency_vulnerability.devin.md"

// PlaybookFile returns the playbook filename for a category.
func PlaybookFile(category types.FindingCategory) string {
	name := string(category) + ".devin.md"
	return name
}

// playbookPath resolves the playbook file for a category inside dir,
// falling back to the generic playbook when the dedicated one is missing.
func playbookPath(dir string, category types.FindingCategory) string {
	path := filepath.Join(dir, PlaybookFile(category))
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return filepath.Join(dir, fallbackPlaybook)
}

// playbookTitle derives the remote playbook title from the file's first
// heading, or from the filename when there is none.
func playbookTitle(path string, body string) string {
	for _, line := range strings.Split(body, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(rest)
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, ".devin.md")
}

// EnsurePlaybooks uploads any local playbooks the remote does not already
// have (matched by title) and returns the category → playbook_id
// assignment for every category across findings. Categories whose title
// has no remote match fall back to the first available playbook so
// dispatch never goes out without one.
func EnsurePlaybooks(ctx context.Context, client devin.Client, dir string, findings []*types.Finding, logger *log.Logger) (map[types.FindingCategory]string, error) {
	categories := categoriesOf(findings)
	remote, err := client.ListPlaybooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list playbooks: %w", err)
	}
	byTitle := make(map[string]string, len(remote))
	for _, pb := range remote {
		byTitle[pb.Title] = pb.PlaybookID
	}

	assignment := make(map[types.FindingCategory]string, len(categories))
	for _, category := range categories {
		path := playbookPath(dir, category)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read playbook for %s: %w", category, err)
		}
		title := playbookTitle(path, string(data))

		id, ok := byTitle[title]
		if !ok {
			created, err := client.CreatePlaybook(ctx, title, string(data))
			if err != nil {
				return nil, fmt.Errorf("upload playbook %q: %w", title, err)
			}
			id = created.PlaybookID
			byTitle[title] = id
			logger.Info("playbook uploaded", map[string]any{
				"title":       title,
				"playbook_id": id,
			})
		}
		assignment[category] = id
	}

	// Defensive fallback: never leave a category unassigned.
	if len(byTitle) > 0 {
		var firstID string
		for _, pb := range remote {
			firstID = pb.PlaybookID
			break
		}
		if firstID == "" {
			for _, id := range byTitle {
				firstID = id
				break
			}
		}
		for _, category := range categories {
			if assignment[category] == "" {
				assignment[category] = firstID
			}
		}
	}

	return assignment, nil
}
