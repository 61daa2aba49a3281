package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/justapithecus/mender/cli/config"
	"github.com/justapithecus/mender/devin"
	"github.com/justapithecus/mender/types"
)

// Preflight validates everything a run needs before any session is
// dispatched. Mock runs only need findings and playbook files; live runs
// additionally need credentials and a reachable API.
func Preflight(ctx context.Context, cfg *config.Config, client devin.Client, findings []*types.Finding, dataSource types.DataSource) error {
	var issues []string

	if len(findings) == 0 {
		issues = append(issues, "no findings to remediate")
	}
	if missing := missingPlaybooks(cfg.PlaybooksDir, findings); len(missing) > 0 {
		issues = append(issues, fmt.Sprintf("playbooks missing under %s: %s", cfg.PlaybooksDir, strings.Join(missing, ", ")))
	}

	if dataSource != types.DataSourceMock {
		if cfg.DevinAPIKey == "" {
			issues = append(issues, "DEVIN_API_KEY is not set")
		} else if client != nil {
			if _, err := client.ListSessions(ctx, nil, 1, 0); err != nil {
				issues = append(issues, fmt.Sprintf("API unreachable: %v", err))
			}
		}
	}
	if dataSource == types.DataSourceHybrid && len(cfg.ConnectedRepos) == 0 {
		issues = append(issues, "hybrid mode requires connected_repos")
	}

	if len(issues) > 0 {
		return fmt.Errorf("preflight failed: %s", strings.Join(issues, "; "))
	}
	return nil
}

// missingPlaybooks returns the filenames that neither exist for their
// category nor are covered by the fallback playbook.
func missingPlaybooks(dir string, findings []*types.Finding) []string {
	fallbackOK := false
	if _, err := os.Stat(filepath.Join(dir, fallbackPlaybook)); err == nil {
		fallbackOK = true
	}

	seen := make(map[string]bool)
	var missing []string
	for _, f := range findings {
		name := PlaybookFile(f.Category)
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			continue
		}
		if !fallbackOK {
			missing = append(missing, name)
		}
	}
	return missing
}

// categoriesOf returns the distinct categories across findings, in first
// occurrence order.
func categoriesOf(findings []*types.Finding) []types.FindingCategory {
	seen := make(map[types.FindingCategory]bool)
	var out []types.FindingCategory
	for _, f := range findings {
		if !seen[f.Category] {
			seen[f.Category] = true
			out = append(out, f.Category)
		}
	}
	return out
}
