package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/justapithecus/mender/fsx"
	"github.com/justapithecus/mender/types"
)

// loadRunIndex reads runs/index.json.
func loadRunIndex(runsDir string) ([]types.RunIndexEntry, error) {
	var index []types.RunIndexEntry
	if err := fsx.ReadJSON(filepath.Join(runsDir, "index.json"), &index); err != nil {
		return nil, fmt.Errorf("read run index: %w", err)
	}
	return index, nil
}

// latestRun returns the ID of the most recently started run.
func latestRun(runsDir string) (string, error) {
	index, err := loadRunIndex(runsDir)
	if err != nil {
		return "", err
	}
	if len(index) == 0 {
		return "", fmt.Errorf("no runs recorded in %s", runsDir)
	}

	latest := index[0]
	for _, e := range index[1:] {
		if e.StartedAt.After(latest.StartedAt) {
			latest = e
		}
	}
	return latest.RunID, nil
}

// loadRun reads the persisted state of a run. An empty runID resolves to
// the most recent run in the index.
func loadRun(runsDir, runID string) (*types.BatchRun, error) {
	if runID == "" {
		latest, err := latestRun(runsDir)
		if err != nil {
			return nil, err
		}
		runID = latest
	}

	var run types.BatchRun
	if err := fsx.ReadJSON(filepath.Join(runsDir, runID, "state.json"), &run); err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	return &run, nil
}

// runFindings collects the findings across a run's waves, in dispatch
// order.
func runFindings(run *types.BatchRun) []*types.Finding {
	var findings []*types.Finding
	run.EachSession(func(_ *types.Wave, s *types.RemediationSession) {
		findings = append(findings, &s.Finding)
	})
	return findings
}
