// Package planner turns prioritized findings into an executable run plan
// and drives it to completion: wave partitioning, playbook assignment,
// preflight checks, and the wave-by-wave execution loop.
package planner

import (
	"time"

	"github.com/google/uuid"
	"github.com/justapithecus/mender/types"
)

// CreateWaves partitions findings, already in priority order, into waves
// of at most waveSize sessions each.
func CreateWaves(findings []*types.Finding, waveSize int) []*types.Wave {
	var waves []*types.Wave

	for start := 0; start < len(findings); start += waveSize {
		end := start + waveSize
		if end > len(findings) {
			end = len(findings)
		}

		wave := &types.Wave{
			WaveNumber: len(waves) + 1,
			Status:     types.WavePending,
		}
		for _, f := range findings[start:end] {
			wave.Sessions = append(wave.Sessions, &types.RemediationSession{
				Finding:    *f,
				Status:     types.SessionPending,
				WaveNumber: wave.WaveNumber,
				Attempt:    1,
			})
		}
		waves = append(waves, wave)
	}
	return waves
}

// NewRun builds a fresh BatchRun over the given findings.
func NewRun(findings []*types.Finding, waveSize int, dataSource types.DataSource) *types.BatchRun {
	return &types.BatchRun{
		RunID:         "run-" + time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8],
		StartedAt:     time.Now().UTC(),
		Status:        types.RunPending,
		DataSource:    dataSource,
		TotalFindings: len(findings),
		Waves:         CreateWaves(findings, waveSize),
	}
}
