package types

import "time"

// WaveStatus is the lifecycle status of a wave.
type WaveStatus string

// Wave status constants.
const (
	WavePending   WaveStatus = "pending"
	WaveRunning   WaveStatus = "running"
	WaveCompleted WaveStatus = "completed"
)

// Wave is a bounded-size ordered group of sessions dispatched together and
// gated as a unit. SuccessCount and FailureCount are derived: the tracker
// recomputes them from session statuses, never increments them.
type Wave struct {
	WaveNumber   int                   `json:"wave_number"`
	Sessions     []*RemediationSession `json:"sessions"`
	Status       WaveStatus            `json:"status"`
	SuccessCount int                   `json:"success_count"`
	FailureCount int                   `json:"failure_count"`
}

// TotalCount returns the number of sessions in the wave.
func (w *Wave) TotalCount() int {
	return len(w.Sessions)
}

// PRCount returns the number of sessions with a pull request.
func (w *Wave) PRCount() int {
	n := 0
	for _, s := range w.Sessions {
		if s.PRURL != "" {
			n++
		}
	}
	return n
}

// RunStatus is the lifecycle status of a batch run.
type RunStatus string

// Run status constants.
const (
	RunPending     RunStatus = "pending"
	RunRunning     RunStatus = "running"
	RunPaused      RunStatus = "paused"
	RunInterrupted RunStatus = "interrupted"
	RunCompleted   RunStatus = "completed"
)

// TimelineEvent is one append-only entry in the run's event timeline.
// The dashboard renders these in wall-clock order.
type TimelineEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
}

// Timeline event type constants.
const (
	EventRunStarted       = "run_started"
	EventRunCompleted     = "run_completed"
	EventRunInterrupted   = "run_interrupted"
	EventWaveStarted      = "wave_started"
	EventWaveCompleted    = "wave_completed"
	EventWaveGated        = "wave_gated"
	EventSessionStarted   = "session_started"
	EventSessionProgress  = "session_progress"
	EventSessionCompleted = "session_completed"
	EventSessionFailed    = "session_failed"
	EventSessionRetry     = "session_retry"
)

// BatchRun is the root entity of one orchestration run. The aggregate
// counters (Completed, Successful, Failed, PRsCreated) always equal the
// recount over every session in every wave; they are assigned by the
// tracker's recount, never incremented in place.
type BatchRun struct {
	RunID         string          `json:"run_id"`
	StartedAt     time.Time       `json:"started_at"`
	Waves         []*Wave         `json:"waves"`
	TotalFindings int             `json:"total_findings"`
	Completed     int             `json:"completed"`
	Successful    int             `json:"successful"`
	Failed        int             `json:"failed"`
	PRsCreated    int             `json:"prs_created"`
	Status        RunStatus       `json:"status"`
	DataSource    DataSource      `json:"data_source"`
	Events        []TimelineEvent `json:"events"`
}

// Sessions iterates every session in wave order, calling fn for each.
func (r *BatchRun) EachSession(fn func(*Wave, *RemediationSession)) {
	for _, w := range r.Waves {
		for _, s := range w.Sessions {
			fn(w, s)
		}
	}
}

// RunIndexEntry is one row of runs/index.json, the cross-run summary list
// the dashboard reads to discover runs.
type RunIndexEntry struct {
	RunID         string     `json:"run_id"`
	StartedAt     time.Time  `json:"started_at"`
	Status        RunStatus  `json:"status"`
	TotalFindings int        `json:"total_findings"`
	CSVFilename   *string    `json:"csv_filename"`
	DataSource    DataSource `json:"data_source"`
}
