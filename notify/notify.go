// Package notify defines the outbound notification boundary.
//
// Notifiers publish run lifecycle events to downstream systems such as
// chat webhooks or a Redis channel. The CLI owns notifier lifecycle;
// users provide configuration only.
package notify

import (
	"context"
	"time"

	"github.com/justapithecus/mender/monitor"
)

// RunCompletedEvent is the payload published when a run reaches a
// terminal status (completed, paused on a gate, or interrupted).
type RunCompletedEvent struct {
	EventType     string  `json:"event_type"` // always "run_completed"
	RunID         string  `json:"run_id"`
	Status        string  `json:"status"`
	DataSource    string  `json:"data_source"`
	TotalFindings int     `json:"total_findings"`
	Completed     int     `json:"completed"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	PRsCreated    int     `json:"prs_created"`
	SuccessRate   float64 `json:"success_rate"`
	Timestamp     string  `json:"timestamp"` // ISO 8601
}

// FromSummary builds the outbound event from a run summary.
func FromSummary(s monitor.Summary) *RunCompletedEvent {
	return &RunCompletedEvent{
		EventType:     "run_completed",
		RunID:         s.RunID,
		Status:        string(s.Status),
		DataSource:    string(s.DataSource),
		TotalFindings: s.TotalFindings,
		Completed:     s.Completed,
		Successful:    s.Successful,
		Failed:        s.Failed,
		PRsCreated:    s.PRsCreated,
		SuccessRate:   s.SuccessRate,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// Notifier publishes run completion events to a downstream system.
// Implementations must be safe for single-use per run.
type Notifier interface {
	// Publish sends a run completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases notifier resources.
	Close() error
}
