package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/mender/cli/config"
	"github.com/justapithecus/mender/devin"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/memory"
	"github.com/justapithecus/mender/monitor"
	"github.com/justapithecus/mender/session"
	"github.com/justapithecus/mender/types"
)

// WaveManager executes a BatchRun wave by wave: dispatch, poll to
// quiescence, gate, retry. It owns no session state of its own; the run
// object behind the tracker is the single source of truth, persisted after
// every transition so a killed process can resume.
type WaveManager struct {
	cfg        *config.Config
	liveClient devin.Client // nil for pure mock runs
	mockClient devin.Client // nil for pure live runs
	manager    *session.Manager
	poller     *monitor.Poller
	tracker    *monitor.Tracker
	store      *memory.Store // nil disables memory context in prompts
	overrides  map[string]string
	playbooks  map[types.FindingCategory]string
	logger     *log.Logger

	drainWait   time.Duration
	dispatchGap time.Duration
	sleep       func(ctx context.Context, d time.Duration) error // test seam
}

// WaveManagerOptions carries the collaborators a WaveManager needs.
type WaveManagerOptions struct {
	Config     *config.Config
	LiveClient devin.Client
	MockClient devin.Client
	Manager    *session.Manager
	Poller     *monitor.Poller
	Tracker    *monitor.Tracker
	Store      *memory.Store
	Overrides  map[string]string
	Playbooks  map[types.FindingCategory]string
	Logger     *log.Logger
}

// NewWaveManager builds a WaveManager from its collaborators.
func NewWaveManager(opts WaveManagerOptions) *WaveManager {
	return &WaveManager{
		cfg:         opts.Config,
		liveClient:  opts.LiveClient,
		mockClient:  opts.MockClient,
		manager:     opts.Manager,
		poller:      opts.Poller,
		tracker:     opts.Tracker,
		store:       opts.Store,
		overrides:   opts.Overrides,
		playbooks:   opts.Playbooks,
		logger:      opts.Logger,
		drainWait:   3 * time.Second,
		dispatchGap: time.Second,
		sleep:       ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// clientFor resolves which client serves a data source.
func (w *WaveManager) clientFor(ds types.DataSource) devin.Client {
	if ds == types.DataSourceMock {
		return w.mockClient
	}
	return w.liveClient
}

// clients returns the distinct configured clients.
func (w *WaveManager) clients() []devin.Client {
	var out []devin.Client
	if w.liveClient != nil {
		out = append(out, w.liveClient)
	}
	if w.mockClient != nil {
		out = append(out, w.mockClient)
	}
	return out
}

// DrainStale terminates leftover sessions from prior runs so they do not
// consume remote capacity, then resets the circuit breakers so drain
// failures cannot poison the fresh run.
func (w *WaveManager) DrainStale(ctx context.Context) {
	for _, client := range w.clients() {
		sessions, err := client.ListSessions(ctx, nil, 20, 0)
		if err != nil {
			w.logger.Warn("could not list stale sessions", map[string]any{
				"error": err.Error(),
			})
		} else {
			for _, s := range sessions {
				client.TerminateSessionBestEffort(ctx, s.SessionID)
			}
			if len(sessions) > 0 {
				w.logger.Info("drained stale sessions", map[string]any{
					"count": len(sessions),
				})
				if err := w.sleep(ctx, w.drainWait); err != nil {
					return
				}
			}
		}
		client.ResetCircuitBreaker()
	}
}

// ExecuteRun drives the tracked run to a terminal run status: completed,
// paused (gate failure), or interrupted (context cancellation). Dispatch
// and poll errors on individual sessions never abort the run; only
// persistence failures do.
func (w *WaveManager) ExecuteRun(ctx context.Context) error {
	run := w.tracker.Run()

	w.DrainStale(ctx)

	switch run.Status {
	case types.RunPending:
		run.Status = types.RunRunning
		w.tracker.AddEvent(types.EventRunStarted,
			fmt.Sprintf("Run started: %d findings across %d waves", run.TotalFindings, len(run.Waves)),
			map[string]any{"total_findings": run.TotalFindings, "total_waves": len(run.Waves)})
	case types.RunPaused, types.RunInterrupted:
		run.Status = types.RunRunning
		w.tracker.AddEvent(types.EventRunStarted, "Run resumed", nil)
	}
	if err := w.tracker.SaveState(); err != nil {
		return err
	}

	for _, wave := range run.Waves {
		if wave.Status == types.WaveCompleted {
			continue
		}
		if ctx.Err() != nil {
			return w.interrupt()
		}

		wave.Status = types.WaveRunning
		w.tracker.AddEvent(types.EventWaveStarted,
			fmt.Sprintf("Wave %d started with %d sessions", wave.WaveNumber, wave.TotalCount()),
			map[string]any{"wave": wave.WaveNumber, "sessions": wave.TotalCount()})
		if err := w.tracker.SaveState(); err != nil {
			return err
		}

		if err := w.dispatch(ctx, run, wave.Sessions); err != nil {
			if ctx.Err() != nil {
				return w.interrupt()
			}
			return err
		}
		if err := w.pollToQuiescence(ctx, wave.Sessions); err != nil {
			return w.interrupt()
		}

		w.cleanupWave(ctx, wave)
		wave.Status = types.WaveCompleted
		w.tracker.Recount()
		w.tracker.AddEvent(types.EventWaveCompleted,
			fmt.Sprintf("Wave %d completed: %d succeeded, %d failed", wave.WaveNumber, wave.SuccessCount, wave.FailureCount),
			map[string]any{"wave": wave.WaveNumber, "success_count": wave.SuccessCount, "failure_count": wave.FailureCount})
		if err := w.tracker.SaveState(); err != nil {
			return err
		}

		if !w.gatePassed(wave) {
			run.Status = types.RunPaused
			w.tracker.AddEvent(types.EventWaveGated,
				fmt.Sprintf("Wave %d gated: success rate %.0f%% below threshold %.0f%%",
					wave.WaveNumber, waveRate(wave)*100, w.cfg.MinSuccessRate*100),
				map[string]any{"wave": wave.WaveNumber, "success_rate": waveRate(wave)})
			return w.tracker.SaveState()
		}

		if err := w.retryFailed(ctx, run, wave); err != nil {
			if ctx.Err() != nil {
				return w.interrupt()
			}
			return err
		}
	}

	if run.Status == types.RunRunning {
		run.Status = types.RunCompleted
		w.tracker.Recount()
		w.tracker.AddEvent(types.EventRunCompleted,
			fmt.Sprintf("Run completed: %d/%d succeeded, %d PRs created", run.Successful, run.Completed, run.PRsCreated),
			map[string]any{"successful": run.Successful, "completed": run.Completed, "prs_created": run.PRsCreated})
	}
	return w.tracker.SaveState()
}

func (w *WaveManager) interrupt() error {
	run := w.tracker.Run()
	run.Status = types.RunInterrupted
	w.tracker.AddEvent(types.EventRunInterrupted, "Run interrupted, state saved for resume", nil)
	return w.tracker.SaveState()
}

// dispatch creates a remote session for every pending session in the
// slice, pacing dispatches one second apart. A failed create marks the
// session failed and the run continues.
func (w *WaveManager) dispatch(ctx context.Context, run *types.BatchRun, sessions []*types.RemediationSession) error {
	hybrid := run.DataSource == types.DataSourceHybrid
	mock := run.DataSource == types.DataSourceMock

	first := true
	for _, sess := range sessions {
		if sess.Status != types.SessionPending {
			continue
		}
		if !first {
			if err := w.sleep(ctx, w.dispatchGap); err != nil {
				return err
			}
		}
		first = false

		ds := session.DetermineDataSource(&sess.Finding, hybrid, mock, w.cfg.ConnectedRepos)
		client := w.clientFor(ds)
		if client == nil {
			sess.Status = types.SessionFailed
			sess.ErrorMessage = fmt.Sprintf("no client configured for data source %s", ds)
			sess.Touch()
			w.tracker.UpdateSession(sess)
			continue
		}

		memoryContext := ""
		if w.store != nil {
			memoryContext = w.store.RenderContext(&sess.Finding, memory.RetrieveOptions{
				PreferLive: ds == types.DataSourceLive,
			})
		}
		prompt := session.BuildPrompt(session.PromptInput{
			Finding:         &sess.Finding,
			RunID:           run.RunID,
			MemoryContext:   memoryContext,
			ServiceOverride: w.overrides[sess.Finding.ServiceName],
		})

		if err := w.manager.Create(ctx, client, sess, run.RunID, prompt, w.playbooks[sess.Finding.Category], ds); err != nil {
			return err
		}
		w.tracker.UpdateSession(sess)

		if sess.Status == types.SessionDispatched {
			w.tracker.AddEvent(types.EventSessionStarted,
				fmt.Sprintf("Session started for %s (%s)", sess.Finding.FindingID, sess.Finding.ServiceName),
				map[string]any{
					"session_id": sess.SessionID,
					"finding_id": sess.Finding.FindingID,
					"wave":       sess.WaveNumber,
					"attempt":    sess.Attempt,
				})
		} else {
			w.tracker.AddEvent(types.EventSessionFailed,
				fmt.Sprintf("Session dispatch failed for %s", sess.Finding.FindingID),
				map[string]any{"finding_id": sess.Finding.FindingID, "error": sess.ErrorMessage})
		}
	}
	return w.tracker.SaveState()
}

// pollToQuiescence polls the given sessions until none remain active. In
// hybrid runs each session is polled through the client that owns it.
func (w *WaveManager) pollToQuiescence(ctx context.Context, sessions []*types.RemediationSession) error {
	for {
		var mockActive, liveActive []*types.RemediationSession
		for _, sess := range sessions {
			if !sess.Status.IsActive() {
				continue
			}
			if sess.DataSource == types.DataSourceMock {
				mockActive = append(mockActive, sess)
			} else {
				liveActive = append(liveActive, sess)
			}
		}
		if len(mockActive)+len(liveActive) == 0 {
			return nil
		}

		if len(mockActive) > 0 && w.mockClient != nil {
			w.poller.PollActiveSessions(ctx, w.mockClient, mockActive, w.tracker)
		}
		if len(liveActive) > 0 && w.liveClient != nil {
			w.poller.PollActiveSessions(ctx, w.liveClient, liveActive, w.tracker)
		}

		if err := w.sleep(ctx, w.cfg.PollInterval()); err != nil {
			return err
		}
	}
}

// cleanupWave terminates the remote side of every settled session so
// nothing lingers on the provider after the wave is gated.
func (w *WaveManager) cleanupWave(ctx context.Context, wave *types.Wave) {
	for _, sess := range wave.Sessions {
		if sess.SessionID == "" || !sess.Status.IsTerminal() {
			continue
		}
		client := w.clientFor(sess.DataSource)
		if client == nil {
			continue
		}
		client.TerminateSessionBestEffort(ctx, sess.SessionID)
	}
}

func waveRate(wave *types.Wave) float64 {
	if wave.TotalCount() == 0 {
		return 1
	}
	return float64(wave.SuccessCount) / float64(wave.TotalCount())
}

// gatePassed reports whether the wave clears the minimum success rate.
// Empty waves and waves with nothing completed pass: the gate exists to
// stop a pattern of failures, not to block on absence of signal.
func (w *WaveManager) gatePassed(wave *types.Wave) bool {
	if wave.TotalCount() == 0 || wave.SuccessCount+wave.FailureCount == 0 {
		return true
	}
	return waveRate(wave) >= w.cfg.MinSuccessRate
}

// retryFailed gives failed and timed-out sessions one more attempt,
// dispatching and polling only the retry subset.
func (w *WaveManager) retryFailed(ctx context.Context, run *types.BatchRun, wave *types.Wave) error {
	var retries []*types.RemediationSession
	for _, sess := range wave.Sessions {
		if !sess.Status.IsRetriable() || sess.Attempt >= 2 {
			continue
		}
		w.tracker.AddEvent(types.EventSessionRetry,
			fmt.Sprintf("Retrying %s after %s", sess.Finding.FindingID, sess.Status),
			map[string]any{"finding_id": sess.Finding.FindingID, "previous_status": string(sess.Status)})
		sess.ResetForRetry()
		retries = append(retries, sess)
	}
	if len(retries) == 0 {
		return nil
	}

	if err := w.dispatch(ctx, run, retries); err != nil {
		return err
	}
	if err := w.pollToQuiescence(ctx, retries); err != nil {
		return err
	}
	w.tracker.Recount()
	return w.tracker.SaveState()
}
