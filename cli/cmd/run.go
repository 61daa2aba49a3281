package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mender/cli/config"
	"github.com/justapithecus/mender/cli/render"
	"github.com/justapithecus/mender/devin"
	"github.com/justapithecus/mender/ledger"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/memory"
	"github.com/justapithecus/mender/monitor"
	"github.com/justapithecus/mender/planner"
	"github.com/justapithecus/mender/session"
	"github.com/justapithecus/mender/types"
)

// RunCommand executes a remediation run end to end.
//
// Exit codes:
//   - 0: run completed
//   - 1: run error
//   - 2: usage or configuration error
//   - 3: run paused by a wave gate
//   - 130: run interrupted
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute a remediation run over a findings CSV",
		Flags: []cli.Flag{
			FormatFlag,
			ConfigFlag,
			&cli.StringFlag{
				Name:  "csv",
				Usage: "path to the security findings CSV export",
			},
			&cli.BoolFlag{
				Name:  "live",
				Usage: "dispatch real Devin sessions instead of the mock API",
			},
			&cli.BoolFlag{
				Name:  "hybrid",
				Usage: "live sessions for connected repos, mock for everything else",
			},
			WaveSizeFlag,
			&cli.IntFlag{
				Name:  "wave",
				Usage: "run only this wave number",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "preflight and show the wave plan, dispatch nothing",
			},
			&cli.StringFlag{
				Name:  "resume",
				Usage: "resume a paused or interrupted run by ID",
			},
		},
		Action: runAction,
	}
}

// selectDataSource resolves the run's data source from flags and config.
// Flags win over config; the default is the mock API.
func selectDataSource(c *cli.Context, cfg *config.Config) types.DataSource {
	switch {
	case c.Bool("hybrid"):
		return types.DataSourceHybrid
	case c.Bool("live"):
		return types.DataSourceLive
	case cfg.MockMode:
		return types.DataSourceMock
	case cfg.HybridMode:
		return types.DataSourceHybrid
	}
	return types.DataSourceMock
}

// ledgerPath locates the run's idempotency ledger. The filename is part
// of the persisted state layout other tools read.
func ledgerPath(runsDir, runID string) string {
	return filepath.Join(runsDir, runID, "idempotency.json")
}

// filterWave narrows a freshly planned run to a single wave, keeping the
// wave's original number.
func filterWave(run *types.BatchRun, waveNumber int) error {
	for _, w := range run.Waves {
		if w.WaveNumber == waveNumber {
			run.Waves = []*types.Wave{w}
			run.TotalFindings = w.TotalCount()
			return nil
		}
	}
	return fmt.Errorf("wave %d not found", waveNumber)
}

// runExitCode maps a finished run's status to the process exit code.
func runExitCode(status types.RunStatus) int {
	switch status {
	case types.RunPaused:
		return 3
	case types.RunInterrupted:
		return 130
	case types.RunCompleted:
		return 0
	}
	return 1
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if ws := c.Int("wave-size"); ws > 0 {
		cfg.WaveSize = ws
	}

	ds := selectDataSource(c, cfg)

	var (
		run      *types.BatchRun
		findings []*types.Finding
		csvName  string
	)
	switch {
	case c.String("resume") != "":
		run, err = loadRun(cfg.RunsDir, c.String("resume"))
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		// A resumed run keeps the data source it started with.
		ds = run.DataSource
		findings = runFindings(run)
	case c.String("csv") != "":
		csvName = filepath.Base(c.String("csv"))
		findings, err = loadFindings(c.String("csv"), log.NewLogger("", string(ds)))
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		run = planner.NewRun(findings, cfg.WaveSize, ds)
		if wn := c.Int("wave"); wn > 0 {
			if err := filterWave(run, wn); err != nil {
				return cli.Exit(err.Error(), 2)
			}
			findings = runFindings(run)
		}
	default:
		return cli.Exit("either --csv or --resume is required", 2)
	}

	logger := log.NewLogger(run.RunID, string(ds))

	mockClient := devin.NewMockClient(time.Now().UnixNano())
	var liveClient devin.Client
	if ds != types.DataSourceMock {
		httpClient, err := devin.NewHTTPClient(devin.HTTPOptions{
			BaseURL:          cfg.DevinAPIBaseURL,
			APIKey:           cfg.DevinAPIKey,
			MaxRetries:       cfg.MaxRetries,
			JitterMax:        cfg.RetryJitterMax(),
			BreakerThreshold: cfg.CircuitBreakerThreshold,
			BreakerCooldown:  cfg.CircuitBreakerCooldown(),
		}, logger)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		defer httpClient.Close()
		liveClient = httpClient
	}

	// Sessions dispatch through the live client when one exists; playbooks
	// follow the same client.
	primary := liveClient
	if primary == nil {
		primary = mockClient
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := planner.Preflight(ctx, cfg, liveClient, findings, ds); err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if c.Bool("dry-run") {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		return r.Render(run.Waves)
	}

	playbooks, err := planner.EnsurePlaybooks(ctx, primary, cfg.PlaybooksDir, findings, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	overrides, err := session.LoadServiceOverrides(filepath.Join(cfg.PlaybooksDir, "service_overrides.json"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	led := ledger.Open(ledgerPath(cfg.RunsDir, run.RunID), logger)
	tracker := monitor.NewTracker(run, cfg.RunsDir, cfg.StateFilePath, csvName, logger)
	store := memory.NewStore(cfg.MemoryDir, logger)

	wm := planner.NewWaveManager(planner.WaveManagerOptions{
		Config:     cfg,
		LiveClient: liveClient,
		MockClient: mockClient,
		Manager:    session.NewManager(led, cfg.MaxACUPerSession, logger),
		Poller:     monitor.NewPoller(cfg.SessionTimeout(), logger),
		Tracker:    tracker,
		Store:      store,
		Overrides:  overrides,
		Playbooks:  playbooks,
		Logger:     logger,
	})

	if err := wm.ExecuteRun(ctx); err != nil && ctx.Err() == nil {
		return cli.Exit(fmt.Sprintf("run %s failed: %v", run.RunID, err), 1)
	}

	// Post-run work gets a fresh context; the run context may already be
	// canceled by the interrupt that stopped the waves.
	postCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	finishRun(postCtx, cfg, tracker, store, logger)

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if err := r.Render(tracker.Summary()); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if code := runExitCode(run.Status); code != 0 {
		return cli.Exit(fmt.Sprintf("run %s %s", run.RunID, run.Status), code)
	}
	return nil
}
