package cmd

import (
	"context"

	"github.com/justapithecus/mender/archive"
	"github.com/justapithecus/mender/cli/config"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/memory"
	"github.com/justapithecus/mender/monitor"
	"github.com/justapithecus/mender/notify"
	redisnotify "github.com/justapithecus/mender/notify/redis"
	"github.com/justapithecus/mender/notify/webhook"
)

// finishRun performs the post-run steps: memory extraction, completion
// notifications, and the optional S3 archive. Every step is best effort;
// the run outcome is already persisted by the time this is called.
func finishRun(ctx context.Context, cfg *config.Config, tracker *monitor.Tracker, store *memory.Store, logger *log.Logger) {
	if n, err := tracker.ExtractAndSaveMemories(store); err != nil {
		logger.Warn("memory extraction failed", map[string]any{"error": err.Error()})
	} else if n > 0 {
		logger.Info("memories saved", map[string]any{"count": n})
	}

	summary := tracker.Summary()
	event := notify.FromSummary(summary)
	for _, sink := range buildNotifiers(cfg, logger) {
		if err := sink.Publish(ctx, event); err != nil {
			logger.Warn("notification failed", map[string]any{"error": err.Error()})
		}
		if err := sink.Close(); err != nil {
			logger.Warn("notifier close failed", map[string]any{"error": err.Error()})
		}
	}

	if cfg.Archive.S3Path != "" {
		archiveArtifacts(ctx, cfg, summary.RunID, logger)
	}
}

// buildNotifiers assembles the configured notification sinks. A sink
// that fails to construct is logged and skipped rather than failing the
// run.
func buildNotifiers(cfg *config.Config, logger *log.Logger) []notify.Notifier {
	var sinks []notify.Notifier

	if cfg.Notify.Webhook.URL != "" {
		wcfg := webhook.Config{
			URL:     cfg.Notify.Webhook.URL,
			Headers: cfg.Notify.Webhook.Headers,
			Timeout: cfg.Notify.Webhook.Timeout.Duration,
			Retries: webhook.DefaultRetries,
		}
		if cfg.Notify.Webhook.Retries != nil {
			wcfg.Retries = *cfg.Notify.Webhook.Retries
		}
		sink, err := webhook.New(wcfg)
		if err != nil {
			logger.Warn("webhook notifier disabled", map[string]any{"error": err.Error()})
		} else {
			sinks = append(sinks, sink)
		}
	}

	if cfg.Notify.Redis.URL != "" {
		sink, err := redisnotify.New(redisnotify.Config{
			URL:     cfg.Notify.Redis.URL,
			Channel: cfg.Notify.Redis.Channel,
		})
		if err != nil {
			logger.Warn("redis notifier disabled", map[string]any{"error": err.Error()})
		} else {
			sinks = append(sinks, sink)
		}
	}

	return sinks
}

// archiveArtifacts uploads the run state and memory store to S3.
func archiveArtifacts(ctx context.Context, cfg *config.Config, runID string, logger *log.Logger) {
	up, err := archive.New(ctx, archive.Config{
		S3Path:       cfg.Archive.S3Path,
		Region:       cfg.Archive.Region,
		Endpoint:     cfg.Archive.Endpoint,
		UsePathStyle: cfg.Archive.S3PathStyle,
	}, logger)
	if err != nil {
		logger.Warn("archive disabled", map[string]any{"error": err.Error()})
		return
	}

	if err := up.ArchiveRun(ctx, cfg.RunsDir, runID); err != nil {
		logger.Warn("run archive failed", map[string]any{"error": err.Error()})
	}
	if _, err := up.ArchiveMemory(ctx, cfg.MemoryDir); err != nil {
		logger.Warn("memory archive failed", map[string]any{"error": err.Error()})
	}
}
