package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/storysync/storysync/internal/config"
	"github.com/storysync/storysync/internal/debug"
	"github.com/storysync/storysync/internal/lockfile"
	"github.com/storysync/storysync/internal/retro"
	"github.com/storysync/storysync/internal/tracker"
	"github.com/storysync/storysync/internal/types"
	"github.com/storysync/storysync/internal/worker"
)

var (
	daemonInterval time.Duration
	daemonWorkers  int
	daemonNoAudit  bool
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run sync and audit on an interval until interrupted",
	Long: `Runs a sync (and, when GitHub is configured, a commit audit) immediately
and then every --interval. After the first run each pull and audit only looks
at changes since the previous successful run started. The rules file named by
retro.rules_file is reloaded when it changes.`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		interval := daemonInterval
		if interval == 0 {
			interval = config.GetDuration("daemon.interval")
		}
		if interval <= 0 {
			return fmt.Errorf("--interval must be positive, got %s", interval)
		}
		if daemonWorkers < 1 {
			return fmt.Errorf("--workers must be at least 1, got %d", daemonWorkers)
		}
		if err := config.ValidateSync(); err != nil {
			return startupError{err: err, hint: "run 'storysync init' or set the missing keys"}
		}
		withAudit := !daemonNoAudit && config.ValidateAudit() == nil
		classifier, err := loadClassifier()
		if err != nil {
			return err
		}

		lock, err := lockfile.Acquire(daemonLockPath(), lockfile.LockInfo{Command: "daemon", Version: Version})
		if err != nil {
			if errors.Is(err, lockfile.ErrLockBusy) {
				return startupError{err: err, hint: "another storysync daemon is running for this project"}
			}
			return err
		}
		defer func() { _ = lock.Release() }()

		ctx := commandContext()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		logger := debug.NewLogger(os.Stderr)
		newEngine := engineFactory(store,
			func(msg string) { logger.Debug(msg) },
			func(msg string) { logger.Warn(msg) })
		if _, err := newEngine(); err != nil {
			return err
		}
		pool := worker.NewPool(daemonWorkers, store, newEngine)
		pool.Logger = logger

		jobs := []worker.Job{{Name: "sync", Run: syncJob(pool, types.Direction(config.GetSyncDirection()))}}
		if withAudit {
			auditor := newAuditor(store, classifier)
			auditor.OnMessage = func(msg string) { logger.Debug(msg) }
			auditor.OnWarning = func(msg string) { logger.Warn(msg) }
			jobs = append(jobs, worker.Job{Name: "audit", Run: auditJob(auditor)})
		} else {
			logger.Info("Commit audit disabled", "reason", auditDisabledReason())
		}

		sched := &worker.Scheduler{
			Interval:   interval,
			Jobs:       jobs,
			RulesFile:  config.Retro().RulesFile,
			Classifier: classifier,
			Logger:     logger,
		}
		debug.LogEvent("DAEMON_START", "", fmt.Sprintf("interval=%s jobs=%d", interval, len(jobs)))
		err = sched.Start(ctx)
		debug.LogEvent("DAEMON_STOP", "", "")
		return err
	},
}

func init() {
	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Time between runs (default: daemon.interval, 15m)")
	daemonCmd.Flags().IntVar(&daemonWorkers, "workers", 1, "Parallel push workers")
	daemonCmd.Flags().BoolVar(&daemonNoAudit, "no-audit", false, "Only sync, never audit commits")
	rootCmd.AddCommand(daemonCmd)
}

// daemonLockPath sits next to the loaded config file, or in ./.storysync.
func daemonLockPath() string {
	if used := config.ConfigFileUsed(); used != "" {
		return filepath.Join(filepath.Dir(used), "daemon.lock")
	}
	return filepath.Join(config.ProjectDirName, "daemon.lock")
}

func auditDisabledReason() string {
	if daemonNoAudit {
		return "--no-audit"
	}
	if err := config.ValidateAudit(); err != nil {
		return err.Error()
	}
	return ""
}

// syncJob pulls incrementally: each run after the first only asks for issues
// updated since the previous successful run started.
func syncJob(pool *worker.Pool, dir types.Direction) func(context.Context) error {
	var since *time.Time
	return func(ctx context.Context) error {
		started := time.Now().UTC()
		result, err := pool.Sync(ctx, tracker.SyncOptions{
			Direction: dir,
			Since:     since,
			PullLimit: config.GetPullLimit(),
		})
		if err != nil {
			return err
		}
		// A failed run keeps the old window so the next one retries it.
		if !result.Success {
			return fmt.Errorf("%d of %d task(s) failed", result.Stats.Failed, len(result.Tasks))
		}
		since = &started
		return nil
	}
}

func auditJob(auditor *retro.Auditor) func(context.Context) error {
	var since *time.Time
	return func(ctx context.Context) error {
		started := time.Now().UTC()
		result, err := auditor.Run(ctx, retro.AuditOptions{Since: since})
		if err != nil {
			return err
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d commit(s) failed", result.Failed, result.Processed)
		}
		since = &started
		return nil
	}
}

