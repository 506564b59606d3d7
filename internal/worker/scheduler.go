package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/storysync/storysync/internal/retro"
)

// DefaultReloadDelay is the quiet period before a changed rules file is read.
const DefaultReloadDelay = 500 * time.Millisecond

// Job is one unit of scheduled work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs its jobs once at start and then on every Interval tick until
// the context is cancelled. Jobs run sequentially, so ticks never overlap;
// a tick that arrives while jobs are running is dropped by the ticker.
type Scheduler struct {
	Interval time.Duration
	Jobs     []Job

	// RulesFile, when set together with Classifier, is watched and reloaded
	// into Classifier on change. A file that fails to load leaves the
	// previous rules in place.
	RulesFile   string
	Classifier  *retro.Classifier
	ReloadDelay time.Duration

	Logger *slog.Logger
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

// Start blocks until ctx is cancelled. It returns an error only for an
// invalid configuration.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive (got %s)", s.Interval)
	}
	log := s.logger()

	if s.RulesFile != "" && s.Classifier != nil {
		stop, err := s.watchRules(ctx)
		if err != nil {
			log.Warn("Rules watcher unavailable, rules will not hot-reload", "path", s.RulesFile, "error", err)
		} else {
			defer stop()
		}
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	log.Info("Scheduler started", "interval", s.Interval, "jobs", len(s.Jobs))

	s.runJobs(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("Context canceled, shutting down")
			return nil
		case <-ticker.C:
			s.runJobs(ctx)
		}
	}
}

func (s *Scheduler) runJobs(ctx context.Context) {
	log := s.logger()
	for _, job := range s.Jobs {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		err := job.Run(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			log.Info("Job interrupted", "job", job.Name)
			return
		case err != nil:
			log.Error("Job failed", "job", job.Name, "error", err, "duration", time.Since(started))
		default:
			log.Info("Job finished", "job", job.Name, "duration", time.Since(started))
		}
	}
}

// ReloadRules reads RulesFile into Classifier.
func (s *Scheduler) ReloadRules() error {
	rules, err := retro.LoadRules(s.RulesFile)
	if err != nil {
		s.logger().Warn("Keeping previous classifier rules", "path", s.RulesFile, "error", err)
		return err
	}
	s.Classifier.SetRules(rules)
	s.logger().Info("Reloaded classifier rules", "path", s.RulesFile, "epics", len(rules.Epics))
	return nil
}

// watchRules watches the rules file's directory (editors often replace files
// by rename) and reloads on writes to the file itself.
func (s *Scheduler) watchRules(ctx context.Context) (stop func(), err error) {
	path, err := filepath.Abs(s.RulesFile)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	delay := s.ReloadDelay
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	debouncer := NewDebouncer(delay, func() { _ = s.ReloadRules() })
	log := s.logger()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					debouncer.Trigger()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("Rules watcher error", "error", err)
			}
		}
	}()

	return func() {
		_ = watcher.Close()
		wg.Wait()
		debouncer.CancelAndWait()
	}, nil
}
