package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storysync/storysync/internal/retro"
)

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var syncs, audits int32
	s := &Scheduler{
		Interval: 10 * time.Millisecond,
		Jobs: []Job{
			{Name: "sync", Run: func(context.Context) error {
				if atomic.AddInt32(&syncs, 1) >= 3 {
					cancel()
				}
				return nil
			}},
			{Name: "audit", Run: func(context.Context) error {
				atomic.AddInt32(&audits, 1)
				return errors.New("github unreachable")
			}},
		},
	}

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	if got := atomic.LoadInt32(&syncs); got != 3 {
		t.Errorf("syncs = %d, want 3", got)
	}
	// A failing job does not stop later ticks; the run after cancel is skipped.
	if got := atomic.LoadInt32(&audits); got != 2 {
		t.Errorf("audits = %d, want 2", got)
	}
}

func TestSchedulerRejectsZeroInterval(t *testing.T) {
	s := &Scheduler{}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func hasEpic(c *retro.Classifier, epic string) bool {
	for _, r := range c.Rules().Epics {
		if r.Epic == epic {
			return true
		}
	}
	return false
}

func TestSchedulerReloadsRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.toml")
	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("[[epic]]\nepic = \"mobile\"\nprefix = \"mob-retro\"\npriority = 7\nfiles = ['^ios/']\n")

	classifier := retro.NewClassifier(nil)
	s := &Scheduler{
		Interval:    time.Hour,
		RulesFile:   path,
		Classifier:  classifier,
		ReloadDelay: 10 * time.Millisecond,
	}
	if err := s.ReloadRules(); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}
	if !hasEpic(classifier, "mobile") {
		t.Fatal("initial rules not loaded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Start(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before editing.
	time.Sleep(100 * time.Millisecond)
	write("[[epic]]\nepic = \"data\"\nprefix = \"data-retro\"\npriority = 6\nfiles = ['^etl/']\n")

	deadline := time.Now().Add(5 * time.Second)
	for !hasEpic(classifier, "data") {
		if time.Now().After(deadline) {
			t.Fatal("rules were not reloaded after the file changed")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// A broken file keeps the last good rules.
	write("[[epic]]\nepic = \"broken\"\nprefix = \"b-retro\"\npriority = 0\n")
	time.Sleep(200 * time.Millisecond)
	if !hasEpic(classifier, "data") || hasEpic(classifier, "broken") {
		t.Errorf("rules after a bad edit: %+v", classifier.Rules().Epics)
	}
}
