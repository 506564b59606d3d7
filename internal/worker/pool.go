// Package worker runs sync work concurrently and on a schedule.
//
// Pool splits the push half of a run across engines, one per worker, and
// merges the results. Each worker builds its own engine, so client state is
// never shared; two workers racing to create the same task are arbitrated by
// the storage layer's create reservation, so only one reaches Jira. Scheduler repeats jobs on an
// interval and reloads classifier rules when the rules file changes.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/tracker"
	"github.com/storysync/storysync/internal/types"
)

// EngineFactory builds a fresh engine for one worker.
type EngineFactory func() (*tracker.Engine, error)

// Pool runs a sync across up to Workers engines.
type Pool struct {
	Workers   int
	Store     storage.Storage
	NewEngine EngineFactory
	Logger    *slog.Logger
}

// NewPool creates a pool. workers < 1 is treated as 1.
func NewPool(workers int, store storage.Storage, newEngine EngineFactory) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{Workers: workers, Store: store, NewEngine: newEngine}
}

func (p *Pool) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}

// Sync runs opts. With one worker it is a plain Engine.SyncAll. Otherwise the
// tasks to push are sharded across workers and pushed concurrently; the pull
// half runs afterwards on a single engine so the bounded query runs once.
func (p *Pool) Sync(ctx context.Context, opts tracker.SyncOptions) (*tracker.SyncResult, error) {
	dir := opts.Direction
	if dir == "" {
		dir = types.DirectionBidirectional
	}
	if !dir.IsValid() {
		return nil, fmt.Errorf("invalid sync direction %q", dir)
	}
	opts.Direction = dir

	if p.Workers <= 1 {
		eng, err := p.NewEngine()
		if err != nil {
			return nil, fmt.Errorf("create engine: %w", err)
		}
		return eng.SyncAll(ctx, opts)
	}

	result := &tracker.SyncResult{
		Success:   true,
		Direction: dir,
		DryRun:    opts.DryRun,
		LastSync:  time.Now().UTC().Format(time.RFC3339),
	}

	if dir == types.DirectionPush || dir == types.DirectionBidirectional {
		if err := p.pushSharded(ctx, opts, result); err != nil {
			return fail(result, err)
		}
	}
	if dir == types.DirectionPull || dir == types.DirectionBidirectional {
		eng, err := p.NewEngine()
		if err != nil {
			return fail(result, fmt.Errorf("create engine: %w", err))
		}
		pullOpts := opts
		pullOpts.Direction = types.DirectionPull
		pullOpts.TaskIDs = nil
		res, err := eng.SyncAll(ctx, pullOpts)
		result.Merge(res)
		if err != nil {
			return fail(result, err)
		}
	}
	return result, nil
}

func (p *Pool) pushSharded(ctx context.Context, opts tracker.SyncOptions, result *tracker.SyncResult) error {
	ids := opts.TaskIDs
	if len(ids) == 0 {
		tasks, err := p.Store.ListTasksStale(ctx, opts.Force, nil)
		if err != nil {
			return fmt.Errorf("listing tasks to push: %w", err)
		}
		for _, t := range tasks {
			ids = append(ids, t.ID)
		}
	}
	shards := Partition(ids, p.Workers)
	if len(shards) == 0 {
		return nil
	}
	total := 0
	for _, shard := range shards {
		total += len(shard)
	}
	p.logger().Info("Pushing in parallel", "tasks", total, "workers", len(shards))

	results := make([]*tracker.SyncResult, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for i, shard := range shards {
		g.Go(func() error {
			eng, err := p.NewEngine()
			if err != nil {
				return fmt.Errorf("create engine: %w", err)
			}
			shardOpts := opts
			shardOpts.Direction = types.DirectionPush
			shardOpts.TaskIDs = shard
			res, err := eng.SyncAll(gctx, shardOpts)
			results[i] = res
			if err != nil {
				p.logger().Warn("Push shard stopped", "shard", i, "error", err)
			}
			return err
		})
	}
	err := g.Wait()
	for _, res := range results {
		result.Merge(res)
	}
	return err
}

func fail(result *tracker.SyncResult, err error) (*tracker.SyncResult, error) {
	result.Success = false
	if result.Error == "" {
		result.Error = err.Error()
	}
	return result, err
}

// Partition deals ids round-robin into at most n shards, after sorting and
// dropping duplicates, so no id lands in two shards, each shard gets a
// similar share and the split is stable for a given input.
func Partition(ids []string, n int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	sorted = slices.Compact(sorted)
	if n < 1 {
		n = 1
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	shards := make([][]string, n)
	for i, id := range sorted {
		shards[i%n] = append(shards[i%n], id)
	}
	return shards
}
