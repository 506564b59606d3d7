package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/storysync/storysync/internal/config"
	"github.com/storysync/storysync/internal/debug"
	"github.com/storysync/storysync/internal/jira"
	"github.com/storysync/storysync/internal/timeparsing"
	"github.com/storysync/storysync/internal/tracker"
	"github.com/storysync/storysync/internal/types"
	"github.com/storysync/storysync/internal/ui"
	"github.com/storysync/storysync/internal/worker"
)

// syncFlags holds the flags shared by sync, push and pull.
type syncFlags struct {
	direction string
	taskIDs   []string
	force     bool
	dryRun    bool
	since     string
	workers   int
	noCheck   bool
}

func (f *syncFlags) register(cmd *cobra.Command, withDirection bool) {
	if withDirection {
		cmd.Flags().StringVar(&f.direction, "direction", "", "push, pull or bidirectional (default: sync.direction, then bidirectional)")
	}
	cmd.Flags().StringSliceVar(&f.taskIDs, "task-ids", nil, "Push only these task ids, stale or not (comma-separated)")
	cmd.Flags().BoolVar(&f.force, "force", false, "Push every task, not only stale ones")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Report what would change without writing to Jira or the ledger")
	cmd.Flags().StringVar(&f.since, "since", "", "Pull only issues updated since (e.g. \"2 days ago\", 6h, 2025-01-20)")
	cmd.Flags().IntVar(&f.workers, "workers", 1, "Parallel push workers")
	cmd.Flags().BoolVar(&f.noCheck, "skip-preflight", false, "Do not check the Jira connection before the run")
}

// options validates the flags and turns them into engine options. An empty
// direction falls back to fallback.
func (f *syncFlags) options(fallback types.Direction, now time.Time) (tracker.SyncOptions, error) {
	opts := tracker.SyncOptions{
		Direction: fallback,
		Force:     f.force,
		DryRun:    f.dryRun,
	}
	if f.direction != "" {
		opts.Direction = types.Direction(strings.ToLower(strings.TrimSpace(f.direction)))
	}
	if !opts.Direction.IsValid() {
		return opts, fmt.Errorf("invalid --direction %q (valid: push, pull, bidirectional)", f.direction)
	}
	if f.workers < 1 {
		return opts, fmt.Errorf("--workers must be at least 1, got %d", f.workers)
	}
	for _, id := range f.taskIDs {
		if id = strings.TrimSpace(id); id != "" {
			opts.TaskIDs = append(opts.TaskIDs, id)
		}
	}
	if len(opts.TaskIDs) > 0 && opts.Direction == types.DirectionPull {
		return opts, fmt.Errorf("--task-ids selects tasks to push and cannot be used with a pull")
	}
	if f.force && opts.Direction == types.DirectionPull {
		return opts, fmt.Errorf("--force applies to the push and cannot be used with a pull")
	}
	since, err := timeparsing.ParseOptional(f.since, now, timeparsing.ParseSince)
	if err != nil {
		return opts, fmt.Errorf("invalid --since: %w", err)
	}
	if since != nil && opts.Direction == types.DirectionPush {
		return opts, fmt.Errorf("--since limits the pull and cannot be used with a push")
	}
	opts.Since = since
	return opts, nil
}

var syncCmdFlags syncFlags

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Synchronize the ledger with Jira (push, then pull)",
	Long: `Pushes stale local tasks to Jira, then pulls recently updated issues.

Per-task failures are recorded in the sync log and do not stop the run;
the command exits 0 once the run completes.

Examples:
  storysync sync
  storysync sync --direction push --task-ids T1,T2
  storysync sync --since "2 days ago" --dry-run --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSync(cmd, &syncCmdFlags, types.Direction(config.GetSyncDirection()), nil)
	},
}

var pushCmdFlags syncFlags

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Push stale local tasks to Jira",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSync(cmd, &pushCmdFlags, types.DirectionPush, nil)
	},
}

var pullCmdFlags syncFlags

var pullCmd = &cobra.Command{
	Use:     "pull [issue-key|browse-url...]",
	GroupID: "sync",
	Short:   "Pull recently updated Jira issues into the ledger",
	Long: `Without arguments, pulls the issues updated most recently in the
configured project. With arguments, pulls exactly those issues; each may be
a key or a browse link.

Examples:
  storysync pull --since 6h
  storysync pull PROJ-12 https://acme.atlassian.net/browse/PROJ-40`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := issueKeys(args)
		if err != nil {
			return err
		}
		return runSync(cmd, &pullCmdFlags, types.DirectionPull, keys)
	},
}

var issueKeyRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-[0-9]+$`)

// issueKeys turns pull arguments into issue keys. Browse links are reduced
// to their key; bare keys are upper-cased.
func issueKeys(args []string) ([]string, error) {
	var keys []string
	for _, arg := range args {
		key := strings.TrimSpace(arg)
		if strings.Contains(key, "/browse/") {
			key = jira.ExtractKey(key)
		}
		key = strings.ToUpper(key)
		if !issueKeyRe.MatchString(key) {
			return nil, fmt.Errorf("%q is neither an issue key nor a browse link", arg)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func init() {
	syncCmdFlags.register(syncCmd, true)
	pushCmdFlags.register(pushCmd, false)
	pullCmdFlags.register(pullCmd, false)
	rootCmd.AddCommand(syncCmd, pushCmd, pullCmd)
}

// runSync runs the engine over the worker pool. Explicit issue keys bypass
// the pool and the pull query.
func runSync(cmd *cobra.Command, flags *syncFlags, fallback types.Direction, keys []string) error {
	opts, err := flags.options(fallback, time.Now())
	if err != nil {
		return err
	}
	if len(keys) > 0 && opts.Since != nil {
		return fmt.Errorf("--since limits the pull query and cannot be used with issue keys")
	}
	if err := config.ValidateSync(); err != nil {
		return startupError{err: err, hint: "run 'storysync init' or set the missing keys"}
	}
	opts.PullLimit = config.GetPullLimit()

	ctx := commandContext()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// Fail before any work when credentials are incomplete.
	newEngine := engineFactory(store, printMessage, printWarning)
	if _, err := newEngine(); err != nil {
		return err
	}
	if !flags.noCheck {
		if results, err := runPreflight(ctx, preflightCheck{Name: "jira", Probe: jiraProbe}); err != nil {
			return startupError{err: fmt.Errorf("jira unreachable: %s", results[0].Detail), hint: "run 'storysync preflight' for details"}
		}
	}

	var (
		result *tracker.SyncResult
		runErr error
	)
	if len(keys) > 0 {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		result, runErr = engine.PullIssues(ctx, keys, opts.DryRun)
	} else {
		pool := worker.NewPool(flags.workers, store, newEngine)
		pool.Logger = debug.NewLogger(os.Stderr)
		result, runErr = pool.Sync(ctx, opts)
	}
	if result != nil {
		addBrowseURLs(result, config.Jira().URL)
		debug.LogEvent("SYNC", string(result.Direction), fmt.Sprintf("ok=%d failed=%d", result.Stats.Succeeded, result.Stats.Failed))
		if jsonOutput {
			outputJSON(result)
		} else {
			printSyncResult(cmd, result)
		}
	}
	return runErr
}

// addBrowseURLs links every attempt that has a remote key to its issue page.
func addBrowseURLs(result *tracker.SyncResult, baseURL string) {
	for _, tr := range result.Tasks {
		if tr.URL == "" {
			tr.URL = jira.BrowseURL(baseURL, tr.RemoteKey)
		}
	}
}

func printSyncResult(cmd *cobra.Command, result *tracker.SyncResult) {
	if debug.IsQuiet() {
		return
	}
	out := cmd.OutOrStdout()
	if len(result.Tasks) > 0 {
		t := ui.NewTable(out, "Task", "Issue", "Direction", "Type", "State", "Detail")
		t.MaxWidth(6, 60)
		for _, tr := range result.Tasks {
			detail := tr.Error
			if detail == "" {
				detail = tr.TransitionWarning
			}
			if detail == "" && tr.Conflict {
				detail = "conflict: both sides changed"
			}
			t.Row(tr.TaskID, tr.RemoteKey, string(tr.Direction), string(tr.SyncType), renderAttempt(tr.State), detail)
		}
		t.Render()
		for _, tr := range result.Tasks {
			if tr.SyncType == types.SyncTypeCreate && tr.State == tracker.AttemptSynced && tr.URL != "" {
				fmt.Fprintf(out, "%s %s %s\n", ui.RenderPassIcon(), tr.RemoteKey, tr.URL)
			}
		}
	}

	prefix := ""
	if result.DryRun {
		prefix = "[dry-run] "
	}
	s := result.Stats
	fmt.Fprintf(out, "%s%s %s: %d succeeded, %d failed, %d skipped (%d created, %d updated, %d conflicts)\n",
		prefix, ui.StatusIcon(result.Success), result.Direction,
		s.Succeeded, s.Failed, s.Skipped, s.Created, s.Updated, s.Conflicts)
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "%s %s\n", ui.RenderWarnIcon(), w)
	}
}

func renderAttempt(s tracker.AttemptState) string {
	switch s {
	case tracker.AttemptSynced:
		return ui.RenderPass(string(s))
	case tracker.AttemptError:
		return ui.RenderFail(string(s))
	default:
		return ui.RenderMuted(string(s))
	}
}
