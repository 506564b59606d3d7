package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/storysync/storysync/internal/config"
	"github.com/storysync/storysync/internal/debug"
	"github.com/storysync/storysync/internal/retro"
	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/timeparsing"
	"github.com/storysync/storysync/internal/ui"
)

type auditFlags struct {
	since    string
	until    string
	branch   string
	maxPages int
	dryRun   bool
	noCheck  bool
}

func (f *auditFlags) options(now time.Time) (retro.AuditOptions, error) {
	opts := retro.AuditOptions{
		Branch:   f.branch,
		MaxPages: f.maxPages,
		DryRun:   f.dryRun,
	}
	if f.maxPages < 0 {
		return opts, fmt.Errorf("--max-pages must not be negative, got %d", f.maxPages)
	}
	since, err := timeparsing.ParseOptional(f.since, now, timeparsing.ParseSince)
	if err != nil {
		return opts, fmt.Errorf("invalid --since: %w", err)
	}
	until, err := timeparsing.ParseOptional(f.until, now, timeparsing.ParseRelativeTime)
	if err != nil {
		return opts, fmt.Errorf("invalid --until: %w", err)
	}
	if since != nil && until != nil && until.Before(*since) {
		return opts, fmt.Errorf("--until (%s) is before --since (%s)", until.Format(time.RFC3339), since.Format(time.RFC3339))
	}
	opts.Since, opts.Until = since, until
	return opts, nil
}

var auditCmdFlags auditFlags

var auditCmd = &cobra.Command{
	Use:     "audit",
	GroupID: "sync",
	Short:   "Attribute repository commits to tasks",
	Long: `Walks the commit history of the configured GitHub repository and
records every commit against the task it belongs to. Commits that match no
task are routed to a retroactive task for their epic.

Examples:
  storysync audit --since 2w
  storysync audit --branch release --max-pages 3 --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := auditCmdFlags.options(time.Now())
		if err != nil {
			return err
		}
		if err := config.ValidateAudit(); err != nil {
			return startupError{err: err, hint: "set GITHUB_OWNER and GITHUB_REPO"}
		}
		classifier, err := loadClassifier()
		if err != nil {
			return err
		}

		ctx := commandContext()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if !auditCmdFlags.noCheck {
			if results, err := runPreflight(ctx, preflightCheck{Name: "github", Probe: githubProbe}); err != nil {
				return startupError{err: fmt.Errorf("github unreachable: %s", results[0].Detail), hint: "run 'storysync preflight' for details"}
			}
		}

		result, err := newAuditor(store, classifier).Run(ctx, opts)
		if result != nil {
			debug.LogEvent("AUDIT", opts.Branch, fmt.Sprintf("processed=%d minted=%d failed=%d", result.Processed, len(result.Minted), result.Failed))
			if jsonOutput {
				outputJSON(result)
			} else {
				printAuditResult(cmd, result)
			}
		}
		return err
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditCmdFlags.since, "since", "", "Only commits after this time (e.g. 2w, \"last monday\")")
	auditCmd.Flags().StringVar(&auditCmdFlags.until, "until", "", "Only commits before this time")
	auditCmd.Flags().StringVar(&auditCmdFlags.branch, "branch", "", "Branch to walk (default: github.branch)")
	auditCmd.Flags().IntVar(&auditCmdFlags.maxPages, "max-pages", 0, "Stop after this many pages of commits (0 = all)")
	auditCmd.Flags().BoolVar(&auditCmdFlags.dryRun, "dry-run", false, "Classify without writing to the ledger")
	auditCmd.Flags().BoolVar(&auditCmdFlags.noCheck, "skip-preflight", false, "Do not check the GitHub connection before the run")
	rootCmd.AddCommand(auditCmd)
}

func newAuditor(store storage.Storage, classifier *retro.Classifier) *retro.Auditor {
	auditor := retro.NewAuditor(newGitHubClient(), store, classifier)
	if branch := config.GitHub().Branch; branch != "" {
		auditor.Branch = branch
	}
	auditor.CommitDelay = config.Retro().CommitDelay
	auditor.OnMessage = printMessage
	auditor.OnWarning = printWarning
	return auditor
}

func printAuditResult(cmd *cobra.Command, r *retro.AuditResult) {
	if debug.IsQuiet() {
		return
	}
	out := cmd.OutOrStdout()
	prefix := ""
	if r.DryRun {
		prefix = "[dry-run] "
	}
	fmt.Fprintf(out, "%s%s Audited %d commit(s): %d exact, %d matched, %d routed by epic\n",
		prefix, ui.StatusIcon(r.Failed == 0), r.Processed, r.Exact, r.Matched, r.Unmatched)
	fmt.Fprintf(out, "  %d change entries written, %d task(s) rolled up\n", r.EntriesWritten, r.RolledUp)
	if len(r.Minted) > 0 {
		fmt.Fprintf(out, "  Retroactive tasks: %s\n", ui.RenderAccent(fmt.Sprint(r.Minted)))
	}
	if r.Failed > 0 {
		fmt.Fprintf(out, "  %s\n", ui.RenderFail(fmt.Sprintf("%d commit(s) failed", r.Failed)))
	}
}
