package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/storysync/storysync/internal/config"
	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/types"
	"github.com/storysync/storysync/internal/ui"
)

// StatusReport is the JSON shape of `storysync status`.
type StatusReport struct {
	Tasks      []*types.Task         `json:"tasks"`
	Unsynced   int                   `json:"unsynced"`
	Errored    int                   `json:"errored"`
	Pending    int                   `json:"pending"` // Remote create outcome unknown
	RecentLogs []*types.SyncLogEntry `json:"recent_sync_log"`
}

func buildStatusReport(ctx context.Context, store storage.Storage, limit int) (*StatusReport, error) {
	tasks, err := store.ListTasks(ctx, types.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	logs, err := store.ListSyncLog(ctx, types.SyncLogFilter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing sync log: %w", err)
	}
	report := &StatusReport{Tasks: tasks, RecentLogs: logs}
	for _, t := range tasks {
		switch t.SyncStatus {
		case types.SyncStatusUnsynced:
			report.Unsynced++
		case types.SyncStatusError:
			report.Errored++
		case types.SyncStatusPending:
			report.Pending++
		}
	}
	return report, nil
}

func printStatusReport(w io.Writer, report *StatusReport) {
	width := ui.TerminalWidth(120)
	titleWidth := width / 3
	if titleWidth < 20 {
		titleWidth = 20
	}

	fmt.Fprintln(w, ui.RenderCategory("Tasks"))
	t := ui.NewTable(w, "ID", "Title", "Status", "Issue", "Sync", "Last synced")
	for _, task := range report.Tasks {
		last := "never"
		if task.LastSyncedAt != nil {
			last = task.LastSyncedAt.Local().Format("2006-01-02 15:04")
		}
		t.Row(task.ID, ui.Truncate(task.Title, titleWidth), string(task.Status), task.RemoteKey(),
			ui.RenderSyncStatus(task.SyncStatus), last)
	}
	t.Footer(fmt.Sprintf("%d task(s)", len(report.Tasks)), "", "", "",
		fmt.Sprintf("%d unsynced, %d error", report.Unsynced, report.Errored), "")
	t.Render()
	if report.Pending > 0 {
		fmt.Fprintf(w, "%s %d task(s) pending: check Jira for an issue created from them, then push with --force\n",
			ui.RenderWarnIcon(), report.Pending)
	}

	if len(report.RecentLogs) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, ui.RenderCategory("Recent sync log"))
	l := ui.NewTable(w, "When", "Task", "Direction", "Type", "Outcome", "Took", "Error")
	l.MaxWidth(7, titleWidth)
	for _, e := range report.RecentLogs {
		errText := ""
		if e.Error != nil {
			errText = *e.Error
		}
		l.Row(e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.TaskID, string(e.Direction), string(e.SyncType),
			ui.RenderOutcome(e.Outcome), e.Duration.Round(time.Millisecond).String(), errText)
	}
	l.Render()
}

var statusLimit int

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "views",
	Short:   "Show tasks and recent sync activity",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if statusLimit < 0 {
			return fmt.Errorf("--limit must not be negative, got %d", statusLimit)
		}
		if err := config.ValidateStorage(); err != nil {
			return startupError{err: err}
		}
		ctx := commandContext()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		report, err := buildStatusReport(ctx, store, statusLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(report)
			return nil
		}
		printStatusReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "Number of sync log entries to show")
	rootCmd.AddCommand(statusCmd)
}
