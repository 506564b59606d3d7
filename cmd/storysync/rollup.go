package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storysync/storysync/internal/config"
	"github.com/storysync/storysync/internal/debug"
	"github.com/storysync/storysync/internal/rollup"
	"github.com/storysync/storysync/internal/ui"
)

var rollupCmd = &cobra.Command{
	Use:     "rollup [task-id...]",
	GroupID: "sync",
	Short:   "Recompute per-task commit metrics from the change log",
	Long: `Rebuilds related files, commit SHAs, line counts and the dominant
branch of each task from its change log entries. With no arguments every task
with recorded changes is recomputed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ValidateStorage(); err != nil {
			return startupError{err: err}
		}
		ctx := commandContext()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		agg := rollup.New(store)
		var rollups []*rollup.Rollup
		if len(args) > 0 {
			rollups, err = agg.RecomputeTasks(ctx, args)
		} else {
			rollups, err = agg.RecomputeAll(ctx)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(rollups)
			return nil
		}
		if debug.IsQuiet() {
			return nil
		}
		out := cmd.OutOrStdout()
		if len(rollups) == 0 {
			fmt.Fprintln(out, "No tasks with recorded changes.")
			return nil
		}
		t := ui.NewTable(out, "Task", "Commits", "Files", "Added", "Removed", "Branch")
		added, removed := 0, 0
		for _, r := range rollups {
			t.Row(r.TaskID, r.CommitCount(), len(r.Files), r.LinesAdded, r.LinesRemoved, r.DominantBranch)
			added += r.LinesAdded
			removed += r.LinesRemoved
		}
		t.Footer(fmt.Sprintf("%d task(s)", len(rollups)), "", "", added, removed, "")
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rollupCmd)
}
