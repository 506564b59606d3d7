package storage

import (
	"strings"
	"testing"

	"github.com/storysync/storysync/internal/types"
)

func TestSQLiteConnString(t *testing.T) {
	t.Setenv("STORYSYNC_LOCK_TIMEOUT", "")

	tests := []struct {
		name string
		path string
		want []string
	}{
		{
			name: "plain path",
			path: "/tmp/ledger.db",
			want: []string{"file:/tmp/ledger.db?", "_pragma=foreign_keys(ON)", "_pragma=busy_timeout(30000)", "_time_format=sqlite"},
		},
		{
			name: "memory",
			path: ":memory:",
			want: []string{"file::memory:?cache=shared&", "_pragma=busy_timeout(30000)"},
		},
		{
			name: "existing uri keeps pragmas",
			path: "file:x.db?_pragma=busy_timeout(5)",
			want: []string{"_pragma=busy_timeout(5)", "&_pragma=foreign_keys(ON)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SQLiteConnString(tt.path)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("SQLiteConnString(%q) = %q, missing %q", tt.path, got, w)
				}
			}
		})
	}

	if got := SQLiteConnString("  "); got != "" {
		t.Errorf("blank path should yield empty conn string, got %q", got)
	}
}

func TestSQLiteConnStringLockTimeout(t *testing.T) {
	t.Setenv("STORYSYNC_LOCK_TIMEOUT", "2s")
	if got := SQLiteConnString("a.db"); !strings.Contains(got, "busy_timeout(2000)") {
		t.Errorf("lock timeout not honored: %q", got)
	}
}

func TestMatchesFilter(t *testing.T) {
	done := types.StatusDone
	synced := types.SyncStatusSynced
	yes := true
	task := &types.Task{ID: "T1", Status: done, SyncStatus: synced, Epic: "infra", Retroactive: true}

	tests := []struct {
		name   string
		filter types.TaskFilter
		want   bool
	}{
		{"empty", types.TaskFilter{}, true},
		{"id hit", types.TaskFilter{IDs: []string{"T0", "T1"}}, true},
		{"id miss", types.TaskFilter{IDs: []string{"T2"}}, false},
		{"status", types.TaskFilter{Status: &done}, true},
		{"sync status", types.TaskFilter{SyncStatus: &synced}, true},
		{"epic miss", types.TaskFilter{Epic: "docs"}, false},
		{"retroactive", types.TaskFilter{Retroactive: &yes}, true},
	}
	for _, tt := range tests {
		if got := MatchesFilter(task, tt.filter); got != tt.want {
			t.Errorf("%s: MatchesFilter = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestHasIDPrefix(t *testing.T) {
	cases := map[string]bool{
		"fw-retro-001":    true,
		"fw-retro-":       false,
		"fw-retro":        false,
		"fw-retrofit-001": false,
		"be-retro-001":    false,
	}
	for id, want := range cases {
		if got := HasIDPrefix(id, "fw-retro"); got != want {
			t.Errorf("HasIDPrefix(%q) = %v, want %v", id, got, want)
		}
	}
}
