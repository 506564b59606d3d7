package config

import (
	"fmt"
	"strings"
	"time"
)

// SyncDirection is the configured default direction for sync runs.
type SyncDirection string

const (
	SyncDirectionPush          SyncDirection = "push"
	SyncDirectionPull          SyncDirection = "pull"
	SyncDirectionBidirectional SyncDirection = "bidirectional"
)

var validSyncDirections = map[SyncDirection]bool{
	SyncDirectionPush:          true,
	SyncDirectionPull:          true,
	SyncDirectionBidirectional: true,
}

// GetSyncDirection returns sync.direction, or bidirectional when unset or
// invalid. Invalid values produce a warning on ConfigWarningWriter.
//
// Config key: sync.direction
// Valid values: push, pull, bidirectional
func GetSyncDirection() SyncDirection {
	value := GetString("sync.direction")
	if value == "" {
		return SyncDirectionBidirectional
	}

	dir := SyncDirection(strings.ToLower(strings.TrimSpace(value)))
	if !validSyncDirections[dir] {
		fmt.Fprintf(ConfigWarningWriter, "Warning: invalid sync.direction %q in config (valid: push, pull, bidirectional), using default 'bidirectional'\n", value)
		return SyncDirectionBidirectional
	}
	return dir
}

// GetConflictWindow returns sync.conflict_window, falling back to 60s for
// non-positive values.
func GetConflictWindow() time.Duration {
	window := GetDuration("sync.conflict_window")
	if window <= 0 {
		if GetString("sync.conflict_window") != "" {
			fmt.Fprintf(ConfigWarningWriter, "Warning: invalid sync.conflict_window %q in config, using default '60s'\n", GetString("sync.conflict_window"))
		}
		return 60 * time.Second
	}
	return window
}

// GetPullLimit returns sync.pull_limit, falling back to 100 for
// non-positive values.
func GetPullLimit() int {
	limit := GetInt("sync.pull_limit")
	if limit <= 0 {
		fmt.Fprintf(ConfigWarningWriter, "Warning: invalid sync.pull_limit %d in config, using default 100\n", limit)
		return 100
	}
	return limit
}

// Sync returns the resolved sync block.
func Sync() SyncSettings {
	return SyncSettings{
		ConflictWindow: GetConflictWindow(),
		PullLimit:      GetPullLimit(),
		Direction:      string(GetSyncDirection()),
	}
}
