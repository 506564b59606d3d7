package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// dialect captures the SQL differences between backends. Queries use "?"
// placeholders, which both drivers accept.
type dialect struct {
	name         string
	schema       string
	insertIgnore string
}

func dialectFor(backend string) *dialect {
	if backend == BackendSQLite {
		return &dialect{name: BackendSQLite, schema: sqliteSchema, insertIgnore: "INSERT OR IGNORE"}
	}
	return &dialect{name: backend, schema: mysqlSchema, insertIgnore: "INSERT IGNORE"}
}

// Timestamps are stored as fixed-width UTC strings so lexical order equals
// chronological order on every backend, which lets the stale filter run in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand or other tools
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeList(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sqliteSchema defines the SQLite schema.
// - TEXT everywhere, INTEGER for counters and flags
// - NULL remote keys do not collide under the unique index
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    acceptance_criteria TEXT NOT NULL DEFAULT '',
    technical_notes TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'todo',
    priority TEXT NOT NULL DEFAULT 'medium',
    story_points INTEGER,
    epic TEXT NOT NULL DEFAULT '',
    remote_issue_key TEXT,
    sync_status TEXT NOT NULL DEFAULT 'unsynced',
    last_synced_at TEXT,
    retroactive INTEGER NOT NULL DEFAULT 0,
    origin TEXT NOT NULL DEFAULT 'local',
    related_files TEXT NOT NULL DEFAULT '[]',
    commit_shas TEXT NOT NULL DEFAULT '[]',
    dominant_branch TEXT NOT NULL DEFAULT '',
    files_modified INTEGER NOT NULL DEFAULT 0,
    lines_added INTEGER NOT NULL DEFAULT 0,
    lines_removed INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_remote_key ON tasks(remote_issue_key);
CREATE INDEX IF NOT EXISTS idx_tasks_sync ON tasks(sync_status);

CREATE TABLE IF NOT EXISTS sync_log (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    remote_issue_key TEXT,
    sync_type TEXT NOT NULL,
    direction TEXT NOT NULL,
    outcome TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_log_task ON sync_log(task_id, created_at);

CREATE TABLE IF NOT EXISTS change_log (
    commit_sha TEXT NOT NULL,
    file_path TEXT NOT NULL,
    task_id TEXT NOT NULL,
    change_type TEXT NOT NULL,
    lines_added INTEGER NOT NULL DEFAULT 0,
    lines_removed INTEGER NOT NULL DEFAULT 0,
    commit_message TEXT NOT NULL DEFAULT '',
    commit_url TEXT NOT NULL DEFAULT '',
    branch TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    committed_at TEXT NOT NULL,
    PRIMARY KEY (commit_sha, file_path)
);
CREATE INDEX IF NOT EXISTS idx_change_log_task ON change_log(task_id)
`

// mysqlSchema serves MySQL, Dolt sql-server and embedded Dolt.
// - Indexed text columns need bounded VARCHAR lengths
const mysqlSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    id VARCHAR(255) PRIMARY KEY,
    title VARCHAR(500) NOT NULL,
    description TEXT NOT NULL,
    acceptance_criteria TEXT NOT NULL,
    technical_notes TEXT NOT NULL,
    status VARCHAR(32) NOT NULL DEFAULT 'todo',
    priority VARCHAR(32) NOT NULL DEFAULT 'medium',
    story_points INT,
    epic VARCHAR(255) NOT NULL DEFAULT '',
    remote_issue_key VARCHAR(255),
    sync_status VARCHAR(32) NOT NULL DEFAULT 'unsynced',
    last_synced_at VARCHAR(40),
    retroactive TINYINT NOT NULL DEFAULT 0,
    origin VARCHAR(32) NOT NULL DEFAULT 'local',
    related_files LONGTEXT NOT NULL,
    commit_shas LONGTEXT NOT NULL,
    dominant_branch VARCHAR(255) NOT NULL DEFAULT '',
    files_modified INT NOT NULL DEFAULT 0,
    lines_added INT NOT NULL DEFAULT 0,
    lines_removed INT NOT NULL DEFAULT 0,
    created_at VARCHAR(40) NOT NULL,
    updated_at VARCHAR(40) NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    UNIQUE KEY idx_tasks_remote_key (remote_issue_key),
    KEY idx_tasks_sync (sync_status)
);

CREATE TABLE IF NOT EXISTS sync_log (
    id VARCHAR(64) PRIMARY KEY,
    task_id VARCHAR(255) NOT NULL,
    remote_issue_key VARCHAR(255),
    sync_type VARCHAR(16) NOT NULL,
    direction VARCHAR(16) NOT NULL,
    outcome VARCHAR(16) NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    error TEXT,
    metadata TEXT NOT NULL,
    created_at VARCHAR(40) NOT NULL,
    KEY idx_sync_log_task (task_id, created_at)
);

CREATE TABLE IF NOT EXISTS change_log (
    commit_sha VARCHAR(64) NOT NULL,
    file_path VARCHAR(512) NOT NULL,
    task_id VARCHAR(255) NOT NULL,
    change_type VARCHAR(16) NOT NULL,
    lines_added INT NOT NULL DEFAULT 0,
    lines_removed INT NOT NULL DEFAULT 0,
    commit_message TEXT NOT NULL,
    commit_url VARCHAR(1024) NOT NULL DEFAULT '',
    branch VARCHAR(255) NOT NULL DEFAULT '',
    author VARCHAR(255) NOT NULL DEFAULT '',
    committed_at VARCHAR(40) NOT NULL,
    PRIMARY KEY (commit_sha, file_path),
    KEY idx_change_log_task (task_id)
)
`
