package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storysync/storysync/internal/types"
)

// AppendSyncLog inserts an audit row. ID and CreatedAt are filled if empty.
func (s *Store) AppendSyncLog(ctx context.Context, entry *types.SyncLogEntry) error {
	if entry == nil {
		return fmt.Errorf("sync log entry is nil")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	// Retrying an insert keyed by a fresh uuid is safe: a duplicate id means
	// the earlier attempt landed.
	_, err := s.execContext(ctx, s.dialect.insertIgnore+` INTO sync_log
        (id, task_id, remote_issue_key, sync_type, direction, outcome, duration_ms, error, metadata, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TaskID, nullString(entry.RemoteIssueKey), string(entry.SyncType),
		string(entry.Direction), string(entry.Outcome), entry.Duration.Milliseconds(),
		nullString(entry.Error), entry.MetadataJSON(), formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append sync log for %s: %w", entry.TaskID, err)
	}
	return nil
}

// ListSyncLog returns audit rows, newest first.
func (s *Store) ListSyncLog(ctx context.Context, filter types.SyncLogFilter) ([]*types.SyncLogEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	query := `SELECT id, task_id, remote_issue_key, sync_type, direction, outcome,
        duration_ms, error, metadata, created_at FROM sync_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.queryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.SyncLogEntry
	for rows.Next() {
		var (
			e          types.SyncLogEntry
			remoteKey  sql.NullString
			syncType   string
			direction  string
			outcome    string
			durationMs int64
			errMsg     sql.NullString
			metadata   string
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &remoteKey, &syncType, &direction, &outcome,
			&durationMs, &errMsg, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		e.RemoteIssueKey = stringPtr(remoteKey)
		e.SyncType = types.SyncType(syncType)
		e.Direction = types.Direction(direction)
		e.Outcome = types.Outcome(outcome)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.Error = stringPtr(errMsg)
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode sync log metadata %s: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// AppendChangeLogEntry inserts the entry unless (CommitSHA, FilePath) exists.
func (s *Store) AppendChangeLogEntry(ctx context.Context, entry *types.ChangeLogEntry) (bool, error) {
	if entry == nil {
		return false, fmt.Errorf("change log entry is nil")
	}
	if strings.TrimSpace(entry.CommitSHA) == "" || entry.FilePath == "" {
		return false, fmt.Errorf("change log entry requires commit sha and file path")
	}
	res, err := s.execContext(ctx, s.dialect.insertIgnore+` INTO change_log
        (commit_sha, file_path, task_id, change_type, lines_added, lines_removed,
         commit_message, commit_url, branch, author, committed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CommitSHA, entry.FilePath, entry.TaskID, string(entry.ChangeType),
		entry.LinesAdded, entry.LinesRemoved, entry.CommitMessage, entry.CommitURL,
		entry.Branch, entry.Author, formatTime(entry.CommittedAt),
	)
	if err != nil {
		return false, fmt.Errorf("append change log %s:%s: %w", entry.CommitSHA, entry.FilePath, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("change log rows affected: %w", err)
	}
	return n > 0, nil
}

// AggregateChangeLogForTask returns every change log row for the task.
func (s *Store) AggregateChangeLogForTask(ctx context.Context, taskID string) ([]*types.ChangeLogEntry, error) {
	rows, err := s.queryContext(ctx, `SELECT commit_sha, file_path, task_id, change_type,
        lines_added, lines_removed, commit_message, commit_url, branch, author, committed_at
        FROM change_log WHERE task_id = ?
        ORDER BY committed_at, commit_sha, file_path`, taskID)
	if err != nil {
		return nil, fmt.Errorf("aggregate change log for %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ChangeLogEntry
	for rows.Next() {
		var (
			e           types.ChangeLogEntry
			changeType  string
			committedAt string
		)
		if err := rows.Scan(&e.CommitSHA, &e.FilePath, &e.TaskID, &changeType,
			&e.LinesAdded, &e.LinesRemoved, &e.CommitMessage, &e.CommitURL,
			&e.Branch, &e.Author, &committedAt); err != nil {
			return nil, fmt.Errorf("scan change log: %w", err)
		}
		e.ChangeType = types.ChangeType(changeType)
		if e.CommittedAt, err = parseTime(committedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListTaskIDsWithChanges returns the sorted distinct task ids in the change log.
func (s *Store) ListTaskIDsWithChanges(ctx context.Context) ([]string, error) {
	rows, err := s.queryContext(ctx, `SELECT DISTINCT task_id FROM change_log ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("list task ids with changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
