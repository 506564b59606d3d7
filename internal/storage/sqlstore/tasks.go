package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/types"
)

const taskColumns = `id, title, description, acceptance_criteria, technical_notes,
    status, priority, story_points, epic, remote_issue_key, sync_status, last_synced_at,
    retroactive, origin, related_files, commit_shas, dominant_branch,
    files_modified, lines_added, lines_removed, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		t            types.Task
		status       string
		priority     string
		syncStatus   string
		origin       string
		storyPoints  sql.NullInt64
		remoteKey    sql.NullString
		lastSynced   sql.NullString
		retroactive  int
		relatedFiles string
		commitSHAs   string
		createdAt    string
		updatedAt    string
	)
	if err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.AcceptanceCriteria, &t.TechnicalNotes,
		&status, &priority, &storyPoints, &t.Epic, &remoteKey, &syncStatus, &lastSynced,
		&retroactive, &origin, &relatedFiles, &commitSHAs, &t.DominantBranch,
		&t.FilesModified, &t.LinesAdded, &t.LinesRemoved, &createdAt, &updatedAt, &t.Version,
	); err != nil {
		return nil, err
	}

	t.Status = types.Status(status)
	t.Priority = types.Priority(priority)
	t.SyncStatus = types.SyncStatus(syncStatus)
	t.Origin = types.Origin(origin)
	t.StoryPoints = intPtr(storyPoints)
	t.RemoteIssueKey = stringPtr(remoteKey)
	t.Retroactive = retroactive != 0

	var err error
	if t.LastSyncedAt, err = parseTimePtr(lastSynced); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if t.RelatedFiles, err = decodeList(relatedFiles); err != nil {
		return nil, fmt.Errorf("task %s related_files: %w", t.ID, err)
	}
	if t.CommitSHAs, err = decodeList(commitSHAs); err != nil {
		return nil, fmt.Errorf("task %s commit_shas: %w", t.ID, err)
	}
	return &t, nil
}

func (s *Store) getTaskWhere(ctx context.Context, where string, arg any) (*types.Task, error) {
	var task *types.Task
	err := s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE "+where, arg) //nolint:gosec // where is a constant
		var scanErr error
		task, scanErr = scanTask(row)
		return scanErr
	})
	return task, err
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	task, err := s.getTaskWhere(ctx, "id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// GetTaskByRemoteKey retrieves the task owning key.
func (s *Store) GetTaskByRemoteKey(ctx context.Context, key string) (*types.Task, error) {
	task, err := s.getTaskWhere(ctx, "remote_issue_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("remote key %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task by remote key %s: %w", key, err)
	}
	return task, nil
}

// UpsertTask inserts or replaces the task by id, bumping Version. A nil
// RemoteIssueKey keeps the stored key.
func (s *Store) UpsertTask(ctx context.Context, task *types.Task) (*types.Task, error) {
	if task == nil {
		return nil, fmt.Errorf("task is nil")
	}
	t := task.Clone()
	t.SetDefaults()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("validate task %s: %w", t.ID, err)
	}
	now := s.now().UTC()
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if key := t.RemoteKey(); key != "" {
			var owner string
			err := tx.QueryRowContext(ctx, `SELECT id FROM tasks WHERE remote_issue_key = ? AND id <> ?`, key, t.ID).Scan(&owner)
			if err == nil {
				return fmt.Errorf("remote key %s already owned by %s: %w", key, owner, storage.ErrConflict)
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("check remote key owner: %w", err)
			}
		}

		var (
			version   int64
			createdAt string
			remoteKey sql.NullString
		)
		err := tx.QueryRowContext(ctx, `SELECT version, created_at, remote_issue_key FROM tasks WHERE id = ?`, t.ID).Scan(&version, &createdAt, &remoteKey)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			t.Version = 1
			return insertTask(ctx, tx, t)
		case err != nil:
			return fmt.Errorf("read task version: %w", err)
		}

		created, err := parseTime(createdAt)
		if err != nil {
			return err
		}
		t.CreatedAt = created
		if t.RemoteIssueKey == nil {
			// Upsert never unlinks a claimed key.
			t.RemoteIssueKey = stringPtr(remoteKey)
		}
		t.Version = version + 1
		return updateTask(ctx, tx, t, version)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("upsert task %s: %v: %w", t.ID, err, storage.ErrConflict)
		}
		return nil, fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return t, nil
}

func insertTask(ctx context.Context, tx *sql.Tx, t *types.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.AcceptanceCriteria, t.TechnicalNotes,
		string(t.Status), string(t.Priority), nullInt(t.StoryPoints), t.Epic, nullString(t.RemoteIssueKey),
		string(t.SyncStatus), formatTimePtr(t.LastSyncedAt), boolToInt(t.Retroactive), string(t.Origin),
		encodeList(t.RelatedFiles), encodeList(t.CommitSHAs), t.DominantBranch,
		t.FilesModified, t.LinesAdded, t.LinesRemoved,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), t.Version,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func updateTask(ctx context.Context, tx *sql.Tx, t *types.Task, prevVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET
        title = ?, description = ?, acceptance_criteria = ?, technical_notes = ?,
        status = ?, priority = ?, story_points = ?, epic = ?, remote_issue_key = ?,
        sync_status = ?, last_synced_at = ?, retroactive = ?, origin = ?,
        related_files = ?, commit_shas = ?, dominant_branch = ?,
        files_modified = ?, lines_added = ?, lines_removed = ?,
        updated_at = ?, version = ?
        WHERE id = ? AND version = ?`,
		t.Title, t.Description, t.AcceptanceCriteria, t.TechnicalNotes,
		string(t.Status), string(t.Priority), nullInt(t.StoryPoints), t.Epic, nullString(t.RemoteIssueKey),
		string(t.SyncStatus), formatTimePtr(t.LastSyncedAt), boolToInt(t.Retroactive), string(t.Origin),
		encodeList(t.RelatedFiles), encodeList(t.CommitSHAs), t.DominantBranch,
		t.FilesModified, t.LinesAdded, t.LinesRemoved,
		formatTime(t.UpdatedAt), t.Version,
		t.ID, prevVersion,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s changed concurrently: %w", t.ID, storage.ErrConflict)
	}
	return nil
}

// ClaimRemoteKey assigns key to the task if its version still equals
// expectedVersion and no other task owns key.
func (s *Store) ClaimRemoteKey(ctx context.Context, taskID, key string, expectedVersion int64) (*types.Task, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("remote key is required")
	}
	res, err := s.execContext(ctx, `UPDATE tasks SET remote_issue_key = ?, version = version + 1
        WHERE id = ? AND version = ? AND (remote_issue_key IS NULL OR remote_issue_key = ?)`,
		key, taskID, expectedVersion, key)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("remote key %s already owned: %w", key, storage.ErrConflict)
		}
		return nil, fmt.Errorf("claim remote key %s for %s: %w", key, taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a missing task from a lost race.
		if _, getErr := s.GetTask(ctx, taskID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("claim %s for %s at version %d: %w", key, taskID, expectedVersion, storage.ErrConflict)
	}
	return s.GetTask(ctx, taskID)
}

// ReserveCreate marks an unlinked task pending if its version still equals
// expectedVersion.
func (s *Store) ReserveCreate(ctx context.Context, taskID string, expectedVersion int64) (*types.Task, error) {
	res, err := s.execContext(ctx, `UPDATE tasks SET sync_status = ?, version = version + 1
        WHERE id = ? AND version = ? AND remote_issue_key IS NULL AND sync_status <> ?`,
		string(types.SyncStatusPending), taskID, expectedVersion, string(types.SyncStatusPending))
	if err != nil {
		return nil, fmt.Errorf("reserve %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reserve rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetTask(ctx, taskID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("reserve %s at version %d: %w", taskID, expectedVersion, storage.ErrConflict)
	}
	return s.GetTask(ctx, taskID)
}

func (s *Store) listTasks(ctx context.Context, where []string, args []any, limit int) ([]*types.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.queryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func inClause(column string, values []string) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")), args
}

// ListTasks returns tasks matching filter, ordered by id.
func (s *Store) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.IDs) > 0 {
		clause, inArgs := inClause("id", filter.IDs)
		where = append(where, clause)
		args = append(args, inArgs...)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.SyncStatus != nil {
		where = append(where, "sync_status = ?")
		args = append(args, string(*filter.SyncStatus))
	}
	if filter.Epic != "" {
		where = append(where, "epic = ?")
		args = append(args, filter.Epic)
	}
	if filter.Retroactive != nil {
		where = append(where, "retroactive = ?")
		args = append(args, boolToInt(*filter.Retroactive))
	}
	return s.listTasks(ctx, where, args, filter.Limit)
}

// ListTasksStale returns tasks never synced or updated since their last sync.
func (s *Store) ListTasksStale(ctx context.Context, forceAll bool, ids []string) ([]*types.Task, error) {
	var (
		where []string
		args  []any
	)
	if len(ids) > 0 {
		clause, inArgs := inClause("id", ids)
		where = append(where, clause)
		args = append(args, inArgs...)
	}
	if !forceAll {
		where = append(where, "(last_synced_at IS NULL OR last_synced_at < updated_at)")
	}
	return s.listTasks(ctx, where, args, 0)
}

// ListTasksByPrefix returns tasks whose id is prefix + "-" + suffix.
func (s *Store) ListTasksByPrefix(ctx context.Context, prefix string) ([]*types.Task, error) {
	tasks, err := s.listTasks(ctx, []string{"id LIKE ?"}, []any{escapeLike(prefix) + "-%"}, 0)
	if err != nil {
		return nil, err
	}
	// LIKE escaping differs across dialects; re-check exactly.
	out := tasks[:0]
	for _, t := range tasks {
		if storage.HasIDPrefix(t.ID, prefix) {
			out = append(out, t)
		}
	}
	return out, nil
}

// escapeLike turns "%" into the single-character wildcard "_". The match
// only widens and results are re-checked in Go.
func escapeLike(s string) string {
	return strings.ReplaceAll(s, "%", "_")
}
