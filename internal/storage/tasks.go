package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) UpsertTask(ctx context.Context, t Task) error {
	q := s.sql.Insert("tasks").
		Columns("id", "user_id", "site", "hour", "minute", "enabled").
		Values(t.ID, t.UserID, t.Site, t.Hour, t.Minute, t.Enabled).
		Suffix("ON CONFLICT(id) DO UPDATE SET enabled=excluded.enabled")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build task upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	q := s.sql.Select("id", "user_id", "site", "hour", "minute", "enabled", "created_at", "last_run").
		From("tasks").
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Task{}, fmt.Errorf("build task query: %w", err)
	}

	t, err := scanTask(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasksForUser(ctx context.Context, userID int64) ([]Task, error) {
	return s.listTasks(ctx, sq.Eq{"user_id": userID})
}

// ListEnabledTasks returns every enabled task; the scheduler matches their
// (hour, minute) against the current wall clock each scan.
func (s *Store) ListEnabledTasks(ctx context.Context) ([]Task, error) {
	return s.listTasks(ctx, sq.Eq{"enabled": true})
}

func (s *Store) listTasks(ctx context.Context, where sq.Sqlizer) ([]Task, error) {
	q := s.sql.Select("id", "user_id", "site", "hour", "minute", "enabled", "created_at", "last_run").
		From("tasks").
		Where(where).
		OrderBy("created_at ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list tasks query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func (s *Store) SetTaskLastRun(ctx context.Context, id string, at time.Time) error {
	q := s.sql.Update("tasks").
		Set("last_run", at).
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build task last_run query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("set task last_run: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	q := s.sql.Update("tasks").
		Set("enabled", enabled).
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build task enabled query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("set task enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task. ownerID 0 means any owner (admin path).
func (s *Store) DeleteTask(ctx context.Context, id string, ownerID int64) error {
	where := sq.Eq{"id": id}
	if ownerID != 0 {
		where["user_id"] = ownerID
	}
	q := s.sql.Delete("tasks").Where(where)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete task query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (Task, error) {
	var t Task
	var lastRun sql.NullTime
	if err := r.Scan(&t.ID, &t.UserID, &t.Site, &t.Hour, &t.Minute, &t.Enabled, &t.CreatedAt, &lastRun); err != nil {
		return Task{}, err
	}
	if lastRun.Valid {
		lr := lastRun.Time
		t.LastRun = &lr
	}
	return t, nil
}
