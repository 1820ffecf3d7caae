package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) LogAdminAction(ctx context.Context, userID int64, action, detail string) error {
	q := s.sql.Insert("admin_log").
		Columns("user_id", "action", "detail").
		Values(userID, action, detail)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build admin log query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("log admin action: %w", err)
	}
	return nil
}

func (s *Store) ListAdminLog(ctx context.Context, limit uint64) ([]AdminLogEntry, error) {
	q := s.sql.Select("id", "user_id", "action", "detail", "created_at").
		From("admin_log").
		OrderBy("created_at DESC", "id DESC").
		Limit(limit)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build admin log list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list admin log: %w", err)
	}
	defer rows.Close()

	out := make([]AdminLogEntry, 0)
	for rows.Next() {
		var e AdminLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin log row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin log rows: %w", err)
	}
	return out, nil
}

func (s *Store) CountAdminLog(ctx context.Context) (int64, error) {
	q := s.sql.Select("COUNT(*)").From("admin_log")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build admin log count query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count admin log: %w", err)
	}
	return n, nil
}

// GetSetting returns ErrNotFound when the key is absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	q := s.sql.Select("value").From("settings").Where(sq.Eq{"key": key})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build setting query: %w", err)
	}
	var value string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	q := s.sql.Insert("settings").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value=excluded.value")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set setting query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func (s *Store) SetQuotaOverride(ctx context.Context, userID int64, dailyLimit int) error {
	q := s.sql.Insert("quota_overrides").
		Columns("user_id", "daily_limit").
		Values(userID, dailyLimit).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET daily_limit=excluded.daily_limit")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build quota override query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set quota override: %w", err)
	}
	return nil
}

func (s *Store) GetQuotaOverride(ctx context.Context, userID int64) (int, error) {
	q := s.sql.Select("daily_limit").From("quota_overrides").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build quota override query: %w", err)
	}
	var limit int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get quota override: %w", err)
	}
	return limit, nil
}

func (s *Store) RemoveQuotaOverride(ctx context.Context, userID int64) error {
	q := s.sql.Delete("quota_overrides").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build remove quota override query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("remove quota override: %w", err)
	}
	return nil
}
