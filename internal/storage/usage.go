package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// IncrementDailyUsage bumps the per-day counter and returns the new count.
func (s *Store) IncrementDailyUsage(ctx context.Context, day string, userID int64) (int, error) {
	q := s.sql.Insert("daily_usage").
		Columns("day", "user_id", "count").
		Values(day, userID, 1).
		Suffix("ON CONFLICT(day, user_id) DO UPDATE SET count=daily_usage.count+1")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build daily usage query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return 0, fmt.Errorf("increment daily usage: %w", err)
	}
	return s.GetDailyUsage(ctx, day, userID)
}

func (s *Store) GetDailyUsage(ctx context.Context, day string, userID int64) (int, error) {
	q := s.sql.Select("count").
		From("daily_usage").
		Where(sq.Eq{"day": day, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build daily usage count query: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get daily usage: %w", err)
	}
	return count, nil
}

// RecordRun updates a user's lifetime check-in counter and last run time.
func (s *Store) RecordRun(ctx context.Context, userID int64, at time.Time) error {
	q := s.sql.Insert("usage_stats").
		Columns("user_id", "total_count", "last_run").
		Values(userID, 1, at).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET total_count=usage_stats.total_count+1, last_run=excluded.last_run")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build usage stats query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *Store) GetUsageStat(ctx context.Context, userID int64) (UsageStat, error) {
	q := s.sql.Select("user_id", "total_count", "last_run").
		From("usage_stats").
		Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return UsageStat{}, fmt.Errorf("build usage stat query: %w", err)
	}
	var st UsageStat
	var lastRun sql.NullTime
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&st.UserID, &st.TotalCount, &lastRun); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UsageStat{}, ErrNotFound
		}
		return UsageStat{}, fmt.Errorf("get usage stat: %w", err)
	}
	if lastRun.Valid {
		lr := lastRun.Time
		st.LastRun = &lr
	}
	return st, nil
}

// ListTopUsers returns lifetime stats ordered by total check-ins, capped at limit.
func (s *Store) ListTopUsers(ctx context.Context, limit uint64) ([]UsageStat, error) {
	q := s.sql.Select("user_id", "total_count", "last_run").
		From("usage_stats").
		OrderBy("total_count DESC").
		Limit(limit)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build top users query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list top users: %w", err)
	}
	defer rows.Close()

	out := make([]UsageStat, 0)
	for rows.Next() {
		var st UsageStat
		var lastRun sql.NullTime
		if err := rows.Scan(&st.UserID, &st.TotalCount, &lastRun); err != nil {
			return nil, fmt.Errorf("scan usage stat row: %w", err)
		}
		if lastRun.Valid {
			lr := lastRun.Time
			st.LastRun = &lr
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage stat rows: %w", err)
	}
	return out, nil
}

// CountStats returns aggregate totals for the /stats overview.
func (s *Store) CountStats(ctx context.Context) (users int64, checkins int64, err error) {
	q := s.sql.Select("COUNT(*)", "COALESCE(SUM(total_count), 0)").From("usage_stats")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, 0, fmt.Errorf("build count stats query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&users, &checkins); err != nil {
		return 0, 0, fmt.Errorf("count stats: %w", err)
	}
	return users, checkins, nil
}

func (s *Store) CountAccounts(ctx context.Context) (int64, error) {
	return s.countRows(ctx, "accounts")
}

func (s *Store) CountTasks(ctx context.Context) (int64, error) {
	return s.countRows(ctx, "tasks")
}

func (s *Store) countRows(ctx context.Context, table string) (int64, error) {
	q := s.sql.Select("COUNT(*)").From(table)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s count query: %w", table, err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
