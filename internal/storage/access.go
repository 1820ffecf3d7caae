package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) AddAllowed(ctx context.Context, userID, addedBy int64) error {
	q := s.sql.Insert("allowed_users").
		Columns("user_id", "added_by").
		Values(userID, addedBy).
		Suffix("ON CONFLICT(user_id) DO NOTHING")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build add allowed query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("add allowed: %w", err)
	}
	return nil
}

func (s *Store) RemoveAllowed(ctx context.Context, userID int64) error {
	q := s.sql.Delete("allowed_users").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build remove allowed query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("remove allowed: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) IsAllowed(ctx context.Context, userID int64) (bool, error) {
	return s.exists(ctx, "allowed_users", userID)
}

func (s *Store) ListAllowed(ctx context.Context) ([]int64, error) {
	return s.listUserIDs(ctx, "allowed_users")
}

func (s *Store) AddBanned(ctx context.Context, userID int64, reason string) error {
	q := s.sql.Insert("banned_users").
		Columns("user_id", "reason").
		Values(userID, reason).
		Suffix("ON CONFLICT(user_id) DO NOTHING")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build add banned query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("add banned: %w", err)
	}
	return nil
}

func (s *Store) RemoveBanned(ctx context.Context, userID int64) error {
	q := s.sql.Delete("banned_users").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build remove banned query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("remove banned: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) IsBanned(ctx context.Context, userID int64) (bool, error) {
	return s.exists(ctx, "banned_users", userID)
}

func (s *Store) ListBanned(ctx context.Context) ([]int64, error) {
	return s.listUserIDs(ctx, "banned_users")
}

// UpsertTempGrant records a time-boxed allowance, typically after an unban.
func (s *Store) UpsertTempGrant(ctx context.Context, userID int64, expiresAt time.Time) error {
	q := s.sql.Insert("temp_grants").
		Columns("user_id", "expires_at").
		Values(userID, expiresAt).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET expires_at=excluded.expires_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build temp grant query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert temp grant: %w", err)
	}
	return nil
}

func (s *Store) GetTempGrant(ctx context.Context, userID int64) (TempGrant, error) {
	q := s.sql.Select("user_id", "expires_at").
		From("temp_grants").
		Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return TempGrant{}, fmt.Errorf("build get temp grant query: %w", err)
	}
	var g TempGrant
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&g.UserID, &g.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TempGrant{}, ErrNotFound
		}
		return TempGrant{}, fmt.Errorf("get temp grant: %w", err)
	}
	return g, nil
}

// IncrementAdminAttempt bumps the per-day counter for a non-admin user poking
// at admin commands and returns the new count.
func (s *Store) IncrementAdminAttempt(ctx context.Context, userID int64, day, command string) (int, error) {
	q := s.sql.Insert("admin_attempts").
		Columns("user_id", "day", "count", "last_command").
		Values(userID, day, 1, command).
		Suffix("ON CONFLICT(user_id, day) DO UPDATE SET count=admin_attempts.count+1, last_command=excluded.last_command")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build admin attempt query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return 0, fmt.Errorf("increment admin attempt: %w", err)
	}

	sel := s.sql.Select("count").From("admin_attempts").Where(sq.Eq{"user_id": userID, "day": day})
	sqlStr, args, err = sel.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build admin attempt count query: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("read admin attempt count: %w", err)
	}
	return count, nil
}

func (s *Store) exists(ctx context.Context, table string, userID int64) (bool, error) {
	q := s.sql.Select("1").From(table).Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build %s exists query: %w", table, err)
	}
	var one int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%s exists: %w", table, err)
	}
	return true, nil
}

func (s *Store) listUserIDs(ctx context.Context, table string) ([]int64, error) {
	q := s.sql.Select("user_id").From(table).OrderBy("user_id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s list query: %w", table, err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}
	return out, nil
}
