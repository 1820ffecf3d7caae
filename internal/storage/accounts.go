package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

func (s *Store) UpsertAccount(ctx context.Context, a Account) error {
	q := s.sql.Insert("accounts").
		Columns("site", "user_id", "username", "enc_password", "enc_totp_secret", "updated_at").
		Values(a.Site, a.UserID, a.Username, a.EncPassword, a.EncTOTPSecret, nowExpr(s.driver)).
		Suffix("ON CONFLICT(site, user_id) DO UPDATE SET username=excluded.username, enc_password=excluded.enc_password, enc_totp_secret=excluded.enc_totp_secret, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build account upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, site string, userID int64) (Account, error) {
	q := s.sql.Select("site", "user_id", "username", "enc_password", "enc_totp_secret", "created_at", "updated_at").
		From("accounts").
		Where(sq.Eq{"site": site, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Account{}, fmt.Errorf("build account query: %w", err)
	}

	var a Account
	var encTOTP sql.NullString
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&a.Site,
		&a.UserID,
		&a.Username,
		&a.EncPassword,
		&encTOTP,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	if encTOTP.Valid {
		a.EncTOTPSecret = &encTOTP.String
	}
	return a, nil
}

func (s *Store) ListAccountsForUser(ctx context.Context, userID int64) ([]Account, error) {
	q := s.sql.Select("site", "user_id", "username", "enc_password", "enc_totp_secret", "created_at", "updated_at").
		From("accounts").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("site ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list accounts query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := make([]Account, 0)
	for rows.Next() {
		var a Account
		var encTOTP sql.NullString
		if err := rows.Scan(&a.Site, &a.UserID, &a.Username, &a.EncPassword, &encTOTP, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		if encTOTP.Valid {
			a.EncTOTPSecret = &encTOTP.String
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}
	return out, nil
}

// DeleteAccountsForUser removes every site binding a user holds. Used by /unbind.
func (s *Store) DeleteAccountsForUser(ctx context.Context, userID int64) (int64, error) {
	q := s.sql.Delete("accounts").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete accounts query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("delete accounts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
