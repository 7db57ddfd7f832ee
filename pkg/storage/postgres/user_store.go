package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/porthorian/statelessauth/pkg/authz"
	"github.com/porthorian/statelessauth/pkg/storage"
)

const (
	putUserQuery = `
INSERT INTO statelessauth.users (
  name, secret_hash, date_added, date_modified
) VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE
SET
  secret_hash = EXCLUDED.secret_hash,
  date_modified = EXCLUDED.date_modified
`

	getUserQuery = `
SELECT
  name, secret_hash, date_added, date_modified
FROM statelessauth.users
WHERE name = $1
`

	deleteUserQuery = `DELETE FROM statelessauth.users WHERE name = $1`

	deleteUserAuthoritiesQuery = `
DELETE FROM statelessauth.user_authorities
WHERE user_name = $1
`

	putUserAuthorityQuery = `
INSERT INTO statelessauth.user_authorities (
  user_name, authority, date_added
) VALUES ($1, $2, $3)
ON CONFLICT (user_name, authority) DO NOTHING
`

	listUserAuthoritiesQuery = `
SELECT
  authority
FROM statelessauth.user_authorities
WHERE user_name = $1
ORDER BY authority
`
)

func normalizeUserName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// PutUser upserts the user and replaces its authorities in one transaction.
func (a *Adapter) PutUser(ctx context.Context, record storage.UserRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	name := normalizeUserName(record.Name)
	if name == "" {
		return ErrEmptyKey
	}

	db, err := a.requireDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := a.currentTime()
	dateAdded := record.DateAdded.UTC()
	if record.DateAdded.IsZero() {
		dateAdded = now
	}

	putUserStmt := tx.StmtContext(ctx, a.stmts.putUser)
	_, err = putUserStmt.ExecContext(ctx, name, record.SecretHash, dateAdded, now)
	_ = putUserStmt.Close()
	if err != nil {
		return err
	}

	deleteStmt := tx.StmtContext(ctx, a.stmts.deleteUserAuthority)
	if _, err := deleteStmt.ExecContext(ctx, name); err != nil {
		_ = deleteStmt.Close()
		return err
	}
	_ = deleteStmt.Close()

	authorities := normalizeAuthorities(record.Authorities)
	if len(authorities) > 0 {
		putAuthorityStmt := tx.StmtContext(ctx, a.stmts.putUserAuthority)
		for _, authority := range authorities {
			if _, err := putAuthorityStmt.ExecContext(ctx, name, authority, now); err != nil {
				_ = putAuthorityStmt.Close()
				return err
			}
		}
		_ = putAuthorityStmt.Close()
	}

	return tx.Commit()
}

func (a *Adapter) GetUser(ctx context.Context, name string) (storage.UserRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.UserRecord{}, err
	}

	name = normalizeUserName(name)
	record, err := scanUser(a.stmts.getUser.QueryRowContext(ctx, name))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.UserRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.UserRecord{}, err
	}

	authorities, err := a.listAuthorities(ctx, name)
	if err != nil {
		return storage.UserRecord{}, err
	}
	record.Authorities = authorities

	return record, nil
}

func (a *Adapter) DeleteUser(ctx context.Context, name string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	_, err := a.stmts.deleteUser.ExecContext(ctx, normalizeUserName(name))
	return err
}

func (a *Adapter) listAuthorities(ctx context.Context, name string) ([]string, error) {
	rows, err := a.stmts.listUserAuthorities.QueryContext(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	authorities := []string{}
	for rows.Next() {
		var authority string
		if err := rows.Scan(&authority); err != nil {
			return nil, err
		}
		authorities = append(authorities, authority)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return authorities, nil
}

func scanUser(s scanner) (storage.UserRecord, error) {
	var (
		record       storage.UserRecord
		dateModified sql.NullTime
	)

	if err := s.Scan(
		&record.Name,
		&record.SecretHash,
		&record.DateAdded,
		&dateModified,
	); err != nil {
		return storage.UserRecord{}, err
	}

	record.DateAdded = record.DateAdded.UTC()
	if dateModified.Valid {
		t := dateModified.Time.UTC()
		record.DateModified = &t
	}

	return record, nil
}

func normalizeAuthorities(authorities []string) []string {
	if len(authorities) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(authorities))
	normalized := make([]string, 0, len(authorities))
	for _, authority := range authorities {
		value := authz.NormalizeAuthority(authority)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
	}
	sort.Strings(normalized)
	return normalized
}
