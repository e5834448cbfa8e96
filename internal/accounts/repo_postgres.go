package accounts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"payments-portal/internal/auth"
	"payments-portal/pkg/utils"
)

// NOTE: This repository assumes the accounts table from db/schema.sql with UNIQUE (username).

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, a Account) error {
	const q = `
INSERT INTO accounts (id, username, password_hash, principal_type, failed_attempts, locked_until, created_at)
VALUES ($1,$2,$3,$4,0,NULL,$5)
`
	_, err := r.db.ExecContext(ctx, q, a.ID, normalizeUsername(a.Username), a.PasswordHash, string(a.Type), a.CreatedAt)
	if utils.IsUniqueViolation(err, "accounts_username_key") {
		return ErrDuplicate
	}
	return err
}

func (r *PostgresRepo) FindByUsername(ctx context.Context, username string) (Account, error) {
	const q = `
SELECT id, username, password_hash, principal_type, failed_attempts, locked_until, created_at
FROM accounts
WHERE username = $1
`
	a, err := scanAccount(r.db.QueryRowContext(ctx, q, normalizeUsername(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (r *PostgresRepo) RegisterFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (Account, error) {
	// Single statement so concurrent failures cannot undercount.
	const q = `
UPDATE accounts
SET failed_attempts = failed_attempts + 1,
    locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE locked_until END
WHERE id = $1
RETURNING id, username, password_hash, principal_type, failed_attempts, locked_until, created_at
`
	a, err := scanAccount(r.db.QueryRowContext(ctx, q, id, maxAttempts, lockUntil))
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (r *PostgresRepo) ResetFailures(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET failed_attempts = 0, locked_until = NULL WHERE id = $1`, id)
	return err
}

func scanAccount(row *sql.Row) (Account, error) {
	var (
		a     Account
		ptype string
	)
	if err := row.Scan(
		&a.ID,
		&a.Username,
		&a.PasswordHash,
		&ptype,
		&a.FailedAttempts,
		&a.LockedUntil,
		&a.CreatedAt,
	); err != nil {
		return Account{}, err
	}
	a.Type = auth.PrincipalType(ptype)
	return a, nil
}
