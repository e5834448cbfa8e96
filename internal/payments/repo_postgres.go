package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"payments-portal/internal/audit"
	"payments-portal/pkg/utils"
)

// NOTE: This repository assumes the payments table from db/schema.sql,
// including UNIQUE (transaction_id).

const paymentColumns = `id, transaction_id, customer_id, amount, currency, recipient_account, swift_code, status,
       created_at, verified_at, verified_by, submitted_to_swift_at, submitted_by`

const transactionIDIndexName = "payments_transaction_id_key"

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, p Payment, fn func(ctx context.Context, tx audit.ChainTx) error) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO payments (
  id, transaction_id, customer_id, amount, currency, recipient_account, swift_code, status, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
		_, err := tx.ExecContext(ctx, q,
			p.ID,
			p.TransactionID,
			p.CustomerID,
			p.Amount,
			p.Currency,
			p.RecipientAccount,
			p.SwiftCode,
			string(p.Status),
			p.CreatedAt,
		)
		if err != nil {
			if utils.IsUniqueViolation(err, transactionIDIndexName) {
				return ErrDuplicateTransaction
			}
			return err
		}
		return audit.WithChainTx(ctx, tx, fn)
	})
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Payment, error) {
	if !utf8.ValidString(id) {
		return Payment{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Payment, error) {
	where, args := f.whereClause()
	idx := len(args) + 1
	q := `SELECT ` + paymentColumns + ` FROM payments` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Transition(ctx context.Context, id string, fn func(ctx context.Context, p *Payment, tx audit.ChainTx) error) error {
	// Postgres rejects invalid UTF-8 parameters; no stored id can match one.
	if !utf8.ValidString(id) {
		return ErrNotFound
	}
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the payment row to serialize concurrent transitions per payment.
		row := tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
		current, err := scanPayment(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		next := current
		if err := audit.WithChainTx(ctx, tx, func(ctx context.Context, chain audit.ChainTx) error {
			return fn(ctx, &next, chain)
		}); err != nil {
			return err
		}
		return updateStatus(ctx, tx, current.Status, next)
	})
}

// updateStatus is a compare-and-set on status; the row lock makes a miss
// impossible unless the row changed outside this repository.
func updateStatus(ctx context.Context, tx *sql.Tx, from Status, p Payment) error {
	const q = `
UPDATE payments
SET status = $1, verified_at = $2, verified_by = $3, submitted_to_swift_at = $4, submitted_by = $5
WHERE id = $6 AND status = $7
`
	res, err := tx.ExecContext(ctx, q,
		string(p.Status),
		p.VerifiedAt,
		nullString(p.VerifiedBy),
		p.SubmittedToSwiftAt,
		nullString(p.SubmittedBy),
		p.ID,
		string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("payment %s changed concurrently", p.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(s rowScanner) (Payment, error) {
	var (
		p           Payment
		status      string
		verifiedBy  sql.NullString
		submittedBy sql.NullString
	)
	if err := s.Scan(
		&p.ID,
		&p.TransactionID,
		&p.CustomerID,
		&p.Amount,
		&p.Currency,
		&p.RecipientAccount,
		&p.SwiftCode,
		&status,
		&p.CreatedAt,
		&p.VerifiedAt,
		&verifiedBy,
		&p.SubmittedToSwiftAt,
		&submittedBy,
	); err != nil {
		return Payment{}, err
	}
	p.Status = Status(status)
	p.VerifiedBy = verifiedBy.String
	p.SubmittedBy = submittedBy.String
	return p, nil
}

func (f ListFilter) whereClause() (string, []any) {
	clauses := []string{}
	args := []any{}
	idx := 1
	if f.CustomerID != "" {
		clauses = append(clauses, fmt.Sprintf("customer_id = $%d", idx))
		args = append(args, f.CustomerID)
		idx++
	}
	if f.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", idx))
		args = append(args, string(f.Status))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
