package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"payments-portal/pkg/utils"
)

// NOTE: This repository assumes the audit_logs table from db/schema.sql, in particular:
// - UNIQUE (seq), UNIQUE (hash)
// - a partial unique index on jti WHERE action = 'ACTION_TOKEN_CONSUMED'
//
// Metadata is TEXT, not JSONB: the stored bytes must be exactly the hashed bytes.

const (
	chainLockName        = "audit_logs_chain"
	consumedJTIIndexName = "audit_logs_consumed_jti_key"
	scanBatchSize        = 500
)

const entryColumns = `id, seq, entity_type, entity_id, action, ip_address, user_agent, metadata, jti, ts, prev_hash, hash`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) WithChain(ctx context.Context, fn func(ctx context.Context, tx ChainTx) error) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return WithChainTx(ctx, tx, fn)
	})
}

// WithChainTx takes the chain lock inside a transaction owned by the caller.
// Other repositories use it to commit their rows and ledger entries together.
func WithChainTx(ctx context.Context, tx *sql.Tx, fn func(ctx context.Context, tx ChainTx) error) error {
	if err := utils.AdvisoryXactLock(ctx, tx, chainLockName); err != nil {
		return err
	}
	return fn(ctx, &pgChainTx{tx: tx})
}

func (r *PostgresRepo) Exists(ctx context.Context, action Action, jti string) (bool, error) {
	return existsJTI(ctx, r.db, action, jti)
}

func (r *PostgresRepo) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	where, args := f.whereClause()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	idx := len(args) + 1
	q := `SELECT ` + entryColumns + ` FROM audit_logs` + where +
		fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Entry, 0, f.Limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// Scan pages through the ledger by seq so memory stays bounded on large chains.
func (r *PostgresRepo) Scan(ctx context.Context, fn func(Entry) error) error {
	const q = `SELECT ` + entryColumns + ` FROM audit_logs WHERE seq > $1 ORDER BY seq ASC LIMIT $2`
	var after int64
	for {
		batch, err := r.scanBatch(ctx, q, after)
		if err != nil {
			return err
		}
		for _, e := range batch {
			if err := fn(e); err != nil {
				return err
			}
			after = e.Seq
		}
		if len(batch) < scanBatchSize {
			return nil
		}
	}
}

func (r *PostgresRepo) scanBatch(ctx context.Context, q string, after int64) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, q, after, scanBatchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type pgChainTx struct {
	tx *sql.Tx
}

func (t *pgChainTx) Head(ctx context.Context) (Entry, bool, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM audit_logs ORDER BY seq DESC LIMIT 1`)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

func (t *pgChainTx) Insert(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO audit_logs (
  id, seq, entity_type, entity_id, action, ip_address, user_agent, metadata, jti, ts, prev_hash, hash
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := t.tx.ExecContext(ctx, q,
		e.ID,
		e.Seq,
		e.EntityType,
		e.EntityID,
		string(e.Action),
		e.IPAddress,
		e.UserAgent,
		e.Metadata,
		nullString(e.JTI),
		e.Timestamp,
		e.PrevHash,
		e.Hash,
	)
	if err != nil {
		if utils.IsUniqueViolation(err, consumedJTIIndexName) {
			return ErrDuplicateConsumption
		}
		return err
	}
	return nil
}

func (t *pgChainTx) Exists(ctx context.Context, action Action, jti string) (bool, error) {
	return existsJTI(ctx, t.tx, action, jti)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func existsJTI(ctx context.Context, q queryRower, action Action, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	var ok bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM audit_logs WHERE action = $1 AND jti = $2)`,
		string(action), jti,
	).Scan(&ok)
	return ok, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (Entry, error) {
	var (
		e      Entry
		action string
		jti    sql.NullString
	)
	if err := s.Scan(
		&e.ID,
		&e.Seq,
		&e.EntityType,
		&e.EntityID,
		&action,
		&e.IPAddress,
		&e.UserAgent,
		&e.Metadata,
		&jti,
		&e.Timestamp,
		&e.PrevHash,
		&e.Hash,
	); err != nil {
		return Entry{}, err
	}
	e.Action = Action(action)
	e.JTI = jti.String
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

func (f Filter) whereClause() (string, []any) {
	clauses := []string{}
	args := []any{}
	idx := 1

	add := func(col, val string) {
		if val == "" {
			return
		}
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}
	add("entity_type", f.EntityType)
	add("entity_id", f.EntityID)
	add("action", string(f.Action))
	add("jti", f.JTI)

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
