package pgledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/dbx"
	"github.com/dmitrijs2005/paylock/internal/ledger"
)

// queries runs the ledger statements against a connection or transaction.
type queries struct {
	db dbx.DBTX
}

func dbErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrLedgerSubmission, op, err)
}

// amount converts a base-unit value to the BIGINT column range.
func amount(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: amount %d exceeds ledger range", common.ErrLedgerSubmission, v)
	}
	return int64(v), nil
}

func (q queries) recordTransaction(ctx context.Context, digest string, in ledger.Intent) error {
	payment, err := amount(in.Payment)
	if err != nil {
		return err
	}
	query :=
		`INSERT INTO transactions (digest, sender, nonce, module, function, payment)
		 VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = q.db.ExecContext(ctx, query, digest, string(in.Sender), in.Nonce, in.Module, in.Function, payment)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return ledger.ErrReplay
		}
		return dbErr("record transaction", err)
	}
	return nil
}

// withdraw debits addr and reports false when the balance is too low.
func (q queries) withdraw(ctx context.Context, addr ledger.Address, v uint64) (bool, error) {
	a, err := amount(v)
	if err != nil {
		return false, err
	}
	query :=
		`UPDATE balances SET amount = amount - $2
		 WHERE address = $1 AND amount >= $2`

	res, err := q.db.ExecContext(ctx, query, string(addr), a)
	if err != nil {
		return false, dbErr("withdraw", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("withdraw", err)
	}
	return n == 1, nil
}

func (q queries) credit(ctx context.Context, addr ledger.Address, v uint64) error {
	a, err := amount(v)
	if err != nil {
		return err
	}
	query :=
		`INSERT INTO balances (address, amount) VALUES ($1, $2)
		 ON CONFLICT (address) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`

	if _, err := q.db.ExecContext(ctx, query, string(addr), a); err != nil {
		return dbErr("credit", err)
	}
	return nil
}

func (q queries) balance(ctx context.Context, addr ledger.Address) (uint64, error) {
	var a int64
	err := q.db.QueryRowContext(ctx, `SELECT amount FROM balances WHERE address = $1`, string(addr)).Scan(&a)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, dbErr("balance", err)
	}
	return uint64(a), nil
}

func (q queries) object(ctx context.Context, id ledger.ObjectID, lock bool) ([]byte, error) {
	query := `SELECT data FROM objects WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var data []byte
	if err := q.db.QueryRowContext(ctx, query, string(id)).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrObjectNotFound, id)
		}
		return nil, dbErr("read object", err)
	}
	return data, nil
}

// putObject upserts an object and reports whether it was created.
func (q queries) putObject(ctx context.Context, id ledger.ObjectID, data []byte, digest string) (bool, error) {
	query :=
		`INSERT INTO objects (id, data, updated_tx) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE
		 SET data = EXCLUDED.data, version = objects.version + 1, updated_tx = EXCLUDED.updated_tx
		 RETURNING version`

	var version int64
	if err := q.db.QueryRowContext(ctx, query, string(id), data, digest).Scan(&version); err != nil {
		return false, dbErr("write object", err)
	}
	return version == 1, nil
}

func (q queries) insertEvent(ctx context.Context, e ledger.Event) error {
	query :=
		`INSERT INTO events (tx_digest, module, kind, payload)
		 VALUES ($1, $2, $3, $4)`

	if _, err := q.db.ExecContext(ctx, query, e.TxDigest, e.Module, e.Kind, []byte(e.Payload)); err != nil {
		return dbErr("emit event", err)
	}
	return nil
}

func (q queries) events(ctx context.Context, f ledger.EventFilter) ([]ledger.Event, error) {
	query :=
		`SELECT tx_digest, module, kind, payload FROM events
		 WHERE ($1 = '' OR module = $1) AND ($2 = '' OR kind = $2)
		 ORDER BY id`

	rows, err := q.db.QueryContext(ctx, query, f.Module, f.Kind)
	if err != nil {
		return nil, dbErr("list events", err)
	}
	defer rows.Close()

	var out []ledger.Event
	for rows.Next() {
		var e ledger.Event
		var payload []byte
		if err := rows.Scan(&e.TxDigest, &e.Module, &e.Kind, &payload); err != nil {
			return nil, dbErr("scan event", err)
		}
		e.Payload = payload
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list events", err)
	}
	return out, nil
}
