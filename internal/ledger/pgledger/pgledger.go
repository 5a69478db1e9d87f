// Package pgledger is a ledger.Ledger persisted in Postgres. Every
// submission is one serializable transaction: the nonce record, the
// payment withdrawal, object writes, transfers and events commit together
// or not at all.
package pgledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/paylock/internal/dbx"
	"github.com/dmitrijs2005/paylock/internal/ledger"
	"github.com/dmitrijs2005/paylock/internal/ledger/pgledger/migrations"
	"github.com/dmitrijs2005/paylock/internal/logging"
)

var gooseUpContext = goose.UpContext

type Ledger struct {
	db      *sql.DB
	modules ledger.Modules
	logger  logging.Logger
}

func New(db *sql.DB, logger logging.Logger, modules ...ledger.Module) *Ledger {
	return &Ledger{db: db, modules: ledger.NewModules(modules...), logger: logger}
}

// Open connects through the pgx stdlib driver and applies migrations.
func Open(ctx context.Context, dsn string, logger logging.Logger, modules ...ledger.Module) (*Ledger, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	l := New(db, logger, modules...)
	if err := l.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return l, nil
}

func (l *Ledger) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, l.db, ".")
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Credit mints amount to addr outside any intent. Used by the faucet.
func (l *Ledger) Credit(ctx context.Context, addr ledger.Address, amount uint64) error {
	return queries{db: l.db}.credit(ctx, addr, amount)
}

func (l *Ledger) Balance(ctx context.Context, addr ledger.Address) (uint64, error) {
	return queries{db: l.db}.balance(ctx, addr)
}

func (l *Ledger) Object(ctx context.Context, id ledger.ObjectID) ([]byte, error) {
	return queries{db: l.db}.object(ctx, id, false)
}

func (l *Ledger) Events(ctx context.Context, f ledger.EventFilter) ([]ledger.Event, error) {
	return queries{db: l.db}.events(ctx, f)
}

func (l *Ledger) Submit(ctx context.Context, s *ledger.SignedIntent) (*ledger.Receipt, error) {
	if err := ledger.Verify(s); err != nil {
		return nil, err
	}
	in := s.Intent
	mod, err := l.modules.Lookup(in.Module)
	if err != nil {
		return nil, err
	}

	digest := uuid.NewString()
	var (
		moduleErr error
		tx        *pgTx
	)

	err = dbx.WithTx(ctx, l.db, dbx.Serializable, func(ctx context.Context, db dbx.DBTX) error {
		q := queries{db: db}
		if err := q.recordTransaction(ctx, digest, in); err != nil {
			return err
		}
		if in.Payment > 0 {
			ok, err := q.withdraw(ctx, in.Sender, in.Payment)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: need %d", ledger.ErrInsufficientBalance, in.Payment)
			}
		}

		tx = &pgTx{q: q, sender: in.Sender, digest: digest, module: in.Module, payment: in.Payment, remaining: in.Payment}
		if err := mod.Invoke(ctx, tx, in.Function, in.Args); err != nil {
			moduleErr = err
			return err
		}
		if tx.remaining != 0 {
			return fmt.Errorf("%w: %d left", ledger.ErrUnconsumedPayment, tx.remaining)
		}
		return nil
	})

	if moduleErr != nil {
		l.logger.Debug(ctx, "transaction aborted", "digest", digest, "function", in.Function, "error", moduleErr)
		return nil, moduleErr
	}
	if err != nil {
		if dbx.IsSerializationFailure(err) {
			l.logger.Warn(ctx, "transaction lost serialization conflict", "digest", digest)
		}
		return nil, ledger.Submission(err)
	}

	l.logger.Debug(ctx, "transaction committed", "digest", digest, "function", in.Function)
	return &ledger.Receipt{Digest: digest, Created: tx.created, Events: tx.events}, nil
}

type pgTx struct {
	q         queries
	sender    ledger.Address
	digest    string
	module    string
	payment   uint64
	remaining uint64
	events    []ledger.Event
	created   []ledger.ObjectID
}

func (t *pgTx) Sender() ledger.Address { return t.sender }
func (t *pgTx) Digest() string         { return t.digest }
func (t *pgTx) PaymentValue() uint64   { return t.payment }
func (t *pgTx) NewID() ledger.ObjectID { return ledger.NewObjectID() }

func (t *pgTx) Get(ctx context.Context, id ledger.ObjectID) ([]byte, error) {
	return t.q.object(ctx, id, true)
}

func (t *pgTx) Put(ctx context.Context, id ledger.ObjectID, data []byte) error {
	created, err := t.q.putObject(ctx, id, data, t.digest)
	if err != nil {
		return err
	}
	if created {
		t.created = append(t.created, id)
	}
	return nil
}

func (t *pgTx) Pay(ctx context.Context, to ledger.Address, amount uint64) error {
	if amount > t.remaining {
		return fmt.Errorf("%w: %d requested, %d left", ledger.ErrPaymentExhausted, amount, t.remaining)
	}
	if err := t.q.credit(ctx, to, amount); err != nil {
		return err
	}
	t.remaining -= amount
	return nil
}

func (t *pgTx) Emit(ctx context.Context, kind string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return ledger.Submission(err)
	}
	e := ledger.Event{TxDigest: t.digest, Module: t.module, Kind: kind, Payload: b}
	if err := t.q.insertEvent(ctx, e); err != nil {
		return err
	}
	t.events = append(t.events, e)
	return nil
}
