package pgledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/ledger"
	"github.com/dmitrijs2005/paylock/internal/logging"
	"github.com/dmitrijs2005/paylock/internal/wallet"
)

const (
	qInsertTx    = `(?s)^INSERT\s+INTO\s+transactions\s*\(digest,\s*sender,\s*nonce,\s*module,\s*function,\s*payment\)`
	qWithdraw    = `(?s)^UPDATE\s+balances\s+SET\s+amount\s*=\s*amount\s*-\s*\$2\s+WHERE\s+address\s*=\s*\$1\s+AND\s+amount\s*>=\s*\$2`
	qCredit      = `(?s)^INSERT\s+INTO\s+balances\s*\(address,\s*amount\)`
	qPutObject   = `(?s)^INSERT\s+INTO\s+objects\s*\(id,\s*data,\s*updated_tx\).*RETURNING\s+version`
	qGetLocked   = `(?s)^SELECT\s+data\s+FROM\s+objects\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE`
	qGetObject   = `(?s)^SELECT\s+data\s+FROM\s+objects\s+WHERE\s+id\s*=\s*\$1$`
	qInsertEvent = `(?s)^INSERT\s+INTO\s+events\s*\(tx_digest,\s*module,\s*kind,\s*payload\)`
	qListEvents  = `(?s)^SELECT\s+tx_digest,\s*module,\s*kind,\s*payload\s+FROM\s+events`
	qBalance     = `(?s)^SELECT\s+amount\s+FROM\s+balances\s+WHERE\s+address\s*=\s*\$1`
	noteModule   = "notes"
	fnWrite      = "write"
	fnUpdate     = "update"
	fnFail       = "fail"
	eventWritten = "Written"
)

var errBoom = errors.New("boom")

// notesModule writes a note object and forwards the payment.
type notesModule struct{}

type noteArgs struct {
	ID  ledger.ObjectID `json:"id,omitempty"`
	To  ledger.Address  `json:"to,omitempty"`
	Pay uint64          `json:"pay"`
}

func (notesModule) Name() string { return noteModule }

func (notesModule) Invoke(ctx context.Context, tx ledger.Tx, fn string, raw json.RawMessage) error {
	var a noteArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return err
	}
	switch fn {
	case fnWrite:
		if err := tx.Put(ctx, tx.NewID(), []byte("hello")); err != nil {
			return err
		}
		if a.Pay > 0 {
			if err := tx.Pay(ctx, a.To, a.Pay); err != nil {
				return err
			}
		}
		return tx.Emit(ctx, eventWritten, a)
	case fnUpdate:
		old, err := tx.Get(ctx, a.ID)
		if err != nil {
			return err
		}
		return tx.Put(ctx, a.ID, append(old, '!'))
	case fnFail:
		return errBoom
	}
	return ledger.ErrUnknownFunction
}

type fixture struct {
	l     *Ledger
	mock  sqlmock.Sqlmock
	db    *sql.DB
	alice *wallet.Wallet
	bob   *wallet.Wallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	a, err := wallet.Generate()
	require.NoError(t, err)
	b, err := wallet.Generate()
	require.NoError(t, err)
	return &fixture{l: New(db, logging.Discard(), notesModule{}), mock: mock, db: db, alice: a, bob: b}
}

func (f *fixture) intent(t *testing.T, fn string, args noteArgs, payment uint64) *ledger.SignedIntent {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	s, err := f.alice.Sign(ledger.Intent{
		Sender: f.alice.Address(), Module: noteModule, Function: fn, Args: raw, Payment: payment, Nonce: "n-1",
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) expectPrologue(payment int64) {
	f.mock.ExpectBegin()
	f.mock.ExpectExec(qInsertTx).
		WithArgs(sqlmock.AnyArg(), string(f.alice.Address()), "n-1", noteModule, sqlmock.AnyArg(), payment).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if payment > 0 {
		f.mock.ExpectExec(qWithdraw).
			WithArgs(string(f.alice.Address()), payment).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
}

func TestSubmit_CommitsWritesTransfersAndEvents(t *testing.T) {
	f := newFixture(t)
	f.expectPrologue(25)
	f.mock.ExpectQuery(qPutObject).
		WithArgs(sqlmock.AnyArg(), []byte("hello"), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	f.mock.ExpectExec(qCredit).
		WithArgs(string(f.bob.Address()), int64(25)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(qInsertEvent).
		WithArgs(sqlmock.AnyArg(), noteModule, eventWritten, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectCommit()

	r, err := f.l.Submit(context.Background(), f.intent(t, fnWrite, noteArgs{To: f.bob.Address(), Pay: 25}, 25))
	require.NoError(t, err)
	assert.Len(t, r.Created, 1)
	e, ok := r.FindEvent(eventWritten)
	require.True(t, ok)
	assert.Equal(t, r.Digest, e.TxDigest)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSubmit_UpdateLocksAndDoesNotReportCreated(t *testing.T) {
	f := newFixture(t)
	id := ledger.NewObjectID()
	f.expectPrologue(0)
	f.mock.ExpectQuery(qGetLocked).
		WithArgs(string(id)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte("hi")))
	f.mock.ExpectQuery(qPutObject).
		WithArgs(string(id), []byte("hi!"), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(2)))
	f.mock.ExpectCommit()

	r, err := f.l.Submit(context.Background(), f.intent(t, fnUpdate, noteArgs{ID: id}, 0))
	require.NoError(t, err)
	assert.Empty(t, r.Created)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSubmit_ModuleErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	f.expectPrologue(10)
	f.mock.ExpectRollback()

	_, err := f.l.Submit(context.Background(), f.intent(t, fnFail, noteArgs{}, 10))
	require.ErrorIs(t, err, errBoom)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSubmit_MissingObjectAbortsWithNotFound(t *testing.T) {
	f := newFixture(t)
	id := ledger.NewObjectID()
	f.expectPrologue(0)
	f.mock.ExpectQuery(qGetLocked).WithArgs(string(id)).WillReturnError(sql.ErrNoRows)
	f.mock.ExpectRollback()

	_, err := f.l.Submit(context.Background(), f.intent(t, fnUpdate, noteArgs{ID: id}, 0))
	require.ErrorIs(t, err, common.ErrNotFound)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSubmit_UnconsumedPaymentRollsBack(t *testing.T) {
	f := newFixture(t)
	f.expectPrologue(30)
	f.mock.ExpectQuery(qPutObject).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	f.mock.ExpectExec(qCredit).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(qInsertEvent).WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectRollback()

	_, err := f.l.Submit(context.Background(), f.intent(t, fnWrite, noteArgs{To: f.bob.Address(), Pay: 20}, 30))
	require.ErrorIs(t, err, ledger.ErrUnconsumedPayment)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSubmit_Replay(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectExec(qInsertTx).WillReturnError(&pgconn.PgError{Code: "23505"})
	f.mock.ExpectRollback()

	_, err := f.l.Submit(context.Background(), f.intent(t, fnWrite, noteArgs{}, 0))
	require.ErrorIs(t, err, ledger.ErrReplay)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSubmit_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectExec(qInsertTx).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(qWithdraw).WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectRollback()

	_, err := f.l.Submit(context.Background(), f.intent(t, fnWrite, noteArgs{}, 5))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSubmit_SerializationFailureIsSubmissionError(t *testing.T) {
	f := newFixture(t)
	f.expectPrologue(0)
	f.mock.ExpectQuery(qPutObject).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	f.mock.ExpectExec(qInsertEvent).WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})

	_, err := f.l.Submit(context.Background(), f.intent(t, fnWrite, noteArgs{}, 0))
	require.ErrorIs(t, err, common.ErrLedgerSubmission)
	assert.True(t, common.Ambiguous(err))
}

func TestSubmit_BadSignatureNeverTouchesDB(t *testing.T) {
	f := newFixture(t)
	s := f.intent(t, fnWrite, noteArgs{}, 0)
	s.Intent.Nonce = "tampered"

	_, err := f.l.Submit(context.Background(), s)
	require.ErrorIs(t, err, ledger.ErrBadSignature)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestObject(t *testing.T) {
	f := newFixture(t)
	id := ledger.NewObjectID()
	f.mock.ExpectQuery(qGetObject).WithArgs(string(id)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte("x")))
	f.mock.ExpectQuery(qGetObject).WithArgs(string(id)).WillReturnError(sql.ErrNoRows)
	f.mock.ExpectQuery(qGetObject).WithArgs(string(id)).WillReturnError(errors.New("conn reset"))

	b, err := f.l.Object(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), b)

	_, err = f.l.Object(context.Background(), id)
	assert.ErrorIs(t, err, ledger.ErrObjectNotFound)

	_, err = f.l.Object(context.Background(), id)
	assert.ErrorIs(t, err, common.ErrLedgerSubmission)
}

func TestCreditAndBalance(t *testing.T) {
	f := newFixture(t)
	addr := f.bob.Address()
	f.mock.ExpectExec(qCredit).WithArgs(string(addr), int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery(qBalance).WithArgs(string(addr)).
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(int64(7)))
	f.mock.ExpectQuery(qBalance).WithArgs(string(addr)).WillReturnError(sql.ErrNoRows)

	require.NoError(t, f.l.Credit(context.Background(), addr, 7))
	got, err := f.l.Balance(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got)

	got, err = f.l.Balance(context.Background(), addr)
	require.NoError(t, err)
	assert.Zero(t, got)

	err = f.l.Credit(context.Background(), addr, 1<<63)
	assert.ErrorIs(t, err, common.ErrLedgerSubmission)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(qListEvents).WithArgs(noteModule, eventWritten).
		WillReturnRows(sqlmock.NewRows([]string{"tx_digest", "module", "kind", "payload"}).
			AddRow("d1", noteModule, eventWritten, []byte(`{"pay":1}`)).
			AddRow("d2", noteModule, eventWritten, []byte(`{"pay":2}`)))

	events, err := f.l.Events(context.Background(), ledger.EventFilter{Module: noteModule, Kind: eventWritten})
	require.NoError(t, err)
	require.Len(t, events, 2)

	var a noteArgs
	require.NoError(t, events[1].Decode(&a))
	assert.Equal(t, uint64(2), a.Pay)
	assert.Equal(t, "d1", events[0].TxDigest)
}

func TestRunMigrations_UsesGoose(t *testing.T) {
	f := newFixture(t)
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var gotDir string
	gooseUpContext = func(_ context.Context, db *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		assert.Same(t, f.db, db)
		gotDir = dir
		return nil
	}
	require.NoError(t, f.l.RunMigrations(context.Background()))
	assert.Equal(t, ".", gotDir)

	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error { return errBoom }
	assert.ErrorIs(t, f.l.RunMigrations(context.Background()), errBoom)
}
