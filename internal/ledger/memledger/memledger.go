// Package memledger is an in-process ledger. Each submission stages its
// writes, transfers and events and applies them only if the module returns
// without error, which gives the same all-or-nothing contract as a real
// ledger. Submissions are serialized.
package memledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/paylock/internal/ledger"
	"github.com/dmitrijs2005/paylock/internal/logging"
)

// Ledger implements ledger.Ledger in memory.
type Ledger struct {
	mu       sync.Mutex
	modules  ledger.Modules
	objects  map[ledger.ObjectID][]byte
	balances map[ledger.Address]uint64
	events   []ledger.Event
	nonces   map[string]struct{}
	logger   logging.Logger
}

func New(logger logging.Logger, modules ...ledger.Module) *Ledger {
	return &Ledger{
		modules:  ledger.NewModules(modules...),
		objects:  make(map[ledger.ObjectID][]byte),
		balances: make(map[ledger.Address]uint64),
		nonces:   make(map[string]struct{}),
		logger:   logger,
	}
}

// Credit mints amount to addr.
func (l *Ledger) Credit(_ context.Context, addr ledger.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := addBalance(l.balances[addr], amount)
	if err != nil {
		return err
	}
	l.balances[addr] = v
	return nil
}

// addBalance keeps balances within the signed 64-bit range the Postgres
// ledger stores.
func addBalance(bal, amount uint64) (uint64, error) {
	if amount > math.MaxInt64 || bal > math.MaxInt64-amount {
		return 0, fmt.Errorf("%w: %d + %d", ledger.ErrBalanceOverflow, bal, amount)
	}
	return bal + amount, nil
}

func (l *Ledger) Balance(_ context.Context, addr ledger.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr], nil
}

func (l *Ledger) Events(_ context.Context, f ledger.EventFilter) ([]ledger.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Event
	for _, e := range l.events {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Ledger) Object(ctx context.Context, id ledger.ObjectID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledger.Submission(err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrObjectNotFound, id)
	}
	return append([]byte(nil), b...), nil
}

func (l *Ledger) Submit(ctx context.Context, s *ledger.SignedIntent) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledger.Submission(err)
	}
	if err := ledger.Verify(s); err != nil {
		return nil, err
	}
	in := s.Intent

	mod, err := l.modules.Lookup(in.Module)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	nonceKey := string(in.Sender) + "/" + in.Nonce
	if _, used := l.nonces[nonceKey]; used {
		return nil, ledger.ErrReplay
	}
	if l.balances[in.Sender] < in.Payment {
		return nil, fmt.Errorf("%w: have %d, need %d", ledger.ErrInsufficientBalance, l.balances[in.Sender], in.Payment)
	}

	tx := &memTx{
		l:         l,
		sender:    in.Sender,
		digest:    uuid.NewString(),
		module:    in.Module,
		remaining: in.Payment,
		payment:   in.Payment,
		writes:    make(map[ledger.ObjectID][]byte),
		credits:   make(map[ledger.Address]uint64),
	}

	if err := mod.Invoke(ctx, tx, in.Function, in.Args); err != nil {
		l.logger.Debug(ctx, "transaction aborted", "digest", tx.digest, "function", in.Function, "error", err)
		return nil, err
	}
	if tx.remaining != 0 {
		return nil, fmt.Errorf("%w: %d left", ledger.ErrUnconsumedPayment, tx.remaining)
	}

	next := map[ledger.Address]uint64{in.Sender: l.balances[in.Sender] - in.Payment}
	for addr, amount := range tx.credits {
		cur, ok := next[addr]
		if !ok {
			cur = l.balances[addr]
		}
		v, err := addBalance(cur, amount)
		if err != nil {
			return nil, err
		}
		next[addr] = v
	}

	// commit
	for addr, v := range next {
		l.balances[addr] = v
	}
	for id, data := range tx.writes {
		l.objects[id] = data
	}
	l.events = append(l.events, tx.events...)
	l.nonces[nonceKey] = struct{}{}

	l.logger.Debug(ctx, "transaction committed", "digest", tx.digest, "function", in.Function)
	return &ledger.Receipt{Digest: tx.digest, Created: tx.created, Events: tx.events}, nil
}

// memTx is valid only while the ledger lock is held by Submit.
type memTx struct {
	l         *Ledger
	sender    ledger.Address
	digest    string
	module    string
	payment   uint64
	remaining uint64
	writes    map[ledger.ObjectID][]byte
	credits   map[ledger.Address]uint64
	events    []ledger.Event
	created   []ledger.ObjectID
}

func (t *memTx) Sender() ledger.Address { return t.sender }
func (t *memTx) Digest() string         { return t.digest }
func (t *memTx) PaymentValue() uint64   { return t.payment }
func (t *memTx) NewID() ledger.ObjectID { return ledger.NewObjectID() }

func (t *memTx) Get(_ context.Context, id ledger.ObjectID) ([]byte, error) {
	if b, ok := t.writes[id]; ok {
		return append([]byte(nil), b...), nil
	}
	if b, ok := t.l.objects[id]; ok {
		return append([]byte(nil), b...), nil
	}
	return nil, fmt.Errorf("%w: %s", ledger.ErrObjectNotFound, id)
}

func (t *memTx) Put(_ context.Context, id ledger.ObjectID, data []byte) error {
	_, staged := t.writes[id]
	_, committed := t.l.objects[id]
	if !staged && !committed {
		t.created = append(t.created, id)
	}
	t.writes[id] = append([]byte(nil), data...)
	return nil
}

func (t *memTx) Pay(_ context.Context, to ledger.Address, amount uint64) error {
	if amount > t.remaining {
		return fmt.Errorf("%w: %d requested, %d left", ledger.ErrPaymentExhausted, amount, t.remaining)
	}
	t.remaining -= amount
	t.credits[to] += amount
	return nil
}

func (t *memTx) Emit(_ context.Context, kind string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return ledger.Submission(err)
	}
	t.events = append(t.events, ledger.Event{TxDigest: t.digest, Module: t.module, Kind: kind, Payload: b})
	return nil
}
