// Package ledger abstracts the public ledger that executes marketplace
// transactions. The ledger is modelled as a transactional key-value store:
// a submitted intent runs one module function against a Tx, and either all
// of its writes, transfers and events are committed or none are.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/paylock/internal/common"
)

// ObjectID identifies a ledger object. It is assigned by the ledger and
// never reused.
type ObjectID string

var (
	ErrObjectNotFound      = fmt.Errorf("%w: object", common.ErrNotFound)
	ErrBadSignature        = fmt.Errorf("%w: bad signature", common.ErrLedgerSubmission)
	ErrUnknownFunction     = fmt.Errorf("%w: unknown function", common.ErrLedgerSubmission)
	ErrInsufficientBalance = fmt.Errorf("%w: sender balance below attached payment", common.ErrLedgerSubmission)
	ErrUnconsumedPayment   = fmt.Errorf("%w: attached payment not fully consumed", common.ErrLedgerSubmission)
	ErrPaymentExhausted    = fmt.Errorf("%w: transfer exceeds attached payment", common.ErrLedgerSubmission)
	ErrReplay              = fmt.Errorf("%w: nonce already used", common.ErrLedgerSubmission)
	ErrBalanceOverflow     = fmt.Errorf("%w: balance exceeds ledger range", common.ErrLedgerSubmission)
)

// Intent is an unsigned transaction: call Module.Function with Args,
// attaching Payment base units withdrawn from Sender.
type Intent struct {
	Sender   Address         `json:"sender"`
	Module   string          `json:"module"`
	Function string          `json:"function"`
	Args     json.RawMessage `json:"args,omitempty"`
	Payment  uint64          `json:"payment"`
	Nonce    string          `json:"nonce"`
}

const intentDomain = "paylock/intent/v1\n"

// SigningBytes is the message a Signer signs for the intent.
func (i Intent) SigningBytes() ([]byte, error) {
	b, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}
	return append([]byte(intentDomain), b...), nil
}

// SignedIntent is an intent plus the signer's public key and signature.
type SignedIntent struct {
	Intent    Intent `json:"intent"`
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// Signer holds a signing key. The ledger never sees the private key.
type Signer interface {
	Address() Address
	Sign(Intent) (*SignedIntent, error)
}

// Event is an entry of the immutable event log.
type Event struct {
	TxDigest string          `json:"tx_digest"`
	Module   string          `json:"module"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventFilter selects events; empty fields match anything.
type EventFilter struct {
	Module string
	Kind   string
}

func (f EventFilter) Match(e Event) bool {
	return (f.Module == "" || f.Module == e.Module) && (f.Kind == "" || f.Kind == e.Kind)
}

// Receipt describes a finalized, committed transaction.
type Receipt struct {
	Digest  string     `json:"digest"`
	Created []ObjectID `json:"created,omitempty"`
	Events  []Event    `json:"events,omitempty"`
}

// FindEvent returns the first event of kind.
func (r *Receipt) FindEvent(kind string) (Event, bool) {
	for _, e := range r.Events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

// Tx is the view a module has of a running transaction.
type Tx interface {
	Sender() Address
	Digest() string
	// NewID returns a fresh object identity.
	NewID() ObjectID
	Get(ctx context.Context, id ObjectID) ([]byte, error)
	Put(ctx context.Context, id ObjectID, data []byte) error
	// PaymentValue is the value attached to the transaction.
	PaymentValue() uint64
	// Pay moves amount out of the attached payment to addr.
	Pay(ctx context.Context, to Address, amount uint64) error
	Emit(ctx context.Context, kind string, payload any) error
}

// Module is on-ledger logic addressed by name. An error returned from
// Invoke aborts the transaction and is returned to the submitter as is.
type Module interface {
	Name() string
	Invoke(ctx context.Context, tx Tx, function string, args json.RawMessage) error
}

// Ledger executes signed intents. Submit blocks until the transaction is
// finalized; a returned receipt always describes a committed transaction.
type Ledger interface {
	Submit(ctx context.Context, s *SignedIntent) (*Receipt, error)
	Object(ctx context.Context, id ObjectID) ([]byte, error)
	// Events returns committed events in commit order.
	Events(ctx context.Context, f EventFilter) ([]Event, error)
}

// Modules indexes modules by name.
type Modules map[string]Module

func NewModules(mods ...Module) Modules {
	m := make(Modules, len(mods))
	for _, mod := range mods {
		m[mod.Name()] = mod
	}
	return m
}

func (m Modules) Lookup(name string) (Module, error) {
	mod, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: module %q", ErrUnknownFunction, name)
	}
	return mod, nil
}

// Submission wraps a non-module failure of Submit so it carries the
// ErrLedgerSubmission kind. Errors that already carry a kind pass through.
func Submission(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		common.ErrLedgerSubmission, common.ErrValidation, common.ErrUnauthorized,
		common.ErrState, common.ErrInsufficientFunds, common.ErrNotFound,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", common.ErrLedgerSubmission, err)
}
