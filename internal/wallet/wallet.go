// Package wallet is a local signing agent: an ed25519 key pair that signs
// ledger intents, plus a passphrase-protected keystore file.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/dmitrijs2005/paylock/internal/ledger"
)

// Wallet implements ledger.Signer.
type Wallet struct {
	priv ed25519.PrivateKey
	addr ledger.Address
}

// Generate creates a wallet with a fresh random key.
func Generate() (*Wallet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return fromPrivate(priv), nil
}

// FromSeed restores a wallet from its 32-byte seed.
func FromSeed(seed []byte) (*Wallet, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return fromPrivate(ed25519.NewKeyFromSeed(seed)), nil
}

func fromPrivate(priv ed25519.PrivateKey) *Wallet {
	return &Wallet{priv: priv, addr: ledger.AddressFromPublicKey(priv.Public().(ed25519.PublicKey))}
}

func (w *Wallet) Address() ledger.Address { return w.addr }

func (w *Wallet) PublicKey() ed25519.PublicKey {
	return w.priv.Public().(ed25519.PublicKey)
}

// Seed returns a copy of the private seed.
func (w *Wallet) Seed() []byte {
	return append([]byte(nil), w.priv.Seed()...)
}

// Sign signs intent. The intent must name this wallet as sender.
func (w *Wallet) Sign(intent ledger.Intent) (*ledger.SignedIntent, error) {
	if intent.Sender != w.addr {
		return nil, fmt.Errorf("intent sender %s is not wallet %s", intent.Sender, w.addr)
	}
	msg, err := intent.SigningBytes()
	if err != nil {
		return nil, err
	}
	return &ledger.SignedIntent{
		Intent:    intent,
		PublicKey: append([]byte(nil), w.PublicKey()...),
		Signature: ed25519.Sign(w.priv, msg),
	}, nil
}
