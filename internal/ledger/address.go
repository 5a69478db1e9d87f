package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/paylock/internal/common"
	"golang.org/x/crypto/blake2b"
)

// Address is a 32-byte account address rendered as 0x-prefixed lowercase hex.
type Address string

const (
	addressLen = 32
	// ed25519Flag is the signature scheme byte hashed into an address.
	ed25519Flag byte = 0x00
)

// AddressFromPublicKey derives the address owned by an ed25519 key:
// blake2b-256(flag || pubkey).
func AddressFromPublicKey(pub ed25519.PublicKey) Address {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{ed25519Flag})
	h.Write(pub)
	return Address("0x" + hex.EncodeToString(h.Sum(nil)))
}

// ParseAddress normalizes and validates s.
func ParseAddress(s string) (Address, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	raw, ok := strings.CutPrefix(s, "0x")
	if !ok {
		return "", fmt.Errorf("%w: address %q lacks 0x prefix", common.ErrValidation, s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != addressLen {
		return "", fmt.Errorf("%w: address %q must be %d hex bytes", common.ErrValidation, s, addressLen)
	}
	return Address(s), nil
}

func (a Address) String() string { return string(a) }

// NewObjectID returns a random 32-byte object id in address form.
func NewObjectID() ObjectID {
	b := make([]byte, addressLen)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("object id entropy: %v", err))
	}
	return ObjectID("0x" + hex.EncodeToString(b))
}

// ParseObjectID validates an object id.
func ParseObjectID(s string) (ObjectID, error) {
	a, err := ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("%w: object id %q", common.ErrValidation, s)
	}
	return ObjectID(a), nil
}

// Verify checks that s is well formed, signed by the key it carries, and
// that the key owns the sender address.
func Verify(s *SignedIntent) error {
	if s == nil {
		return fmt.Errorf("%w: nil intent", ErrBadSignature)
	}
	in := s.Intent
	if in.Module == "" || in.Function == "" || in.Nonce == "" {
		return fmt.Errorf("%w: incomplete intent", common.ErrLedgerSubmission)
	}
	if len(s.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key size %d", ErrBadSignature, len(s.PublicKey))
	}
	pub := ed25519.PublicKey(s.PublicKey)
	if AddressFromPublicKey(pub) != in.Sender {
		return fmt.Errorf("%w: key does not own sender %s", ErrBadSignature, in.Sender)
	}
	msg, err := in.SigningBytes()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrLedgerSubmission, err)
	}
	if !ed25519.Verify(pub, msg, s.Signature) {
		return ErrBadSignature
	}
	return nil
}
