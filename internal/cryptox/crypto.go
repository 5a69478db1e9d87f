// Package cryptox implements the encryption envelope exchanged between a
// seller and a buyer: AES-256-GCM with a fresh 96-bit nonce per encryption,
// fixed-offset framing of nonce and ciphertext, and URL-safe key export.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/dmitrijs2005/paylock/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the symmetric key length in bytes (AES-256).
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes. It is also the length of
	// the framing prefix.
	NonceSize = 12
	// TagSize is the GCM authentication tag appended to every ciphertext.
	TagSize = 16
)

// Key is a symmetric content key. It redacts itself when printed or logged.
type Key [KeySize]byte

func (k Key) String() string { return "cryptox.Key([redacted])" }

func (k Key) LogValue() slog.Value { return slog.StringValue("[redacted]") }

// GenerateKey returns a fresh random 256-bit key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key with a freshly drawn nonce and returns
// the ciphertext (with the tag appended) and the nonce.
func Encrypt(plaintext []byte, key Key) (ciphertext, iv []byte, err error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	iv = make([]byte, NonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("nonce: %w", err)
	}

	return aesgcm.Seal(nil, iv, plaintext, nil), iv, nil
}

// Decrypt opens ciphertext produced by Encrypt. Any tampering with the
// ciphertext or iv, or a wrong key, yields common.ErrDecryption and no
// plaintext.
func Decrypt(ciphertext []byte, key Key, iv []byte) ([]byte, error) {
	if len(iv) != NonceSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", common.ErrDecryption, NonceSize, len(iv))
	}
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesgcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plaintext, nil
}

// Frame builds the storage payload: [12-byte iv][ciphertext].
func Frame(ciphertext, iv []byte) ([]byte, error) {
	if len(iv) != NonceSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", common.ErrValidation, NonceSize, len(iv))
	}
	payload := make([]byte, 0, NonceSize+len(ciphertext))
	payload = append(payload, iv...)
	return append(payload, ciphertext...), nil
}

// Unframe splits a storage payload back into ciphertext and iv. The
// returned slices are copies.
func Unframe(payload []byte) (ciphertext, iv []byte, err error) {
	if len(payload) < NonceSize {
		return nil, nil, fmt.Errorf("%w: payload shorter than %d-byte iv", common.ErrDecryption, NonceSize)
	}
	iv = append([]byte(nil), payload[:NonceSize]...)
	ciphertext = append([]byte(nil), payload[NonceSize:]...)
	return ciphertext, iv, nil
}

// ExportKey encodes key as unpadded base64url, safe to embed in a URL.
func ExportKey(key Key) string {
	return base64.RawURLEncoding.EncodeToString(key[:])
}

// ImportKey reverses ExportKey. Standard and padded encodings are accepted
// as well, since links produced by browser clients use them.
func ImportKey(s string) (Key, error) {
	var k Key
	raw, err := DecodeBase64(s)
	if err != nil {
		return k, fmt.Errorf("%w: key encoding: %v", common.ErrValidation, err)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrValidation, KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// DecodeBase64 accepts any of the URL-safe or standard base64 alphabets,
// padded or not.
func DecodeBase64(s string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding, base64.RawStdEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// DeriveKey stretches a passphrase into a Key with argon2id. It is used for
// local keystores only; content keys always come from GenerateKey.
func DeriveKey(passphrase, salt []byte) Key {
	var k Key
	copy(k[:], argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize))
	return k
}

// Wipe zeroes b.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
