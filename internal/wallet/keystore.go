package wallet

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/paylock/internal/cryptox"
	"github.com/dmitrijs2005/paylock/internal/ledger"
)

// ErrWrongPassphrase is returned when the keystore cannot be opened.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted keystore")

const keystoreVersion = 1

// keystoreFile is the on-disk format. The seed is sealed with AES-GCM under
// an argon2id key derived from the passphrase.
type keystoreFile struct {
	Version int            `json:"version"`
	Address ledger.Address `json:"address"`
	Salt    []byte         `json:"salt"`
	Nonce   []byte         `json:"nonce"`
	Sealed  []byte         `json:"sealed"`
}

// Save writes w to path, encrypted under passphrase. An existing file is
// never overwritten.
func Save(path string, w *Wallet, passphrase []byte) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	key := cryptox.DeriveKey(passphrase, salt)

	seed := w.Seed()
	defer cryptox.Wipe(seed)

	sealed, nonce, err := cryptox.Encrypt(seed, key)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(keystoreFile{
		Version: keystoreVersion,
		Address: w.Address(),
		Salt:    salt,
		Nonce:   nonce,
		Sealed:  sealed,
	}, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create keystore: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Load opens the keystore at path with passphrase.
func Load(path string, passphrase []byte) (*Wallet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}

	var kf keystoreFile
	if err := json.Unmarshal(b, &kf); err != nil {
		return nil, fmt.Errorf("decode keystore: %w", err)
	}
	if kf.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version %d", kf.Version)
	}

	seed, err := cryptox.Decrypt(kf.Sealed, cryptox.DeriveKey(passphrase, kf.Salt), kf.Nonce)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	defer cryptox.Wipe(seed)

	w, err := FromSeed(seed)
	if err != nil {
		return nil, err
	}
	if w.Address() != kf.Address {
		return nil, fmt.Errorf("keystore address %s does not match key %s", kf.Address, w.Address())
	}
	return w, nil
}
