// Package locator moves framed envelope payloads to and from a blob store
// and hides the store's response shapes behind a single opaque locator
// string.
//
// Locator performs no retries. Backends report failures with the kinds from
// package common; Locator adds the pre-flight checks that must happen
// before any network call.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/logging"
)

// MaxLocatorLen bounds the length of any locator accepted by Download and
// Exists.
const MaxLocatorLen = 256

// Backend is a content-addressed blob store.
//
// Put must return the same locator for identical payloads, whether the
// payload was newly stored or already present. Get must return an error
// wrapping common.ErrNotFound for an unknown locator.
type Backend interface {
	Put(ctx context.Context, payload []byte) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Has(ctx context.Context, locator string) (bool, error)
	// Validate checks locator syntax without touching the network.
	Validate(locator string) error
}

// Locator is the content locator component.
type Locator struct {
	backend    Backend
	maxPayload int64
	logger     logging.Logger
}

// New wraps backend. maxPayload <= 0 disables the local size check.
func New(backend Backend, maxPayload int64, logger logging.Logger) *Locator {
	return &Locator{backend: backend, maxPayload: maxPayload, logger: logger}
}

// Upload stores payload and returns its locator. Uploading identical bytes
// twice returns the same locator both times.
func (l *Locator) Upload(ctx context.Context, payload []byte) (string, error) {
	if l.maxPayload > 0 && int64(len(payload)) > l.maxPayload {
		return "", fmt.Errorf("%w: payload is %d bytes, limit %d", common.ErrStoreRejected, len(payload), l.maxPayload)
	}

	loc, err := l.backend.Put(ctx, payload)
	if err != nil {
		return "", classify(err)
	}
	if err := l.validate(loc); err != nil {
		return "", fmt.Errorf("%w: store returned unusable locator: %v", common.ErrStoreRejected, err)
	}

	l.logger.Debug(ctx, "payload uploaded", "locator", loc, "size", len(payload))
	return loc, nil
}

// Download fetches the payload addressed by loc. A malformed locator is
// rejected before any network call.
func (l *Locator) Download(ctx context.Context, loc string) ([]byte, error) {
	if err := l.validate(loc); err != nil {
		return nil, err
	}

	payload, err := l.backend.Get(ctx, loc)
	if err != nil {
		return nil, classify(err)
	}

	l.logger.Debug(ctx, "payload downloaded", "locator", loc, "size", len(payload))
	return payload, nil
}

// Has reports whether loc is present. Unlike Exists it tells an absent
// payload apart from a failed check: the latter carries a kind, usually
// common.ErrStoreUnavailable.
func (l *Locator) Has(ctx context.Context, loc string) (bool, error) {
	if err := l.validate(loc); err != nil {
		return false, err
	}
	ok, err := l.backend.Has(ctx, loc)
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

// Exists is a best-effort presence check. It never fails: invalid
// locators and failed checks both report false.
func (l *Locator) Exists(ctx context.Context, loc string) bool {
	ok, err := l.Has(ctx, loc)
	if err != nil {
		l.logger.Warn(ctx, "existence check failed", "locator", loc, "error", err)
		return false
	}
	return ok
}

func (l *Locator) validate(loc string) error {
	if err := checkSyntax(loc); err != nil {
		return err
	}
	if err := l.backend.Validate(loc); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidLocator, err)
	}
	return nil
}

func checkSyntax(loc string) error {
	if loc == "" {
		return fmt.Errorf("%w: empty", common.ErrInvalidLocator)
	}
	if len(loc) > MaxLocatorLen {
		return fmt.Errorf("%w: longer than %d", common.ErrInvalidLocator, MaxLocatorLen)
	}
	if strings.IndexFunc(loc, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || r == '/' || r == '?' || r == '#'
	}) >= 0 {
		return fmt.Errorf("%w: illegal character", common.ErrInvalidLocator)
	}
	return nil
}

// classify makes sure every backend error carries a kind. Unclassified
// errors are treated as transport failures.
func classify(err error) error {
	for _, kind := range []error{
		common.ErrNotFound, common.ErrStoreRejected, common.ErrStoreUnavailable, common.ErrInvalidLocator,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
}
