package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	blobs    map[string][]byte
	putErr   error
	getErr   error
	hasErr   error
	calls    int
	validate func(string) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{blobs: map[string][]byte{}}
}

func (f *fakeBackend) Put(_ context.Context, payload []byte) (string, error) {
	f.calls++
	if f.putErr != nil {
		return "", f.putErr
	}
	loc, err := ContentID(payload)
	if err != nil {
		return "", err
	}
	f.blobs[loc] = append([]byte(nil), payload...)
	return loc, nil
}

func (f *fakeBackend) Get(_ context.Context, loc string) ([]byte, error) {
	f.calls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.blobs[loc]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", loc, common.ErrNotFound)
	}
	return b, nil
}

func (f *fakeBackend) Has(_ context.Context, loc string) (bool, error) {
	f.calls++
	if f.hasErr != nil {
		return false, f.hasErr
	}
	_, ok := f.blobs[loc]
	return ok, nil
}

func (f *fakeBackend) Validate(loc string) error {
	if f.validate != nil {
		return f.validate(loc)
	}
	return ValidateContentID(loc)
}

func TestLocator_UploadDownload(t *testing.T) {
	ctx := context.Background()
	l := New(newFakeBackend(), 0, logging.Discard())

	loc, err := l.Upload(ctx, []byte("payload"))
	require.NoError(t, err)

	got, err := l.Download(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.True(t, l.Exists(ctx, loc))
}

func TestLocator_UploadIdempotent(t *testing.T) {
	ctx := context.Background()
	l := New(newFakeBackend(), 0, logging.Discard())

	first, err := l.Upload(ctx, []byte("same bytes"))
	require.NoError(t, err)
	second, err := l.Upload(ctx, []byte("same bytes"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLocator_UploadTooLarge(t *testing.T) {
	b := newFakeBackend()
	l := New(b, 4, logging.Discard())

	_, err := l.Upload(context.Background(), []byte("12345"))
	assert.ErrorIs(t, err, common.ErrStoreRejected)
	assert.Zero(t, b.calls, "no network call expected")
}

func TestLocator_UploadErrorsClassified(t *testing.T) {
	tests := []struct {
		name   string
		putErr error
		want   error
	}{
		{"rejected passes through", fmt.Errorf("413: %w", common.ErrStoreRejected), common.ErrStoreRejected},
		{"unavailable passes through", fmt.Errorf("dial: %w", common.ErrStoreUnavailable), common.ErrStoreUnavailable},
		{"unknown becomes unavailable", errors.New("connection reset"), common.ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			b.putErr = tt.putErr
			_, err := New(b, 0, logging.Discard()).Upload(context.Background(), []byte("x"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLocator_DownloadInvalidLocatorNoNetwork(t *testing.T) {
	b := newFakeBackend()
	l := New(b, 0, logging.Discard())

	for _, loc := range []string{"", "not a cid", "a/b", "bafy#frag", strings.Repeat("b", MaxLocatorLen+1), "!!!!"} {
		_, err := l.Download(context.Background(), loc)
		assert.ErrorIs(t, err, common.ErrInvalidLocator, "locator %q", loc)
	}
	assert.Zero(t, b.calls)
}

func TestLocator_DownloadNotFound(t *testing.T) {
	l := New(newFakeBackend(), 0, logging.Discard())
	loc, err := ContentID([]byte("never stored"))
	require.NoError(t, err)

	_, err = l.Download(context.Background(), loc)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLocator_DownloadTransportFailure(t *testing.T) {
	b := newFakeBackend()
	b.getErr = errors.New("i/o timeout")
	loc, _ := ContentID([]byte("x"))

	_, err := New(b, 0, logging.Discard()).Download(context.Background(), loc)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)
	assert.True(t, common.Retryable(err))
}

func TestLocator_ExistsNeverFails(t *testing.T) {
	b := newFakeBackend()
	l := New(b, 0, logging.Discard())
	loc, _ := ContentID([]byte("x"))

	assert.False(t, l.Exists(context.Background(), loc))
	assert.False(t, l.Exists(context.Background(), ""))

	b.blobs[loc] = []byte("x")
	b.hasErr = errors.New("network down")
	assert.False(t, l.Exists(context.Background(), loc))
}

func TestContentID(t *testing.T) {
	a, err := ContentID([]byte("hello"))
	require.NoError(t, err)
	b, err := ContentID([]byte("hello"))
	require.NoError(t, err)
	c, err := ContentID([]byte("hello!"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "b"), "base32 CIDv1 expected, got %s", a)
	assert.NoError(t, ValidateContentID(a))
	assert.True(t, VerifyContentID(a, []byte("hello")))
	assert.False(t, VerifyContentID(a, []byte("HELLO")))
}

func TestValidateContentID_RejectsV0(t *testing.T) {
	// CIDv0 (dag-pb) is well formed but not something ContentID produces
	assert.Error(t, ValidateContentID("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"))
}

// shortIDBackend answers uploads with a locator its own Validate refuses.
type shortIDBackend struct{ *fakeBackend }

func (shortIDBackend) Put(context.Context, []byte) (string, error) { return "short-id", nil }

func TestLocator_UploadRejectsLocatorBackendCannotRead(t *testing.T) {
	l := New(shortIDBackend{newFakeBackend()}, 0, logging.Discard())

	loc, err := l.Upload(context.Background(), []byte("payload"))
	assert.Empty(t, loc)
	assert.ErrorIs(t, err, common.ErrStoreRejected)
	assert.False(t, common.Retryable(err))
}

func TestLocator_HasSurfacesFailures(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend()
	l := New(b, 0, logging.Discard())
	loc, _ := ContentID([]byte("x"))

	ok, err := l.Has(ctx, loc)
	require.NoError(t, err)
	assert.False(t, ok)

	b.blobs[loc] = []byte("x")
	ok, err = l.Has(ctx, loc)
	require.NoError(t, err)
	assert.True(t, ok)

	b.hasErr = errors.New("network down")
	_, err = l.Has(ctx, loc)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)
	assert.True(t, common.Retryable(err))

	_, err = l.Has(ctx, "a/b")
	assert.ErrorIs(t, err, common.ErrInvalidLocator)
}
