package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/locator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in memory and honours If-None-Match.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	err     error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; ok && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts++
	f.objects[key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestStore_PutGetHas(t *testing.T) {
	fake := newFakeS3()
	s := NewWithAPI(fake, "vault", "blobs/")
	ctx := context.Background()

	loc, err := s.Put(ctx, []byte("ciphertext"))
	require.NoError(t, err)
	require.NoError(t, s.Validate(loc))
	assert.Contains(t, fake.objects, "blobs/"+loc)

	got, err := s.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", string(got))

	ok, err := s.Has(ctx, loc)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_PutExistingIsSuccess(t *testing.T) {
	fake := newFakeS3()
	s := NewWithAPI(fake, "vault", "")

	first, err := s.Put(context.Background(), []byte("same"))
	require.NoError(t, err)
	second, err := s.Put(context.Background(), []byte("same"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.puts)
}

func TestStore_MissingObject(t *testing.T) {
	s := NewWithAPI(newFakeS3(), "vault", "")
	loc, err := locator.ContentID([]byte("absent"))
	require.NoError(t, err)

	_, err = s.Get(context.Background(), loc)
	assert.ErrorIs(t, err, common.ErrNotFound)

	ok, err := s.Has(context.Background(), loc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"too large", &smithy.GenericAPIError{Code: "EntityTooLarge"}, common.ErrStoreRejected},
		{"generic not found", &smithy.GenericAPIError{Code: "NoSuchKey"}, common.ErrNotFound},
		{"throttled", &smithy.GenericAPIError{Code: "SlowDown"}, common.ErrStoreUnavailable},
		{"transport", errors.New("dial tcp: connection refused"), common.ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeS3()
			fake.err = tt.err
			s := NewWithAPI(fake, "vault", "")

			_, err := s.Put(context.Background(), []byte("x"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStore_HasTransportError(t *testing.T) {
	fake := newFakeS3()
	fake.err = errors.New("timeout")
	loc, _ := locator.ContentID([]byte("x"))

	_, err := NewWithAPI(fake, "vault", "").Has(context.Background(), loc)
	assert.Error(t, err)
}

func TestNew_AppliesConfig(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "us-east-1", lo.Region)
		return aws.Config{}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) API {
		for _, fn := range optFns {
			fn(&opts)
		}
		return newFakeS3()
	}

	s, err := New(context.Background(), Config{Region: "us-east-1", Endpoint: "http://127.0.0.1:9000", Bucket: "vault"})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}
	_, err = New(context.Background(), Config{})
	assert.EqualError(t, err, "load-fail")
}

func TestStore_GetRefusesTamperedObject(t *testing.T) {
	fake := newFakeS3()
	s := NewWithAPI(fake, "vault", "")
	loc, err := s.Put(context.Background(), []byte("ciphertext"))
	require.NoError(t, err)

	fake.objects[loc] = []byte("swapped")
	_, err = s.Get(context.Background(), loc)
	assert.ErrorIs(t, err, common.ErrStoreRejected)
}

func TestStore_GetBoundedByMaxPayload(t *testing.T) {
	s := NewWithAPI(newFakeS3(), "vault", "")
	loc, err := s.Put(context.Background(), []byte("0123456789"))
	require.NoError(t, err)

	s.maxPayload = 10
	_, err = s.Get(context.Background(), loc)
	require.NoError(t, err)

	s.maxPayload = 9
	_, err = s.Get(context.Background(), loc)
	assert.ErrorIs(t, err, common.ErrStoreRejected)
}
