// Package s3store keeps envelope payloads in an S3-compatible bucket under
// their content id, so identical payloads always land on the same key.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/locator"
)

// API is the subset of *s3.Client used by Store.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config holds bucket coordinates and static credentials.
type Config struct {
	User      string
	Password  string
	Bucket    string
	Region    string
	Endpoint  string
	KeyPrefix string
	// MaxPayload bounds downloaded objects. Zero means no bound.
	MaxPayload int64
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Store is a locator.Backend over S3.
type Store struct {
	api        API
	bucket     string
	prefix     string
	maxPayload int64
}

// New builds an S3 client from cfg. Path-style addressing is used so MinIO
// endpoints work unchanged.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.User, cfg.Password, "")),
	)
	if err != nil {
		return nil, err
	}

	api := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	s := NewWithAPI(api, cfg.Bucket, cfg.KeyPrefix)
	s.maxPayload = cfg.MaxPayload
	return s, nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, bucket, prefix string) *Store {
	return &Store{api: api, bucket: bucket, prefix: prefix}
}

func (s *Store) key(loc string) *string {
	return aws.String(s.prefix + loc)
}

// Put writes payload with If-None-Match so an existing object is left
// untouched; a failed precondition means the content is already stored
// and is reported as success.
func (s *Store) Put(ctx context.Context, payload []byte) (string, error) {
	loc, err := locator.ContentID(payload)
	if err != nil {
		return "", err
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           s.key(loc),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("application/octet-stream"),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if apiCode(err) == "PreconditionFailed" || httpStatus(err) == http.StatusPreconditionFailed {
			return loc, nil
		}
		return "", classify(err)
	}
	return loc, nil
}

// Get fetches the object stored under loc. An object whose bytes do not
// hash to loc is refused.
func (s *Store) Get(ctx context.Context, loc string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(loc),
	})
	if err != nil {
		return nil, classify(err)
	}
	defer out.Body.Close()

	body := io.Reader(out.Body)
	if s.maxPayload > 0 {
		body = io.LimitReader(out.Body, s.maxPayload+1)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read object: %v", common.ErrStoreUnavailable, err)
	}
	if s.maxPayload > 0 && int64(len(payload)) > s.maxPayload {
		return nil, fmt.Errorf("%w: object %s exceeds %d bytes", common.ErrStoreRejected, loc, s.maxPayload)
	}
	if !locator.VerifyContentID(loc, payload) {
		return nil, fmt.Errorf("%w: object %s does not match its content id", common.ErrStoreRejected, loc)
	}
	return payload, nil
}

// Has checks the object with HeadObject.
func (s *Store) Has(ctx context.Context, loc string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(loc),
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(classify(err), common.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *Store) Validate(loc string) error {
	return locator.ValidateContentID(loc)
}

func classify(err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %v", common.ErrNotFound, err)
	}

	switch apiCode(err) {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %v", common.ErrNotFound, err)
	case "EntityTooLarge", "InvalidRequest", "InvalidArgument":
		return fmt.Errorf("%w: %v", common.ErrStoreRejected, err)
	}
	if httpStatus(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %v", common.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
}

func apiCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

func httpStatus(err error) int {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}
