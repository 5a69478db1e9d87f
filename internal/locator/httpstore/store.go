// Package httpstore talks to a Walrus-style blob network: payloads are
// written through a publisher and read back through an aggregator.
package httpstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/paylock/internal/common"
)

const blobIDLen = 32

// Config holds endpoints and limits for a Store.
type Config struct {
	PublisherURL  string
	AggregatorURL string
	// Epochs is the storage duration requested on upload. Zero leaves it to
	// the publisher.
	Epochs  int
	Timeout time.Duration
	// MaxPayload bounds downloaded blobs. Zero means no bound.
	MaxPayload int64
}

// Store is a locator.Backend over the publisher/aggregator HTTP API.
type Store struct {
	cfg    Config
	client *http.Client
}

// New returns a Store. A nil client gets a default one bounded by
// cfg.Timeout.
func New(cfg Config, client *http.Client) *Store {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Store{cfg: cfg, client: client}
}

// storeResponse covers both success shapes returned by the publisher.
type storeResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
	} `json:"alreadyCertified"`
}

func (r *storeResponse) blobID() (string, error) {
	switch {
	case r.NewlyCreated != nil && r.NewlyCreated.BlobObject.BlobID != "":
		return r.NewlyCreated.BlobObject.BlobID, nil
	case r.AlreadyCertified != nil && r.AlreadyCertified.BlobID != "":
		return r.AlreadyCertified.BlobID, nil
	default:
		return "", fmt.Errorf("unrecognized publisher response")
	}
}

func (s *Store) blobURL(base, id string) string {
	return strings.TrimRight(base, "/") + "/v1/blobs/" + url.PathEscape(id)
}

// Put uploads payload. The "already certified" answer for known content is
// a success and yields the same blob id as the original upload.
func (s *Store) Put(ctx context.Context, payload []byte) (string, error) {
	u := strings.TrimRight(s.cfg.PublisherURL, "/") + "/v1/blobs"
	if s.cfg.Epochs > 0 {
		u += "?epochs=" + strconv.Itoa(s.cfg.Epochs)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", common.ErrStoreUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", common.ErrStoreUnavailable, err)
	}
	if err := statusError(resp.StatusCode, body); err != nil {
		return "", err
	}

	var sr storeResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", common.ErrStoreRejected, err)
	}
	id, err := sr.blobID()
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStoreRejected, err)
	}
	if err := s.Validate(id); err != nil {
		return "", fmt.Errorf("%w: publisher returned %v", common.ErrStoreRejected, err)
	}
	return id, nil
}

// Get downloads the blob addressed by id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.blobURL(s.cfg.AggregatorURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", common.ErrStoreUnavailable, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("blob %s: %w", id, common.ErrNotFound)
		}
		return nil, statusError(resp.StatusCode, b)
	}

	body := io.Reader(resp.Body)
	if s.cfg.MaxPayload > 0 {
		body = io.LimitReader(resp.Body, s.cfg.MaxPayload+1)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read blob: %v", common.ErrStoreUnavailable, err)
	}
	if s.cfg.MaxPayload > 0 && int64(len(payload)) > s.cfg.MaxPayload {
		return nil, fmt.Errorf("%w: blob %s exceeds %d bytes", common.ErrStoreRejected, id, s.cfg.MaxPayload)
	}
	return payload, nil
}

// Has issues a HEAD request against the aggregator.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.blobURL(s.cfg.AggregatorURL, id), nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %s", resp.Status)
	}
}

// Validate accepts unpadded base64url blob ids of 32 bytes.
func (s *Store) Validate(id string) error {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return fmt.Errorf("blob id encoding: %w", err)
	}
	if len(raw) != blobIDLen {
		return fmt.Errorf("blob id must be %d bytes, got %d", blobIDLen, len(raw))
	}
	return nil
}

func statusError(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestEntityTooLarge, code == http.StatusBadRequest,
		code == http.StatusUnprocessableEntity, code == http.StatusUnsupportedMediaType:
		return fmt.Errorf("%w: status %d: %s", common.ErrStoreRejected, code, bytes.TrimSpace(body))
	default:
		return fmt.Errorf("%w: status %d: %s", common.ErrStoreUnavailable, code, bytes.TrimSpace(body))
	}
}
