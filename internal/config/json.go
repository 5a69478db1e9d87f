package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/paylock/internal/timex"
)

// jsonConfig is the file form of Config. Durations go through
// timex.Duration so "30s" and integer nanoseconds both work. Keys missing
// from the file keep their current value.
type jsonConfig struct {
	LinkBase       string         `json:"link_base"`
	LedgerBackend  string         `json:"ledger_backend"`
	DatabaseDSN    string         `json:"database_dsn"`
	StoreBackend   string         `json:"store_backend"`
	PublisherURL   string         `json:"publisher_url"`
	AggregatorURL  string         `json:"aggregator_url"`
	Epochs         uint64         `json:"epochs"`
	MaxPayload     int64          `json:"max_payload"`
	S3User         string         `json:"s3_user"`
	S3Password     string         `json:"s3_password"`
	S3Bucket       string         `json:"s3_bucket"`
	S3Region       string         `json:"s3_region"`
	S3Endpoint     string         `json:"s3_endpoint"`
	BoltPath       string         `json:"bolt_path"`
	KeystorePath   string         `json:"keystore_path"`
	RequestTimeout timex.Duration `json:"request_timeout"`
	LogLevel       string         `json:"log_level"`
	LogFormat      string         `json:"log_format"`
}

// overlayJSON applies the settings in file path over c.
func (c *Config) overlayJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	jc := jsonConfig{
		LinkBase: c.LinkBase, LedgerBackend: c.LedgerBackend, DatabaseDSN: c.DatabaseDSN,
		StoreBackend: c.StoreBackend, PublisherURL: c.PublisherURL, AggregatorURL: c.AggregatorURL,
		Epochs: c.Epochs, MaxPayload: c.MaxPayload,
		S3User: c.S3User, S3Password: c.S3Password, S3Bucket: c.S3Bucket, S3Region: c.S3Region, S3Endpoint: c.S3Endpoint,
		BoltPath: c.BoltPath, KeystorePath: c.KeystorePath,
		RequestTimeout: timex.Duration{Duration: c.RequestTimeout},
		LogLevel:       c.LogLevel, LogFormat: c.LogFormat,
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	c.LinkBase, c.LedgerBackend, c.DatabaseDSN = jc.LinkBase, jc.LedgerBackend, jc.DatabaseDSN
	c.StoreBackend, c.PublisherURL, c.AggregatorURL = jc.StoreBackend, jc.PublisherURL, jc.AggregatorURL
	c.Epochs, c.MaxPayload = jc.Epochs, jc.MaxPayload
	c.S3User, c.S3Password, c.S3Bucket, c.S3Region, c.S3Endpoint = jc.S3User, jc.S3Password, jc.S3Bucket, jc.S3Region, jc.S3Endpoint
	c.BoltPath, c.KeystorePath = jc.BoltPath, jc.KeystorePath
	c.RequestTimeout = jc.RequestTimeout.Duration
	c.LogLevel, c.LogFormat = jc.LogLevel, jc.LogFormat
	return nil
}
