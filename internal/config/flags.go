package config

import (
	"github.com/spf13/pflag"

	"github.com/dmitrijs2005/paylock/internal/flagx"
)

// ConfigFlag names the JSON file flag.
const ConfigFlag = "config"

// BindFlags registers every setting on fs, with c's values as defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.LinkBase, "link-base", c.LinkBase, "scheme://host that redeem links point at")
	fs.StringVar(&c.LedgerBackend, "ledger", c.LedgerBackend, "ledger backend: postgres or memory")
	fs.StringVarP(&c.DatabaseDSN, "dsn", "d", c.DatabaseDSN, "Postgres DSN of the ledger")
	fs.StringVar(&c.StoreBackend, "store", c.StoreBackend, "blob store backend: walrus, s3 or bolt")
	fs.StringVar(&c.PublisherURL, "publisher", c.PublisherURL, "Walrus publisher URL")
	fs.StringVar(&c.AggregatorURL, "aggregator", c.AggregatorURL, "Walrus aggregator URL")
	fs.Uint64Var(&c.Epochs, "epochs", c.Epochs, "storage epochs requested on upload")
	fs.Int64Var(&c.MaxPayload, "max-payload", c.MaxPayload, "largest encrypted payload accepted for upload, in bytes")
	fs.StringVarP(&c.S3User, "s3-user", "u", c.S3User, "S3 access key")
	fs.StringVarP(&c.S3Password, "s3-password", "p", c.S3Password, "S3 secret key")
	fs.StringVarP(&c.S3Bucket, "s3-bucket", "b", c.S3Bucket, "S3 bucket")
	fs.StringVarP(&c.S3Region, "s3-region", "g", c.S3Region, "S3 region")
	fs.StringVarP(&c.S3Endpoint, "s3-endpoint", "e", c.S3Endpoint, "S3 base endpoint")
	fs.StringVar(&c.BoltPath, "bolt-path", c.BoltPath, "bolt blob store file")
	fs.StringVarP(&c.KeystorePath, "keystore", "k", c.KeystorePath, "wallet keystore file")
	fs.DurationVar(&c.RequestTimeout, "timeout", c.RequestTimeout, "timeout of each store and ledger call")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text or json")
}

// Load resolves the configuration for a parsed flag set: defaults, then the
// JSON file named by --config, then the flags that were set explicitly.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	if f := fs.Lookup(ConfigFlag); f != nil && f.Value.String() != "" {
		if err := cfg.overlayJSON(f.Value.String()); err != nil {
			return nil, err
		}
	}

	resolved := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
	cfg.BindFlags(resolved)
	if err := flagx.Replay(fs, resolved); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
