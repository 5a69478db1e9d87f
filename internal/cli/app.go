// Package cli is the paylock command line: wallet management, publishing,
// redeeming and listing administration, built on cobra.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/dmitrijs2005/paylock/internal/config"
	"github.com/dmitrijs2005/paylock/internal/ledger"
	"github.com/dmitrijs2005/paylock/internal/ledger/memledger"
	"github.com/dmitrijs2005/paylock/internal/ledger/pgledger"
	"github.com/dmitrijs2005/paylock/internal/locator"
	"github.com/dmitrijs2005/paylock/internal/locator/boltstore"
	"github.com/dmitrijs2005/paylock/internal/locator/httpstore"
	"github.com/dmitrijs2005/paylock/internal/locator/s3store"
	"github.com/dmitrijs2005/paylock/internal/logging"
	"github.com/dmitrijs2005/paylock/internal/market"
	"github.com/dmitrijs2005/paylock/internal/workflow"
)

// Treasury is implemented by ledgers that can mint test funds.
type Treasury interface {
	Credit(ctx context.Context, addr ledger.Address, amount uint64) error
	Balance(ctx context.Context, addr ledger.Address) (uint64, error)
}

// Backends are the ledger and store a command runs against.
type Backends struct {
	Ledger   ledger.Ledger
	Treasury Treasury
	Market   *market.Client
	Store    *locator.Locator
	Flow     *workflow.Workflow
	closers  []func() error
}

func (b *Backends) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MintableLedger is a ledger with a faucet, as both shipped ledgers are.
type MintableLedger interface {
	ledger.Ledger
	Treasury
}

// NewBackends wires l and backend into the marketplace and workflow.
func NewBackends(cfg *config.Config, l MintableLedger, backend locator.Backend, logger logging.Logger) *Backends {
	m := market.NewClient(l, logger.With("component", "market"))
	store := locator.New(backend, cfg.MaxPayload, logger.With("component", "locator"))
	return &Backends{
		Ledger:   l,
		Treasury: l,
		Market:   m,
		Store:    store,
		Flow:     workflow.New(m, store, cfg.LinkBase, logger.With("component", "workflow")),
	}
}

// OpenBackends connects to the ledger and blob store named by cfg.
func OpenBackends(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Backends, error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	var l MintableLedger
	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		pl, err := pgledger.Open(ctx, cfg.DatabaseDSN, logger.With("component", "ledger"), market.NewModule())
		if err != nil {
			return nil, err
		}
		closers = append(closers, pl.Close)
		l = pl
	case config.LedgerMemory:
		l = memledger.New(logger.With("component", "ledger"), market.NewModule())
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}

	var backend locator.Backend
	switch cfg.StoreBackend {
	case config.StoreWalrus:
		backend = httpstore.New(httpstore.Config{
			PublisherURL:  cfg.PublisherURL,
			AggregatorURL: cfg.AggregatorURL,
			Epochs:        int(cfg.Epochs),
			Timeout:       cfg.RequestTimeout,
			MaxPayload:    cfg.MaxPayload,
		}, nil)
	case config.StoreS3:
		s, err := s3store.New(ctx, s3store.Config{
			User:       cfg.S3User,
			Password:   cfg.S3Password,
			Bucket:     cfg.S3Bucket,
			Region:     cfg.S3Region,
			Endpoint:   cfg.S3Endpoint,
			MaxPayload: cfg.MaxPayload,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		backend = s
	case config.StoreBolt:
		s, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, s.Close)
		backend = s
	default:
		closeAll()
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	b := NewBackends(cfg, l, backend, logger)
	b.closers = closers
	return b, nil
}

// App carries the state shared by all commands.
type App struct {
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	cfg    *config.Config
	logger logging.Logger

	// test seams
	open         func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Backends, error)
	readPassword func(fd int) ([]byte, error)
	isTerminal   func(fd int) bool
	stdinFd      int
}

func NewApp(in io.Reader, out, errOut io.Writer) *App {
	return &App{
		in:           bufio.NewReader(in),
		out:          out,
		errOut:       errOut,
		logger:       logging.Discard(),
		open:         OpenBackends,
		readPassword: term.ReadPassword,
		isTerminal:   term.IsTerminal,
		stdinFd:      int(os.Stdin.Fd()),
	}
}

func (a *App) backends(ctx context.Context) (*Backends, error) {
	return a.open(ctx, a.cfg, a.logger)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
