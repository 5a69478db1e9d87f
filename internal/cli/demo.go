package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/paylock/internal/ledger/memledger"
	"github.com/dmitrijs2005/paylock/internal/locator/boltstore"
	"github.com/dmitrijs2005/paylock/internal/market"
	"github.com/dmitrijs2005/paylock/internal/units"
	"github.com/dmitrijs2005/paylock/internal/wallet"
	"github.com/dmitrijs2005/paylock/internal/workflow"
)

// demoContent is what the demo seller puts up for sale.
const demoContent = "the quick brown fox jumps over the lazy dog\n"

func (a *App) demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a publish and redeem round trip against throwaway backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RequestTimeout)
			defer cancel()
			return a.runDemo(ctx)
		},
	}
}

func (a *App) runDemo(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "paylock-demo-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	store, err := boltstore.Open(filepath.Join(dir, "blobs.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	l := memledger.New(a.logger.With("component", "ledger"), market.NewModule())
	b := NewBackends(a.cfg, l, store, a.logger)

	seller, err := wallet.Generate()
	if err != nil {
		return err
	}
	buyer, err := wallet.Generate()
	if err != nil {
		return err
	}
	price, err := units.Parse("1.5", units.DefaultDecimals)
	if err != nil {
		return err
	}
	if err := l.Credit(ctx, buyer.Address(), 2*price); err != nil {
		return err
	}

	res, err := b.Flow.Publish(ctx, seller, workflow.PublishRequest{
		Content:     []byte(demoContent),
		FileName:    "fox.txt",
		ContentType: "text/plain; charset=utf-8",
		Description: "a pangram",
		Price:       price,
		AffiliateBP: 500,
	})
	if err != nil {
		return err
	}
	a.printf("seller %s listed %s\n", seller.Address(), res.ListingID)
	a.printf("link: %s\n", res.Link.Encode())

	r, err := b.Flow.Redeem(ctx, buyer, res.ReferralLink.Encode())
	if err != nil {
		return err
	}
	a.printf("buyer %s paid %s\n", buyer.Address(), units.Format(r.Purchase.Paid, units.DefaultDecimals))
	a.printf("%s (%s): %s", r.FileName, r.ContentType, r.Content)

	for _, w := range []*wallet.Wallet{seller, buyer} {
		bal, err := l.Balance(ctx, w.Address())
		if err != nil {
			return err
		}
		a.printf("balance %s: %s\n", w.Address(), units.Format(bal, units.DefaultDecimals))
	}
	return nil
}
