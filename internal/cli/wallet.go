package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/paylock/internal/cryptox"
	"github.com/dmitrijs2005/paylock/internal/ledger"
	"github.com/dmitrijs2005/paylock/internal/units"
	"github.com/dmitrijs2005/paylock/internal/wallet"
)

func (a *App) loadWallet() (*wallet.Wallet, error) {
	pass, err := a.passphrase("Passphrase: ")
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(pass)
	return wallet.Load(a.cfg.KeystorePath, pass)
}

func (a *App) keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create a new wallet in the keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pass, err := a.newPassphrase()
			if err != nil {
				return err
			}
			defer cryptox.Wipe(pass)

			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := wallet.Save(a.cfg.KeystorePath, w, pass); err != nil {
				return err
			}
			a.logger.Info(cmd.Context(), "wallet created", "address", w.Address(), "keystore", a.cfg.KeystorePath)
			a.printf("%s\n", w.Address())
			return nil
		},
	}
}

func (a *App) addressCmd() *cobra.Command {
	var balance bool
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the wallet address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := a.loadWallet()
			if err != nil {
				return err
			}
			a.printf("%s\n", w.Address())
			if !balance {
				return nil
			}
			return a.withBackends(cmd, func(ctx context.Context, b *Backends) error {
				amount, err := b.Treasury.Balance(ctx, w.Address())
				if err != nil {
					return err
				}
				a.printf("balance: %s\n", units.Format(amount, units.DefaultDecimals))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&balance, "balance", false, "also print the ledger balance")
	return cmd
}

func (a *App) faucetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "faucet <address> <amount>",
		Short: "Mint test funds to an address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := ledger.ParseAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := units.Parse(args[1], units.DefaultDecimals)
			if err != nil {
				return err
			}
			return a.withBackends(cmd, func(ctx context.Context, b *Backends) error {
				if err := b.Treasury.Credit(ctx, addr, amount); err != nil {
					return err
				}
				total, err := b.Treasury.Balance(ctx, addr)
				if err != nil {
					return err
				}
				a.printf("%s balance: %s\n", addr, units.Format(total, units.DefaultDecimals))
				return nil
			})
		},
	}
}
