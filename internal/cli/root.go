package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/paylock/internal/config"
	"github.com/dmitrijs2005/paylock/internal/flagx"
	"github.com/dmitrijs2005/paylock/internal/logging"
)

// Execute runs the command tree against os-level streams and args.
func Execute(ctx context.Context, in io.Reader, out, errOut io.Writer, args []string) error {
	app := NewApp(in, out, errOut)
	root := app.Command()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// Command builds the root command with every subcommand attached.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:           "paylock",
		Short:         "Sell encrypted files behind pay-to-unlock links",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	defaults := config.Default()
	root.PersistentFlags().StringP(config.ConfigFlag, "c", "", "JSON config file")
	defaults.BindFlags(root.PersistentFlags())

	root.AddCommand(
		a.keygenCmd(),
		a.addressCmd(),
		a.faucetCmd(),
		a.publishCmd(),
		a.redeemCmd(),
		a.unlockCmd(),
		a.showCmd(),
		a.deactivateCmd(),
		a.reactivateCmd(),
		a.commissionCmd(),
		a.demoCmd(),
	)
	return root
}

func (a *App) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.New(a.errOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.logger.Debug(cmd.Context(), "configuration loaded",
		"command", cmd.Name(),
		"flags", flagx.ChangedNames(cmd.Flags()),
		"ledger", cfg.LedgerBackend,
		"store", cfg.StoreBackend,
	)
	return nil
}

// withBackends opens the configured backends for the duration of fn, under
// the configured request timeout.
func (a *App) withBackends(cmd *cobra.Command, fn func(ctx context.Context, b *Backends) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RequestTimeout)
	defer cancel()

	b, err := a.backends(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			a.logger.Warn(ctx, "closing backends", "error", err)
		}
	}()
	return fn(ctx, b)
}
