package cli

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/ledger"
	"github.com/dmitrijs2005/paylock/internal/units"
	"github.com/dmitrijs2005/paylock/internal/workflow"
)

func (a *App) publishCmd() *cobra.Command {
	var (
		price       string
		commission  uint64
		description string
		contentType string
	)
	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Encrypt a file, store it and list it for sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := units.Parse(price, units.DefaultDecimals)
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if contentType == "" {
				contentType = detectContentType(args[0], content)
			}

			w, err := a.loadWallet()
			if err != nil {
				return err
			}

			return a.withBackends(cmd, func(ctx context.Context, b *Backends) error {
				res, err := b.Flow.Publish(ctx, w, workflow.PublishRequest{
					Content:     content,
					FileName:    filepath.Base(args[0]),
					ContentType: contentType,
					Description: description,
					Price:       amount,
					AffiliateBP: commission,
				})
				if err != nil {
					return err
				}
				a.printf("listing: %s\n", res.ListingID)
				a.printf("locator: %s\n", res.Locator)
				a.printf("link: %s\n", res.Link.Encode())
				if res.ReferralLink != nil {
					a.printf("referral link: %s\n", res.ReferralLink.Encode())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&price, "price", "", "price in coins, e.g. 1.5")
	cmd.Flags().Uint64Var(&commission, "commission", 0, "referral commission in basis points, at most 1000")
	cmd.Flags().StringVar(&description, "description", "", "listing description")
	cmd.Flags().StringVar(&contentType, "type", "", "MIME type; detected from the file when empty")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func detectContentType(path string, content []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(content)
}

func (a *App) redeemCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "redeem <link>",
		Short: "Pay for a listing and save the decrypted file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.loadWallet()
			if err != nil {
				return err
			}
			return a.withBackends(cmd, func(ctx context.Context, b *Backends) error {
				r, err := b.Flow.Redeem(ctx, w, args[0])
				if err != nil {
					if hint := redeemHint(err); hint != "" {
						fmt.Fprintln(a.errOut, hint)
					}
					return err
				}
				path, err := saveContent(out, r)
				if err != nil {
					return err
				}
				a.printf("paid: %s\n", units.Format(r.Purchase.Paid, units.DefaultDecimals))
				a.printf("saved: %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", ".", "directory to write the file to")
	return cmd
}

// redeemHint tells the user what a failed redeem means for their money.
func redeemHint(err error) string {
	var se *workflow.StageError
	switch {
	case errors.As(err, &se) && se.Paid:
		return "payment went through; run \"paylock unlock\" with the same link to fetch the file"
	case common.Ambiguous(err):
		return "the purchase may or may not have been recorded; check the ledger (\"paylock address --balance\") before trying again"
	case common.Retryable(err):
		return "nothing was paid; the store is unreachable, it is safe to retry"
	default:
		return ""
	}
}

func (a *App) unlockCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "unlock <link>",
		Short: "Download and decrypt a listing already paid for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackends(cmd, func(ctx context.Context, b *Backends) error {
				r, err := b.Flow.Unlock(ctx, args[0])
				if err != nil {
					return err
				}
				path, err := saveContent(out, r)
				if err != nil {
					return err
				}
				a.printf("saved: %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", ".", "directory to write the file to")
	return cmd
}

// saveContent writes r into dir under the base of its stored file name. An
// existing file is never replaced.
func saveContent(dir string, r *workflow.Redeemed) (string, error) {
	name := filepath.Base(r.FileName)
	switch name {
	case ".", "..", string(filepath.Separator):
		name = "listing-" + string(r.ListingID)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(r.Content); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

func (a *App) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <listing-id>",
		Short: "Print a listing and its sales",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ledger.ParseObjectID(args[0])
			if err != nil {
				return err
			}
			return a.withBackends(cmd, func(ctx context.Context, b *Backends) error {
				l, err := b.Market.Listing(ctx, id)
				if err != nil {
					return err
				}
				sales, err := b.Market.Purchases(ctx, id)
				if err != nil {
					return err
				}
				a.printf("id: %s\n", l.ID)
				a.printf("seller: %s\n", l.Seller)
				a.printf("name: %s\n", l.Name)
				a.printf("description: %s\n", l.Description)
				a.printf("price: %s\n", units.Format(l.Price, units.DefaultDecimals))
				a.printf("commission: %d bp\n", l.AffiliateBP)
				a.printf("active: %t\n", l.IsActive)
				a.printf("locator: %s\n", l.Locator)
				a.printf("sales: %d\n", len(sales))
				return nil
			})
		},
	}
}

func (a *App) setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <listing-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ledger.ParseObjectID(args[0])
			if err != nil {
				return err
			}
			w, err := a.loadWallet()
			if err != nil {
				return err
			}
			return a.withBackends(cmd, func(ctx context.Context, b *Backends) error {
				if active {
					return b.Market.Reactivate(ctx, w, id)
				}
				return b.Market.Deactivate(ctx, w, id)
			})
		},
	}
}

func (a *App) deactivateCmd() *cobra.Command {
	return a.setActiveCmd("deactivate", "Stop selling a listing", false)
}

func (a *App) reactivateCmd() *cobra.Command {
	return a.setActiveCmd("reactivate", "Resume selling a listing", true)
}

func (a *App) commissionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commission <listing-id> <basis-points>",
		Short: "Change the referral commission of a listing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ledger.ParseObjectID(args[0])
			if err != nil {
				return err
			}
			bp, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: commission: %v", common.ErrValidation, err)
			}
			w, err := a.loadWallet()
			if err != nil {
				return err
			}
			return a.withBackends(cmd, func(ctx context.Context, b *Backends) error {
				return b.Market.UpdateCommission(ctx, w, id, bp)
			})
		},
	}
}
