// Package workflow sequences the envelope, locator and marketplace into the
// publish and redeem flows. It adds stage context to failures but never a
// new error kind, and it never retries.
package workflow

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/cryptox"
	"github.com/dmitrijs2005/paylock/internal/ledger"
	"github.com/dmitrijs2005/paylock/internal/link"
	"github.com/dmitrijs2005/paylock/internal/logging"
	"github.com/dmitrijs2005/paylock/internal/market"
)

// Stages.
const (
	StageValidate      = "validate"
	StageGenerateKey   = "generate key"
	StageEncrypt       = "encrypt"
	StageFrame         = "frame"
	StageUpload        = "upload"
	StageCreateListing = "create listing"
	StageBuildLink     = "build link"
	StageParseLink     = "parse link"
	StageReadListing   = "read listing"
	StageCheckContent  = "check content"
	StagePurchase      = "purchase"
	StageDownload      = "download"
	StageUnframe       = "unframe"
	StageDecrypt       = "decrypt"
)

// Store is the content locator.
type Store interface {
	Upload(ctx context.Context, payload []byte) (string, error)
	Download(ctx context.Context, locator string) ([]byte, error)
	// Has reports presence, or a kinded error when presence could not be
	// established.
	Has(ctx context.Context, locator string) (bool, error)
}

// Market is the marketplace client.
type Market interface {
	CreateListing(ctx context.Context, s ledger.Signer, nl market.NewListing) (ledger.ObjectID, error)
	Listing(ctx context.Context, id ledger.ObjectID) (*market.Listing, error)
	Purchase(ctx context.Context, s ledger.Signer, id ledger.ObjectID, payment uint64) (*market.PurchaseEvent, error)
	PurchaseWithReferral(ctx context.Context, s ledger.Signer, id ledger.ObjectID, payment uint64, referrer ledger.Address) (*market.PurchaseEvent, error)
}

// StageError reports the stage a flow failed at. Paid is set when the
// failure happened after a committed purchase; the same link can then be
// passed to Unlock without paying again.
type StageError struct {
	Op    string
	Stage string
	Paid  bool
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Workflow struct {
	market   Market
	store    Store
	linkBase string
	logger   logging.Logger
}

func New(m Market, store Store, linkBase string, logger logging.Logger) *Workflow {
	return &Workflow{market: m, store: store, linkBase: linkBase, logger: logger}
}

type PublishRequest struct {
	Content     []byte
	FileName    string
	ContentType string
	Description string
	Price       uint64
	AffiliateBP uint64
}

type PublishResult struct {
	ListingID ledger.ObjectID
	Locator   string
	Link      *link.Link
	// ReferralLink carries the seller as referrer. Set only when the
	// listing pays a commission.
	ReferralLink *link.Link
}

// Publish encrypts the content under a fresh key, uploads it and creates
// the listing. Price and commission are checked before anything is
// uploaded.
func (w *Workflow) Publish(ctx context.Context, seller ledger.Signer, req PublishRequest) (*PublishResult, error) {
	fail := func(stage string, err error) error {
		return &StageError{Op: "publish", Stage: stage, Err: err}
	}

	if req.Price == 0 {
		return nil, fail(StageValidate, market.ErrInvalidPrice)
	}
	if err := market.ValidateCommission(req.AffiliateBP); err != nil {
		return nil, fail(StageValidate, err)
	}

	key, err := cryptox.GenerateKey()
	if err != nil {
		return nil, fail(StageGenerateKey, err)
	}
	ct, iv, err := cryptox.Encrypt(req.Content, key)
	if err != nil {
		return nil, fail(StageEncrypt, err)
	}
	payload, err := cryptox.Frame(ct, iv)
	if err != nil {
		return nil, fail(StageFrame, err)
	}
	loc, err := w.store.Upload(ctx, payload)
	if err != nil {
		return nil, fail(StageUpload, err)
	}

	id, err := w.market.CreateListing(ctx, seller, market.NewListing{
		Price:       req.Price,
		Locator:     []byte(loc),
		Name:        []byte(req.FileName),
		Description: []byte(req.Description),
		AffiliateBP: req.AffiliateBP,
	})
	if err != nil {
		return nil, fail(StageCreateListing, err)
	}

	l, err := link.Build(w.linkBase, id, link.Secret{Key: key, Name: req.FileName, Type: req.ContentType})
	if err != nil {
		return nil, fail(StageBuildLink, err)
	}
	res := &PublishResult{ListingID: id, Locator: loc, Link: l}
	if req.AffiliateBP > 0 {
		res.ReferralLink = l.WithReferrer(seller.Address())
	}

	w.logger.Info(ctx, "listing published", "listing_id", id, "locator", loc, "link", l)
	return res, nil
}

// Redeemed is decrypted content ready for delivery.
type Redeemed struct {
	ListingID   ledger.ObjectID
	FileName    string
	ContentType string
	Content     []byte
	// Purchase is nil when the content was unlocked without paying.
	Purchase *market.PurchaseEvent
}

// Redeem pays for the listing named by rawLink and unlocks its content.
// The referral variant is used only when the link names a referrer who is
// neither the buyer nor the seller and the listing pays a commission.
func (w *Workflow) Redeem(ctx context.Context, buyer ledger.Signer, rawLink string) (*Redeemed, error) {
	fail := func(stage string, err error) error {
		return &StageError{Op: "redeem", Stage: stage, Err: err}
	}

	l, err := link.Parse(rawLink)
	if err != nil {
		return nil, fail(StageParseLink, err)
	}
	listing, err := w.market.Listing(ctx, l.ListingID)
	if err != nil {
		return nil, fail(StageReadListing, err)
	}
	ok, err := w.store.Has(ctx, string(listing.Locator))
	if err != nil {
		return nil, fail(StageCheckContent, err)
	}
	if !ok {
		return nil, fail(StageCheckContent, fmt.Errorf("%w: content of listing %s", common.ErrNotFound, l.ListingID))
	}

	var ev *market.PurchaseEvent
	if useReferral(l.Referrer, buyer.Address(), listing) {
		ev, err = w.market.PurchaseWithReferral(ctx, buyer, l.ListingID, listing.Price, l.Referrer)
	} else {
		ev, err = w.market.Purchase(ctx, buyer, l.ListingID, listing.Price)
	}
	if err != nil {
		return nil, fail(StagePurchase, err)
	}
	w.logger.Info(ctx, "listing purchased", "listing_id", l.ListingID, "buyer", buyer.Address(), "paid", ev.Paid)

	out, stage, err := w.unlock(ctx, l, listing.Locator)
	if err != nil {
		w.logger.Warn(ctx, "payment is final but unlock failed; retry unlock with the same link",
			"listing_id", l.ListingID, "stage", stage, "error", err)
		return nil, &StageError{Op: "redeem", Stage: stage, Paid: true, Err: err}
	}
	out.Purchase = ev
	return out, nil
}

func useReferral(ref, buyer ledger.Address, l *market.Listing) bool {
	return ref != "" && ref != buyer && ref != l.Seller && l.AffiliateBP > 0
}

// Unlock downloads and decrypts the content of an already purchased
// listing. It can be repeated any number of times.
func (w *Workflow) Unlock(ctx context.Context, rawLink string) (*Redeemed, error) {
	l, err := link.Parse(rawLink)
	if err != nil {
		return nil, &StageError{Op: "unlock", Stage: StageParseLink, Err: err}
	}
	listing, err := w.market.Listing(ctx, l.ListingID)
	if err != nil {
		return nil, &StageError{Op: "unlock", Stage: StageReadListing, Err: err}
	}
	out, stage, err := w.unlock(ctx, l, listing.Locator)
	if err != nil {
		return nil, &StageError{Op: "unlock", Stage: stage, Err: err}
	}
	return out, nil
}

func (w *Workflow) unlock(ctx context.Context, l *link.Link, loc []byte) (*Redeemed, string, error) {
	payload, err := w.store.Download(ctx, string(loc))
	if err != nil {
		return nil, StageDownload, err
	}
	ct, iv, err := cryptox.Unframe(payload)
	if err != nil {
		return nil, StageUnframe, err
	}
	sec := l.Secret()
	plain, err := cryptox.Decrypt(ct, sec.Key, iv)
	if err != nil {
		return nil, StageDecrypt, err
	}
	return &Redeemed{ListingID: l.ListingID, FileName: sec.Name, ContentType: sec.Type, Content: plain}, "", nil
}
