package market

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/ledger"
	"github.com/dmitrijs2005/paylock/internal/logging"
)

// NewListing describes a listing to create. A zero AffiliateBP creates a
// listing without commission.
type NewListing struct {
	Price       uint64
	Locator     []byte
	Name        []byte
	Description []byte
	AffiliateBP uint64
}

// Client submits marketplace intents to a ledger and reads listings back.
// Errors from the ledger are returned unchanged.
type Client struct {
	ledger ledger.Ledger
	logger logging.Logger
	nonce  func() string
}

func NewClient(l ledger.Ledger, logger logging.Logger) *Client {
	return &Client{ledger: l, logger: logger, nonce: uuid.NewString}
}

func (c *Client) submit(ctx context.Context, s ledger.Signer, fn string, args any, payment uint64) (*ledger.Receipt, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s arguments: %v", common.ErrValidation, fn, err)
	}
	signed, err := s.Sign(ledger.Intent{
		Sender:   s.Address(),
		Module:   ModuleName,
		Function: fn,
		Args:     raw,
		Payment:  payment,
		Nonce:    c.nonce(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sign %s: %v", common.ErrLedgerSubmission, fn, err)
	}
	r, err := c.ledger.Submit(ctx, signed)
	if err != nil {
		c.logger.Debug(ctx, "marketplace call failed", "function", fn, "sender", s.Address(), "error", err)
		return nil, err
	}
	c.logger.Info(ctx, "marketplace call committed", "function", fn, "sender", s.Address(), "digest", r.Digest)
	return r, nil
}

// CreateListing creates a listing owned by the signer and returns its id.
func (c *Client) CreateListing(ctx context.Context, s ledger.Signer, nl NewListing) (ledger.ObjectID, error) {
	fn := FnCreateListing
	if nl.AffiliateBP != 0 {
		fn = FnCreateListingWithCommission
	}
	r, err := c.submit(ctx, s, fn, createArgs{
		Price: nl.Price, Locator: nl.Locator, Name: nl.Name, Description: nl.Description, AffiliateBP: nl.AffiliateBP,
	}, 0)
	if err != nil {
		return "", err
	}
	var ev ListingCreated
	if err := decodeEvent(r, EventListingCreated, &ev); err != nil {
		return "", err
	}
	return ev.ListingID, nil
}

// Purchase pays payment for the listing, all of it going to the seller.
func (c *Client) Purchase(ctx context.Context, s ledger.Signer, id ledger.ObjectID, payment uint64) (*PurchaseEvent, error) {
	return c.purchase(ctx, s, FnPurchase, listingArgs{Listing: id}, payment)
}

func (c *Client) PurchaseWithReferral(ctx context.Context, s ledger.Signer, id ledger.ObjectID, payment uint64, referrer ledger.Address) (*PurchaseEvent, error) {
	return c.purchase(ctx, s, FnPurchaseWithReferral, referralArgs{Listing: id, Referrer: referrer}, payment)
}

func (c *Client) purchase(ctx context.Context, s ledger.Signer, fn string, args any, payment uint64) (*PurchaseEvent, error) {
	r, err := c.submit(ctx, s, fn, args, payment)
	if err != nil {
		return nil, err
	}
	var ev PurchaseEvent
	if err := decodeEvent(r, EventPurchased, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Client) UpdateCommission(ctx context.Context, s ledger.Signer, id ledger.ObjectID, bp uint64) error {
	_, err := c.submit(ctx, s, FnUpdateCommission, commissionArgs{Listing: id, AffiliateBP: bp}, 0)
	return err
}

func (c *Client) Deactivate(ctx context.Context, s ledger.Signer, id ledger.ObjectID) error {
	_, err := c.submit(ctx, s, FnDeactivate, listingArgs{Listing: id}, 0)
	return err
}

func (c *Client) Reactivate(ctx context.Context, s ledger.Signer, id ledger.ObjectID) error {
	_, err := c.submit(ctx, s, FnReactivate, listingArgs{Listing: id}, 0)
	return err
}

// Listing reads the current state of a listing.
func (c *Client) Listing(ctx context.Context, id ledger.ObjectID) (*Listing, error) {
	data, err := c.ledger.Object(ctx, id)
	if err != nil {
		return nil, err
	}
	return DecodeListing(id, data)
}

// Purchases returns the purchase events recorded for a listing.
func (c *Client) Purchases(ctx context.Context, id ledger.ObjectID) ([]PurchaseEvent, error) {
	events, err := c.ledger.Events(ctx, ledger.EventFilter{Module: ModuleName, Kind: EventPurchased})
	if err != nil {
		return nil, err
	}
	var out []PurchaseEvent
	for _, e := range events {
		var p PurchaseEvent
		if err := e.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: purchase event %s: %v", common.ErrLedgerSubmission, e.TxDigest, err)
		}
		if p.ListingID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

func decodeEvent(r *ledger.Receipt, kind string, v any) error {
	e, ok := r.FindEvent(kind)
	if !ok {
		return fmt.Errorf("%w: transaction %s emitted no %s event", common.ErrLedgerSubmission, r.Digest, kind)
	}
	if err := e.Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s event: %v", common.ErrLedgerSubmission, kind, err)
	}
	return nil
}
