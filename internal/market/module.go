package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/ledger"
)

// ModuleName is the name the marketplace module is registered under.
const ModuleName = "marketplace"

// Entry points.
const (
	FnCreateListing               = "create_listing"
	FnCreateListingWithCommission = "create_listing_with_commission"
	FnPurchase                    = "purchase"
	FnPurchaseWithReferral        = "purchase_with_referral"
	FnUpdateCommission            = "update_commission"
	FnDeactivate                  = "deactivate"
	FnReactivate                  = "reactivate"
)

// Event kinds.
const (
	EventListingCreated    = "ListingCreated"
	EventPurchased         = "Purchased"
	EventCommissionUpdated = "CommissionUpdated"
	EventActiveChanged     = "ActiveChanged"
)

type createArgs struct {
	Price       uint64 `json:"price"`
	Locator     []byte `json:"locator"`
	Name        []byte `json:"name"`
	Description []byte `json:"description"`
	AffiliateBP uint64 `json:"affiliate_bp,omitempty"`
}

type listingArgs struct {
	Listing ledger.ObjectID `json:"listing"`
}

type referralArgs struct {
	Listing  ledger.ObjectID `json:"listing"`
	Referrer ledger.Address  `json:"referrer"`
}

type commissionArgs struct {
	Listing     ledger.ObjectID `json:"listing"`
	AffiliateBP uint64          `json:"affiliate_bp"`
}

type ListingCreated struct {
	ListingID   ledger.ObjectID `json:"listing_id"`
	Seller      ledger.Address  `json:"seller"`
	Price       uint64          `json:"price"`
	AffiliateBP uint64          `json:"affiliate_bp"`
}

// PurchaseEvent is the audit record of one sale. SellerAmount is always
// Price minus AffiliateFee; Paid is the value the buyer submitted, of which
// the seller received Paid minus AffiliateFee.
type PurchaseEvent struct {
	ListingID    ledger.ObjectID `json:"listing_id"`
	Buyer        ledger.Address  `json:"buyer"`
	Seller       ledger.Address  `json:"seller"`
	Referrer     ledger.Address  `json:"referrer,omitempty"`
	Price        uint64          `json:"price"`
	AffiliateFee uint64          `json:"affiliate_fee"`
	SellerAmount uint64          `json:"seller_amount"`
	Paid         uint64          `json:"paid"`
}

type CommissionUpdated struct {
	ListingID ledger.ObjectID `json:"listing_id"`
	OldBP     uint64          `json:"old_bp"`
	NewBP     uint64          `json:"new_bp"`
}

type ActiveChanged struct {
	ListingID ledger.ObjectID `json:"listing_id"`
	Active    bool            `json:"active"`
}

// Module is the on-ledger marketplace.
type Module struct{}

func NewModule() *Module { return &Module{} }

func (*Module) Name() string { return ModuleName }

func (m *Module) Invoke(ctx context.Context, tx ledger.Tx, fn string, args json.RawMessage) error {
	switch fn {
	case FnCreateListing, FnCreateListingWithCommission:
		var a createArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		if fn == FnCreateListing {
			a.AffiliateBP = 0
		}
		return m.createListing(ctx, tx, a)
	case FnPurchase:
		var a listingArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		return m.purchase(ctx, tx, a.Listing, "")
	case FnPurchaseWithReferral:
		var a referralArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		ref, err := ledger.ParseAddress(string(a.Referrer))
		if err != nil {
			return err
		}
		return m.purchase(ctx, tx, a.Listing, ref)
	case FnUpdateCommission:
		var a commissionArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		return m.updateCommission(ctx, tx, a)
	case FnDeactivate, FnReactivate:
		var a listingArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		return m.setActive(ctx, tx, a.Listing, fn == FnReactivate)
	}
	return fmt.Errorf("%w: %s.%s", ledger.ErrUnknownFunction, ModuleName, fn)
}

func decodeArgs(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: arguments: %v", common.ErrValidation, err)
	}
	return nil
}

func (m *Module) createListing(ctx context.Context, tx ledger.Tx, a createArgs) error {
	l := &Listing{
		ID:          tx.NewID(),
		Seller:      tx.Sender(),
		Price:       a.Price,
		Locator:     a.Locator,
		Name:        a.Name,
		Description: a.Description,
		IsActive:    true,
		AffiliateBP: a.AffiliateBP,
	}
	if err := l.validate(); err != nil {
		return err
	}
	if err := put(ctx, tx, l); err != nil {
		return err
	}
	return tx.Emit(ctx, EventListingCreated, ListingCreated{
		ListingID: l.ID, Seller: l.Seller, Price: l.Price, AffiliateBP: l.AffiliateBP,
	})
}

// purchase sells the listing to the sender. An empty referrer selects the
// plain variant, which pays the whole payment to the seller.
func (m *Module) purchase(ctx context.Context, tx ledger.Tx, id ledger.ObjectID, referrer ledger.Address) error {
	l, err := get(ctx, tx, id)
	if err != nil {
		return err
	}
	paid := tx.PaymentValue()
	buyer := tx.Sender()

	if !l.IsActive {
		return ErrListingInactive
	}
	if paid < l.Price {
		return fmt.Errorf("%w: paid %d, price %d", ErrInsufficientPayment, paid, l.Price)
	}
	if referrer != "" && (referrer == buyer || referrer == l.Seller) {
		return ErrSelfReferral
	}

	fee, sellerAmount := uint64(0), l.Price
	if referrer != "" {
		fee, sellerAmount = Split(l.Price, l.AffiliateBP)
		if err := pay(ctx, tx, referrer, fee); err != nil {
			return err
		}
	}
	if err := pay(ctx, tx, l.Seller, paid-fee); err != nil {
		return err
	}

	return tx.Emit(ctx, EventPurchased, PurchaseEvent{
		ListingID:    l.ID,
		Buyer:        buyer,
		Seller:       l.Seller,
		Referrer:     referrer,
		Price:        l.Price,
		AffiliateFee: fee,
		SellerAmount: sellerAmount,
		Paid:         paid,
	})
}

func (m *Module) updateCommission(ctx context.Context, tx ledger.Tx, a commissionArgs) error {
	l, err := sellerListing(ctx, tx, a.Listing)
	if err != nil {
		return err
	}
	if err := ValidateCommission(a.AffiliateBP); err != nil {
		return err
	}
	old := l.AffiliateBP
	l.AffiliateBP = a.AffiliateBP
	if err := put(ctx, tx, l); err != nil {
		return err
	}
	return tx.Emit(ctx, EventCommissionUpdated, CommissionUpdated{ListingID: l.ID, OldBP: old, NewBP: l.AffiliateBP})
}

// setActive is idempotent: toggling into the current state succeeds.
func (m *Module) setActive(ctx context.Context, tx ledger.Tx, id ledger.ObjectID, active bool) error {
	l, err := sellerListing(ctx, tx, id)
	if err != nil {
		return err
	}
	l.IsActive = active
	if err := put(ctx, tx, l); err != nil {
		return err
	}
	return tx.Emit(ctx, EventActiveChanged, ActiveChanged{ListingID: l.ID, Active: active})
}

func sellerListing(ctx context.Context, tx ledger.Tx, id ledger.ObjectID) (*Listing, error) {
	l, err := get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if tx.Sender() != l.Seller {
		return nil, ErrNotSeller
	}
	return l, nil
}

func get(ctx context.Context, tx ledger.Tx, id ledger.ObjectID) (*Listing, error) {
	data, err := tx.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return DecodeListing(id, data)
}

func put(ctx context.Context, tx ledger.Tx, l *Listing) error {
	data, err := encodeListing(l)
	if err != nil {
		return err
	}
	return tx.Put(ctx, l.ID, data)
}

// pay skips zero transfers.
func pay(ctx context.Context, tx ledger.Tx, to ledger.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return tx.Pay(ctx, to, amount)
}
