// Package market is the listing and purchase protocol. Module runs on the
// ledger and is the trust boundary: every check happens there, before any
// transfer, and a failed check aborts the whole transaction. Client is the
// off-ledger side that builds, signs and submits intents.
package market

import (
	"fmt"
	"math/bits"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/ledger"
)

const (
	// MaxAffiliateBP caps the commission at 10%.
	MaxAffiliateBP = 1000
	BasisPoints    = 10000
)

var (
	ErrInvalidCommission   = fmt.Errorf("%w: affiliate commission above %d bp", common.ErrValidation, MaxAffiliateBP)
	ErrInvalidPrice        = fmt.Errorf("%w: price must be positive", common.ErrValidation)
	ErrEmptyLocator        = fmt.Errorf("%w: empty locator", common.ErrValidation)
	ErrNotSeller           = fmt.Errorf("%w: caller is not the seller", common.ErrUnauthorized)
	ErrListingInactive     = fmt.Errorf("%w: listing is inactive", common.ErrState)
	ErrSelfReferral        = fmt.Errorf("%w: referrer is the buyer or the seller", common.ErrState)
	ErrInsufficientPayment = fmt.Errorf("%w: payment below price", common.ErrInsufficientFunds)
)

// Listing is one item for sale.
type Listing struct {
	ID          ledger.ObjectID
	Seller      ledger.Address
	Price       uint64
	Locator     []byte
	Name        []byte
	Description []byte
	IsActive    bool
	AffiliateBP uint64
}

func (l *Listing) validate() error {
	if l.Price == 0 {
		return ErrInvalidPrice
	}
	if len(l.Locator) == 0 {
		return ErrEmptyLocator
	}
	return ValidateCommission(l.AffiliateBP)
}

func ValidateCommission(bp uint64) error {
	if bp > MaxAffiliateBP {
		return fmt.Errorf("%w: got %d", ErrInvalidCommission, bp)
	}
	return nil
}

// AffiliateFee is floor(price * bp / BasisPoints), computed without
// overflow. bp must not exceed BasisPoints.
func AffiliateFee(price, bp uint64) uint64 {
	hi, lo := bits.Mul64(price, bp)
	q, _ := bits.Div64(hi, lo, BasisPoints)
	return q
}

// Split divides price between referrer and seller.
func Split(price, bp uint64) (fee, seller uint64) {
	fee = AffiliateFee(price, bp)
	return fee, price - fee
}
