package market

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/ledger"
)

// SchemaVersion is the only listing encoding this package reads or writes.
const SchemaVersion = 1

var ErrUnknownSchema = fmt.Errorf("%w: unrecognized listing encoding", common.ErrValidation)

type listingRecord struct {
	Schema      int            `json:"schema"`
	Seller      ledger.Address `json:"seller"`
	Price       uint64         `json:"price"`
	Locator     []byte         `json:"locator"`
	Name        []byte         `json:"name"`
	Description []byte         `json:"description"`
	Active      bool           `json:"active"`
	AffiliateBP uint64         `json:"affiliate_bp"`
}

func encodeListing(l *Listing) ([]byte, error) {
	return json.Marshal(listingRecord{
		Schema:      SchemaVersion,
		Seller:      l.Seller,
		Price:       l.Price,
		Locator:     l.Locator,
		Name:        l.Name,
		Description: l.Description,
		Active:      l.IsActive,
		AffiliateBP: l.AffiliateBP,
	})
}

// DecodeListing parses a stored listing. Anything that is not a complete
// schema 1 record satisfying the listing invariants is rejected.
func DecodeListing(id ledger.ObjectID, data []byte) (*Listing, error) {
	var probe struct {
		Schema int `json:"schema"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSchema, err)
	}
	if probe.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: schema %d", ErrUnknownSchema, probe.Schema)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var rec listingRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSchema, err)
	}
	if _, err := ledger.ParseAddress(string(rec.Seller)); err != nil {
		return nil, fmt.Errorf("%w: seller: %v", ErrUnknownSchema, err)
	}

	l := &Listing{
		ID:          id,
		Seller:      rec.Seller,
		Price:       rec.Price,
		Locator:     rec.Locator,
		Name:        rec.Name,
		Description: rec.Description,
		IsActive:    rec.Active,
		AffiliateBP: rec.AffiliateBP,
	}
	if err := l.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSchema, err)
	}
	return l, nil
}
