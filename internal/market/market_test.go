package market

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/ledger"
)

func TestSplit_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		price, bp  uint64
		fee, share uint64
	}{
		{name: "A: ten percent of a million", price: 1_000_000, bp: 1000, fee: 100_000, share: 900_000},
		{name: "B: rounds down", price: 999, bp: 333, fee: 33, share: 966},
		{name: "C: no commission", price: 5000, bp: 0, fee: 0, share: 5000},
		{name: "fee below one unit", price: 9, bp: 1000, fee: 0, share: 9},
		{name: "max price", price: math.MaxUint64, bp: 1000, fee: math.MaxUint64 / 10, share: math.MaxUint64 - math.MaxUint64/10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, share := Split(tt.price, tt.bp)
			assert.Equal(t, tt.fee, fee)
			assert.Equal(t, tt.share, share)
		})
	}
}

func TestSplit_SumsToPriceForEveryRate(t *testing.T) {
	prices := []uint64{1, 7, 999, 10_000, 123_456_789, math.MaxUint64}
	for bp := uint64(0); bp <= MaxAffiliateBP; bp++ {
		for _, price := range prices {
			fee, share := Split(price, bp)
			require.Equal(t, price, fee+share, "price %d bp %d", price, bp)
			if price <= math.MaxUint64/BasisPoints {
				require.Equal(t, price*bp/BasisPoints, fee, "price %d bp %d", price, bp)
			}
			// seller keeps at least 90%
			require.GreaterOrEqual(t, share, price-price/10, "price %d bp %d", price, bp)
		}
	}
}

func TestValidateCommission(t *testing.T) {
	assert.NoError(t, ValidateCommission(0))
	assert.NoError(t, ValidateCommission(MaxAffiliateBP))
	err := ValidateCommission(MaxAffiliateBP + 1)
	assert.ErrorIs(t, err, ErrInvalidCommission)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func testListing() *Listing {
	return &Listing{
		ID:          ledger.NewObjectID(),
		Seller:      ledger.Address("0x" + strings.Repeat("ab", 32)),
		Price:       42,
		Locator:     []byte("blob-1"),
		Name:        []byte("song.mp3"),
		Description: []byte("a song"),
		IsActive:    true,
		AffiliateBP: 250,
	}
}

func TestListingCodec(t *testing.T) {
	l := testListing()
	data, err := encodeListing(l)
	require.NoError(t, err)

	got, err := DecodeListing(l.ID, data)
	require.NoError(t, err)
	assert.Equal(t, l, got)
}

func TestDecodeListing_RejectsUnrecognizedEncodings(t *testing.T) {
	l := testListing()
	good, err := encodeListing(l)
	require.NoError(t, err)

	mutate := func(f func(m map[string]any)) []byte {
		var m map[string]any
		require.NoError(t, json.Unmarshal(good, &m))
		f(m)
		b, err := json.Marshal(m)
		require.NoError(t, err)
		return b
	}

	cases := map[string][]byte{
		"not json":        []byte("{"),
		"no schema":       mutate(func(m map[string]any) { delete(m, "schema") }),
		"future schema":   mutate(func(m map[string]any) { m["schema"] = 2 }),
		"alias field":     mutate(func(m map[string]any) { m["blob_id"] = "x" }),
		"zero price":      mutate(func(m map[string]any) { m["price"] = 0 }),
		"empty locator":   mutate(func(m map[string]any) { delete(m, "locator") }),
		"commission high": mutate(func(m map[string]any) { m["affiliate_bp"] = 1001 }),
		"bad seller":      mutate(func(m map[string]any) { m["seller"] = "alice" }),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeListing(l.ID, data)
			assert.ErrorIs(t, err, ErrUnknownSchema)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}
