package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/paylock/internal/common"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "0", Format(0, DefaultDecimals))
	assert.Equal(t, "1.5", Format(1_500_000_000, DefaultDecimals))
	assert.Equal(t, "0.000000001", Format(1, DefaultDecimals))
	assert.Equal(t, "18446744073.709551615", Format(math.MaxUint64, DefaultDecimals))
	assert.Equal(t, "42", Format(42, 0))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{in: "1.5", want: 1_500_000_000},
		{in: " 2 ", want: 2_000_000_000},
		{in: "0.000000001", want: 1},
		{in: "0", want: 0},
		{in: "18446744073.709551615", want: math.MaxUint64},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in, DefaultDecimals)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000000001", "18446744073.709551616"} {
		_, err := Parse(in, DefaultDecimals)
		assert.ErrorIs(t, err, common.ErrValidation, in)
	}
}
