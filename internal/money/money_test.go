package money_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-commerce-sync/internal/money"
)

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"10.99", 1099},
		{"10.9", 1090},
		{"1000.00", 100000},
		{"-20.50", -2050},
		{" 3.5 ", 350},
		{"+7.25", 725},
	}

	for _, c := range cases {
		got, err := money.ParseDecimal(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got.MinorUnits(), c.in)
	}
}

func TestParseDecimalHalfEven(t *testing.T) {
	// Exactly-halfway values round to the even cent.
	cases := []struct {
		in   string
		want int64
	}{
		{"0.125", 12},
		{"0.135", 14},
		{"0.105", 10},
		{"2.675", 268},
		{"-0.125", -12},
		{"-0.135", -14},
		// Not halfway: normal rounding.
		{"0.126", 13},
		{"0.1249", 12},
	}

	for _, c := range cases {
		got, err := money.ParseDecimal(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got.MinorUnits(), c.in)
	}
}

func TestParseDecimalRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "10,99", "1.2.3", "$5"} {
		_, err := money.ParseDecimal(in)
		assert.Error(t, err, in)
	}
}

func TestStringAndJSON(t *testing.T) {
	assert.Equal(t, "123.45", money.FromMinorUnits(12345).String())
	assert.Equal(t, "-0.05", money.FromMinorUnits(-5).String())
	assert.Equal(t, "0.00", money.FromMinorUnits(0).String())

	out, err := json.Marshal(money.FromMinorUnits(8000))
	require.NoError(t, err)
	assert.Equal(t, `"80.00"`, string(out))

	var a money.Amount
	require.NoError(t, json.Unmarshal([]byte(`"20.00"`), &a))
	assert.Equal(t, int64(2000), a.MinorUnits())

	require.NoError(t, json.Unmarshal([]byte(`15.5`), &a))
	assert.Equal(t, int64(1550), a.MinorUnits())
}
