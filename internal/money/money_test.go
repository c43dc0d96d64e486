package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{"1000", 100000, false},
		{"1000.00", 100000, false},
		{"249.99", 24999, false},
		{"0.01", 1, false},
		{"0.5", 50, false},
		{"0", 0, false},
		{"", 0, true},
		{"-5", 0, true},
		{"1.234", 0, true}, // more than 2 decimal places
		{"1.2.3", 0, true},
		{"abc", 0, true},
		{"1e3", 0, true},
	}

	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "Parse(%q)", tc.in)
			continue
		}
		require.NoError(t, err, "Parse(%q)", tc.in)
		assert.Equal(t, tc.want, got, "Parse(%q)", tc.in)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "1000.00", Amount(100000).String())
	assert.Equal(t, "0.01", Amount(1).String())
	assert.Equal(t, "0.00", Amount(0).String())
	assert.Equal(t, "249.99", Amount(24999).String())
	assert.Equal(t, "-3.50", Amount(-350).String())
}

func TestRoundTripJSON(t *testing.T) {
	out, err := json.Marshal(Amount(24999))
	require.NoError(t, err)
	assert.Equal(t, `"249.99"`, string(out))

	var back Amount
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, Amount(24999), back)
}

func TestPlatformFee(t *testing.T) {
	// 5% of 1000.00 is 50.00
	assert.Equal(t, MustParse("50.00"), PlatformFee(MustParse("1000.00")))
	// Truncates, never rounds up
	assert.Equal(t, Amount(0), PlatformFee(Amount(19))) // 5% of 0.19 -> 0.00
}
