package units

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{"usdc whole", "1", 6, "1000000", false},
		{"usdc fraction", "1.5", 6, "1500000", false},
		{"eth small", "0.000000000000000001", 18, "1", false},
		{"rounds half up", "0.0000005", 6, "1", false},
		{"truncated below half", "0.0000004", 6, "0", false},
		{"zero decimals", "42", 0, "42", false},
		{"whitespace", " 2 ", 18, "2000000000000000000", false},
		{"empty", "", 18, "", true},
		{"garbage", "abc", 18, "", true},
		{"negative", "-1", 18, "", true},
		{"bad decimals", "1", -1, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUnits(tt.amount, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatUnits(big.NewInt(1_500_000), 6))
	assert.Equal(t, "0", FormatUnits(big.NewInt(0), 18))
	assert.Equal(t, "0", FormatUnits(nil, 18))
	assert.Equal(t, "0.000001", FormatUnits(big.NewInt(1), 6))
	assert.Equal(t, "12", FormatUnits(big.NewInt(12), 0))
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero(""))
	assert.True(t, IsZero("0"))
	assert.True(t, IsZero("0.000"))
	assert.True(t, IsZero("x"))
	assert.False(t, IsZero("0.1"))
}

func TestFormatParseRoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("parse(format(v)) == v for any token decimals", prop.ForAll(
		func(v int64, decimals int) bool {
			value := big.NewInt(v)
			parsed, err := ParseUnits(FormatUnits(value, decimals), decimals)
			return err == nil && parsed.Cmp(value) == 0
		},
		gen.Int64Range(0, 1<<62),
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}
