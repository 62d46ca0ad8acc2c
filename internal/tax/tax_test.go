package tax

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func dec(s string) sdkmath.LegacyDec { return sdkmath.LegacyMustNewDecFromStr(s) }

func requireDecEqual(t *testing.T, want, got sdkmath.LegacyDec, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, want.Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func requireIntEqual(t *testing.T, want, got sdkmath.Int) {
	t.Helper()
	require.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}

func mustTerms(t *testing.T, rate string, cap int64) Terms {
	t.Helper()
	terms, err := NewTerms(dec(rate), sdkmath.NewInt(cap))
	require.NoError(t, err)
	return terms
}

func TestNewTermsRejectsOutOfRange(t *testing.T) {
	_, err := NewTerms(dec("1.01"), sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidRate)
	_, err = NewTerms(dec("-0.1"), sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidRate)
	_, err = NewTerms(dec("0.1"), sdkmath.NewInt(-1))
	require.ErrorIs(t, err, ErrInvalidCap)
}

func TestNetAppliesCap(t *testing.T) {
	terms := mustTerms(t, "0.01", 1000)
	requireDecEqual(t, dec("990"), terms.Net(dec("1000")))
	// 1% of 2,000,000 is 20,000 but the cap limits the tax to 1,000.
	requireDecEqual(t, dec("1999000"), terms.Net(dec("2000000")))
	require.True(t, terms.Net(sdkmath.LegacyZeroDec()).IsZero())
}

func TestGrossUsesCapWhenCheaper(t *testing.T) {
	terms := mustTerms(t, "0.01", 1000)
	requireDecEqual(t, dec("1001000"), terms.Gross(dec("1000000")))
	requireDecEqual(t, dec("1000"), terms.Gross(dec("990")))
}

func TestGrossWithFullRateFallsBackToCap(t *testing.T) {
	terms := mustTerms(t, "1", 100)
	requireDecEqual(t, dec("110"), terms.Gross(dec("10")))
	require.True(t, terms.Net(dec("100")).IsZero())
}

func TestNetOfGrossRoundTripsWhenCapDoesNotBind(t *testing.T) {
	cases := []struct {
		rate string
		step int64
	}{
		{"0", 1},
		{"0.2", 4},
		{"0.25", 3},
		{"0.5", 1},
		{"0.01", 99},
	}
	for _, tc := range cases {
		terms := mustTerms(t, tc.rate, 1_000_000_000)
		for i := int64(1); i <= 200; i++ {
			x := sdkmath.LegacyNewDec(i * tc.step)
			requireDecEqual(t, x, terms.Net(terms.Gross(x)), "rate %s x %s", tc.rate, x)
		}
	}
}

func TestGrossOfNetNeverUndershoots(t *testing.T) {
	rates := []string{"0", "0.001", "0.01", "0.0333", "0.2", "0.5", "0.99", "1"}
	caps := []int64{0, 1, 7, 1000, 1_000_000_000}
	for _, rate := range rates {
		for _, cap := range caps {
			terms := mustTerms(t, rate, cap)
			for _, v := range []int64{1, 2, 3, 17, 99, 100, 101, 999, 12_345, 1_000_000, 987_654_321} {
				x := sdkmath.LegacyNewDec(v)
				require.True(t, terms.Gross(terms.Net(x)).GTE(x), "rate %s cap %d x %d", rate, cap, v)
			}
		}
	}
}

func TestIntHelpersRoundSafely(t *testing.T) {
	terms := mustTerms(t, "0.01", 1000)
	requireIntEqual(t, sdkmath.NewInt(1011), terms.GrossInt(sdkmath.NewInt(1000)))
	requireIntEqual(t, sdkmath.NewInt(99), terms.NetInt(sdkmath.NewInt(100)))
	// Sending Net(x) never costs more than x.
	for _, v := range []int64{1, 50, 101, 9_999, 123_457} {
		x := sdkmath.NewInt(v)
		require.True(t, terms.GrossInt(terms.NetInt(x)).LTE(x))
	}
}

func TestStaticOracle(t *testing.T) {
	terms := mustTerms(t, "0.005", 1_400_000)
	got, err := NewStaticOracle(terms).Terms(context.Background(), "uusd")
	require.NoError(t, err)
	require.Equal(t, terms, got)
}
