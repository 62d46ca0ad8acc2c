package planner

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/tax"
	"github.com/stretchr/testify/require"
)

func dec(s string) sdkmath.LegacyDec { return sdkmath.LegacyMustNewDecFromStr(s) }

func ints(v int64) sdkmath.Int { return sdkmath.NewInt(v) }

func requireIntEqual(t *testing.T, want, got sdkmath.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, want.Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func requireDecEqual(t *testing.T, want, got sdkmath.LegacyDec) {
	t.Helper()
	require.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}

func mustTerms(t *testing.T, rate string, cap int64) tax.Terms {
	t.Helper()
	terms, err := tax.NewTerms(dec(rate), ints(cap))
	require.NoError(t, err)
	return terms
}
