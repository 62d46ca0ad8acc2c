package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestSDKIntToFloat64(t *testing.T) {
	f, err := SDKIntToFloat64(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	require.InDelta(t, 1.5, f, 1e-12)

	_, err = SDKIntToFloat64(sdkmath.NewInt(-1), 6)
	require.ErrorIs(t, err, ErrAmountNegative)

	_, err = SDKIntToFloat64(sdkmath.NewInt(1), 19)
	require.ErrorIs(t, err, ErrInvalidPrecision)
}

func TestParseDec(t *testing.T) {
	d, err := ParseDec(" 0.018 ")
	require.NoError(t, err)
	require.True(t, sdkmath.LegacyMustNewDecFromStr("0.018").Equal(d))

	_, err = ParseDec("")
	require.ErrorIs(t, err, ErrConversionFailed)
	_, err = ParseDec("abc")
	require.ErrorIs(t, err, ErrConversionFailed)
}

func TestParseInt(t *testing.T) {
	i, err := ParseInt("57750")
	require.NoError(t, err)
	require.True(t, sdkmath.NewInt(57_750).Equal(i))

	i, err = ParseInt("10395.000")
	require.NoError(t, err)
	require.True(t, sdkmath.NewInt(10_395).Equal(i))

	_, err = ParseInt("1.5")
	require.ErrorIs(t, err, ErrConversionFailed)
	_, err = ParseInt("-3")
	require.ErrorIs(t, err, ErrAmountNegative)
}

func TestDecToFloat64(t *testing.T) {
	f, err := DecToFloat64(sdkmath.LegacyMustNewDecFromStr("0.85"))
	require.NoError(t, err)
	require.InDelta(t, 0.85, f, 1e-12)

	_, err = DecToFloat64(sdkmath.LegacyDec{})
	require.ErrorIs(t, err, ErrAmountNil)
}
