package wallet

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"
)

func TestValidateCoin(t *testing.T) {
	require.NoError(t, validateCoin(sdk.NewCoin("uusdc", sdkmath.NewInt(5)), "ok"))
	require.Error(t, validateCoin(sdk.Coin{Denom: "uusdc"}, "nil"))
	require.Error(t, validateCoin(sdk.Coin{Denom: "uusdc", Amount: sdkmath.ZeroInt()}, "zero"))
	require.Error(t, validateCoin(sdk.Coin{Denom: "uusdc", Amount: sdkmath.NewInt(-1)}, "negative"))
	require.Error(t, validateCoin(sdk.Coin{Amount: sdkmath.NewInt(1)}, "denom"))
}

func TestValidateTxResponseReturnsTxError(t *testing.T) {
	require.Error(t, validateTxResponse(nil))
	require.Error(t, validateTxResponse(&sdk.TxResponse{}))
	require.NoError(t, validateTxResponse(&sdk.TxResponse{TxHash: "ABC"}))

	err := validateTxResponse(&sdk.TxResponse{TxHash: "ABC", Code: 5, Codespace: "wasm", RawLog: "Not enough liquidity"})
	var txErr *TxError
	require.True(t, errors.As(err, &txErr))
	require.Equal(t, uint32(5), txErr.Code)
	require.Equal(t, "wasm", txErr.Codespace)
	require.Contains(t, txErr.Error(), "Not enough liquidity")
}

func TestBackoffDelayIsCapped(t *testing.T) {
	require.Equal(t, inclusionBaseDelay, backoffDelay(1))
	require.Equal(t, 3*time.Second, backoffDelay(2))
	require.Equal(t, inclusionMaxDelay, backoffDelay(inclusionAttempts))
}

func TestAdjustGasAddsBuffer(t *testing.T) {
	require.Equal(t, uint64(160_000), adjustGas(100_000, 1.5))
}
