package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/elys-network/cdpvault/internal/types"
	"github.com/elys-network/cdpvault/internal/wallet"
)

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		temporary bool
		unknown   bool
	}{
		{"wrong sequence", &wallet.TxError{TxHash: "A", Codespace: sdkerrors.RootCodespace, Code: sdkerrors.ErrWrongSequence.ABCICode()}, true, false},
		{"mempool full", &wallet.TxError{TxHash: "A", Codespace: sdkerrors.RootCodespace, Code: sdkerrors.ErrMempoolIsFull.ABCICode()}, true, false},
		{"out of gas", &wallet.TxError{TxHash: "A", Codespace: sdkerrors.RootCodespace, Code: sdkerrors.ErrOutOfGas.ABCICode()}, false, false},
		{"refusal in tx log", &wallet.TxError{TxHash: "A", Codespace: "wasm", Code: 5, Log: "execute wasm contract failed: Not enough liquidity"}, true, false},
		{"lender refusal", errors.New("Not enough stable in the market"), true, false},
		{"borrow demand", errors.New("borrow demand too high"), true, false},
		{"contract panic", errors.New("contract panicked"), false, false},
		{"not found", status.Error(codes.NotFound, "no contract"), false, false},
		{"unavailable after broadcast", status.Error(codes.Unavailable, "dial"), false, true},
		{"wrapped deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), false, true},
		{"cancelled while waiting", fmt.Errorf("wait: %w", context.Canceled), false, true},
		{"not included", fmt.Errorf("%w: HASH after 30 attempts", wallet.ErrTxNotIncluded), false, true},
		{"broadcast failed", errors.Join(wallet.ErrTxBroadcastFailed, errors.New("EOF")), false, true},
		{"account lookup unavailable", errors.Join(wallet.ErrAccountRetrievalFailed, status.Error(codes.Unavailable, "dial")), false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ClassifyFailure(c.err)
			require.Equal(t, c.temporary, errors.Is(got, types.ErrExternalTemporary))
			require.Equal(t, c.unknown, errors.Is(got, ErrOutcomeUnknown))
			require.ErrorIs(t, got, c.err)
		})
	}
}

func TestClassifyFailureKeepsNilAndTemporary(t *testing.T) {
	require.NoError(t, ClassifyFailure(nil))
	require.Same(t, types.ErrExternalTemporary, ClassifyFailure(types.ErrExternalTemporary))
}

func TestClassifyQueryRetriesTransportFailures(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		temporary bool
	}{
		{"unavailable", status.Error(codes.Unavailable, "dial"), true},
		{"exhausted", status.Error(codes.ResourceExhausted, "rate limited"), true},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"not found", status.Error(codes.NotFound, "no contract"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := classifyQuery(c.err)
			require.Equal(t, c.temporary, errors.Is(got, types.ErrExternalTemporary))
			require.NotErrorIs(t, got, ErrOutcomeUnknown)
		})
	}
}
