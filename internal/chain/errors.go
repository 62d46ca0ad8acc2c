package chain

import (
	"context"
	"errors"
	"strings"

	errorsmod "cosmossdk.io/errors"
	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/elys-network/cdpvault/internal/types"
	"github.com/elys-network/cdpvault/internal/wallet"
)

var (
	ErrInvalidClient = errors.New("chain client is misconfigured")
	ErrEmptyResponse = errors.New("contract query returned no data")
	// ErrOutcomeUnknown marks a command whose transaction may or may not have been executed.
	ErrOutcomeUnknown = errors.New("transaction outcome unknown")
)

// Contract-level refusals that clear up on their own. Matching on the log text breaks if the
// contracts reword their errors; a structured error code would replace this list.
var temporaryMessages = []string{
	"Not enough",
	"borrow demand too high",
}

// Transaction failures the node reports at CheckTx, before the message runs.
var temporaryABCI = []error{
	sdkerrors.ErrWrongSequence,
	sdkerrors.ErrMempoolIsFull,
	sdkerrors.ErrTxInMempoolCache,
}

// ClassifyFailure classifies the error of a contract execution or bank send.
// Rejections before execution and the lender's refusal become types.ErrExternalTemporary.
// A broadcast that timed out or could not be confirmed is joined with ErrOutcomeUnknown and
// stays fatal: the transaction may have landed. Other errors are returned unchanged.
func ClassifyFailure(err error) error {
	if err == nil || errors.Is(err, types.ErrExternalTemporary) {
		return err
	}
	if outcomeUnknown(err) {
		if errors.Is(err, ErrOutcomeUnknown) {
			return err
		}
		return errors.Join(ErrOutcomeUnknown, err)
	}
	if rejectedBeforeExecution(err) || refusedByContract(err) {
		return errors.Join(types.ErrExternalTemporary, err)
	}
	return err
}

// classifyQuery classifies the error of a read. Reads have no side effects, so transport
// failures are safe to retry.
func classifyQuery(err error) error {
	if err == nil || errors.Is(err, types.ErrExternalTemporary) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(types.ErrExternalTemporary, err)
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
			return errors.Join(types.ErrExternalTemporary, err)
		}
	}
	return err
}

func outcomeUnknown(err error) bool {
	var txErr *wallet.TxError
	if errors.As(err, &txErr) {
		// The node answered with a result code, so the outcome is known.
		return false
	}
	if errors.Is(err, wallet.ErrAccountRetrievalFailed) || errors.Is(err, wallet.ErrTxBuildFailed) || errors.Is(err, wallet.ErrTxSignFailed) {
		// Failed before anything was broadcast.
		return false
	}
	if errors.Is(err, wallet.ErrTxBroadcastFailed) || errors.Is(err, wallet.ErrTxNotIncluded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded:
			return true
		}
	}
	return false
}

func rejectedBeforeExecution(err error) bool {
	var txErr *wallet.TxError
	if !errors.As(err, &txErr) {
		return false
	}
	abciErr := errorsmod.ABCIError(txErr.Codespace, txErr.Code, txErr.Log)
	for _, target := range temporaryABCI {
		if errors.Is(abciErr, target) {
			return true
		}
	}
	return false
}

func refusedByContract(err error) bool {
	msg := err.Error()
	for _, fragment := range temporaryMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
