/*

This file contains the message builders for the live adapters: CosmWasm contract executions and
plain bank sends. Each builder signs, broadcasts and waits for block inclusion before returning.

*/

package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	wasmtypes "github.com/CosmWasm/wasmd/x/wasm/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"

	"github.com/elys-network/cdpvault/internal/logger"
)

var (
	ErrInvalidTokenAmount = errors.New("token amount is invalid")
	ErrInvalidContract    = errors.New("contract address is invalid")
	ErrInvalidRecipient   = errors.New("recipient address is invalid")
	ErrMessageEncoding    = errors.New("contract message encoding failed")
)

var txLogger = logger.GetForComponent("transaction_builder")

// TxError is a transaction the node answered with a nonzero result code, at CheckTx or in a block.
type TxError struct {
	TxHash    string
	Codespace string
	Code      uint32
	Log       string
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %s failed with code %d (%s): %s", e.TxHash, e.Code, e.Codespace, e.Log)
}

// ExecuteContract JSON-encodes msg into a MsgExecuteContract and waits for its inclusion.
func (s *SigningClient) ExecuteContract(ctx context.Context, contract string, msg any, funds sdk.Coins) (*sdk.TxResponse, error) {
	if _, err := sdk.AccAddressFromBech32(contract); err != nil {
		return nil, errors.Join(ErrInvalidContract, err)
	}
	for i, coin := range funds {
		if err := validateCoin(coin, fmt.Sprintf("funds[%d]", i)); err != nil {
			return nil, errors.Join(ErrInvalidTokenAmount, err)
		}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Join(ErrMessageEncoding, err)
	}

	execute := &wasmtypes.MsgExecuteContract{
		Sender:   s.Address(),
		Contract: contract,
		Msg:      payload,
		Funds:    funds,
	}
	txLogger.Debug().
		Str("contract", contract).
		RawJSON("msg", payload).
		Str("funds", funds.String()).
		Msg("Executing contract")

	return s.broadcastAndWait(ctx, execute)
}

// Send transfers coins from the signing account to to.
func (s *SigningClient) Send(ctx context.Context, to string, coins sdk.Coins) (*sdk.TxResponse, error) {
	recipient, err := sdk.AccAddressFromBech32(to)
	if err != nil {
		return nil, errors.Join(ErrInvalidRecipient, err)
	}
	if coins.Empty() {
		return nil, errors.Join(ErrInvalidTokenAmount, errors.New("nothing to send"))
	}
	for i, coin := range coins {
		if err := validateCoin(coin, fmt.Sprintf("coins[%d]", i)); err != nil {
			return nil, errors.Join(ErrInvalidTokenAmount, err)
		}
	}
	return s.broadcastAndWait(ctx, banktypes.NewMsgSend(s.fromAddress, recipient, coins))
}

func (s *SigningClient) broadcastAndWait(ctx context.Context, msg sdk.Msg) (*sdk.TxResponse, error) {
	res, err := s.SignAndBroadcastTx(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := validateTxResponse(res); err != nil {
		return res, err
	}
	included, err := s.WaitForInclusion(ctx, res.TxHash)
	if err != nil {
		return res, err
	}
	if err := validateTxResponse(included); err != nil {
		return included, err
	}
	return included, nil
}

// validateCoin validates a single coin
func validateCoin(coin sdk.Coin, context string) error {
	if coin.Amount.IsNil() {
		return fmt.Errorf("%s: amount is nil", context)
	}
	if coin.Amount.IsZero() {
		return fmt.Errorf("%s: amount cannot be zero", context)
	}
	if coin.Amount.IsNegative() {
		return fmt.Errorf("%s: amount cannot be negative", context)
	}
	if coin.Denom == "" {
		return fmt.Errorf("%s: denomination cannot be empty", context)
	}
	return nil
}

// validateTxResponse turns a nonzero result code into a *TxError.
func validateTxResponse(txResponse *sdk.TxResponse) error {
	if txResponse == nil {
		return errors.New("transaction response is nil")
	}
	if txResponse.TxHash == "" {
		return errors.New("transaction hash is empty")
	}
	// Code 0 means success in Cosmos SDK
	if txResponse.Code != 0 {
		return &TxError{
			TxHash:    txResponse.TxHash,
			Codespace: txResponse.Codespace,
			Code:      txResponse.Code,
			Log:       txResponse.RawLog,
		}
	}
	return nil
}
