/*

This file contains the live adapters. One Client talks to the lending market, the custody, oracle,
swap, share token and distributor contracts, and implements every collaborator interface the
engine depends on. Queries go through the wasm and bank gRPC query services; commands are
contract executions signed by the vault's key.

*/

package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	abci "github.com/cometbft/cometbft/abci/types"
	wasmtypes "github.com/CosmWasm/wasmd/x/wasm/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/elys-network/cdpvault/internal/logger"
	"github.com/elys-network/cdpvault/internal/types"
)

// WasmQuerier is the subset of the wasm query service the client reads contracts through.
type WasmQuerier interface {
	SmartContractState(ctx context.Context, in *wasmtypes.QuerySmartContractStateRequest, opts ...grpc.CallOption) (*wasmtypes.QuerySmartContractStateResponse, error)
}

// BankQuerier reads native balances.
type BankQuerier interface {
	Balance(ctx context.Context, in *banktypes.QueryBalanceRequest, opts ...grpc.CallOption) (*banktypes.QueryBalanceResponse, error)
}

// TxSearcher finds transactions by the events they emitted.
type TxSearcher interface {
	GetTxsEvent(ctx context.Context, in *txtypes.GetTxsEventRequest, opts ...grpc.CallOption) (*txtypes.GetTxsEventResponse, error)
}

// Executor signs and broadcasts on behalf of the vault account.
type Executor interface {
	Address() string
	ExecuteContract(ctx context.Context, contract string, msg any, funds sdk.Coins) (*sdk.TxResponse, error)
	Send(ctx context.Context, to string, coins sdk.Coins) (*sdk.TxResponse, error)
}

// Contracts are the bech32 addresses of the contracts the vault integrates with.
type Contracts struct {
	MoneyMarket string
	Custody     string
	Oracle      string
	Swap        string
	ShareToken  string
	Distributor string
}

// Denoms are the native denominations the vault holds.
type Denoms struct {
	Stable       string
	Collateral   string
	Receipt      string
	Reward       string
	Distribution string
}

type Client struct {
	wasm      WasmQuerier
	bank      BankQuerier
	txs       TxSearcher
	exec      Executor
	contracts Contracts
	denoms    Denoms
	timeout   time.Duration
	logger    zerolog.Logger
}

const (
	defaultQueryTimeout = 10 * time.Second
	txSearchPageLimit   = 100
)

// Dial opens a plaintext gRPC connection to a node.
func Dial(endpoint string) (*grpc.ClientConn, error) {
	if endpoint == "" {
		return nil, errors.Join(ErrInvalidClient, errors.New("gRPC endpoint is empty"))
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC endpoint %s: %w", endpoint, err)
	}
	return conn, nil
}

// NewQueriers builds the wasm, bank and tx query clients over one connection.
func NewQueriers(conn *grpc.ClientConn) (WasmQuerier, BankQuerier, TxSearcher) {
	return wasmtypes.NewQueryClient(conn), banktypes.NewQueryClient(conn), txtypes.NewServiceClient(conn)
}

func NewClient(wasm WasmQuerier, bank BankQuerier, txs TxSearcher, exec Executor, contracts Contracts, denoms Denoms) (*Client, error) {
	if err := validateClient(wasm, bank, txs, exec, contracts, denoms); err != nil {
		return nil, errors.Join(ErrInvalidClient, err)
	}
	return &Client{
		wasm:      wasm,
		bank:      bank,
		txs:       txs,
		exec:      exec,
		contracts: contracts,
		denoms:    denoms,
		timeout:   defaultQueryTimeout,
		logger:    logger.GetForComponent("chain_client"),
	}, nil
}

func validateClient(wasm WasmQuerier, bank BankQuerier, txs TxSearcher, exec Executor, contracts Contracts, denoms Denoms) error {
	var errs []error
	if wasm == nil {
		errs = append(errs, errors.New("wasm querier cannot be nil"))
	}
	if bank == nil {
		errs = append(errs, errors.New("bank querier cannot be nil"))
	}
	if txs == nil {
		errs = append(errs, errors.New("tx searcher cannot be nil"))
	}
	if exec == nil {
		errs = append(errs, errors.New("executor cannot be nil"))
	}
	for name, addr := range map[string]string{
		"money market": contracts.MoneyMarket,
		"custody":      contracts.Custody,
		"oracle":       contracts.Oracle,
		"swap":         contracts.Swap,
		"share token":  contracts.ShareToken,
		"distributor":  contracts.Distributor,
	} {
		if addr == "" {
			errs = append(errs, fmt.Errorf("%s contract address cannot be empty", name))
		}
	}
	if denoms.Stable == "" || denoms.Collateral == "" || denoms.Receipt == "" || denoms.Reward == "" || denoms.Distribution == "" {
		errs = append(errs, errors.New("every denomination must be set"))
	}
	return errors.Join(errs...)
}

// smartQuery runs a JSON smart query against contract and decodes the answer into out.
func (c *Client) smartQuery(ctx context.Context, contract string, query, out any) error {
	payload, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.wasm.SmartContractState(ctx, &wasmtypes.QuerySmartContractStateRequest{
		Address:   contract,
		QueryData: payload,
	})
	if err != nil {
		return classifyQuery(fmt.Errorf("query %s on %s: %w", payload, contract, err))
	}
	if resp == nil || len(resp.Data) == 0 {
		return fmt.Errorf("%w: %s on %s", ErrEmptyResponse, payload, contract)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s response from %s: %w", payload, contract, err)
	}
	return nil
}

func (c *Client) execute(ctx context.Context, contract string, msg any, funds sdk.Coins) error {
	res, err := c.exec.ExecuteContract(ctx, contract, msg, funds)
	if err != nil {
		return ClassifyFailure(err)
	}
	c.logger.Debug().Str("contract", contract).Str("txHash", res.TxHash).Str("funds", funds.String()).Msg("Contract executed")
	return nil
}

func (c *Client) balance(ctx context.Context, denom string) (sdkmath.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.bank.Balance(ctx, &banktypes.QueryBalanceRequest{Address: c.exec.Address(), Denom: denom})
	if err != nil {
		return sdkmath.Int{}, classifyQuery(fmt.Errorf("failed to query %s balance: %w", denom, err))
	}
	if resp == nil || resp.Balance == nil {
		return sdkmath.ZeroInt(), nil
	}
	return resp.Balance.Amount, nil
}

func coins(denom string, amount sdkmath.Int) sdk.Coins {
	return sdk.NewCoins(sdk.NewCoin(denom, amount))
}

func requirePositive(amount sdkmath.Int, what string) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: %s amount %v", types.ErrInvalidAmount, what, amount)
	}
	return nil
}

func orZeroDec(d sdkmath.LegacyDec) sdkmath.LegacyDec {
	if d.IsNil() {
		return sdkmath.LegacyZeroDec()
	}
	return d
}

// MoneyMarket

func (c *Client) LoanAmount(ctx context.Context) (sdkmath.Int, error) {
	var q borrowerLoanQuery
	q.BorrowerLoan.Borrower = c.exec.Address()
	var resp amountResponse
	if err := c.smartQuery(ctx, c.contracts.MoneyMarket, q, &resp); err != nil {
		return sdkmath.Int{}, err
	}
	if resp.Amount.IsNil() {
		return sdkmath.ZeroInt(), nil
	}
	return resp.Amount, nil
}

func (c *Client) ExchangeRate(ctx context.Context) (sdkmath.LegacyDec, error) {
	var resp exchangeRateResponse
	if err := c.smartQuery(ctx, c.contracts.MoneyMarket, exchangeRateQuery{}, &resp); err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if resp.Rate.IsNil() || !resp.Rate.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("money market returned a non-positive exchange rate %v", resp.Rate)
	}
	return resp.Rate, nil
}

func (c *Client) Rates(ctx context.Context) (types.MarketRates, error) {
	var resp ratesResponse
	if err := c.smartQuery(ctx, c.contracts.MoneyMarket, ratesQuery{}, &resp); err != nil {
		return types.MarketRates{}, err
	}
	return types.MarketRates{
		BorrowRate:      orZeroDec(resp.BorrowRate),
		DepositRate:     orZeroDec(resp.DepositRate),
		DistributionAPR: orZeroDec(resp.DistributionAPR),
	}, nil
}

func (c *Client) Borrow(ctx context.Context, amount sdkmath.Int) error {
	if err := requirePositive(amount, "borrow"); err != nil {
		return err
	}
	var msg borrowMsg
	msg.Borrow.Amount = amount
	return c.execute(ctx, c.contracts.MoneyMarket, msg, nil)
}

func (c *Client) Repay(ctx context.Context, amount sdkmath.Int) error {
	if err := requirePositive(amount, "repay"); err != nil {
		return err
	}
	return c.execute(ctx, c.contracts.MoneyMarket, repayMsg{}, coins(c.denoms.Stable, amount))
}

func (c *Client) DepositStable(ctx context.Context, amount sdkmath.Int) error {
	if err := requirePositive(amount, "deposit"); err != nil {
		return err
	}
	return c.execute(ctx, c.contracts.MoneyMarket, depositMsg{}, coins(c.denoms.Stable, amount))
}

func (c *Client) RedeemReceipt(ctx context.Context, amount sdkmath.Int) error {
	if err := requirePositive(amount, "redeem"); err != nil {
		return err
	}
	return c.execute(ctx, c.contracts.MoneyMarket, redeemMsg{}, coins(c.denoms.Receipt, amount))
}

func (c *Client) ClaimRewards(ctx context.Context) error {
	return c.execute(ctx, c.contracts.MoneyMarket, claimRewardsMsg{}, nil)
}

// Custody

func (c *Client) LockedCollateral(ctx context.Context) (sdkmath.Int, error) {
	var q lockedQuery
	q.Locked.Owner = c.exec.Address()
	var resp amountResponse
	if err := c.smartQuery(ctx, c.contracts.Custody, q, &resp); err != nil {
		return sdkmath.Int{}, err
	}
	if resp.Amount.IsNil() {
		return sdkmath.ZeroInt(), nil
	}
	return resp.Amount, nil
}

func (c *Client) LockCollateral(ctx context.Context, amount sdkmath.Int) error {
	if err := requirePositive(amount, "lock"); err != nil {
		return err
	}
	return c.execute(ctx, c.contracts.Custody, lockMsg{}, coins(c.denoms.Collateral, amount))
}

func (c *Client) UnlockCollateral(ctx context.Context, amount sdkmath.Int) error {
	if err := requirePositive(amount, "unlock"); err != nil {
		return err
	}
	var msg unlockMsg
	msg.Unlock.Amount = amount
	return c.execute(ctx, c.contracts.Custody, msg, nil)
}

// PriceOracle

func (c *Client) CollateralPrice(ctx context.Context) (types.PriceQuote, error) {
	var q priceQuery
	q.Price.Denom = c.denoms.Collateral
	var resp priceResponse
	if err := c.smartQuery(ctx, c.contracts.Oracle, q, &resp); err != nil {
		return types.PriceQuote{}, err
	}
	if resp.Rate.IsNil() || !resp.Rate.IsPositive() {
		return types.PriceQuote{}, fmt.Errorf("oracle returned a non-positive price %v for %s", resp.Rate, c.denoms.Collateral)
	}
	return types.PriceQuote{Rate: resp.Rate, LastUpdated: time.Unix(resp.LastUpdated, 0).UTC()}, nil
}

// Swapper

func (c *Client) SellRewards(ctx context.Context, amount sdkmath.Int) error {
	if err := requirePositive(amount, "reward sale"); err != nil {
		return err
	}
	var msg swapMsg
	msg.Swap.AskDenom = c.denoms.Stable
	return c.execute(ctx, c.contracts.Swap, msg, coins(c.denoms.Reward, amount))
}

func (c *Client) BuyRewards(ctx context.Context, stableAmount sdkmath.Int) error {
	if err := requirePositive(stableAmount, "reward purchase"); err != nil {
		return err
	}
	var msg swapMsg
	msg.Swap.AskDenom = c.denoms.Distribution
	return c.execute(ctx, c.contracts.Swap, msg, coins(c.denoms.Stable, stableAmount))
}

// Wallet

func (c *Client) StableBalance(ctx context.Context) (sdkmath.Int, error) {
	return c.balance(ctx, c.denoms.Stable)
}

func (c *Client) ReceiptBalance(ctx context.Context) (sdkmath.Int, error) {
	return c.balance(ctx, c.denoms.Receipt)
}

func (c *Client) CollateralBalance(ctx context.Context) (sdkmath.Int, error) {
	return c.balance(ctx, c.denoms.Collateral)
}

func (c *Client) RewardBalance(ctx context.Context) (sdkmath.Int, error) {
	return c.balance(ctx, c.denoms.Reward)
}

func (c *Client) DistributionBalance(ctx context.Context) (sdkmath.Int, error) {
	return c.balance(ctx, c.denoms.Distribution)
}

func (c *Client) SendCollateral(ctx context.Context, to string, amount sdkmath.Int) error {
	if err := requirePositive(amount, "collateral transfer"); err != nil {
		return err
	}
	if _, err := c.exec.Send(ctx, to, coins(c.denoms.Collateral, amount)); err != nil {
		return ClassifyFailure(err)
	}
	return nil
}

// CollateralReceivedFrom sums the collateral in every successful bank transfer from sender to the vault.
func (c *Client) CollateralReceivedFrom(ctx context.Context, sender string) (sdkmath.Int, error) {
	if _, err := sdk.AccAddressFromBech32(sender); err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: sender %q: %v", types.ErrInvalidAmount, sender, err)
	}
	vault := c.exec.Address()
	query := fmt.Sprintf("transfer.sender='%s' AND transfer.recipient='%s'", sender, vault)

	total := sdkmath.ZeroInt()
	var seen uint64
	for page := uint64(1); ; page++ {
		resp, err := c.searchTxs(ctx, query, page)
		if err != nil {
			return sdkmath.Int{}, err
		}
		for _, tx := range resp.TxResponses {
			seen++
			if tx == nil || tx.Code != 0 {
				continue
			}
			amount, err := collateralTransferred(tx.Events, sender, vault, c.denoms.Collateral)
			if err != nil {
				return sdkmath.Int{}, fmt.Errorf("failed to decode transfer in tx %s: %w", tx.TxHash, err)
			}
			total = total.Add(amount)
		}
		if len(resp.TxResponses) == 0 || seen >= resp.Total {
			return total, nil
		}
	}
}

func (c *Client) searchTxs(ctx context.Context, query string, page uint64) (*txtypes.GetTxsEventResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.txs.GetTxsEvent(ctx, &txtypes.GetTxsEventRequest{
		Query:   query,
		Page:    page,
		Limit:   txSearchPageLimit,
		OrderBy: txtypes.OrderBy_ORDER_BY_ASC,
	})
	if err != nil {
		return nil, classifyQuery(fmt.Errorf("failed to search transactions: %w", err))
	}
	if resp == nil {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

// collateralTransferred reads the transfer events of one tx; a tx can carry several.
func collateralTransferred(events []abci.Event, sender, recipient, denom string) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, event := range events {
		if event.Type != banktypes.EventTypeTransfer {
			continue
		}
		var from, to, amount string
		for _, attr := range event.Attributes {
			switch attr.Key {
			case banktypes.AttributeKeySender:
				from = attr.Value
			case banktypes.AttributeKeyRecipient:
				to = attr.Value
			case sdk.AttributeKeyAmount:
				amount = attr.Value
			}
		}
		if from != sender || to != recipient || amount == "" {
			continue
		}
		coins, err := sdk.ParseCoinsNormalized(amount)
		if err != nil {
			return sdkmath.Int{}, err
		}
		total = total.Add(coins.AmountOf(denom))
	}
	return total, nil
}

// ShareToken

func (c *Client) TotalShares(ctx context.Context) (sdkmath.Int, error) {
	var resp tokenInfoResponse
	if err := c.smartQuery(ctx, c.contracts.ShareToken, tokenInfoQuery{}, &resp); err != nil {
		return sdkmath.Int{}, err
	}
	if resp.TotalSupply.IsNil() {
		return sdkmath.ZeroInt(), nil
	}
	return resp.TotalSupply, nil
}

func (c *Client) Mint(ctx context.Context, to string, amount sdkmath.Int) error {
	if err := requirePositive(amount, "mint"); err != nil {
		return err
	}
	var msg mintMsg
	msg.Mint.Recipient = to
	msg.Mint.Amount = amount
	return c.execute(ctx, c.contracts.ShareToken, msg, nil)
}

func (c *Client) Burn(ctx context.Context, from string, amount sdkmath.Int) error {
	if err := requirePositive(amount, "burn"); err != nil {
		return err
	}
	var msg burnFromMsg
	msg.BurnFrom.Owner = from
	msg.BurnFrom.Amount = amount
	return c.execute(ctx, c.contracts.ShareToken, msg, nil)
}

// RewardDistributor

func (c *Client) Distribute(ctx context.Context, amount sdkmath.Int) error {
	if err := requirePositive(amount, "distribution"); err != nil {
		return err
	}
	return c.execute(ctx, c.contracts.Distributor, distributeMsg{}, coins(c.denoms.Distribution, amount))
}
