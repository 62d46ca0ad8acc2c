/*

This file contains an in-memory lending market that implements every collaborator of the vault engine.
It applies the stable transfer tax on every stable movement so dry runs and tests see the same
rounding as the live chain. Redemption refusals are reported as temporary failures.

*/

package simulations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/logger"
	"github.com/elys-network/cdpvault/internal/tax"
	"github.com/elys-network/cdpvault/internal/types"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLTVExceeded       = errors.New("operation would exceed the collateral LTV")
	ErrInjected          = errors.New("injected failure")
)

var marketLogger = logger.GetForComponent("simulated_market")

// Params seeds a simulated market.
type Params struct {
	Stable         sdkmath.Int
	Receipt        sdkmath.Int
	Loan           sdkmath.Int
	Locked         sdkmath.Int
	IdleCollateral sdkmath.Int
	// Liquidity is the stable the market can release to redemptions and borrows.
	Liquidity sdkmath.Int

	ExchangeRate     sdkmath.LegacyDec
	Price            sdkmath.LegacyDec
	CollateralMaxLTV sdkmath.LegacyDec
	Rates            types.MarketRates
	Tax              tax.Terms

	// RewardPrice is stable per lender reward token, BuyPrice is distributed tokens per stable.
	RewardPrice sdkmath.LegacyDec
	BuyPrice    sdkmath.LegacyDec
}

// DefaultParams is a profitable market with no open position and no tax.
func DefaultParams() Params {
	return Params{
		Liquidity:        sdkmath.NewInt(1_000_000_000_000),
		ExchangeRate:     sdkmath.LegacyOneDec(),
		Price:            sdkmath.LegacyOneDec(),
		CollateralMaxLTV: sdkmath.LegacyNewDecWithPrec(5, 1),
		Rates: types.MarketRates{
			BorrowRate:      sdkmath.LegacyNewDecWithPrec(5, 2),
			DepositRate:     sdkmath.LegacyNewDecWithPrec(7, 2),
			DistributionAPR: sdkmath.LegacyZeroDec(),
		},
		Tax:         tax.Zero(),
		RewardPrice: sdkmath.LegacyOneDec(),
		BuyPrice:    sdkmath.LegacyOneDec(),
	}
}

// Market is the simulated vault account together with the lender, oracle, swap and share token.
type Market struct {
	mu  sync.Mutex
	now func() time.Time

	stable         sdkmath.Int
	receipt        sdkmath.Int
	loan           sdkmath.Int
	locked         sdkmath.Int
	idle           sdkmath.Int
	liquidity      sdkmath.Int
	claimable      sdkmath.Int
	reward         sdkmath.Int
	bought         sdkmath.Int
	distributed    sdkmath.Int
	exchangeRate   sdkmath.LegacyDec
	price          types.PriceQuote
	collateralLTV  sdkmath.LegacyDec
	rates          types.MarketRates
	terms          tax.Terms
	rewardPrice    sdkmath.LegacyDec
	buyPrice       sdkmath.LegacyDec
	shares         map[string]sdkmath.Int
	totalShares    sdkmath.Int
	sentCollateral map[string]sdkmath.Int
	receivedFrom   map[string]sdkmath.Int

	redeemFailures int
	failures       map[types.CallKind]error
}

// NewMarket builds a market from p. Nil amounts are treated as zero.
func NewMarket(p Params, now func() time.Time) *Market {
	if now == nil {
		now = time.Now
	}
	m := &Market{
		now:            now,
		stable:         orZero(p.Stable),
		receipt:        orZero(p.Receipt),
		loan:           orZero(p.Loan),
		locked:         orZero(p.Locked),
		idle:           orZero(p.IdleCollateral),
		liquidity:      orZero(p.Liquidity),
		claimable:      sdkmath.ZeroInt(),
		reward:         sdkmath.ZeroInt(),
		bought:         sdkmath.ZeroInt(),
		distributed:    sdkmath.ZeroInt(),
		exchangeRate:   p.ExchangeRate,
		collateralLTV:  p.CollateralMaxLTV,
		rates:          p.Rates,
		terms:          p.Tax,
		rewardPrice:    p.RewardPrice,
		buyPrice:       p.BuyPrice,
		shares:         make(map[string]sdkmath.Int),
		totalShares:    sdkmath.ZeroInt(),
		sentCollateral: make(map[string]sdkmath.Int),
		receivedFrom:   make(map[string]sdkmath.Int),
		failures:       make(map[types.CallKind]error),
	}
	m.price = types.PriceQuote{Rate: p.Price, LastUpdated: now()}
	return m
}

// --- Test and dry-run controls ---

// FailRedemptions makes the next n redemptions fail with a temporary error.
func (m *Market) FailRedemptions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redeemFailures = n
}

// FailNext makes the next call of kind fail with err.
func (m *Market) FailNext(kind types.CallKind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind] = err
}

// SetLiquidity sets the stable the market can release.
func (m *Market) SetLiquidity(amount sdkmath.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidity = amount
}

// SetPrice publishes a collateral price updated at the given time.
func (m *Market) SetPrice(rate sdkmath.LegacyDec, updated time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = types.PriceQuote{Rate: rate, LastUpdated: updated}
}

func (m *Market) SetRates(rates types.MarketRates) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates = rates
}

func (m *Market) SetTax(terms tax.Terms) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms = terms
}

// AccrueRewards makes amount of lender reward claimable.
func (m *Market) AccrueRewards(amount sdkmath.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimable = m.claimable.Add(amount)
}

// ReceiveCollateral credits collateral sent to the vault by sender.
func (m *Market) ReceiveCollateral(sender string, amount sdkmath.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idle = m.idle.Add(amount)
	m.receivedFrom[sender] = orZero(m.receivedFrom[sender]).Add(amount)
}

// Snapshot is a copy of every balance of the market.
type Snapshot struct {
	Stable      sdkmath.Int
	Receipt     sdkmath.Int
	Loan        sdkmath.Int
	Locked      sdkmath.Int
	Idle        sdkmath.Int
	Liquidity   sdkmath.Int
	Reward      sdkmath.Int
	Bought      sdkmath.Int
	Distributed sdkmath.Int
	TotalShares sdkmath.Int
}

func (m *Market) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Stable:      m.stable,
		Receipt:     m.receipt,
		Loan:        m.loan,
		Locked:      m.locked,
		Idle:        m.idle,
		Liquidity:   m.liquidity,
		Reward:      m.reward,
		Bought:      m.bought,
		Distributed: m.distributed,
		TotalShares: m.totalShares,
	}
}

// SharesOf returns the shares held by owner.
func (m *Market) SharesOf(owner string) sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return orZero(m.shares[owner])
}

// CollateralSentTo returns the collateral sent to addr so far.
func (m *Market) CollateralSentTo(addr string) sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return orZero(m.sentCollateral[addr])
}

// --- MoneyMarket ---

func (m *Market) LoanAmount(context.Context) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loan, nil
}

func (m *Market) ExchangeRate(context.Context) (sdkmath.LegacyDec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchangeRate, nil
}

func (m *Market) Rates(context.Context) (types.MarketRates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rates, nil
}

func (m *Market) Borrow(_ context.Context, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallBorrow); err != nil {
		return err
	}
	if amount.GT(m.liquidity) {
		return fmt.Errorf("%w: borrow demand too high, %s requested with %s available", types.ErrExternalTemporary, amount, m.liquidity)
	}
	if m.loan.Add(amount).GT(m.maxLoan(m.locked)) {
		return fmt.Errorf("%w: loan %s + %s over %s", ErrLTVExceeded, m.loan, amount, m.maxLoan(m.locked))
	}
	m.loan = m.loan.Add(amount)
	m.liquidity = m.liquidity.Sub(amount)
	m.stable = m.stable.Add(m.terms.NetInt(amount))
	marketLogger.Debug().Str("amount", amount.String()).Str("loan", m.loan.String()).Msg("Borrowed")
	return nil
}

func (m *Market) Repay(_ context.Context, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallRepay); err != nil {
		return err
	}
	if amount.GT(m.loan) {
		return fmt.Errorf("repay %s exceeds loan %s", amount, m.loan)
	}
	if err := m.spendStable(amount); err != nil {
		return err
	}
	m.loan = m.loan.Sub(amount)
	m.liquidity = m.liquidity.Add(amount)
	marketLogger.Debug().Str("amount", amount.String()).Str("loan", m.loan.String()).Msg("Repaid")
	return nil
}

func (m *Market) DepositStable(_ context.Context, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallDepositStable); err != nil {
		return err
	}
	if err := m.spendStable(amount); err != nil {
		return err
	}
	m.receipt = m.receipt.Add(sdkmath.LegacyNewDecFromInt(amount).Quo(m.exchangeRate).TruncateInt())
	m.liquidity = m.liquidity.Add(amount)
	return nil
}

func (m *Market) RedeemReceipt(_ context.Context, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redeemFailures > 0 {
		m.redeemFailures--
		return fmt.Errorf("%w: Not enough stable in the market", types.ErrExternalTemporary)
	}
	if err := m.takeFailure(types.CallRedeemReceipt); err != nil {
		return err
	}
	if amount.GT(m.receipt) {
		return fmt.Errorf("%w: redeem %s receipt, hold %s", ErrInsufficientFunds, amount, m.receipt)
	}
	out := sdkmath.LegacyNewDecFromInt(amount).Mul(m.exchangeRate).TruncateInt()
	if out.GT(m.liquidity) {
		return fmt.Errorf("%w: Not enough liquidity, %s requested with %s available", types.ErrExternalTemporary, out, m.liquidity)
	}
	m.receipt = m.receipt.Sub(amount)
	m.liquidity = m.liquidity.Sub(out)
	m.stable = m.stable.Add(m.terms.NetInt(out))
	marketLogger.Debug().Str("receipt", amount.String()).Str("stable", out.String()).Msg("Redeemed")
	return nil
}

func (m *Market) ClaimRewards(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallClaimRewards); err != nil {
		return err
	}
	m.reward = m.reward.Add(m.claimable)
	m.claimable = sdkmath.ZeroInt()
	return nil
}

// --- Custody ---

func (m *Market) LockedCollateral(context.Context) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked, nil
}

func (m *Market) LockCollateral(_ context.Context, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallLockCollateral); err != nil {
		return err
	}
	if amount.GT(m.idle) {
		return fmt.Errorf("%w: lock %s collateral, hold %s", ErrInsufficientFunds, amount, m.idle)
	}
	m.idle = m.idle.Sub(amount)
	m.locked = m.locked.Add(amount)
	return nil
}

func (m *Market) UnlockCollateral(_ context.Context, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallUnlockCollateral); err != nil {
		return err
	}
	if amount.GT(m.locked) {
		return fmt.Errorf("%w: unlock %s collateral, locked %s", ErrInsufficientFunds, amount, m.locked)
	}
	rest := m.locked.Sub(amount)
	if m.loan.GT(m.maxLoan(rest)) {
		return fmt.Errorf("%w: loan %s needs more than %s locked", ErrLTVExceeded, m.loan, rest)
	}
	m.locked = rest
	m.idle = m.idle.Add(amount)
	return nil
}

// --- PriceOracle ---

func (m *Market) CollateralPrice(context.Context) (types.PriceQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, nil
}

// --- Swapper ---

func (m *Market) SellRewards(_ context.Context, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallSellRewards); err != nil {
		return err
	}
	if amount.GT(m.reward) {
		return fmt.Errorf("%w: sell %s reward, hold %s", ErrInsufficientFunds, amount, m.reward)
	}
	m.reward = m.reward.Sub(amount)
	out := sdkmath.LegacyNewDecFromInt(amount).Mul(m.rewardPrice).TruncateInt()
	m.stable = m.stable.Add(m.terms.NetInt(out))
	return nil
}

func (m *Market) BuyRewards(_ context.Context, stableAmount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallBuyRewards); err != nil {
		return err
	}
	if err := m.spendStable(stableAmount); err != nil {
		return err
	}
	m.bought = m.bought.Add(sdkmath.LegacyNewDecFromInt(stableAmount).Mul(m.buyPrice).TruncateInt())
	return nil
}

// --- Wallet ---

func (m *Market) StableBalance(context.Context) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stable, nil
}

func (m *Market) ReceiptBalance(context.Context) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receipt, nil
}

func (m *Market) CollateralBalance(context.Context) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle, nil
}

func (m *Market) RewardBalance(context.Context) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reward, nil
}

func (m *Market) DistributionBalance(context.Context) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bought, nil
}

func (m *Market) SendCollateral(_ context.Context, to string, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallSendCollateral); err != nil {
		return err
	}
	if amount.GT(m.idle) {
		return fmt.Errorf("%w: send %s collateral, hold %s", ErrInsufficientFunds, amount, m.idle)
	}
	m.idle = m.idle.Sub(amount)
	m.sentCollateral[to] = orZero(m.sentCollateral[to]).Add(amount)
	return nil
}

// CollateralReceivedFrom is every collateral transfer sender ever made to the vault.
func (m *Market) CollateralReceivedFrom(_ context.Context, sender string) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return orZero(m.receivedFrom[sender]), nil
}

// --- ShareToken ---

func (m *Market) TotalShares(context.Context) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalShares, nil
}

func (m *Market) Mint(_ context.Context, to string, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallMintShares); err != nil {
		return err
	}
	m.shares[to] = orZero(m.shares[to]).Add(amount)
	m.totalShares = m.totalShares.Add(amount)
	return nil
}

func (m *Market) Burn(_ context.Context, from string, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallBurnShares); err != nil {
		return err
	}
	held := orZero(m.shares[from])
	if amount.GT(held) {
		return fmt.Errorf("%w: burn %s shares, %s holds %s", ErrInsufficientFunds, amount, from, held)
	}
	m.shares[from] = held.Sub(amount)
	m.totalShares = m.totalShares.Sub(amount)
	return nil
}

// --- RewardDistributor ---

func (m *Market) Distribute(_ context.Context, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(types.CallDistributeRewards); err != nil {
		return err
	}
	if amount.GT(m.bought) {
		return fmt.Errorf("%w: distribute %s, hold %s", ErrInsufficientFunds, amount, m.bought)
	}
	m.bought = m.bought.Sub(amount)
	m.distributed = m.distributed.Add(amount)
	return nil
}

// --- tax.Oracle ---

func (m *Market) Terms(context.Context, string) (tax.Terms, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terms, nil
}

// spendStable debits what has to leave the account for amount to arrive.
func (m *Market) spendStable(amount sdkmath.Int) error {
	gross := m.terms.GrossInt(amount)
	if gross.GT(m.stable) {
		return fmt.Errorf("%w: sending %s costs %s, hold %s", ErrInsufficientFunds, amount, gross, m.stable)
	}
	m.stable = m.stable.Sub(gross)
	return nil
}

func (m *Market) maxLoan(locked sdkmath.Int) sdkmath.Int {
	if m.price.Rate.IsNil() || m.collateralLTV.IsNil() {
		return sdkmath.ZeroInt()
	}
	return sdkmath.LegacyNewDecFromInt(locked).Mul(m.price.Rate).Mul(m.collateralLTV).TruncateInt()
}

func (m *Market) takeFailure(kind types.CallKind) error {
	err, ok := m.failures[kind]
	if !ok {
		return nil
	}
	delete(m.failures, kind)
	if err == nil {
		err = ErrInjected
	}
	return err
}

func orZero(i sdkmath.Int) sdkmath.Int {
	if i.IsNil() {
		return sdkmath.ZeroInt()
	}
	return i
}
