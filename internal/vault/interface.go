package vault

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/tax"
	"github.com/elys-network/cdpvault/internal/types"
)

// MoneyMarket is the lending protocol: it holds the loan and the yield-bearing deposit.
type MoneyMarket interface {
	// LoanAmount returns the vault's outstanding stable loan.
	LoanAmount(ctx context.Context) (sdkmath.Int, error)

	// ExchangeRate returns how much stable one receipt token redeems for.
	ExchangeRate(ctx context.Context) (sdkmath.LegacyDec, error)

	// Rates returns the published borrow, deposit and distribution rates.
	Rates(ctx context.Context) (types.MarketRates, error)

	Borrow(ctx context.Context, amount sdkmath.Int) error
	Repay(ctx context.Context, amount sdkmath.Int) error

	// DepositStable mints receipt for stable sent to the market.
	DepositStable(ctx context.Context, amount sdkmath.Int) error

	// RedeemReceipt burns receipt tokens for stable. A refusal because the market cannot release
	// funds right now must be reported as types.ErrExternalTemporary.
	RedeemReceipt(ctx context.Context, amount sdkmath.Int) error

	// ClaimRewards claims the lender's reward token accrued by the loan.
	ClaimRewards(ctx context.Context) error
}

// Custody holds the collateral locked with the lender.
type Custody interface {
	LockedCollateral(ctx context.Context) (sdkmath.Int, error)
	LockCollateral(ctx context.Context, amount sdkmath.Int) error
	UnlockCollateral(ctx context.Context, amount sdkmath.Int) error
}

// PriceOracle returns the collateral price in stable.
type PriceOracle interface {
	CollateralPrice(ctx context.Context) (types.PriceQuote, error)
}

// Swapper trades the lender's reward token for stable and stable for the distributed token.
type Swapper interface {
	SellRewards(ctx context.Context, amount sdkmath.Int) error
	BuyRewards(ctx context.Context, stableAmount sdkmath.Int) error
}

// Wallet is the vault's own account.
type Wallet interface {
	StableBalance(ctx context.Context) (sdkmath.Int, error)
	ReceiptBalance(ctx context.Context) (sdkmath.Int, error)
	// CollateralBalance is collateral held by the vault but not locked with the lender.
	CollateralBalance(ctx context.Context) (sdkmath.Int, error)
	// RewardBalance is the claimed lender reward token waiting to be sold.
	RewardBalance(ctx context.Context) (sdkmath.Int, error)
	// DistributionBalance is the bought token waiting to be distributed to holders.
	DistributionBalance(ctx context.Context) (sdkmath.Int, error)
	SendCollateral(ctx context.Context, to string, amount sdkmath.Int) error
	// CollateralReceivedFrom sums every collateral transfer sender has made to the vault.
	CollateralReceivedFrom(ctx context.Context, sender string) (sdkmath.Int, error)
}

// ShareToken is the vault's share supply.
type ShareToken interface {
	TotalShares(ctx context.Context) (sdkmath.Int, error)
	Mint(ctx context.Context, to string, amount sdkmath.Int) error
	Burn(ctx context.Context, from string, amount sdkmath.Int) error
}

// RewardDistributor credits bought tokens to share holders.
type RewardDistributor interface {
	Distribute(ctx context.Context, amount sdkmath.Int) error
}

// Collaborators groups every external boundary the engine talks to.
type Collaborators struct {
	Market      MoneyMarket
	Custody     Custody
	Oracle      PriceOracle
	Swap        Swapper
	Tax         tax.Oracle
	Shares      ShareToken
	Distributor RewardDistributor
	Wallet      Wallet
}

func validateCollaborators(c Collaborators) error {
	var errs []error
	if c.Market == nil {
		errs = append(errs, errors.New("money market cannot be nil"))
	}
	if c.Custody == nil {
		errs = append(errs, errors.New("custody cannot be nil"))
	}
	if c.Oracle == nil {
		errs = append(errs, errors.New("price oracle cannot be nil"))
	}
	if c.Swap == nil {
		errs = append(errs, errors.New("swapper cannot be nil"))
	}
	if c.Tax == nil {
		errs = append(errs, errors.New("tax oracle cannot be nil"))
	}
	if c.Shares == nil {
		errs = append(errs, errors.New("share token cannot be nil"))
	}
	if c.Distributor == nil {
		errs = append(errs, errors.New("reward distributor cannot be nil"))
	}
	if c.Wallet == nil {
		errs = append(errs, errors.New("wallet cannot be nil"))
	}
	return errors.Join(errs...)
}
