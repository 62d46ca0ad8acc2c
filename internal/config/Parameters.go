/*

This file contains the default policy of the vault.

It is seeded into the store on first start and from then on changed only through governance updates.
Each value is chosen so the saga can always walk the loan back from ltv_max to ltv_aim within its
iteration bound.

*/

package config

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/types"
)

// DefaultPolicy returns the baseline policy for a vault governed by governance and borrowing stableDenom.
func DefaultPolicy(governance, stableDenom string) types.Policy {
	return types.Policy{
		LTVAim: sdkmath.LegacyMustNewDecFromStr("0.8"), // Borrow up to 80% of what the lender allows.
		// Rationale: Leaves a 20% cushion against collateral price drops before the lender's
		// own limit is reached, while still putting most of the borrowing capacity to work.

		LTVMin: sdkmath.LegacyMustNewDecFromStr("0.75"), // Borrow more once the LTV falls below 75%.
		// Rationale: A 5 point band below the aim avoids borrowing on every small price uptick.
		// Each borrow pays the transfer tax, so a narrow band would bleed fees.

		LTVMax: sdkmath.LegacyMustNewDecFromStr("0.85"), // Repay once the LTV reaches 85%.
		// Rationale: Repaying requires redeeming receipt, which the lender can refuse when
		// utilization is high. Starting at 85% gives the saga room to retry before liquidation.

		CollateralMaxLTV: sdkmath.LegacyMustNewDecFromStr("0.5"), // The lender lends 50% of collateral value.
		// Rationale: Mirrors the lender's configured collateral factor; it is not a risk knob.

		BufferPart: sdkmath.LegacyMustNewDecFromStr("0.018"), // Keep 1.8% of max borrow as liquid stable.
		// Rationale: The buffer is the repay leg available when a redemption is refused.
		// (0.85 - 0.8) / 0.018 is under 3 buffer-sized steps, well inside max_iterations.

		PriceTimeframe: 60 * time.Second, // Treat prices older than a minute as stale.
		// Rationale: The band is halved on a stale price. A minute tolerates one missed oracle
		// update without letting the vault borrow against an old price.

		StableDenom: stableDenom,

		MaxIterations: 7, // At most 7 redemption attempts per repayment.
		// Rationale: Bounds the work of one trigger. With the default buffer only 3 steps are
		// needed; the rest absorb temporary redemption refusals.

		OverLoanBalanceValue: sdkmath.LegacyMustNewDecFromStr("1.01"), // Hold deposits worth 101% of the loan.
		// Rationale: Harvested profit first tops the deposit up to cover the loan plus accrued
		// interest, only the excess buys the distributed token.

		HarvestInterval: 8 * time.Hour, // Harvest at most every 8 hours.
		// Rationale: Each harvest pays swap fees and two transfer taxes. Three harvests a day
		// keep rewards flowing without spending them on fees.

		Governance: governance,
	}
}
