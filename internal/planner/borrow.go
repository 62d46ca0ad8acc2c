package planner

import (
	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/tax"
)

// PlanBorrowCompletion returns how much borrowed stable to deposit into the lending market after
// a borrow. Everything above the advised buffer goes in, net of the outgoing tax. Zero means nothing to do.
func PlanBorrowCompletion(stableBalance, advisedBuffer sdkmath.Int, terms tax.Terms) sdkmath.Int {
	balance := orZero(stableBalance)
	buffer := orZero(advisedBuffer)
	if balance.LTE(buffer) {
		return sdkmath.ZeroInt()
	}
	return terms.NetInt(balance.Sub(buffer))
}
