package planner

import (
	"testing"

	sdkmath "cosmossdk.io/math"
)

func TestPlanBorrowCompletion(t *testing.T) {
	terms := mustTerms(t, "0.01", 1_000)

	requireIntEqual(t, sdkmath.ZeroInt(), PlanBorrowCompletion(ints(100), ints(100), terms))
	requireIntEqual(t, sdkmath.ZeroInt(), PlanBorrowCompletion(ints(50), ints(100), terms))
	requireIntEqual(t, ints(891), PlanBorrowCompletion(ints(1_000), ints(100), terms))

	// The cap bounds the tax on large deposits.
	requireIntEqual(t, ints(999_000), PlanBorrowCompletion(ints(1_000_000), sdkmath.ZeroInt(), terms))
}
