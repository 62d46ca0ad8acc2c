package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// MarketRates are the lending market's published yearly rates.
type MarketRates struct {
	BorrowRate      sdkmath.LegacyDec `json:"borrow_rate"`
	DepositRate     sdkmath.LegacyDec `json:"deposit_rate"`
	DistributionAPR sdkmath.LegacyDec `json:"distribution_apr"`
}

// PriceQuote is the collateral price in stable terms.
type PriceQuote struct {
	Rate        sdkmath.LegacyDec `json:"rate"`
	LastUpdated time.Time         `json:"last_updated"`
}
