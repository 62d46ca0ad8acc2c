package chain

import (
	sdkmath "cosmossdk.io/math"
)

type empty struct{}

// Money market queries.

type borrowerLoanQuery struct {
	BorrowerLoan struct {
		Borrower string `json:"borrower"`
	} `json:"borrower_loan"`
}

type exchangeRateQuery struct {
	ExchangeRate empty `json:"exchange_rate"`
}

type ratesQuery struct {
	Rates empty `json:"rates"`
}

type amountResponse struct {
	Amount sdkmath.Int `json:"amount"`
}

type exchangeRateResponse struct {
	Rate sdkmath.LegacyDec `json:"rate"`
}

type ratesResponse struct {
	BorrowRate      sdkmath.LegacyDec `json:"borrow_rate"`
	DepositRate     sdkmath.LegacyDec `json:"deposit_rate"`
	DistributionAPR sdkmath.LegacyDec `json:"distribution_apr"`
}

// Custody and oracle queries.

type lockedQuery struct {
	Locked struct {
		Owner string `json:"owner"`
	} `json:"locked"`
}

type priceQuery struct {
	Price struct {
		Denom string `json:"denom"`
	} `json:"price"`
}

type priceResponse struct {
	Rate        sdkmath.LegacyDec `json:"rate"`
	LastUpdated int64             `json:"last_updated"` // unix seconds
}

// cw20 share token.

type tokenInfoQuery struct {
	TokenInfo empty `json:"token_info"`
}

type tokenInfoResponse struct {
	TotalSupply sdkmath.Int `json:"total_supply"`
}

// Executes. Amounts carried as funds are not repeated in the message body.

type borrowMsg struct {
	Borrow struct {
		Amount sdkmath.Int `json:"amount"`
	} `json:"borrow"`
}

type repayMsg struct {
	Repay empty `json:"repay"`
}

type depositMsg struct {
	Deposit empty `json:"deposit"`
}

type redeemMsg struct {
	Redeem empty `json:"redeem"`
}

type claimRewardsMsg struct {
	ClaimRewards empty `json:"claim_rewards"`
}

type lockMsg struct {
	Lock empty `json:"lock"`
}

type unlockMsg struct {
	Unlock struct {
		Amount sdkmath.Int `json:"amount"`
	} `json:"unlock"`
}

type swapMsg struct {
	Swap struct {
		AskDenom string `json:"ask_denom"`
	} `json:"swap"`
}

type mintMsg struct {
	Mint struct {
		Recipient string      `json:"recipient"`
		Amount    sdkmath.Int `json:"amount"`
	} `json:"mint"`
}

type burnFromMsg struct {
	BurnFrom struct {
		Owner  string      `json:"owner"`
		Amount sdkmath.Int `json:"amount"`
	} `json:"burn_from"`
}

type distributeMsg struct {
	Distribute empty `json:"distribute"`
}
