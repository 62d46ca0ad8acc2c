package config

import (
	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function, in live mode only.
var (
	// NodeRPC is the CometBFT RPC endpoint used to broadcast and look up transactions.
	NodeRPC string
	// NodeGRPC is the gRPC endpoint used for contract and bank queries.
	NodeGRPC string

	// MoneyMarketContract holds the loan and the yield-bearing deposit.
	MoneyMarketContract string
	// CustodyContract holds the locked collateral.
	CustodyContract string
	// OracleContract publishes the collateral price.
	OracleContract string
	// SwapContract routes reward sales and purchases.
	SwapContract string
	// ShareTokenContract is the cw20 share token of the vault.
	ShareTokenContract string
	// DistributorContract credits bought tokens to share holders.
	DistributorContract string

	// Bank denominations held by the vault account.
	StableDenom       string
	CollateralDenom   string
	ReceiptDenom      string
	RewardDenom       string
	DistributionDenom string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	required := []struct {
		key    string
		target *string
	}{
		{"NODE_RPC", &NodeRPC},
		{"NODE_GRPC", &NodeGRPC},
		{"MONEY_MARKET_CONTRACT", &MoneyMarketContract},
		{"CUSTODY_CONTRACT", &CustodyContract},
		{"ORACLE_CONTRACT", &OracleContract},
		{"SWAP_CONTRACT", &SwapContract},
		{"SHARE_TOKEN_CONTRACT", &ShareTokenContract},
		{"DISTRIBUTOR_CONTRACT", &DistributorContract},
		{"STABLE_DENOM", &StableDenom},
		{"COLLATERAL_DENOM", &CollateralDenom},
		{"RECEIPT_DENOM", &ReceiptDenom},
		{"REWARD_DENOM", &RewardDenom},
		{"DISTRIBUTION_DENOM", &DistributionDenom},
	}
	for _, r := range required {
		value, err := getEnv(r.key)
		if err != nil {
			return err
		}
		*r.target = value
	}

	log.Debug().
		Str("NodeRPC", NodeRPC).
		Str("NodeGRPC", NodeGRPC).
		Str("MoneyMarket", MoneyMarketContract).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
