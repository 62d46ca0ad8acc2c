package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/elys-network/cdpvault/internal/chain"
	"github.com/elys-network/cdpvault/internal/config"
	"github.com/elys-network/cdpvault/internal/keeper"
	"github.com/elys-network/cdpvault/internal/logger"
	"github.com/elys-network/cdpvault/internal/metrics"
	"github.com/elys-network/cdpvault/internal/simulations"
	"github.com/elys-network/cdpvault/internal/state"
	"github.com/elys-network/cdpvault/internal/storage"
	"github.com/elys-network/cdpvault/internal/tax"
	"github.com/elys-network/cdpvault/internal/vault"
	"github.com/elys-network/cdpvault/internal/wallet"
	"github.com/elys-network/cdpvault/internal/web"
)

// app is everything a command needs once startup has finished.
type app struct {
	engine      *vault.Engine
	healthCheck func() error
	closers     []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	root := &cobra.Command{
		Use:           "cdpvault",
		Short:         "Rebalancing and repayment engine for a collateralized borrowing vault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), triggerCmd())

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("cdpvault exited with an error")
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the trigger API and run the keeper schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			webServer, err := web.NewWebServer(web.Config{
				Vault:         a.engine,
				Port:          config.WebPort,
				GovernanceKey: config.GovernanceKey,
				HealthCheck:   a.healthCheck,
			})
			if err != nil {
				return err
			}
			go func() {
				log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting trigger API")
				if err := webServer.Start(ctx); err != nil {
					log.Error().Err(err).Msg("Web server failed")
					stop()
				}
			}()

			k, err := keeper.NewKeeper(keeper.Config{
				Triggers:          a.engine,
				RebalanceSchedule: config.RebalanceSchedule,
				HarvestSchedule:   config.HarvestSchedule,
			})
			if err != nil {
				return err
			}
			k.RunLoop(ctx)
			return nil
		},
	}
}

func triggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "trigger [rebalance|harvest|claim-remainder]",
		Short:     "Run one permissionless trigger and print its outcome",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"rebalance", "harvest", "claim-remainder"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var outcome vault.Outcome
			switch args[0] {
			case "rebalance":
				outcome, err = a.engine.Rebalance(cmd.Context())
			case "harvest":
				outcome, err = a.engine.HarvestRewards(cmd.Context())
			case "claim-remainder":
				outcome, err = a.engine.ClaimRemainder(cmd.Context())
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		},
	}
}

// bootstrap loads configuration and wires storage, collaborators and the engine.
func bootstrap(ctx context.Context) (*app, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}
	if err := config.LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Str("mode", config.Mode).Str("store", config.StoreBackend).Msg("cdpvault starting")

	a := &app{}
	store, err := openStore(a)
	if err != nil {
		a.Close()
		return nil, err
	}

	terms, err := configuredTax()
	if err != nil {
		a.Close()
		return nil, err
	}

	collab, err := collaborators(a, terms)
	if err != nil {
		a.Close()
		return nil, err
	}

	engine, err := vault.NewEngine(vault.Config{
		Collaborators:      collab,
		Store:              store,
		Metrics:            metrics.Vault(),
		StableExponent:     config.StableExponent,
		CollateralExponent: config.CollateralExponent,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	stableDenom := config.StableDenom
	if stableDenom == "" {
		stableDenom = "uusdc"
	}
	policy, err := engine.EnsurePolicy(ctx, config.DefaultPolicy(config.GovernanceAddress, stableDenom))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize policy: %w", err)
	}
	log.Info().
		Str("ltvAim", policy.LTVAim.String()).
		Str("governance", policy.Governance).
		Uint8("maxIterations", policy.MaxIterations).
		Msg("Policy loaded")

	a.engine = engine
	return a, nil
}

func openStore(a *app) (state.Store, error) {
	if config.StoreBackend == config.BackendPostgres {
		dbCfg := state.DBConfig{
			Host: config.DBHost, Port: config.DBPort,
			User: config.DBUser, Password: config.DBPassword,
			DBName: config.DBName, SSLMode: config.DBSSLMode,
		}
		if err := state.InitDB(dbCfg); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, state.CloseDB)
		if err := state.EnsureSchema(); err != nil {
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		a.healthCheck = state.TestDBConnection
		return state.NewPostgresStore(state.DB)
	}

	db, err := storage.NewLevelDB(config.LevelDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", config.LevelDBPath, err)
	}
	a.closers = append(a.closers, db.Close)
	return state.NewKVStore(db), nil
}

func configuredTax() (tax.Terms, error) {
	rate, err := sdkmath.LegacyNewDecFromStr(config.TaxRate)
	if err != nil {
		return tax.Terms{}, fmt.Errorf("invalid TAX_RATE %q: %w", config.TaxRate, err)
	}
	taxCap, ok := sdkmath.NewIntFromString(config.TaxCap)
	if !ok {
		return tax.Terms{}, fmt.Errorf("invalid TAX_CAP %q", config.TaxCap)
	}
	return tax.NewTerms(rate, taxCap)
}

func collaborators(a *app, terms tax.Terms) (vault.Collaborators, error) {
	if config.Mode != config.ModeLive {
		log.Warn().Msg("Running against the in-memory simulated market. No transactions will be broadcast.")
		market := simulations.NewMarket(simulations.DefaultParams(), nil)
		market.SetTax(terms)
		return vault.Collaborators{
			Market:      market,
			Custody:     market,
			Oracle:      market,
			Swap:        market,
			Tax:         market,
			Shares:      market,
			Distributor: market,
			Wallet:      market,
		}, nil
	}

	log.Warn().Msg("Initializing in LIVE mode. Real transactions will be broadcast.")
	conn, err := chain.Dial(config.NodeGRPC)
	if err != nil {
		return vault.Collaborators{}, err
	}
	a.closers = append(a.closers, func() {
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing gRPC connection")
		}
	})

	signer, err := wallet.NewSigningClient(conn)
	if err != nil {
		return vault.Collaborators{}, fmt.Errorf("failed to initialize signing client: %w", err)
	}
	wasmQuerier, bankQuerier, txSearcher := chain.NewQueriers(conn)
	client, err := chain.NewClient(wasmQuerier, bankQuerier, txSearcher, signer,
		chain.Contracts{
			MoneyMarket: config.MoneyMarketContract,
			Custody:     config.CustodyContract,
			Oracle:      config.OracleContract,
			Swap:        config.SwapContract,
			ShareToken:  config.ShareTokenContract,
			Distributor: config.DistributorContract,
		},
		chain.Denoms{
			Stable:       config.StableDenom,
			Collateral:   config.CollateralDenom,
			Receipt:      config.ReceiptDenom,
			Reward:       config.RewardDenom,
			Distribution: config.DistributionDenom,
		},
	)
	if err != nil {
		return vault.Collaborators{}, err
	}
	return vault.Collaborators{
		Market:      client,
		Custody:     client,
		Oracle:      client,
		Swap:        client,
		Tax:         tax.NewStaticOracle(terms),
		Shares:      client,
		Distributor: client,
		Wallet:      client,
	}, nil
}
