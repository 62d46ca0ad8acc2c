package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	wasmtypes "github.com/CosmWasm/wasmd/x/wasm/types"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	"github.com/cosmos/cosmos-sdk/client"
	"github.com/cosmos/cosmos-sdk/client/flags"
	"github.com/cosmos/cosmos-sdk/client/tx"
	"github.com/cosmos/cosmos-sdk/codec"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	"github.com/cosmos/cosmos-sdk/crypto/keyring"
	"github.com/cosmos/cosmos-sdk/std"
	sdk "github.com/cosmos/cosmos-sdk/types"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
	authtx "github.com/cosmos/cosmos-sdk/x/auth/tx"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"google.golang.org/grpc"

	"github.com/elys-network/cdpvault/internal/config"
	"github.com/elys-network/cdpvault/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidConfig          = errors.New("invalid configuration")
	ErrKeyringInit            = errors.New("keyring initialization failed")
	ErrKeyNotFound            = errors.New("signing key not found")
	ErrRPCConnectionFailed    = errors.New("RPC connection failed")
	ErrGRPCConnectionInvalid  = errors.New("gRPC connection is invalid")
	ErrTxBuildFailed          = errors.New("transaction build failed")
	ErrTxSignFailed           = errors.New("transaction signing failed")
	ErrTxBroadcastFailed      = errors.New("transaction broadcast failed")
	ErrTxNotIncluded          = errors.New("transaction was not included in a block")
	ErrSDKConfigFailed        = errors.New("SDK configuration failed")
	ErrClientContextInvalid   = errors.New("client context is invalid")
	ErrAccountRetrievalFailed = errors.New("account retrieval failed")
)

var walletLogger = logger.GetForComponent("wallet_client")

// Thread-safe SDK configuration using sync.Once
var sdkConfigOnce sync.Once
var sdkConfigError error

// Inclusion polling. The delay grows by 1.5x per attempt up to inclusionMaxDelay.
const (
	inclusionAttempts  = 30
	inclusionBaseDelay = 2 * time.Second
	inclusionMaxDelay  = 30 * time.Second
	queryTimeout       = 10 * time.Second
)

// EncodingConfig bundles the codec pieces the client context needs.
type EncodingConfig struct {
	InterfaceRegistry codectypes.InterfaceRegistry
	Codec             codec.Codec
	TxConfig          client.TxConfig
}

// SigningClient handles transaction signing and broadcasting. Broadcasts are serialized so the
// account sequence is never reused.
type SigningClient struct {
	mu sync.Mutex

	clientCtx   client.Context
	txFactory   tx.Factory
	keyring     keyring.Keyring
	grpcConn    *grpc.ClientConn
	chainID     string
	keyName     string
	fromAddress sdk.AccAddress
}

// NewSigningClient creates a new signing client from the chain configuration.
func NewSigningClient(grpcConn *grpc.ClientConn) (*SigningClient, error) {
	if grpcConn == nil {
		return nil, errors.Join(ErrGRPCConnectionInvalid, errors.New("gRPC connection cannot be nil"))
	}
	if err := validateWalletConfig(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if err := configureSDK(config.Bech32Prefix); err != nil {
		return nil, errors.Join(ErrSDKConfigFailed, err)
	}

	encodingConfig := MakeEncodingConfig()

	kr, err := initializeKeyring(encodingConfig)
	if err != nil {
		return nil, errors.Join(ErrKeyringInit, err)
	}

	fromAddress, err := getAndValidateKey(kr)
	if err != nil {
		return nil, errors.Join(ErrKeyNotFound, err)
	}

	rpcClient, err := rpchttp.New(config.NodeRPC, "/websocket")
	if err != nil {
		return nil, errors.Join(ErrRPCConnectionFailed, fmt.Errorf("failed to create RPC client: %w", err))
	}

	clientCtx := client.Context{}.
		WithCodec(encodingConfig.Codec).
		WithInterfaceRegistry(encodingConfig.InterfaceRegistry).
		WithTxConfig(encodingConfig.TxConfig).
		WithInput(os.Stdin).
		WithAccountRetriever(authtypes.AccountRetriever{}).
		WithBroadcastMode(flags.BroadcastSync).
		WithHomeDir(config.KeyringDir).
		WithKeyring(kr).
		WithChainID(config.ChainID).
		WithGRPCClient(grpcConn).
		WithClient(rpcClient).
		WithFromAddress(fromAddress).
		WithFromName(config.KeyName)
	if err := validateClientContext(clientCtx); err != nil {
		return nil, errors.Join(ErrClientContextInvalid, err)
	}

	txFactory := tx.Factory{}.
		WithChainID(config.ChainID).
		WithKeybase(kr).
		WithGas(config.DefaultGasLimit).
		WithGasAdjustment(config.GasAdjustment).
		WithSignMode(signing.SignMode_SIGN_MODE_DIRECT).
		WithAccountRetriever(clientCtx.AccountRetriever).
		WithTxConfig(clientCtx.TxConfig)

	s := &SigningClient{
		clientCtx:   clientCtx,
		txFactory:   txFactory,
		keyring:     kr,
		grpcConn:    grpcConn,
		chainID:     config.ChainID,
		keyName:     config.KeyName,
		fromAddress: fromAddress,
	}

	walletLogger.Info().
		Str("address", fromAddress.String()).
		Str("keyName", config.KeyName).
		Str("chainID", config.ChainID).
		Str("rpcEndpoint", config.NodeRPC).
		Msg("Signing client initialized")

	return s, nil
}

// validateWalletConfig validates all wallet configuration parameters
func validateWalletConfig() error {
	if config.ChainID == "" {
		return errors.New("chain ID cannot be empty")
	}
	if config.KeyName == "" {
		return errors.New("key name cannot be empty")
	}
	if config.KeyringDir == "" {
		return errors.New("keyring directory cannot be empty")
	}
	if config.KeyringBackend == "" {
		return errors.New("keyring backend cannot be empty")
	}
	if config.NodeRPC == "" {
		return errors.New("node RPC endpoint cannot be empty")
	}
	if config.Bech32Prefix == "" {
		return errors.New("bech32 prefix cannot be empty")
	}
	return validateGasConfiguration()
}

// validateGasConfiguration validates gas-related configuration
func validateGasConfiguration() error {
	if config.DefaultGasLimit == 0 {
		return errors.New("default gas limit cannot be zero")
	}
	if math.IsNaN(config.GasAdjustment) || math.IsInf(config.GasAdjustment, 0) {
		return errors.New("gas adjustment is not finite")
	}
	if config.GasAdjustment <= 0 || config.GasAdjustment > 10 {
		return errors.New("gas adjustment must be between 0 and 10")
	}
	if config.GasPriceAmount == "" {
		return errors.New("gas price amount cannot be empty")
	}
	if config.GasPriceDenom == "" {
		return errors.New("gas price denomination cannot be empty")
	}
	return nil
}

// configureSDK sets the account prefix once per process and seals the SDK config.
func configureSDK(prefix string) error {
	sdkConfigOnce.Do(func() {
		sdkConfig := sdk.GetConfig()
		if sdkConfig == nil {
			sdkConfigError = errors.New("failed to get SDK config")
			return
		}

		sdkConfig.SetBech32PrefixForAccount(prefix, prefix+"pub")
		sdkConfig.SetBech32PrefixForValidator(prefix+"valoper", prefix+"valoperpub")
		sdkConfig.SetBech32PrefixForConsensusNode(prefix+"valcons", prefix+"valconspub")
		sdkConfig.Seal()

		walletLogger.Debug().Str("prefix", prefix).Msg("SDK configuration initialized")
	})
	return sdkConfigError
}

// MakeEncodingConfig registers the interfaces needed to sign bank sends and contract executions.
func MakeEncodingConfig() EncodingConfig {
	registry := codectypes.NewInterfaceRegistry()
	std.RegisterInterfaces(registry)
	authtypes.RegisterInterfaces(registry)
	banktypes.RegisterInterfaces(registry)
	wasmtypes.RegisterInterfaces(registry)

	cdc := codec.NewProtoCodec(registry)
	return EncodingConfig{
		InterfaceRegistry: registry,
		Codec:             cdc,
		TxConfig:          authtx.NewTxConfig(cdc, authtx.DefaultSignModes),
	}
}

// initializeKeyring opens the configured keyring, creating its directory if needed.
func initializeKeyring(encodingConfig EncodingConfig) (keyring.Keyring, error) {
	if err := os.MkdirAll(config.KeyringDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create keyring directory: %w", err)
	}

	kr, err := keyring.New(
		"cdpvault",
		config.KeyringBackend,
		config.KeyringDir,
		os.Stdin,
		encodingConfig.Codec,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyring: %w", err)
	}
	if kr == nil {
		return nil, errors.New("keyring creation returned nil")
	}
	return kr, nil
}

// getAndValidateKey retrieves and validates the signing key
func getAndValidateKey(kr keyring.Keyring) (sdk.AccAddress, error) {
	keyInfo, err := kr.Key(config.KeyName)
	if err != nil {
		return nil, fmt.Errorf("key '%s' not found in keyring: %w", config.KeyName, err)
	}
	if keyInfo == nil {
		return nil, fmt.Errorf("key info for '%s' is nil", config.KeyName)
	}

	fromAddress, err := keyInfo.GetAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to get address from key: %w", err)
	}
	if err := sdk.VerifyAddressFormat(fromAddress); err != nil {
		return nil, fmt.Errorf("invalid address format: %w", err)
	}
	return fromAddress, nil
}

// validateClientContext validates the client context
func validateClientContext(clientCtx client.Context) error {
	if clientCtx.Codec == nil {
		return errors.New("codec is nil in client context")
	}
	if clientCtx.InterfaceRegistry == nil {
		return errors.New("interface registry is nil in client context")
	}
	if clientCtx.TxConfig == nil {
		return errors.New("tx config is nil in client context")
	}
	if clientCtx.Keyring == nil {
		return errors.New("keyring is nil in client context")
	}
	if clientCtx.ChainID == "" {
		return errors.New("chain ID is empty in client context")
	}
	if len(clientCtx.FromAddress) == 0 {
		return errors.New("from address is empty in client context")
	}
	return nil
}

// SignAndBroadcastTx signs msgs, broadcasts them in sync mode and returns the CheckTx response.
func (s *SigningClient) SignAndBroadcastTx(ctx context.Context, msgs ...sdk.Msg) (*sdk.TxResponse, error) {
	if len(msgs) == 0 {
		return nil, errors.New("messages cannot be empty")
	}
	for i, msg := range msgs {
		if msg == nil {
			return nil, fmt.Errorf("message %d is nil", i)
		}
		if validator, ok := msg.(interface{ ValidateBasic() error }); ok {
			if err := validator.ValidateBasic(); err != nil {
				return nil, fmt.Errorf("message %d validation failed: %w", i, err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.clientCtx.AccountRetriever.GetAccount(s.clientCtx, s.fromAddress)
	if err != nil {
		return nil, errors.Join(ErrAccountRetrievalFailed, fmt.Errorf("failed to get account info: %w", err))
	}

	factory := s.txFactory.
		WithAccountNumber(account.GetAccountNumber()).
		WithSequence(account.GetSequence()).
		WithGasPrices(config.GasPriceAmount + config.GasPriceDenom)

	// Calculate gas using simulation instead of hardcoded values
	estimatedGas, err := s.calculateGas(ctx, factory, msgs...)
	if err != nil {
		walletLogger.Warn().Err(err).Msg("Gas estimation failed, using default gas limit")
		estimatedGas = config.DefaultGasLimit
	}
	factory = factory.WithGas(estimatedGas)

	txBuilder, err := factory.BuildUnsignedTx(msgs...)
	if err != nil {
		return nil, errors.Join(ErrTxBuildFailed, fmt.Errorf("failed to build unsigned tx: %w", err))
	}
	if err := tx.Sign(ctx, factory, s.keyName, txBuilder, true); err != nil {
		return nil, errors.Join(ErrTxSignFailed, fmt.Errorf("failed to sign transaction: %w", err))
	}
	txBytes, err := s.clientCtx.TxConfig.TxEncoder()(txBuilder.GetTx())
	if err != nil {
		return nil, errors.Join(ErrTxBuildFailed, fmt.Errorf("failed to encode transaction: %w", err))
	}

	res, err := s.clientCtx.BroadcastTx(txBytes)
	if err != nil {
		return nil, errors.Join(ErrTxBroadcastFailed, fmt.Errorf("failed to broadcast transaction: %w", err))
	}
	if res == nil || res.TxHash == "" {
		return nil, errors.Join(ErrTxBroadcastFailed, errors.New("transaction response has no hash"))
	}

	walletLogger.Info().
		Str("txHash", res.TxHash).
		Uint32("code", res.Code).
		Uint64("gas", estimatedGas).
		Int("messageCount", len(msgs)).
		Msg("Transaction broadcasted")

	return res, nil
}

// calculateGas simulates the transaction and returns the adjusted gas with a fixed safety margin.
func (s *SigningClient) calculateGas(ctx context.Context, factory tx.Factory, msgs ...sdk.Msg) (uint64, error) {
	txBytes, err := factory.WithGas(0).BuildSimTx(msgs...)
	if err != nil {
		return 0, fmt.Errorf("failed to build simulation transaction: %w", err)
	}

	simRes, err := txtypes.NewServiceClient(s.grpcConn).Simulate(ctx, &txtypes.SimulateRequest{TxBytes: txBytes})
	if err != nil {
		return 0, fmt.Errorf("gas simulation failed: %w", err)
	}
	if simRes == nil || simRes.GasInfo == nil {
		return 0, errors.New("simulation response or gas info is nil")
	}
	if simRes.GasInfo.GasUsed == 0 {
		return 0, errors.New("simulated gas usage is zero")
	}
	return adjustGas(simRes.GasInfo.GasUsed, factory.GasAdjustment()), nil
}

func adjustGas(simulated uint64, adjustment float64) uint64 {
	// Add 10k gas buffer to prevent out-of-gas errors
	return uint64(adjustment*float64(simulated)) + 10000
}

// QueryTxByHash queries a transaction by its hash to get complete execution details
func (s *SigningClient) QueryTxByHash(ctx context.Context, txHash string) (*sdk.TxResponse, error) {
	if txHash == "" {
		return nil, errors.New("transaction hash cannot be empty")
	}
	txResponse, err := authtx.QueryTx(s.clientCtx.WithCmdContext(ctx), txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction %s: %w", txHash, err)
	}
	if txResponse == nil {
		return nil, fmt.Errorf("transaction %s not found", txHash)
	}
	return txResponse, nil
}

// WaitForInclusion polls until the transaction is in a block, backing off between attempts.
func (s *SigningClient) WaitForInclusion(ctx context.Context, txHash string) (*sdk.TxResponse, error) {
	for attempt := 1; attempt <= inclusionAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoffDelay(attempt)):
		}

		queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		txResponse, err := s.QueryTxByHash(queryCtx, txHash)
		cancel()
		if err != nil {
			walletLogger.Debug().Err(err).Str("txHash", txHash).Int("attempt", attempt).Msg("Transaction not yet available, will retry")
			continue
		}
		if txResponse.Height > 0 {
			walletLogger.Info().
				Str("txHash", txHash).
				Int("attempt", attempt).
				Int64("height", txResponse.Height).
				Int64("gasUsed", txResponse.GasUsed).
				Msg("Transaction included in block")
			return txResponse, nil
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrTxNotIncluded, txHash, inclusionAttempts)
}

func backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(inclusionBaseDelay) * math.Pow(1.5, float64(attempt-1)))
	if delay > inclusionMaxDelay {
		delay = inclusionMaxDelay
	}
	return delay
}

// GetAddress returns the signing address
func (s *SigningClient) GetAddress() sdk.AccAddress {
	return s.fromAddress
}

// Address returns the signing address as a bech32 string.
func (s *SigningClient) Address() string {
	return s.fromAddress.String()
}
