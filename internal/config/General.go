package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Run modes.
const (
	ModeLive       = "live"
	ModeSimulation = "simulation"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendLevelDB  = "leveldb"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Mode selects live chain adapters or the in-memory simulated market.
	Mode string
	// StoreBackend selects where policy, saga progress and the journal are persisted.
	StoreBackend string
	// LevelDBPath is the database directory for the leveldb backend.
	LevelDBPath string

	// WebPort is the port of the trigger API.
	WebPort string
	// GovernanceAddress is the address allowed to update the policy.
	GovernanceAddress string
	// GovernanceKey authenticates governance requests on the trigger API. Empty disables PUT /api/config.
	GovernanceKey string

	// RebalanceSchedule and HarvestSchedule are cron expressions with a seconds field.
	RebalanceSchedule string
	HarvestSchedule   string

	// StableExponent and CollateralExponent are the decimals of the two tokens, used for metrics.
	StableExponent     int
	CollateralExponent int

	// TaxRate and TaxCap are the stable transfer tax terms served to the planners.
	TaxRate string
	TaxCap  string

	// DB* configure the postgres backend.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// KeyringBackend is the backend for the keyring (e.g., "os", "file", "test").
	KeyringBackend string
	// KeyringDir is the path to the keyring directory.
	KeyringDir string
	// KeyName is the name of the key within the keyring to use for signing.
	KeyName string
	// Bech32Prefix is the account address prefix of the target chain.
	Bech32Prefix string

	// ChainID is the chain ID of the target network.
	ChainID string

	// DefaultGasLimit is the fallback gas limit if estimation fails.
	DefaultGasLimit uint64
	// GasAdjustment is the multiplier for simulated gas to ensure sufficient fees.
	GasAdjustment float64
	// GasPriceAmount is the amount of the gas fee denomination per unit of gas.
	GasPriceAmount string
	// GasPriceDenom is the denomination for gas fees.
	GasPriceDenom string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// Chain and signing variables are only required in live mode, database variables only for postgres.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode = getEnvOrDefault("VAULT_MODE", ModeSimulation)
	if Mode != ModeLive && Mode != ModeSimulation {
		return fmt.Errorf("environment variable VAULT_MODE must be %q or %q, got: %s", ModeLive, ModeSimulation, Mode)
	}

	StoreBackend = getEnvOrDefault("STORE_BACKEND", BackendLevelDB)
	if StoreBackend != BackendPostgres && StoreBackend != BackendLevelDB {
		return fmt.Errorf("environment variable STORE_BACKEND must be %q or %q, got: %s", BackendPostgres, BackendLevelDB, StoreBackend)
	}
	LevelDBPath = expandHome(getEnvOrDefault("LEVELDB_PATH", "./data/cdpvault"))

	WebPort = getEnvOrDefault("WEB_PORT", "8080")
	GovernanceKey = getEnvOrDefault("GOVERNANCE_API_KEY", "")
	GovernanceAddress, err = getEnv("GOVERNANCE_ADDRESS")
	if err != nil {
		return err
	}

	RebalanceSchedule = getEnvOrDefault("REBALANCE_SCHEDULE", "0 */10 * * * *")
	HarvestSchedule = getEnvOrDefault("HARVEST_SCHEDULE", "0 0 */8 * * *")

	if StableExponent, err = getEnvAsIntOrDefault("STABLE_EXPONENT", 6); err != nil {
		return err
	}
	if CollateralExponent, err = getEnvAsIntOrDefault("COLLATERAL_EXPONENT", 6); err != nil {
		return err
	}

	TaxRate = getEnvOrDefault("TAX_RATE", "0")
	TaxCap = getEnvOrDefault("TAX_CAP", "0")

	if StoreBackend == BackendPostgres {
		if err := loadDatabaseConfig(); err != nil {
			return err
		}
	}

	if Mode == ModeLive {
		if err := loadChainConfig(); err != nil {
			return err
		}
		// Load endpoint configuration
		if err := loadEndpointConfig(); err != nil {
			return err
		}
	}

	log.Debug().
		Str("Mode", Mode).
		Str("StoreBackend", StoreBackend).
		Str("Governance", GovernanceAddress).
		Str("ChainID", ChainID).
		Msg("Configuration loaded successfully.")

	return nil
}

func loadDatabaseConfig() error {
	var err error
	DBHost = getEnvOrDefault("DB_HOST", "localhost")
	if DBPort, err = getEnvAsIntOrDefault("DB_PORT", 5432); err != nil {
		return err
	}
	if DBUser, err = getEnv("DB_USER"); err != nil {
		return err
	}
	DBPassword = getEnvOrDefault("DB_PASSWORD", "")
	if DBName, err = getEnv("DB_NAME"); err != nil {
		return err
	}
	DBSSLMode = getEnvOrDefault("DB_SSLMODE", "disable")
	return nil
}

func loadChainConfig() error {
	var err error

	KeyringBackend, err = getEnv("KEYRING_BACKEND")
	if err != nil {
		return err
	}

	KeyringDir, err = getEnv("KEYRING_DIR")
	if err != nil {
		return err
	}

	KeyName, err = getEnv("KEYRING_KEY_NAME")
	if err != nil {
		return err
	}

	Bech32Prefix = getEnvOrDefault("BECH32_PREFIX", "elys")

	ChainID, err = getEnv("CHAIN_ID")
	if err != nil {
		return err
	}

	DefaultGasLimit, err = getEnvAsUint64("GAS_DEFAULT_LIMIT")
	if err != nil {
		return err
	}

	GasAdjustment, err = getEnvAsFloat64("GAS_ADJUSTMENT")
	if err != nil {
		return err
	}

	GasPriceAmount, err = getEnv("GAS_PRICE_AMOUNT")
	if err != nil {
		return err
	}

	GasPriceDenom, err = getEnv("GAS_PRICE_DENOM")
	if err != nil {
		return err
	}

	// Expand the tilde (~) in the keyring directory path to the user's home directory.
	KeyringDir = expandHome(KeyringDir)
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable, falling back to def when unset or empty.
func getEnvOrDefault(key, def string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return def
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

func getEnvAsIntOrDefault(key string, def int) (int, error) {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return def, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsFloat64 retrieves an environment variable as a float64. Returns error if not set or invalid.
func getEnvAsFloat64(key string) (float64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float64, got: " + valueStr)
	}
	return value, nil
}
