// Package config loads the relayer settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/mechanisms/evm"
)

// Environment keys
const (
	EnvListenAddr     = "RELAYER_LISTEN_ADDR"
	EnvRequestTimeout = "RELAYER_REQUEST_TIMEOUT"
	EnvChainID        = "CHAIN_ID"
	EnvForwarderName  = "FORWARDER_NAME"
	EnvTokenName      = "TOKEN_NAME"
	EnvTokenSymbol    = "TOKEN_SYMBOL"
	EnvRelayerKey     = "RELAYER_PRIVATE_KEY"
	EnvOwnerKey       = "OWNER_PRIVATE_KEY"
	EnvGenesisBalance = "GENESIS_BALANCE"
	EnvDatabaseURL    = "DATABASE_URL"
	EnvLogLevel       = "LOG_LEVEL"
)

// Config holds the relayer settings
type Config struct {
	ListenAddr     string
	RequestTimeout time.Duration
	ChainID        uint64

	ForwarderName string
	TokenName     string
	TokenSymbol   string

	// RelayerKey pays for and submits relayed transactions
	RelayerKey string
	// OwnerKey deploys the contracts. It administers the factory and mints the token.
	OwnerKey string
	// GenesisBalance is credited to the owner and the relayer, in wei
	GenesisBalance *big.Int

	// DatabaseURL enables the Postgres indexer repository when set
	DatabaseURL string
	LogLevel    string
}

// Default returns the settings used when nothing is configured
func Default() *Config {
	return &Config{
		ListenAddr:     ":8080",
		RequestTimeout: 30 * time.Second,
		ChainID:        1337,
		ForwarderName:  accountbox.DefaultForwarderName,
		TokenName:      accountbox.DefaultTokenName,
		TokenSymbol:    accountbox.DefaultTokenSymbol,
		GenesisBalance: new(big.Int).Mul(big.NewInt(1_000), big.NewInt(1e18)),
		LogLevel:       "info",
	}
}

// Load reads an optional .env file from the working directory, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, keeping defaults for unset keys
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvListenAddr, &cfg.ListenAddr)
	str(EnvForwarderName, &cfg.ForwarderName)
	str(EnvTokenName, &cfg.TokenName)
	str(EnvTokenSymbol, &cfg.TokenSymbol)
	str(EnvRelayerKey, &cfg.RelayerKey)
	str(EnvOwnerKey, &cfg.OwnerKey)
	str(EnvDatabaseURL, &cfg.DatabaseURL)
	str(EnvLogLevel, &cfg.LogLevel)

	if v, ok := lookup(EnvChainID); ok && v != "" {
		id, err := evm.GetEvmChainId(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvChainID, err)
		}
		if !id.IsUint64() {
			return nil, fmt.Errorf("invalid %s: %s is out of range", EnvChainID, v)
		}
		cfg.ChainID = id.Uint64()
	}
	if v, ok := lookup(EnvGenesisBalance); ok && v != "" {
		balance, err := evm.ParseAmount(v, evm.DefaultDecimals)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvGenesisBalance, err)
		}
		cfg.GenesisBalance = balance
	}
	if v, ok := lookup(EnvRequestTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvRequestTimeout, v, err)
		}
		cfg.RequestTimeout = d
	}
	return cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%s is required", EnvListenAddr)
	}
	if c.ChainID == 0 {
		return fmt.Errorf("%s must be positive", EnvChainID)
	}
	if c.GenesisBalance == nil || c.GenesisBalance.Sign() < 0 {
		return fmt.Errorf("%s must not be negative", EnvGenesisBalance)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvRequestTimeout)
	}
	if c.ForwarderName == "" || c.TokenName == "" || c.TokenSymbol == "" {
		return errors.New("forwarder name, token name and token symbol must not be empty")
	}
	for key, value := range map[string]string{EnvRelayerKey: c.RelayerKey, EnvOwnerKey: c.OwnerKey} {
		if value == "" {
			return fmt.Errorf("%s is required", key)
		}
		if _, err := crypto.HexToECDSA(strings.TrimPrefix(value, "0x")); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// ChainIDBig returns the chain id as a big integer
func (c *Config) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(c.ChainID)
}

// Level parses LogLevel
func (c *Config) Level() (slog.Level, error) {
	lvl, err := log.LvlFromString(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", EnvLogLevel, c.LogLevel, err)
	}
	return lvl, nil
}
