package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	relayerKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	ownerKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, uint64(1337), cfg.ChainID)
	assert.Equal(t, "accountForwarder", cfg.ForwarderName)

	// keys are mandatory
	assert.ErrorContains(t, cfg.Validate(), EnvRelayerKey)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		EnvListenAddr:     "127.0.0.1:9000",
		EnvRequestTimeout: "5s",
		EnvChainID:        "eip155:31337",
		EnvGenesisBalance: "2.5",
		EnvTokenSymbol:    "TST",
		EnvRelayerKey:     relayerKey,
		EnvOwnerKey:       ownerKey,
		EnvDatabaseURL:    "postgres://localhost/accountbox",
		EnvLogLevel:       "debug",
		EnvTokenName:      "",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, int64(31337), cfg.ChainIDBig().Int64())
	assert.Equal(t, "2500000000000000000", cfg.GenesisBalance.String())
	assert.Equal(t, "TST", cfg.TokenSymbol)
	assert.Equal(t, "Ametist", cfg.TokenName)
	assert.Equal(t, "postgres://localhost/accountbox", cfg.DatabaseURL)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestFromEnv_Malformed(t *testing.T) {
	_, err := FromEnv(env(map[string]string{EnvChainID: "mainnet"}))
	assert.ErrorContains(t, err, EnvChainID)

	_, err = FromEnv(env(map[string]string{EnvRequestTimeout: "soon"}))
	assert.ErrorContains(t, err, EnvRequestTimeout)

	_, err = FromEnv(env(map[string]string{EnvGenesisBalance: "1.2.3"}))
	assert.ErrorContains(t, err, EnvGenesisBalance)

	cfg, err := FromEnv(env(map[string]string{EnvChainID: "sepolia"}))
	require.NoError(t, err)
	assert.Equal(t, uint64(11155111), cfg.ChainID)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.RelayerKey = relayerKey
		cfg.OwnerKey = ownerKey
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero chain id", func(c *Config) { c.ChainID = 0 }, EnvChainID},
		{"no listen address", func(c *Config) { c.ListenAddr = "" }, EnvListenAddr},
		{"no timeout", func(c *Config) { c.RequestTimeout = 0 }, EnvRequestTimeout},
		{"no genesis balance", func(c *Config) { c.GenesisBalance = nil }, EnvGenesisBalance},
		{"empty symbol", func(c *Config) { c.TokenSymbol = "" }, "token symbol"},
		{"bad owner key", func(c *Config) { c.OwnerKey = "0x1234" }, EnvOwnerKey},
		{"missing owner key", func(c *Config) { c.OwnerKey = "" }, EnvOwnerKey},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, EnvLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	cfg.LogLevel = "loud"
	_, err = cfg.Level()
	assert.ErrorContains(t, err, EnvLogLevel)
}
