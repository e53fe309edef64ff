package evm

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// GetEvmChainId resolves a chain id from a known network name ("hardhat", "sepolia"), a
// CAIP-2 identifier ("eip155:1337") or a plain decimal id
func GetEvmChainId(network string) (*big.Int, error) {
	if config, err := GetNetworkConfig(network); err == nil {
		return new(big.Int).Set(config.ChainID), nil
	}

	id := strings.TrimPrefix(network, "eip155:")
	if chainID, ok := new(big.Int).SetString(id, 10); ok && chainID.Sign() > 0 {
		return chainID, nil
	}
	return nil, fmt.Errorf("unsupported network: %s", network)
}

// GetNetworkConfig returns the configuration for a network
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	switch network {
	case "hardhat", "localhost":
		network = "eip155:1337"
	case "sepolia":
		network = "eip155:11155111"
	}

	if config, ok := NetworkConfigs[network]; ok {
		return &config, nil
	}
	return nil, fmt.Errorf("unsupported network: %s", network)
}

// ParseAmount converts a decimal string amount to base units with the given decimals.
// Digits past the precision are truncated.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format: %s", amount)
	}

	intPart, ok := new(big.Int).SetString(parts[0], 10)
	if !ok || intPart.Sign() < 0 {
		return nil, fmt.Errorf("invalid integer part: %s", parts[0])
	}

	decPart := new(big.Int)
	if len(parts) == 2 && parts[1] != "" {
		decStr := parts[1]
		if len(decStr) > decimals {
			decStr = decStr[:decimals]
		} else {
			decStr += strings.Repeat("0", decimals-len(decStr))
		}

		decPart, ok = new(big.Int).SetString(decStr, 10)
		if !ok || decPart.Sign() < 0 {
			return nil, fmt.Errorf("invalid decimal part: %s", parts[1])
		}
	}

	multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	result := new(big.Int).Mul(intPart, multiplier)
	return result.Add(result, decPart), nil
}

// FormatAmount renders base units as a decimal string
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quotient, remainder := new(big.Int).DivMod(amount, divisor, new(big.Int))

	decStr := remainder.String()
	if len(decStr) < decimals {
		decStr = strings.Repeat("0", decimals-len(decStr)) + decStr
	}
	decStr = strings.TrimRight(decStr, "0")

	if decStr == "" {
		return quotient.String()
	}
	return quotient.String() + "." + decStr
}

// Deadline returns the unix timestamp duration after now. A zero duration means
// DefaultValidityPeriod.
func Deadline(now time.Time, duration time.Duration) *big.Int {
	if duration == 0 {
		duration = DefaultValidityPeriod * time.Second
	}
	return big.NewInt(now.Add(duration).Unix())
}

// MustParseABI parses one of the embedded ABIs and panics if it is malformed
func MustParseABI(raw []byte) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI: %v", err))
	}
	return parsed
}
