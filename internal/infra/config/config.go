// Package config loads the solver engine's configuration from a TOML
// file, overlaid with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level solver engine configuration.
type Config struct {
	Logging       LoggingConfig  `toml:"logging"`
	ListenAddress string         `toml:"listenAddress" envconfig:"LISTEN_ADDRESS"`
	ListenPort    uint           `toml:"port" envconfig:"PORT"`
	Ethereum      EthereumConfig `toml:"ethereum"`
	Dex           DexConfig      `toml:"dex"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level   string `toml:"level" envconfig:"LOGGING_LEVEL"`
	UseJSON bool   `toml:"useJson" envconfig:"LOGGING_USE_JSON"`
}

// EthereumConfig configures the node used for gas simulation.
type EthereumConfig struct {
	RPC           string `toml:"rpc" envconfig:"ETHEREUM_RPC"`
	Settlement    string `toml:"settlement" envconfig:"SETTLEMENT_CONTRACT"`
	Authenticator string `toml:"authenticator" envconfig:"AUTHENTICATOR_CONTRACT"`
	ChainID       uint64 `toml:"chainId" envconfig:"CHAIN_ID"`
}

// DexConfig holds the common solving parameters shared by every DEX
// adapter, plus the per-adapter endpoint configuration.
type DexConfig struct {
	RelativeSlippage        float64       `toml:"relativeSlippage" envconfig:"RELATIVE_SLIPPAGE"`
	AbsoluteSlippage        string        `toml:"absoluteSlippage" envconfig:"ABSOLUTE_SLIPPAGE"`
	RelativeMinimumSurplus  float64       `toml:"relativeMinimumSurplus" envconfig:"RELATIVE_MINIMUM_SURPLUS"`
	AbsoluteMinimumSurplus  string        `toml:"absoluteMinimumSurplus" envconfig:"ABSOLUTE_MINIMUM_SURPLUS"`
	ConcurrentRequests      int           `toml:"concurrentRequests" envconfig:"CONCURRENT_REQUESTS"`
	SmallestPartialFill     string        `toml:"smallestPartialFill" envconfig:"SMALLEST_PARTIAL_FILL"`
	BackOffGrowthFactor     float64       `toml:"backOffGrowthFactor" envconfig:"BACK_OFF_GROWTH_FACTOR"`
	MinBackOff              time.Duration `toml:"minBackOff" envconfig:"MIN_BACK_OFF"`
	MaxBackOff              time.Duration `toml:"maxBackOff" envconfig:"MAX_BACK_OFF"`
	GasOffset               uint64        `toml:"gasOffset" envconfig:"GAS_OFFSET"`
	InternalizeInteractions bool          `toml:"internalizeInteractions" envconfig:"INTERNALIZE_INTERACTIONS"`

	Balancer BalancerConfig `toml:"balancer"`
	ZeroEx   ZeroExConfig   `toml:"zeroex"`
	OneInch  OneInchConfig  `toml:"oneinch"`
	ParaSwap ParaSwapConfig `toml:"paraswap"`
	Okx      OkxConfig      `toml:"okx"`
}

// BalancerConfig configures the Balancer SOR adapter.
type BalancerConfig struct {
	Endpoint string `toml:"endpoint" envconfig:"BALANCER_ENDPOINT"`
	Vault    string `toml:"vault" envconfig:"BALANCER_VAULT"`
}

// ZeroExConfig configures the 0x adapter.
type ZeroExConfig struct {
	Endpoint        string   `toml:"endpoint" envconfig:"ZEROEX_ENDPOINT"`
	APIKey          string   `toml:"apiKey" envconfig:"ZEROEX_API_KEY"`
	ExcludedSources []string `toml:"excludedSources"`
}

// OneInchConfig configures the 1inch adapter.
type OneInchConfig struct {
	Endpoint  string   `toml:"endpoint" envconfig:"ONEINCH_ENDPOINT"`
	APIKey    string   `toml:"apiKey" envconfig:"ONEINCH_API_KEY"`
	Protocols []string `toml:"protocols"`
	Referrer  string   `toml:"referrer" envconfig:"ONEINCH_REFERRER"`
}

// ParaSwapConfig configures the ParaSwap adapter.
type ParaSwapConfig struct {
	Endpoint          string   `toml:"endpoint" envconfig:"PARASWAP_ENDPOINT"`
	APIKey            string   `toml:"apiKey" envconfig:"PARASWAP_API_KEY"`
	Partner           string   `toml:"partner" envconfig:"PARASWAP_PARTNER"`
	ExcludeDexs       []string `toml:"excludeDexs"`
	IgnoreBadUsdPrice bool     `toml:"ignoreBadUsdPrice"`
}

// OkxConfig configures the OKX adapter.
type OkxConfig struct {
	Endpoint      string `toml:"endpoint" envconfig:"OKX_ENDPOINT"`
	ProjectID     string `toml:"projectId" envconfig:"OKX_PROJECT_ID"`
	APIKey        string `toml:"apiKey" envconfig:"OKX_API_KEY"`
	APISecretKey  string `toml:"apiSecretKey" envconfig:"OKX_API_SECRET_KEY"`
	APIPassphrase string `toml:"apiPassphrase" envconfig:"OKX_API_PASSPHRASE"`
}

// defaults mirror the upstream solver's documented defaults for the
// common dex-solving parameters.
var globalConfig = &Config{
	ListenAddress: "0.0.0.0",
	ListenPort:    7872,
	Logging: LoggingConfig{
		Level: "info",
	},
	Dex: DexConfig{
		RelativeSlippage:       0.01,
		RelativeMinimumSurplus: 0,
		ConcurrentRequests:     1,
		SmallestPartialFill:    "10000000000000000", // 0.01 ETH, in wei
		BackOffGrowthFactor:    2.0,
		MinBackOff:             time.Second,
		MaxBackOff:             8 * time.Second,
		GasOffset:              106391,
		InternalizeInteractions: true,
	},
}

// Load reads configFile (if non-empty) as TOML into the global config,
// then overlays any set environment variables.
func Load(configFile string) (*Config, error) {
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := toml.Unmarshal(buf, globalConfig); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("solver", globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	// envconfig prefixes a nested struct's fields with the parent field's
	// key, so each section is processed again under the bare prefix for
	// SOLVER_<tag> (e.g. SOLVER_LOGGING_LEVEL) to reach nested fields.
	d := &globalConfig.Dex
	for _, section := range []any{&globalConfig.Logging, &globalConfig.Ethereum, d, &d.Balancer, &d.ZeroEx, &d.OneInch, &d.ParaSwap, &d.Okx} {
		if err := envconfig.Process("solver", section); err != nil {
			return nil, fmt.Errorf("error processing environment: %w", err)
		}
	}
	return globalConfig, nil
}

// GetConfig returns the process-wide configuration instance.
func GetConfig() *Config {
	return globalConfig
}
