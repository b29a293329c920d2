package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
)

// SeedConfig models seed.json: the deployment facts that do not change per
// environment — service owner, fee settings, and the principal registry.
type SeedConfig struct {
	Owner          string            `json:"owner"`
	FeeBeneficiary string            `json:"feeBeneficiary"`
	MinFee         string            `json:"minFee"`
	Principals     map[string]string `json:"principals"`
	Chain          struct {
		ChainID int64  `json:"chainId"`
		RPCURL  string `json:"rpcUrl"`
	} `json:"chain"`
}

// ServiceConfig carries per-environment knobs, loaded from COINSENDER_*
// environment variables.
type ServiceConfig struct {
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"3000"`
	HMACClockSkew      time.Duration `envconfig:"HMAC_CLOCK_SKEW" default:"60s"`
	IdempotencyWindow  time.Duration `envconfig:"IDEMPOTENCY_WINDOW" default:"10m"`
	IdempotencyKeySalt string        `envconfig:"IDEMPOTENCY_KEY_SALT" default:"coinsender"`
	PostgresDSN        string        `envconfig:"POSTGRES_DSN"`
	ChainRPCURL        string        `envconfig:"CHAIN_RPC_URL"`
	ChainPrivateKey    string        `envconfig:"CHAIN_PRIVATE_KEY"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
}

// AppConfig ties together seed and service configuration.
type AppConfig struct {
	Seed    SeedConfig
	Service ServiceConfig
}

const defaultSeedPath = "./seed.json"

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	seedPath := os.Getenv("SEED_PATH")
	if seedPath == "" {
		seedPath = defaultSeedPath
	}

	seedCfg, err := loadSeed(seedPath)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}

	var serviceCfg ServiceConfig
	if err := envconfig.Process("coinsender", &serviceCfg); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if serviceCfg.ChainRPCURL == "" {
		serviceCfg.ChainRPCURL = seedCfg.Chain.RPCURL
	}

	cfg := &AppConfig{Seed: *seedCfg, Service: serviceCfg}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSeed(path string) (*SeedConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SeedConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if !common.IsHexAddress(c.Seed.Owner) {
		return fmt.Errorf("seed owner %q is not a valid address", c.Seed.Owner)
	}
	if !common.IsHexAddress(c.Seed.FeeBeneficiary) {
		return fmt.Errorf("seed feeBeneficiary %q is not a valid address", c.Seed.FeeBeneficiary)
	}
	if _, err := c.MinFee(); err != nil {
		return err
	}
	for addr := range c.Seed.Principals {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("principal %q is not a valid address", addr)
		}
	}
	return nil
}

// Owner is the principal allowed to change fees and pause sends.
func (c *AppConfig) Owner() common.Address {
	return common.HexToAddress(c.Seed.Owner)
}

// FeeBeneficiary receives forwarded fees.
func (c *AppConfig) FeeBeneficiary() common.Address {
	return common.HexToAddress(c.Seed.FeeBeneficiary)
}

// MinFee is the configured default minimum fee in wei.
func (c *AppConfig) MinFee() (*big.Int, error) {
	if c.Seed.MinFee == "" {
		return new(big.Int), nil
	}
	fee, ok := new(big.Int).SetString(c.Seed.MinFee, 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("seed minFee %q is not a valid amount", c.Seed.MinFee)
	}
	return fee, nil
}

// PrincipalSecrets maps registered caller addresses to HMAC secrets.
func (c *AppConfig) PrincipalSecrets() map[common.Address]string {
	out := make(map[common.Address]string, len(c.Seed.Principals))
	for addr, secret := range c.Seed.Principals {
		out[common.HexToAddress(addr)] = secret
	}
	return out
}
