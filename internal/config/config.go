package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const EnvPrefix = "BATCHSYNC"

// DeploymentConfig represents deployments.json written by the deploy scripts.
type DeploymentConfig struct {
	ChainID   int64             `json:"chainId"`
	Deployer  string            `json:"deployer"`
	Contracts map[string]string `json:"contracts"`
}

type Config struct {
	Chain   ChainConfig   `mapstructure:"chain"`
	Call    CallConfig    `mapstructure:"call"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Service ServiceConfig `mapstructure:"service"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
}

type ChainConfig struct {
	RPCURL     string        `mapstructure:"rpc_url"`
	PrivateKey string        `mapstructure:"private_key"`
	RPCTimeout time.Duration `mapstructure:"rpc_timeout"`

	// SimulatedBlockTime drives the in-memory chain used when no private key is set.
	SimulatedBlockTime time.Duration `mapstructure:"simulated_block_time"`
}

type CallConfig struct {
	Contract        string   `mapstructure:"contract"`
	DeploymentsPath string   `mapstructure:"deployments_path"`
	ContractName    string   `mapstructure:"contract_name"`
	Method          string   `mapstructure:"method"`
	Args            []string `mapstructure:"args"`
	ABIPath         string   `mapstructure:"abi_path"`
}

type BatchConfig struct {
	MinTarget           int           `mapstructure:"min_target"`
	MaxTarget           int           `mapstructure:"max_target"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	Seed                int64         `mapstructure:"seed"`
	WaitForInclusion    bool          `mapstructure:"wait_for_inclusion"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
}

type ServiceConfig struct {
	HTTPPort      int           `mapstructure:"http_port"`
	HMACSecret    string        `mapstructure:"hmac_secret"`
	HMACClockSkew time.Duration `mapstructure:"hmac_clock_skew"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	Path        string `mapstructure:"path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"chain.rpc_url":              "http://localhost:8545",
	"chain.private_key":          "",
	"chain.rpc_timeout":          "30s",
	"chain.simulated_block_time": "2s",
	"call.contract":              "",
	"call.deployments_path":      "",
	"call.contract_name":         "Balance",
	"call.method":                "increase_balance",
	"call.args":                  []string{"0x50"},
	"call.abi_path":              "",
	"batch.min_target":           3,
	"batch.max_target":           10,
	"batch.poll_interval":        "500ms",
	"batch.seed":                 0,
	"batch.wait_for_inclusion":   false,
	"batch.confirmation_timeout": "60s",
	"service.http_port":          3000,
	"service.hmac_secret":        "",
	"service.hmac_clock_skew":    "60s",
	"store.driver":               "memory",
	"store.path":                 "",
	"store.postgres_dsn":         "",
	"log.level":                  "info",
	"log.format":                 "console",
}

// Load reads path (optional; YAML, JSON or TOML by extension), applies
// BATCHSYNC_* environment overrides such as BATCHSYNC_CHAIN_RPC_URL, and
// resolves the call target from deployments.json when no address is given.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Call.Contract == "" && cfg.Call.DeploymentsPath != "" {
		deployCfg, err := loadDeployments(cfg.Call.DeploymentsPath)
		if err != nil {
			return nil, fmt.Errorf("load deployments: %w", err)
		}
		addr, ok := deployCfg.Contracts[cfg.Call.ContractName]
		if !ok {
			return nil, fmt.Errorf("contract %q not in %s", cfg.Call.ContractName, cfg.Call.DeploymentsPath)
		}
		cfg.Call.Contract = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Chain.RPCURL == "" && c.Chain.PrivateKey != "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	if c.Call.Method == "" {
		errs = append(errs, errors.New("call.method is required"))
	}
	if c.Call.Contract != "" && !common.IsHexAddress(c.Call.Contract) {
		errs = append(errs, fmt.Errorf("call.contract %q is not a hex address", c.Call.Contract))
	}
	if c.Chain.PrivateKey != "" && c.Call.Contract == "" {
		errs = append(errs, errors.New("call.contract (or call.deployments_path) is required with a private key"))
	}
	if c.Batch.MinTarget < 1 {
		errs = append(errs, fmt.Errorf("batch.min_target must be positive, got %d", c.Batch.MinTarget))
	}
	if c.Batch.MaxTarget < c.Batch.MinTarget {
		errs = append(errs, fmt.Errorf("batch.max_target %d below batch.min_target %d", c.Batch.MaxTarget, c.Batch.MinTarget))
	}
	if c.Batch.PollInterval <= 0 {
		errs = append(errs, errors.New("batch.poll_interval must be positive"))
	}
	if c.Simulated() && c.Chain.SimulatedBlockTime <= 0 {
		errs = append(errs, errors.New("chain.simulated_block_time must be positive"))
	}
	switch c.Store.Driver {
	case "memory":
	case "file":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file driver"))
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	return errors.Join(errs...)
}

// Simulated reports whether the process should run against the in-memory chain.
func (c *Config) Simulated() bool {
	return c.Chain.PrivateKey == ""
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
