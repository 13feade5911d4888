package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"zvote/codec"
)

type ctxKey string

const configContextKey ctxKey = "zvote.config"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

const EnvPrefix = "zvote"

// LedgerMode selects where proposals and votes live.
type LedgerMode string

const (
	// LedgerDevnet runs an in-process ledger and engine network.
	LedgerDevnet LedgerMode = "devnet"
	// LedgerRPC talks to a deployed contract over JSON-RPC and to a relayer.
	LedgerRPC LedgerMode = "rpc"
)

const (
	CacheMemory = "memory"
	CacheJSON   = "json"
	CacheBadger = "badger"
)

type Config struct {
	Ledger             LedgerMode    `yaml:"ledger"             envconfig:"LEDGER"`
	RPCURL             string        `yaml:"rpcUrl"             envconfig:"RPC_URL"`
	ContractAddress    string        `yaml:"contractAddress"                                split_words:"true"`
	RelayerURL         string        `yaml:"relayerUrl"         envconfig:"RELAYER_URL"`
	ChainID            uint64        `yaml:"chainId"            envconfig:"CHAIN_ID"`
	DecryptionContract string        `yaml:"decryptionContract"                             split_words:"true"`
	GasLimit           uint64        `yaml:"gasLimit"                                       split_words:"true"`
	PrivateKey         string        `yaml:"privateKey"                                     split_words:"true"`
	KeystorePath       string        `yaml:"keystorePath"                                   split_words:"true"`
	KeystorePassword   string        `yaml:"keystorePassword"                               split_words:"true"`
	CacheBackend       string        `yaml:"cacheBackend"                                   split_words:"true"`
	CachePath          string        `yaml:"cachePath"                                      split_words:"true"`
	EnginePollInterval time.Duration `yaml:"enginePollInterval"                             split_words:"true"`
	EngineReadyTimeout time.Duration `yaml:"engineReadyTimeout"                             split_words:"true"`
	PageSize           int           `yaml:"pageSize"                                       split_words:"true"`
	ScanWorkers        int           `yaml:"scanWorkers"                                    split_words:"true"`
	ViewTTL            time.Duration `yaml:"viewTtl"            envconfig:"VIEW_TTL"`
	BindAddr           string        `yaml:"bindAddr"                                       split_words:"true"`
	MetricsEnabled     bool          `yaml:"metricsEnabled"                                 split_words:"true"`
	ShutdownTimeout    time.Duration `yaml:"shutdownTimeout"                                split_words:"true"`
	Debug              bool          `yaml:"debug"`
	// Devnet only
	DevnetKeySize       int           `yaml:"devnetKeySize"                                  split_words:"true"`
	DevnetCloseInterval time.Duration `yaml:"devnetCloseInterval"                            split_words:"true"`
}

// Default returns a fresh copy of the built-in defaults.
func Default() *Config {
	return &Config{
		Ledger:              LedgerDevnet,
		ChainID:             31337,
		GasLimit:            5_000_000,
		CacheBackend:        CacheJSON,
		CachePath:           ".zvote",
		EnginePollInterval:  100 * time.Millisecond,
		EngineReadyTimeout:  10 * time.Second,
		PageSize:            12,
		ScanWorkers:         8,
		ViewTTL:             15 * time.Second,
		BindAddr:            "127.0.0.1:8080",
		MetricsEnabled:      true,
		ShutdownTimeout:     30 * time.Second,
		DevnetKeySize:       1024,
		DevnetCloseInterval: 5 * time.Second,
	}
}

// Load overlays the YAML file at configFile (if any) and then ZVOTE_*
// environment variables onto the defaults.
func Load(configFile string) (*Config, error) {
	cfg := Default()
	if configFile == "" {
		if _, err := os.Stat("zvote.yaml"); err == nil {
			configFile = "zvote.yaml"
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Ledger {
	case LedgerDevnet:
	case LedgerRPC:
		if c.RPCURL == "" {
			errs = append(errs, errors.New("rpcUrl is required for the rpc ledger"))
		}
		if c.RelayerURL == "" {
			errs = append(errs, errors.New("relayerUrl is required for the rpc ledger"))
		}
		if !codec.IsAddress(c.ContractAddress) {
			errs = append(errs, fmt.Errorf("invalid contractAddress %q", c.ContractAddress))
		}
		if !codec.IsAddress(c.DecryptionContract) {
			errs = append(errs, fmt.Errorf("invalid decryptionContract %q", c.DecryptionContract))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid ledger %q (must be 'devnet' or 'rpc')", c.Ledger))
	}
	if c.Ledger == LedgerDevnet && c.ContractAddress != "" && !codec.IsAddress(c.ContractAddress) {
		errs = append(errs, fmt.Errorf("invalid contractAddress %q", c.ContractAddress))
	}
	if c.ChainID == 0 {
		errs = append(errs, errors.New("chainId must be set"))
	}
	switch strings.ToLower(c.CacheBackend) {
	case CacheMemory:
	case CacheJSON, CacheBadger:
		if c.CachePath == "" {
			errs = append(errs, fmt.Errorf("cachePath is required for the %s cache", c.CacheBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid cacheBackend %q", c.CacheBackend))
	}
	if c.PrivateKey != "" && c.KeystorePath != "" {
		errs = append(errs, errors.New("privateKey and keystorePath are mutually exclusive"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, errors.New("pageSize must be positive"))
	}
	if c.ScanWorkers <= 0 {
		errs = append(errs, errors.New("scanWorkers must be positive"))
	}
	if c.EnginePollInterval <= 0 || c.EngineReadyTimeout <= 0 {
		errs = append(errs, errors.New("engine poll interval and ready timeout must be positive"))
	}
	return errors.Join(errs...)
}
