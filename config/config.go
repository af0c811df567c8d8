package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	SubmitModeBundler = "bundler"
	SubmitModeRelayer = "relayer"

	SessionBackendFile  = "file"
	SessionBackendRedis = "redis"
)

// Config holds the application configuration
type Config struct {
	AuthBaseURL     string
	WalletBaseURL   string
	ChainAPIBaseURL string
	ChainRPCURL     string
	BundlerRPCURL   string
	ChainID         int64
	VersionID       string
	DeviceID        string

	OwnerPrivateKey   string
	RelayerPrivateKey string
	SubmitMode        string
	Beneficiary       string

	EntryPoint string
	Factory    string
	Multicall  string

	SessionBackend string
	SessionFile    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	HistoryFile string

	LogLevel  string
	LogFormat string

	QuoteInterval  time.Duration
	RequestTimeout time.Duration
	RateLimit      float64
	Slippage       string
	Deadline       time.Duration
}

var globalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("auth_base_url", "https://api.beincom.io")
	v.SetDefault("wallet_base_url", "https://api.beincom.io/v1/wallet")
	v.SetDefault("chain_api_base_url", "https://chain.beincom.io/v1/chain")
	v.SetDefault("chain_rpc_url", "https://arb1.arbitrum.io/rpc")
	v.SetDefault("bundler_rpc_url", "")
	v.SetDefault("chain_id", 42161)
	v.SetDefault("version_id", "2.3.0")
	v.SetDefault("device_id", "")

	v.SetDefault("owner_private_key", "")
	v.SetDefault("relayer_private_key", "")
	v.SetDefault("submit_mode", SubmitModeBundler)
	v.SetDefault("beneficiary", "0x11e479dc86dda6a435c504b8ff17bcdba2a8dfe3")

	v.SetDefault("entry_point", "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	v.SetDefault("factory", "0x0BA5ED0c6AA8c49038F819E587E2633c4A9F428a")
	v.SetDefault("multicall", "0xcA11bde05977b3631167028862bE2a173976CA11")

	v.SetDefault("session.backend", SessionBackendFile)
	v.SetDefault("session.file", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("history_file", "")

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")

	v.SetDefault("quote_interval", "5s")
	v.SetDefault("request_timeout", "15s")
	v.SetDefault("rate_limit", 5.0)
	v.SetDefault("slippage", "5")
	v.SetDefault("deadline", "300s")
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".smartswap")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	cfg, err := load(v)
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// LoadFile reads configuration from an explicit file plus the environment
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	cfg, err := load(v)
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// SMARTSWAP_SESSION_BACKEND maps to session.backend
	v.SetEnvPrefix("SMARTSWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		AuthBaseURL:       v.GetString("auth_base_url"),
		WalletBaseURL:     v.GetString("wallet_base_url"),
		ChainAPIBaseURL:   v.GetString("chain_api_base_url"),
		ChainRPCURL:       v.GetString("chain_rpc_url"),
		BundlerRPCURL:     v.GetString("bundler_rpc_url"),
		ChainID:           v.GetInt64("chain_id"),
		VersionID:         v.GetString("version_id"),
		DeviceID:          v.GetString("device_id"),
		OwnerPrivateKey:   v.GetString("owner_private_key"),
		RelayerPrivateKey: v.GetString("relayer_private_key"),
		SubmitMode:        strings.ToLower(v.GetString("submit_mode")),
		Beneficiary:       v.GetString("beneficiary"),
		EntryPoint:        v.GetString("entry_point"),
		Factory:           v.GetString("factory"),
		Multicall:         v.GetString("multicall"),
		SessionBackend:    strings.ToLower(v.GetString("session.backend")),
		SessionFile:       v.GetString("session.file"),
		RedisAddr:         v.GetString("redis.addr"),
		RedisPassword:     v.GetString("redis.password"),
		RedisDB:           v.GetInt("redis.db"),
		HistoryFile:       v.GetString("history_file"),
		LogLevel:          v.GetString("log.level"),
		LogFormat:         v.GetString("log.format"),
		QuoteInterval:     v.GetDuration("quote_interval"),
		RequestTimeout:    v.GetDuration("request_timeout"),
		RateLimit:         v.GetFloat64("rate_limit"),
		Slippage:          v.GetString("slippage"),
		Deadline:          v.GetDuration("deadline"),
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for missing or inconsistent values
func (c *Config) Validate() error {
	urls := map[string]string{
		"auth_base_url":      c.AuthBaseURL,
		"wallet_base_url":    c.WalletBaseURL,
		"chain_api_base_url": c.ChainAPIBaseURL,
		"chain_rpc_url":      c.ChainRPCURL,
	}
	for key, raw := range urls {
		if raw == "" {
			return fmt.Errorf("%s is required. Set SMARTSWAP_%s or add it to .smartswap.yaml", key, strings.ToUpper(key))
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not a valid URL: %s", key, raw)
		}
	}

	if c.ChainID <= 0 {
		return fmt.Errorf("chain_id must be positive, got %d", c.ChainID)
	}

	switch c.SubmitMode {
	case SubmitModeBundler, SubmitModeRelayer:
	default:
		return fmt.Errorf("unknown submit_mode %q (expected %s or %s)", c.SubmitMode, SubmitModeBundler, SubmitModeRelayer)
	}

	switch c.SessionBackend {
	case SessionBackendFile, SessionBackendRedis:
	default:
		return fmt.Errorf("unknown session.backend %q (expected %s or %s)", c.SessionBackend, SessionBackendFile, SessionBackendRedis)
	}

	if c.Deadline <= 0 {
		return fmt.Errorf("deadline must be positive")
	}
	if c.QuoteInterval <= 0 {
		return fmt.Errorf("quote_interval must be positive")
	}
	return nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
