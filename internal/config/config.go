package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Network names select the scan window.
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// Storage backends for cursors and events.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL           string
	Contract         string
	Network          string
	MaxBlocksMainnet uint64
	MaxBlocksTestnet uint64
	StartBlock       uint64
	Events           []string
	Interval         time.Duration

	Workers      int
	RedisURL     string
	Queue        string
	MaxAttempts  int
	QueueBackoff time.Duration
	PollTimeout  time.Duration
	JobLease     time.Duration

	RPCTimeout   time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	PGDSN          string
	StorageBackend string
	SQLitePath     string

	CommitterKey string
	TxTimeout    time.Duration

	MetricsAddr string
	LogLevel    string
}

// MaxBlocksPerScan is the scan window for the configured network.
func (c Config) MaxBlocksPerScan() uint64 {
	if c.Network == NetworkTestnet {
		return c.MaxBlocksTestnet
	}
	return c.MaxBlocksMainnet
}

// Validate checks settings shared by every command that talks to the chain.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Contract == "" {
		return fmt.Errorf("contract address is required")
	}
	if c.Network != NetworkMainnet && c.Network != NetworkTestnet {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	if c.MaxBlocksPerScan() == 0 {
		return fmt.Errorf("max blocks per scan must be greater than zero")
	}
	switch c.StorageBackend {
	case BackendPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg dsn is required for the postgres backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	return nil
}

// Load merges .env, config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("TRACESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("network", NetworkMainnet)
	v.SetDefault("max-blocks-mainnet", uint64(500))
	v.SetDefault("max-blocks-testnet", uint64(5000))
	v.SetDefault("interval", 10*time.Second)
	v.SetDefault("workers", 4)
	v.SetDefault("redis-url", "redis://127.0.0.1:6379/0")
	v.SetDefault("queue", "crawl")
	v.SetDefault("max-attempts", 3)
	v.SetDefault("queue-backoff", 5*time.Second)
	v.SetDefault("poll-timeout", 5*time.Second)
	v.SetDefault("job-lease", 10*time.Minute)
	v.SetDefault("rpc-timeout", 15*time.Second)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("storage-backend", BackendPostgres)
	v.SetDefault("sqlite-path", "./data/tracesync.db")
	v.SetDefault("tx-timeout", 2*time.Minute)
	v.SetDefault("metrics-addr", ":9100")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:           v.GetString("rpc"),
		Contract:         v.GetString("contract"),
		Network:          strings.ToLower(v.GetString("network")),
		MaxBlocksMainnet: v.GetUint64("max-blocks-mainnet"),
		MaxBlocksTestnet: v.GetUint64("max-blocks-testnet"),
		StartBlock:       v.GetUint64("start-block"),
		Events:           getStringSlice(v, "events"),
		Interval:         v.GetDuration("interval"),
		Workers:          v.GetInt("workers"),
		RedisURL:         v.GetString("redis-url"),
		Queue:            v.GetString("queue"),
		MaxAttempts:      v.GetInt("max-attempts"),
		QueueBackoff:     v.GetDuration("queue-backoff"),
		PollTimeout:      v.GetDuration("poll-timeout"),
		JobLease:         v.GetDuration("job-lease"),
		RPCTimeout:       v.GetDuration("rpc-timeout"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		PGDSN:            v.GetString("pg-dsn"),
		StorageBackend:   strings.ToLower(v.GetString("storage-backend")),
		SQLitePath:       v.GetString("sqlite-path"),
		CommitterKey:     v.GetString("committer-key"),
		TxTimeout:        v.GetDuration("tx-timeout"),
		MetricsAddr:      v.GetString("metrics-addr"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
