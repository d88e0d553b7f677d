package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"traceSync/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "tracesync",
		Short:        "Supply-chain registry chain sync",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(
		newRunCmd(),
		newBackfillCmd(),
		newCursorCmd(),
		newCommitCmd(),
		newVerifyCmd(),
		newDeadLetterCmd(),
		newExportCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(fs *pflag.FlagSet) {
	fs.String("rpc", "", "chain RPC URL")
	fs.String("contract", "", "registry contract address")
	fs.Duration("rpc-timeout", 15*time.Second, "per-request RPC timeout")
}

func addScanFlags(fs *pflag.FlagSet) {
	fs.String("network", config.NetworkMainnet, "network (mainnet, testnet)")
	fs.Uint64("max-blocks-mainnet", 500, "blocks per scan on mainnet")
	fs.Uint64("max-blocks-testnet", 5000, "blocks per scan on testnet")
	fs.Uint64("start-block", 0, "first block to scan when a stream has no cursor")
	fs.StringSlice("events", nil, "event names to track (comma-separated)")
}

func addStorageFlags(fs *pflag.FlagSet) {
	fs.String("storage-backend", config.BackendPostgres, "cursor and event store (postgres, sqlite)")
	fs.String("pg-dsn", "", "Postgres DSN")
	fs.String("sqlite-path", "./data/tracesync.db", "SQLite database path")
}

func addQueueFlags(fs *pflag.FlagSet) {
	fs.String("redis-url", "redis://127.0.0.1:6379/0", "Redis URL for the job queue")
	fs.String("queue", "crawl", "queue name")
	fs.Int("max-attempts", 3, "deliveries per job before dead-lettering")
	fs.Duration("queue-backoff", 5*time.Second, "initial retry backoff for failed jobs")
	fs.Duration("job-lease", 10*time.Minute, "how long a job may stay in flight before another worker reclaims it")
}

func addLogFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

// loadConfig reads configuration and builds the logger for cmd.
func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
