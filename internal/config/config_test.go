package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, NetworkMainnet, cfg.Network)
	require.Equal(t, uint64(500), cfg.MaxBlocksPerScan())
	require.Equal(t, 10*time.Second, cfg.Interval)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 10*time.Minute, cfg.JobLease)
	require.Equal(t, BackendPostgres, cfg.StorageBackend)
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Setenv("TRACESYNC_NETWORK", "testnet")
	t.Setenv("TRACESYNC_MAX_BLOCKS_TESTNET", "250")
	t.Setenv("TRACESYNC_EVENTS", "BatchCreated, TraceEventRecorded")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Duration("interval", 10*time.Second, "")
	require.NoError(t, flags.Parse([]string{"--rpc=http://node:8545", "--interval=3s"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	require.Equal(t, "http://node:8545", cfg.RPCURL)
	require.Equal(t, 3*time.Second, cfg.Interval)
	require.Equal(t, uint64(250), cfg.MaxBlocksPerScan())
	require.Equal(t, []string{"BatchCreated", "TraceEventRecorded"}, cfg.Events)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("contract: \"0x5555555555555555555555555555555555555555\"\nstorage-backend: sqlite\nstart-block: 1200\n"), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, "0x5555555555555555555555555555555555555555", cfg.Contract)
	require.Equal(t, BackendSQLite, cfg.StorageBackend)
	require.Equal(t, uint64(1200), cfg.StartBlock)
}

func TestValidate(t *testing.T) {
	cfg := Config{
		RPCURL:           "http://node",
		Contract:         "0x5555555555555555555555555555555555555555",
		Network:          NetworkMainnet,
		MaxBlocksMainnet: 10,
		StorageBackend:   BackendSQLite,
		SQLitePath:       "x.db",
	}
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Network = "goerli"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.StorageBackend = BackendPostgres
	require.Error(t, bad.Validate())

	bad = cfg
	bad.MaxBlocksMainnet = 0
	require.Error(t, bad.Validate())
}
