package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mohsinsiddi/w3sale/internal/config"
	"github.com/cloudflare/cfssl/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, config.LedgerLocal, cfg.Ledger)
	assert.Equal(t, config.StrategyFastest, cfg.RPCStrategy)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "warning", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.Watch())
	assert.Equal(t, 5*time.Minute, cfg.SignatureWindow())
	assert.Equal(t, filepath.Join(dir, "sale.db"), cfg.DataPath())
	assert.Equal(t, filepath.Join(dir, "wallets.json"), cfg.WalletsPath())
	assert.Equal(t, dir, cfg.Dir())
}

func TestLoadUsesEnvDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "from-env")
	t.Setenv(config.DirEnv, dir)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Dir())
	assert.DirExists(t, dir)
}

func TestSaveAndReloadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	require.NoError(t, err)

	require.NoError(t, cfg.Set("ledger", "EVM"))
	require.NoError(t, cfg.Set("rpc_url", "http://127.0.0.1:8545, http://127.0.0.1:8546"))
	require.NoError(t, cfg.Set("rpc_strategy", "Failover"))
	require.NoError(t, cfg.Set("chain_id", "31337"))
	require.NoError(t, cfg.Set("operator_wallet", "ops"))
	require.NoError(t, cfg.Set("data_file", "/var/lib/w3sale/sale.db"))
	require.NoError(t, cfg.Save())

	info, err := os.Stat(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, config.LedgerEVM, reloaded.Ledger)
	assert.Equal(t, int64(31337), reloaded.ChainID)
	assert.Equal(t, "ops", reloaded.OperatorWallet)
	assert.Equal(t, config.StrategyFailover, reloaded.RPCStrategy)
	assert.Equal(t, []string{"http://127.0.0.1:8545", "http://127.0.0.1:8546"}, reloaded.RPCURLs())
	assert.Equal(t, "/var/lib/w3sale/sale.db", reloaded.DataPath())
}

func TestSetRejectsBadValues(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	tests := map[string]string{
		"chain_id":       "-1",
		"watch_interval": "0",
		"signature_ttl":  "soon",
		"log_level":      "chatty",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			assert.Error(t, cfg.Set(key, value))
		})
	}
	assert.ErrorIs(t, cfg.Set("nope", "x"), config.ErrUnknownKey)
	_, err = cfg.Get("nope")
	assert.ErrorIs(t, err, config.ErrUnknownKey)
}

func TestKeysAndGet(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	keys := config.Keys()
	assert.Contains(t, keys, "listen_addr")
	assert.IsNonDecreasing(t, keys)
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
	v, err := cfg.Get("signature_ttl")
	require.NoError(t, err)
	assert.Equal(t, "300", v)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	tests := map[string]string{
		"corrupt":          `{not json`,
		"unknown ledger":   `{"ledger":"tezos","log_level":"info","watch_interval":1,"signature_ttl":1}`,
		"evm without rpc":  `{"ledger":"evm","log_level":"info","watch_interval":1,"signature_ttl":1}`,
		"zero ttl":         `{"ledger":"local","log_level":"info","watch_interval":1,"signature_ttl":0}`,
		"bad strategy":     `{"ledger":"local","rpc_strategy":"random","log_level":"info","watch_interval":1,"signature_ttl":1}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o600))
			_, err := config.Load(dir)
			assert.Error(t, err)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := config.ParseLogLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, log.LevelDebug, lvl)

	lvl, err = config.ParseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, log.LevelWarning, lvl)

	_, err = config.ParseLogLevel("")
	assert.Error(t, err)
}
