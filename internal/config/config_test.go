package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, LedgerDevnet, cfg.Ledger)
	assert.Equal(t, 12, cfg.PageSize)
	assert.Equal(t, uint64(5_000_000), cfg.GasLimit)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	yamlContent := `
ledger: rpc
rpcUrl: "http://127.0.0.1:8545"
relayerUrl: "http://127.0.0.1:3000"
contractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
decryptionContract: "0xb6E160B1ff80D67Bfe90A85eE06Ce0A2613607D1"
chainId: 11155111
cacheBackend: badger
cachePath: /var/lib/zvote
engineReadyTimeout: 30s
pageSize: 20
`
	path := filepath.Join(t.TempDir(), "zvote.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))
	t.Setenv("ZVOTE_PAGE_SIZE", "6")
	t.Setenv("ZVOTE_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, LedgerRPC, cfg.Ledger)
	assert.Equal(t, "http://127.0.0.1:8545", cfg.RPCURL)
	assert.Equal(t, uint64(11155111), cfg.ChainID)
	assert.Equal(t, CacheBadger, cfg.CacheBackend)
	assert.Equal(t, 30*time.Second, cfg.EngineReadyTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.EnginePollInterval, "defaults survive the overlay")
	assert.Equal(t, 6, cfg.PageSize, "environment wins over the file")
	assert.True(t, cfg.Debug)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown ledger":   "ledger: mainnet\n",
		"rpc without urls": "ledger: rpc\ncontractAddress: \"0x5FbDB2315678afecb367f032d93F642f64180aa3\"\n",
		"bad cache":        "cacheBackend: redis\n",
		"bad page size":    "pageSize: 0\n",
		"two identities":   "privateKey: \"0x01\"\nkeystorePath: key.json\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "zvote.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestContextCarrier(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	cfg := Default()
	ctx := WithContext(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
}
