package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFallsBackToTestnet(t *testing.T) {
	t.Setenv("CONTRACT_ID", "")
	t.Setenv("NETWORK_PASSPHRASE", "")
	t.Setenv("RPC_URL", "")
	t.Setenv("HORIZON_URL", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, DefaultContractID, cfg.Stellar.ContractID)
	assert.Equal(t, DefaultNetworkPassphrase, cfg.Stellar.NetworkPassphrase)
	assert.Equal(t, DefaultRPCURL, cfg.Stellar.RPCURL)
	assert.Equal(t, DefaultHorizonURL, cfg.Stellar.HorizonURL)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfigEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"server":{"port":9000},"stellar":{"rpc_url":"https://rpc.example"},"storage":{"backend":"memory"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("NETWORK_PASSPHRASE", "Public Global Stellar Network ; September 2015")
	t.Setenv("RPC_URL", "")
	t.Setenv("STORAGE_BACKEND", "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "https://rpc.example", cfg.Stellar.RPCURL)
	assert.Equal(t, "Public Global Stellar Network ; September 2015", cfg.Stellar.NetworkPassphrase)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())

	cfg.Storage.Backend = "redis"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Wallet.Extension = "keystore"
	assert.Error(t, cfg.Validate())

	cfg.Wallet.KeystorePath = "wallet.json"
	assert.NoError(t, cfg.Validate())
}

func TestExportScheduleFromEnvironment(t *testing.T) {
	t.Setenv("EXPORT_SCHEDULE", "0 30 2 * * *")
	t.Setenv("EXPORT_BUCKET", "carbonx-exports")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.True(t, cfg.Exports.Enabled)
	assert.Equal(t, "0 30 2 * * *", cfg.Exports.Schedule)
	assert.Equal(t, "carbonx-exports", cfg.Exports.Bucket)
	assert.Equal(t, []string{"csv", "xlsx"}, cfg.Exports.Formats)
}
