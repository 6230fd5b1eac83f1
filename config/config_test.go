package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.SelfID = "node-a"
	require.NoError(t, cfg.ValidateBasic())
}

func TestValidateBasicRejectsMissingSelfID(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.ValidateBasic())
}

func TestValidateBasicRejectsEnabledFinanceIndexWithoutConnString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.SelfID = "node-a"
	cfg.FinanceIndex.Enabled = true
	require.Error(t, cfg.ValidateBasic())

	cfg.FinanceIndex.ConnString = "postgres://localhost/consensus"
	require.NoError(t, cfg.ValidateBasic())
}

func TestWriteAndLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Network.SelfID = "node-a"
	cfg.Network.NetworkID = "testnet"
	require.NoError(t, WriteConfigFile(path, cfg))

	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-a", loaded.Network.SelfID)
	require.Equal(t, "testnet", loaded.Network.NetworkID)
	require.Equal(t, cfg.Consensus.SlotDuration, loaded.Consensus.SlotDuration)
}

func TestEnsureRootCreatesDataDir(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "home")
	require.NoError(t, EnsureRoot(root, "data"))

	info, err := os.Stat(filepath.Join(root, "data"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
