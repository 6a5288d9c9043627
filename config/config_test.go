package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/crypto"
	"github.com/tolelom/tolescrow/internal/testutil"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 24*time.Hour, cfg.CancelDelay())
	assert.Equal(t, 2*time.Second, cfg.BlockIntervalDuration())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
node_id = "n1"
block_interval = "500ms"

[escrow]
cancel_delay = "1h30m"

[log]
level = "debug"

[genesis]
chain_id = "escrow-test"
[genesis.alloc]
"aabb" = 1000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "n1", cfg.NodeID)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 90*time.Minute, cfg.CancelDelay())
	assert.Equal(t, 500*time.Millisecond, cfg.BlockIntervalDuration())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, uint64(1000), cfg.Genesis.Alloc["aabb"])
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, `p2p_port = 30303`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p2p_port")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Escrow.CancelDelay = "soon"
	cfg.BlockInterval = "-1s"
	cfg.Validators = []string{"xyz"}
	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "cancel_delay") && strings.Contains(msg, "block_interval"), msg)
	assert.Contains(t, msg, "validator")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Escrow.CancelDelay = "10m"
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, Save(cfg, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, got.CancelDelay())
	assert.Equal(t, cfg.RPCAddr, got.RPCAddr)
}

func TestCreateGenesisBlock(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Genesis.Alloc = map[string]uint64{"0x" + strings.ToUpper(pub.Hex()): 5_000}
	state := testutil.NewStateDB()

	block, err := CreateGenesisBlock(cfg, state, priv, 42)
	require.NoError(t, err)
	require.NoError(t, block.Verify())
	assert.Equal(t, int64(0), block.Header.Height)
	assert.Equal(t, int64(42), block.Header.Timestamp)
	assert.Equal(t, GenesisHash, block.Header.PrevHash)

	acc, err := state.GetAccount(pub.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), acc.Balance)
}
