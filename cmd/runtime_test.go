package cmd

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohsinsiddi/w3sale/internal/config"
	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/Mohsinsiddi/w3sale/internal/wallet"
)

// useTempConfig points the package-level config at a fresh directory.
func useTempConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	c, err := config.Load(t.TempDir())
	require.NoError(t, err)
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

var alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestDescribeLeadsWithKind(t *testing.T) {
	err := fmt.Errorf("buy: %w", &sale.Error{Kind: sale.IndividualExceed, Detail: "1100 > 1000"})
	out := describe(err)
	assert.Contains(t, out, "InidividualExceed")
	assert.Contains(t, out, "1100 > 1000")
}

func TestDescribeHintsDeploy(t *testing.T) {
	out := describe(fmt.Errorf("open: %w", sale.ErrNotDeployed))
	assert.Contains(t, out, "w3sale deploy")
}

func TestResolveAddress(t *testing.T) {
	useTempConfig(t)
	require.NoError(t, newWalletManager().AddWatch("alice", alice))

	got, err := resolveAddress(context.Background(), alice.Hex())
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	got, err = resolveAddress(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	_, err = resolveAddress(context.Background(), "mallory")
	assert.Error(t, err)
}

func TestResolveENSNeedsRPC(t *testing.T) {
	useTempConfig(t)
	_, err := resolveAddress(context.Background(), "alice.eth")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc_url")
}

// Hardhat/Anvil test accounts #0 and #1.
const (
	aliceKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	bobKey   = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var aliceSigner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// useTempKeyring keeps wallet keys as files in a fresh directory.
func useTempKeyring(t *testing.T) {
	t.Helper()
	t.Setenv(wallet.KeyEnv, "")
	t.Setenv(wallet.KeyringDirEnv, t.TempDir())
	t.Setenv(wallet.KeyringPasswordEnv, "testpass")
}

func TestCallFromUsesDefaultWallet(t *testing.T) {
	useTempConfig(t)
	useTempKeyring(t)

	_, err := callFrom("", "", "")
	assert.ErrorContains(t, err, "no default wallet")

	mgr := newWalletManager()
	require.NoError(t, mgr.AddWithKey("alice", aliceKey))
	require.NoError(t, mgr.SetDefault("alice"))

	call, err := callFrom("", "42000", "")
	require.NoError(t, err)
	assert.Equal(t, aliceSigner, call.Caller)
	assert.Equal(t, "42000", call.Amount.Dec())

	call, err = callFrom("alice", "", "")
	require.NoError(t, err)
	assert.Nil(t, call.Amount)

	_, err = callFrom("alice", "-5", "")
	assert.Error(t, err)
}

func TestCallerMustHoldKey(t *testing.T) {
	useTempConfig(t)
	useTempKeyring(t)
	mgr := newWalletManager()
	require.NoError(t, mgr.AddWithKey("alice", aliceKey))
	require.NoError(t, mgr.AddWatch("watcher", alice))

	for _, as := range []string{aliceSigner.Hex(), alice.Hex(), "alice.eth"} {
		_, err := callFrom(as, "", "")
		assert.ErrorContains(t, err, "wallet holding a key", as)
	}

	_, err := callFrom("watcher", "", "")
	assert.ErrorIs(t, err, wallet.ErrWatchOnly)

	_, err = callFrom("mallory", "", "")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)

	// A key supplied through the environment must still match the wallet.
	t.Setenv(wallet.KeyEnv, bobKey)
	_, err = callFrom("alice", "", "")
	assert.ErrorContains(t, err, "resolves to")
}

func TestCallFromParsesPayment(t *testing.T) {
	useTempConfig(t)
	useTempKeyring(t)
	require.NoError(t, newWalletManager().AddWithKey("alice", aliceKey))

	paid := common.HexToHash("0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060")
	call, err := callFrom("alice", "500", paid.Hex())
	require.NoError(t, err)
	assert.Equal(t, paid, call.Payment)

	_, err = callFrom("alice", "500", "0x1234")
	assert.ErrorContains(t, err, "invalid payment")
}

func TestLocalCollaboratorsShareTheStore(t *testing.T) {
	useTempConfig(t)
	sess, err := openSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	require.NotNil(t, sess.collab.local)
	assert.Equal(t, cfg.DataPath(), sess.db.Path())
	assert.Same(t, sess.collab.local, sess.collab.tokens)
	assert.Same(t, sess.collab.local, sess.collab.treasury)

	_, err = sale.Open(context.Background(), sess.db)
	assert.ErrorIs(t, err, sale.ErrNotDeployed)
}
