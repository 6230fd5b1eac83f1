package consensus

import (
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	dbm "github.com/tendermint/tm-db"

	"github.com/stretchr/testify/require"

	"github.com/veritaschain/consensus-core/config"
	"github.com/veritaschain/consensus-core/crypto/bls"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/statemachine"
	"github.com/veritaschain/consensus-core/types"
)

type noopModule struct{}

func (noopModule) Name() string                                 { return "token" }
func (noopModule) VerifySignature(*types.Transaction) error      { return nil }
func (noopModule) VerifyTransaction(statemachine.StateStore, *types.Transaction) error {
	return nil
}
func (noopModule) ApplyAsset(statemachine.StateStore, *types.Transaction) ([]statemachine.Event, error) {
	return nil, nil
}

func genesisBlock(t *testing.T, priv bls.PrivKey, addr types.Address, timestamp int64) *types.Block {
	t.Helper()
	h := types.Header{
		Height:           0,
		PreviousBlockID:  types.BlockID{},
		GeneratorAddress: addr,
		Timestamp:        timestamp,
		Version:          1,
		TransactionRoot:  statemachine.TransactionRoot(nil),
	}
	sig, err := priv.Sign(h.CanonicalBytes())
	require.NoError(t, err)
	h.Signature = sig
	return &types.Block{Header: h}
}

func newTestCoordinator(t *testing.T) (*Coordinator, bls.PrivKey, types.Address) {
	t.Helper()
	priv := bls.GenPrivKeyFromSecret([]byte("coordinator-seed"))
	pub := priv.PubKey().Bytes()
	var addr types.Address
	copy(addr[:], pub[:types.AddressSize])

	params := types.BFTParameters{
		CertificateThreshold: 1,
		Validators:           []types.Validator{{Index: 0, Address: addr, BLSPubKey: pub, BFTWeight: 1}},
	}
	genesis := genesisBlock(t, priv, addr, 1000)

	nodeCfg := config.DefaultConfig()
	nodeCfg.Network.NetworkID = "testnet"
	nodeCfg.Network.SelfID = "node-a"
	nodeCfg.Network.ListenAddr = ""
	nodeCfg.Consensus.Version = 1
	nodeCfg.Consensus.SlotDuration = time.Second

	c, err := New(Config{
		Logger:        log.NewNopLogger(),
		DB:            dbm.NewMemDB(),
		Node:          nodeCfg,
		Genesis:       genesis,
		GenesisParams: params,
		Modules:       []statemachine.Module{noopModule{}},
	})
	require.NoError(t, err)
	return c, priv, addr
}

func TestNewSeedsGenesisOnce(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	require.Equal(t, int64(0), c.FinalizedHeight())
	require.False(t, c.Syncing())
}

func TestExecuteAdvancesTipAndBFTHeights(t *testing.T) {
	c, priv, addr := newTestCoordinator(t)

	genesis, err := c.proc.Tip()
	require.NoError(t, err)
	require.Equal(t, int64(0), genesis.Height)

	h := types.Header{
		Height:           1,
		PreviousBlockID:  genesis.ID(),
		GeneratorAddress: addr,
		Timestamp:        1001,
		Version:          1,
		TransactionRoot:  statemachine.TransactionRoot(nil),
		MaxHeightPrevoted: 1,
	}
	sig, err := priv.Sign(h.CanonicalBytes())
	require.NoError(t, err)
	h.Signature = sig
	next := &types.Block{Header: h}

	require.NoError(t, c.Execute(next))

	tip, err := c.proc.Tip()
	require.NoError(t, err)
	require.Equal(t, int64(1), tip.Height)
	require.Equal(t, int64(1), c.bft.Heights().MaxHeightPrevoted)
}

func TestNewRequiresGenesisOnEmptyStore(t *testing.T) {
	nodeCfg := config.DefaultConfig()
	nodeCfg.Network.NetworkID = "testnet"
	nodeCfg.Network.SelfID = "node-a"
	nodeCfg.Network.ListenAddr = ""

	_, err := New(Config{
		Logger: log.NewNopLogger(),
		DB:     dbm.NewMemDB(),
		Node:   nodeCfg,
	})
	require.Error(t, err)
}

func TestStopRefusesFurtherWork(t *testing.T) {
	defer leaktest.Check(t)()

	c, priv, addr := newTestCoordinator(t)
	require.NoError(t, c.Stop())

	genesis := genesisBlock(t, priv, addr, 1000)
	genesis.Header.Height = 1
	err := c.Execute(genesis)
	require.Error(t, err)

	// Stop is idempotent.
	require.NoError(t, c.Stop())
}
