package processor

import (
	"testing"

	dbm "github.com/tendermint/tm-db"

	"github.com/stretchr/testify/require"

	"github.com/veritaschain/consensus-core/crypto/bls"
	"github.com/veritaschain/consensus-core/events"
	"github.com/veritaschain/consensus-core/forkchoice"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/statemachine"
	"github.com/veritaschain/consensus-core/store"
	"github.com/veritaschain/consensus-core/types"
)

type fixedSlots struct{ slot int64 }

func (f fixedSlots) SlotOf(ts int64) int64      { return ts }
func (f fixedSlots) CurrentSlot() int64         { return f.slot }
func (f fixedSlots) SlotEnd(slot int64) int64   { return slot }

type fixedBFT struct {
	params  *types.BFTParameters
	heights types.BFTHeights
}

func (f *fixedBFT) ParamsAt(int64) (*types.BFTParameters, error) { return f.params, nil }
func (f *fixedBFT) NextParamChangeHeight(int64) (int64, bool)    { return 0, false }
func (f *fixedBFT) Heights() types.BFTHeights                    { return f.heights }

type noopModule struct{ name string }

func (m *noopModule) Name() string                                            { return m.name }
func (m *noopModule) VerifySignature(*types.Transaction) error                { return nil }
func (m *noopModule) VerifyTransaction(statemachine.StateStore, *types.Transaction) error { return nil }
func (m *noopModule) ApplyAsset(s statemachine.StateStore, tx *types.Transaction) ([]statemachine.Event, error) {
	return nil, s.Set("token", "balance", []byte{1})
}

func newTestProcessor(t *testing.T) (*Processor, bls.PrivKey, types.Address) {
	t.Helper()
	priv := bls.GenPrivKeyFromSecret([]byte("generator-seed"))
	pub := priv.PubKey().Bytes()
	var addr types.Address
	copy(addr[:], pub[:types.AddressSize])

	params := &types.BFTParameters{
		CertificateThreshold: 1,
		Validators:           []types.Validator{{Index: 0, Address: addr, BLSPubKey: pub, BFTWeight: 1}},
	}
	bft := &fixedBFT{params: params}

	s := store.New(dbm.NewMemDB())
	exec := statemachine.New()
	exec.Register(&noopModule{name: "token"})

	p, err := New(log.NewNopLogger(), Config{
		Store:    s,
		ForkChoice: forkchoice.New(fixedSlots{slot: 1000}, 16),
		Slots:    fixedSlots{slot: 1000},
		Executor: exec,
		BFT:      bft,
		Version:  1,
		Bus:      events.NewBus(log.NewNopLogger()),
	})
	require.NoError(t, err)
	return p, priv, addr
}

func signedBlock(t *testing.T, priv bls.PrivKey, addr types.Address, height, timestamp int64, prev types.BlockID) *types.Block {
	t.Helper()
	h := types.Header{
		Height:           height,
		PreviousBlockID:  prev,
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

func TestExecuteGenesisAndExtend(t *testing.T) {
	p, priv, addr := newTestProcessor(t)

	genesis := signedBlock(t, priv, addr, 0, 1, types.BlockID{})
	require.NoError(t, p.Execute(genesis))

	tip, err := p.Tip()
	require.NoError(t, err)
	require.Equal(t, int64(0), tip.Height)

	next := signedBlock(t, priv, addr, 1, 2, genesis.ID())
	require.NoError(t, p.Execute(next))

	tip, err = p.Tip()
	require.NoError(t, err)
	require.Equal(t, int64(1), tip.Height)
}

func TestOnBlockReceiveRejectsWrongVersion(t *testing.T) {
	p, priv, addr := newTestProcessor(t)
	genesis := signedBlock(t, priv, addr, 0, 1, types.BlockID{})
	genesis.Header.Version = 9
	raw := types.EncodeBlock(genesis)

	err := p.OnBlockReceive(raw, "peer-a")
	require.Error(t, err)
}

func TestDeleteLastBlockRevertsState(t *testing.T) {
	p, priv, addr := newTestProcessor(t)
	genesis := signedBlock(t, priv, addr, 0, 1, types.BlockID{})
	require.NoError(t, p.Execute(genesis))
	next := signedBlock(t, priv, addr, 1, 2, genesis.ID())
	require.NoError(t, p.Execute(next))

	require.NoError(t, p.DeleteLastBlock(false))
	tip, err := p.Tip()
	require.NoError(t, err)
	require.Equal(t, int64(0), tip.Height)
}

func TestDeleteLastBlockRefusesFinalized(t *testing.T) {
	p, priv, addr := newTestProcessor(t)
	p.finalizedHeight = 0
	genesis := signedBlock(t, priv, addr, 0, 1, types.BlockID{})
	require.NoError(t, p.Execute(genesis))

	err := p.DeleteLastBlock(false)
	require.Error(t, err)
}
