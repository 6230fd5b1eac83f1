package bftmodule

import (
	"testing"

	dbm "github.com/tendermint/tm-db"

	"github.com/stretchr/testify/require"

	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/store"
	"github.com/veritaschain/consensus-core/types"
)

func genesisParams() types.BFTParameters {
	return types.BFTParameters{
		CertificateThreshold: 1,
		Validators: []types.Validator{
			{Index: 0, Address: types.Address{1}, BLSPubKey: []byte("pub0"), BFTWeight: 1},
		},
	}
}

func TestNewSeedsGenesisParams(t *testing.T) {
	s := store.New(dbm.NewMemDB())
	m, err := New(log.NewNopLogger(), s, genesisParams())
	require.NoError(t, err)

	params, err := m.ParamsAt(0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), params.CertificateThreshold)

	params, err = m.ParamsAt(1000)
	require.NoError(t, err)
	require.Len(t, params.Validators, 1)
}

func TestParamsAtBeforeGenesisFails(t *testing.T) {
	s := store.New(dbm.NewMemDB())
	m, err := New(log.NewNopLogger(), s, genesisParams())
	require.NoError(t, err)

	// Genesis is seeded at height 0, so there is no height below it.
	m.changes[0].FromHeight = 5
	_, err = m.ParamsAt(0)
	require.Error(t, err)
}

func TestScheduleParamChange(t *testing.T) {
	s := store.New(dbm.NewMemDB())
	m, err := New(log.NewNopLogger(), s, genesisParams())
	require.NoError(t, err)

	next := types.BFTParameters{
		CertificateThreshold: 2,
		Validators: []types.Validator{
			{Index: 0, Address: types.Address{1}, BLSPubKey: []byte("pub0"), BFTWeight: 1},
			{Index: 1, Address: types.Address{2}, BLSPubKey: []byte("pub1"), BFTWeight: 1},
		},
	}
	require.NoError(t, m.ScheduleParamChange(100, next))

	before, err := m.ParamsAt(99)
	require.NoError(t, err)
	require.Equal(t, uint64(1), before.CertificateThreshold)

	at, err := m.ParamsAt(100)
	require.NoError(t, err)
	require.Equal(t, uint64(2), at.CertificateThreshold)

	nextHeight, ok := m.NextParamChangeHeight(0)
	require.True(t, ok)
	require.Equal(t, int64(100), nextHeight)

	_, ok = m.NextParamChangeHeight(100)
	require.False(t, ok)

	// A change at or before the last scheduled height is rejected.
	require.Error(t, m.ScheduleParamChange(100, next))
	require.Error(t, m.ScheduleParamChange(50, next))
}

func TestScheduleParamChangePersists(t *testing.T) {
	db := dbm.NewMemDB()
	s := store.New(db)
	m, err := New(log.NewNopLogger(), s, genesisParams())
	require.NoError(t, err)
	require.NoError(t, m.ScheduleParamChange(50, genesisParams()))

	reopened, err := New(log.NewNopLogger(), s, genesisParams())
	require.NoError(t, err)
	_, ok := reopened.NextParamChangeHeight(0)
	require.True(t, ok)
}

func TestObserveHeaderIsMonotone(t *testing.T) {
	s := store.New(dbm.NewMemDB())
	m, err := New(log.NewNopLogger(), s, genesisParams())
	require.NoError(t, err)

	require.NoError(t, m.ObserveHeader(&types.Header{MaxHeightPrevoted: 10}))
	require.Equal(t, int64(10), m.Heights().MaxHeightPrevoted)

	// A lower watermark never regresses the stored heights.
	require.NoError(t, m.ObserveHeader(&types.Header{MaxHeightPrevoted: 5}))
	require.Equal(t, int64(10), m.Heights().MaxHeightPrevoted)

	require.NoError(t, m.ObserveHeader(&types.Header{
		MaxHeightPrevoted: 10,
		AggregateCommit:   &types.AggregateCommit{Height: 9, AggregationBits: []byte{1}, CertificateSignature: []byte("sig")},
	}))
	require.Equal(t, int64(9), m.Heights().MaxHeightCertified)
}

func TestSetMaxHeightPrecommittedIsMonotone(t *testing.T) {
	s := store.New(dbm.NewMemDB())
	m, err := New(log.NewNopLogger(), s, genesisParams())
	require.NoError(t, err)

	require.NoError(t, m.SetMaxHeightPrecommitted(7))
	require.NoError(t, m.SetMaxHeightPrecommitted(3))
	require.Equal(t, int64(7), m.Heights().MaxHeightPrecommitted)
}
