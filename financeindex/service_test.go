package financeindex

import (
	"context"
	"testing"
	"time"

	dbm "github.com/tendermint/tm-db"

	"github.com/stretchr/testify/require"

	"github.com/veritaschain/consensus-core/events"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/store"
	"github.com/veritaschain/consensus-core/types"
)

type fakeSink struct {
	finalized map[int64]types.BlockID
	aggs      map[int64]*types.AggregateCommit
}

func newFakeSink() *fakeSink {
	return &fakeSink{finalized: map[int64]types.BlockID{}, aggs: map[int64]*types.AggregateCommit{}}
}

func (f *fakeSink) IndexFinalizedHeight(height int64, blockID types.BlockID, _ time.Time) error {
	f.finalized[height] = blockID
	return nil
}

func (f *fakeSink) IndexAggregateCommit(ac *types.AggregateCommit) error {
	f.aggs[ac.Height] = ac
	return nil
}

func (f *fakeSink) Stop() error { return nil }

func saveBlockAt(t *testing.T, s *store.Store, height int64) types.BlockID {
	t.Helper()
	b := &types.Block{Header: types.Header{Height: height, Timestamp: 1000 + height}}
	require.NoError(t, s.SaveBlock(b))
	return b.Header.ID()
}

func TestServiceIndexesAggregateCommitAndFinalizedHeight(t *testing.T) {
	s := store.New(dbm.NewMemDB())
	blockID := saveBlockAt(t, s, 5)

	bus := events.NewBus(log.NewNopLogger())
	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop()

	sink := newFakeSink()
	svc := NewService(log.NewNopLogger(), bus, sink, s)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	ac := &types.AggregateCommit{
		Height:               5,
		AggregationBits:      []byte{0x01},
		CertificateSignature: []byte{0xAB, 0xCD},
	}
	header := &types.Header{Height: 6, AggregateCommit: ac}
	bus.PublishBlockNew(header, false)

	require.Eventually(t, func() bool {
		_, ok := sink.aggs[5]
		return ok
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, ac, sink.aggs[5])
	require.Equal(t, blockID, sink.finalized[5])
}

func TestServiceIgnoresBlockNewWithoutAggregateCommit(t *testing.T) {
	s := store.New(dbm.NewMemDB())
	bus := events.NewBus(log.NewNopLogger())
	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop()

	sink := newFakeSink()
	svc := NewService(log.NewNopLogger(), bus, sink, s)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	bus.PublishBlockNew(&types.Header{Height: 1}, false)
	bus.PublishBlockDelete(&types.Header{Height: 1})

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sink.aggs)
	require.Empty(t, sink.finalized)
}
