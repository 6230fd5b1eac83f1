package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/veritaschain/consensus-core/internal/consenserr"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/types"
)

type fakeExecutor struct{ tip *types.Header }

func (f *fakeExecutor) FinalizedHeight() int64                     { return 0 }
func (f *fakeExecutor) HeaderAt(height int64) (*types.Header, error) { return f.tip, nil }
func (f *fakeExecutor) HeaderByID(id types.BlockID) (*types.Header, error) { return f.tip, nil }
func (f *fakeExecutor) Tip() (*types.Header, error)                 { return f.tip, nil }
func (f *fakeExecutor) DeleteLastBlock(bool) error                  { return nil }
func (f *fakeExecutor) Verify(*types.Block) error                   { return nil }
func (f *fakeExecutor) ExecuteValidated(*types.Block, bool, bool) error { return nil }
func (f *fakeExecutor) RestoreTempBlocks() error                    { return nil }

type fakeRPC struct{ penalized string }

func (f *fakeRPC) GetLastBlock(context.Context, string) (*types.Block, error) { return nil, nil }
func (f *fakeRPC) GetHighestCommonBlock(context.Context, string, []types.BlockID) (types.BlockID, bool, error) {
	return types.BlockID{}, false, nil
}
func (f *fakeRPC) GetBlocksFromID(context.Context, string, types.BlockID, int) ([]*types.Block, error) {
	return nil, nil
}
func (f *fakeRPC) GetHeaders(context.Context, string, int64, int) ([]*types.Header, error) {
	return nil, nil
}
func (f *fakeRPC) ApplyPenalty(peerID string, amount int) { f.penalized = peerID }

type fakeMechanism struct {
	name    string
	valid   bool
	err     error
	ran     bool
}

func (m *fakeMechanism) Name() string { return m.name }
func (m *fakeMechanism) IsValidFor(PeerInfo, *types.Header) bool { return m.valid }
func (m *fakeMechanism) Run(context.Context, BlockExecutor, RPCClient, PeerInfo) error {
	m.ran = true
	return m.err
}

func TestSupervisorFallsThroughOnDecline(t *testing.T) {
	defer leaktest.Check(t)()

	near := &fakeMechanism{name: "fast-chain-switch", valid: true, err: consenserr.NewDeclineError(errors.New("no common ancestor"))}
	far := &fakeMechanism{name: "block-sync", valid: false}

	sup := New(log.NewNopLogger(), &fakeExecutor{tip: &types.Header{Height: 10}}, &fakeRPC{}, near, far)
	err := sup.Run(context.Background(), PeerInfo{PeerID: "peer-1", Height: 11})
	require.NoError(t, err)
	require.True(t, near.ran)
	require.True(t, far.ran)
}

func TestSupervisorReturnsToIdleWhenEveryMechanismDeclines(t *testing.T) {
	defer leaktest.Check(t)()

	first := &fakeMechanism{name: "fast-chain-switch", valid: true, err: consenserr.NewDeclineError(errors.New("no common ancestor"))}
	second := &fakeMechanism{name: "block-sync", valid: false, err: consenserr.NewDeclineError(errors.New("no common ancestor"))}

	sup := New(log.NewNopLogger(), &fakeExecutor{tip: &types.Header{Height: 10}}, &fakeRPC{}, first, second)
	err := sup.Run(context.Background(), PeerInfo{PeerID: "peer-1", Height: 11})
	require.NoError(t, err)
	require.True(t, first.ran)
	require.True(t, second.ran)
	require.False(t, sup.IsActive())
}

func TestSupervisorNoMechanismClaimsPeer(t *testing.T) {
	defer leaktest.Check(t)()

	m := &fakeMechanism{name: "block-sync", valid: false}
	sup := New(log.NewNopLogger(), &fakeExecutor{tip: &types.Header{Height: 10}}, &fakeRPC{}, m)
	err := sup.Run(context.Background(), PeerInfo{PeerID: "peer-1", Height: 11})
	require.Error(t, err)
	require.False(t, m.ran)
}
