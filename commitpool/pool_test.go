package commitpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veritaschain/consensus-core/crypto/bls"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/types"
)

type fakeChain struct {
	headers    map[int64]*types.Header
	params     *types.BFTParameters
	heights    types.BFTHeights
	maxRemoval int64
}

func (c *fakeChain) HeaderAt(h int64) (*types.Header, error) { return c.headers[h], nil }
func (c *fakeChain) ParamsAt(h int64) (*types.BFTParameters, error) { return c.params, nil }
func (c *fakeChain) NextParamChangeHeight(from int64) (int64, bool) { return 0, false }
func (c *fakeChain) Heights() types.BFTHeights { return c.heights }
func (c *fakeChain) FinalizedHeight() int64 { return 0 }
func (c *fakeChain) MaxRemovalHeightAt(h int64) (int64, error) { return c.maxRemoval, nil }

func TestCreateAndValidateSingleCommit(t *testing.T) {
	priv := bls.GenPrivKey()
	pub := priv.PubKey().(bls.PubKey)

	header := &types.Header{Height: 10}
	chain := &fakeChain{
		headers: map[int64]*types.Header{10: header},
		params: &types.BFTParameters{
			CertificateThreshold: 1,
			Validators: []types.Validator{
				{Index: 0, Address: types.Address{1}, BLSPubKey: pub, BFTWeight: 1},
			},
		},
		heights: types.BFTHeights{MaxHeightPrecommitted: 10},
	}

	pool := New(log.NewNopLogger(), "testnet", chain)
	c, err := CreateSingleCommit(header, ValidatorInfo{Address: types.Address{1}, PrivKey: priv}, "testnet")
	require.NoError(t, err)

	require.NoError(t, pool.ValidateCommit(c))
	require.NoError(t, pool.AddCommit(c))
	require.Len(t, pool.GetCommitsByHeight(10), 1)
}

func TestSelectAggregateCommitReachesThreshold(t *testing.T) {
	priv1 := bls.GenPrivKey()
	priv2 := bls.GenPrivKey()
	pub1 := priv1.PubKey().(bls.PubKey)
	pub2 := priv2.PubKey().(bls.PubKey)

	header := &types.Header{Height: 10}
	chain := &fakeChain{
		headers: map[int64]*types.Header{10: header},
		params: &types.BFTParameters{
			CertificateThreshold: 2,
			Validators: []types.Validator{
				{Index: 0, Address: types.Address{1}, BLSPubKey: pub1, BFTWeight: 1},
				{Index: 1, Address: types.Address{2}, BLSPubKey: pub2, BFTWeight: 1},
			},
		},
		heights: types.BFTHeights{MaxHeightPrecommitted: 10, MaxHeightCertified: 0},
	}

	pool := New(log.NewNopLogger(), "testnet", chain)
	c1, err := CreateSingleCommit(header, ValidatorInfo{Address: types.Address{1}, PrivKey: priv1}, "testnet")
	require.NoError(t, err)
	c2, err := CreateSingleCommit(header, ValidatorInfo{Address: types.Address{2}, PrivKey: priv2}, "testnet")
	require.NoError(t, err)
	require.NoError(t, pool.AddCommit(c1))
	require.NoError(t, pool.AddCommit(c2))

	agg, err := pool.SelectAggregateCommit()
	require.NoError(t, err)
	require.False(t, agg.Empty())
	require.Equal(t, int64(10), agg.Height)
	require.NoError(t, pool.VerifyAggregateCommit(agg))
}
