package commitpool

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/veritaschain/consensus-core/crypto/bls"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/types"
)

// B3: a commit at or below maxRemovalHeight is rejected, while a
// commit at maxRemovalHeight+1 is accepted (spec.md §4.4's commit
// validity window boundary).
func TestValidateCommitBoundaryAtMaxRemovalHeight(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRemoval := rapid.Int64Range(0, 1000).Draw(t, "maxRemoval").(int64)
		below := rapid.Int64Range(0, maxRemoval).Draw(t, "below").(int64)

		priv := bls.GenPrivKey()
		pub := priv.PubKey().(bls.PubKey)
		validAddr := types.Address{1}

		params := &types.BFTParameters{
			CertificateThreshold: 1,
			Validators: []types.Validator{
				{Index: 0, Address: validAddr, BLSPubKey: pub, BFTWeight: 1},
			},
		}

		headerBelow := &types.Header{Height: below}
		headerAbove := &types.Header{Height: maxRemoval + 1}
		chain := &fakeChain{
			headers: map[int64]*types.Header{
				below:          headerBelow,
				maxRemoval + 1: headerAbove,
			},
			params:     params,
			heights:    types.BFTHeights{MaxHeightPrecommitted: maxRemoval + 1},
			maxRemoval: maxRemoval,
		}
		pool := New(log.NewNopLogger(), "testnet", chain)

		belowCommit, err := CreateSingleCommit(headerBelow, ValidatorInfo{Address: validAddr, PrivKey: priv}, "testnet")
		require.NoError(t, err)
		require.Error(t, pool.ValidateCommit(belowCommit))

		aboveCommit, err := CreateSingleCommit(headerAbove, ValidatorInfo{Address: validAddr, PrivKey: priv}, "testnet")
		require.NoError(t, err)
		require.NoError(t, pool.ValidateCommit(aboveCommit))
	})
}

// I4/I6: selectAggregateCommit returns a non-empty aggregate, verifiable
// against the validator set, exactly when the signing subset's weighted
// sum meets the certificate threshold; otherwise it returns the "no
// aggregate available" sentinel at MaxHeightCertified.
func TestSelectAggregateCommitMatchesThreshold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "numValidators").(int)

		privs := make([]bls.PrivKey, n)
		validators := make([]types.Validator, n)
		var totalWeight uint64
		for i := 0; i < n; i++ {
			priv := bls.GenPrivKey()
			privs[i] = priv
			weight := uint64(rapid.IntRange(1, 5).Draw(t, "weight").(int))
			totalWeight += weight
			validators[i] = types.Validator{
				Index:     i,
				Address:   types.Address{byte(i + 1)},
				BLSPubKey: priv.PubKey().(bls.PubKey),
				BFTWeight: weight,
			}
		}
		threshold := uint64(rapid.IntRange(1, int(totalWeight)).Draw(t, "threshold").(int))

		header := &types.Header{Height: 10}
		params := &types.BFTParameters{CertificateThreshold: threshold, Validators: validators}
		chain := &fakeChain{
			headers:    map[int64]*types.Header{10: header},
			params:     params,
			heights:    types.BFTHeights{MaxHeightPrecommitted: 10, MaxHeightCertified: 0},
			maxRemoval: -1,
		}
		pool := New(log.NewNopLogger(), "testnet", chain)

		var signedWeight uint64
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, "signs").(bool) {
				c, err := CreateSingleCommit(header, ValidatorInfo{Address: validators[i].Address, PrivKey: privs[i]}, "testnet")
				require.NoError(t, err)
				require.NoError(t, pool.AddCommit(c))
				signedWeight += validators[i].BFTWeight
			}
		}

		agg, err := pool.SelectAggregateCommit()
		require.NoError(t, err)

		if signedWeight >= threshold {
			require.False(t, agg.Empty())
			require.Equal(t, int64(10), agg.Height)
			require.NoError(t, pool.VerifyAggregateCommit(agg))
		} else {
			require.True(t, agg.Empty())
			require.Equal(t, int64(0), agg.Height)
		}
	})
}

// I5: every commit the pool retains after Job() has height strictly
// above the current maxRemovalHeight.
func TestJobPrunesCommitsAtOrBelowMaxRemovalHeight(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRemoval := rapid.Int64Range(0, 100).Draw(t, "maxRemoval").(int64)
		heights := rapid.SliceOfN(rapid.Int64Range(0, 120), 1, 10).Draw(t, "heights").([]int64)

		priv := bls.GenPrivKey()
		pub := priv.PubKey().(bls.PubKey)
		addr := types.Address{1}
		params := &types.BFTParameters{
			CertificateThreshold: 100, // unreachable by a single signer, isolates the pruning check
			Validators: []types.Validator{
				{Index: 0, Address: addr, BLSPubKey: pub, BFTWeight: 1},
			},
		}

		headers := make(map[int64]*types.Header, len(heights))
		var top int64
		for _, h := range heights {
			headers[h] = &types.Header{Height: h}
			if h > top {
				top = h
			}
		}
		chain := &fakeChain{
			headers:    headers,
			params:     params,
			heights:    types.BFTHeights{MaxHeightPrecommitted: top},
			maxRemoval: maxRemoval,
		}
		pool := New(log.NewNopLogger(), "testnet", chain)

		for _, h := range heights {
			c, err := CreateSingleCommit(headers[h], ValidatorInfo{Address: addr, PrivKey: priv}, "testnet")
			require.NoError(t, err)
			// ValidateCommit's own window check is independent of this
			// property; add directly to exercise Job's pruning in isolation.
			require.NoError(t, pool.AddCommit(c))
		}

		_, err := pool.Job()
		require.NoError(t, err)

		for _, h := range heights {
			for _, c := range pool.GetCommitsByHeight(h) {
				require.Greater(t, c.Height, maxRemoval)
			}
		}

		// I5 extends to the dedup index: a pruned commit's key must
		// not linger in p.seen, or AddCommit would silently refuse a
		// legitimate re-submission at a height the pool has already
		// forgotten.
		for _, h := range heights {
			if h > maxRemoval {
				continue
			}
			c, err := CreateSingleCommit(headers[h], ValidatorInfo{Address: addr, PrivKey: priv}, "testnet")
			require.NoError(t, err)
			require.False(t, pool.contains(c))
		}
	})
}
