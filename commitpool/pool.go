// Package commitpool tracks single BLS commits gathered from
// validators and aggregates them into finality certificates (spec.md
// §4.4). It keeps the teacher evidence pool's two-map (pending vs
// gossiped) shape and mutex discipline, generalized from "pending vs
// committed evidence" to "not yet gossiped vs already gossiped single
// commits" and married to the BLS aggregate machinery in
// crypto/certificate.
package commitpool

import (
	"fmt"
	"sync"

	"github.com/veritaschain/consensus-core/crypto/bls"
	"github.com/veritaschain/consensus-core/crypto/certificate"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/metrics"
	"github.com/veritaschain/consensus-core/types"
)

// ChainView is the subset of chain state the pool needs: header
// lookups, the BFT parameter/height providers, and finalized height.
type ChainView interface {
	HeaderAt(height int64) (*types.Header, error)
	types.ParamsProvider
	types.HeightsProvider
	FinalizedHeight() int64
	// MaxRemovalHeightAt returns the aggregate commit height recorded in
	// the header at the given height (spec.md §4.4's maxRemovalHeight).
	MaxRemovalHeightAt(finalizedHeight int64) (int64, error)
}

// Pool is the commit pool for one chain.
type Pool struct {
	logger    log.Logger
	networkID string
	chain     ChainView

	mtx         sync.Mutex
	nonGossiped map[int64][]types.SingleCommit
	gossiped    map[int64][]types.SingleCommit
	seen        map[string]struct{}
	metrics     *metrics.Metrics
}

func New(logger log.Logger, networkID string, chain ChainView) *Pool {
	return &Pool{
		logger:      logger,
		networkID:   networkID,
		chain:       chain,
		nonGossiped: make(map[int64][]types.SingleCommit),
		gossiped:    make(map[int64][]types.SingleCommit),
		seen:        make(map[string]struct{}),
		metrics:     metrics.NopMetrics(),
	}
}

// SetMetrics attaches a Prometheus collector.
func (p *Pool) SetMetrics(m *metrics.Metrics) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.metrics = m
}

func (p *Pool) poolSize() int {
	n := 0
	for _, c := range p.nonGossiped {
		n += len(c)
	}
	for _, c := range p.gossiped {
		n += len(c)
	}
	return n
}

// AddCommit deduplicates by (height, validatorAddress,
// certificateSignature) and appends to the non-gossiped pool.
func (p *Pool) AddCommit(c types.SingleCommit) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	key := c.Key()
	if _, ok := p.seen[key]; ok {
		return nil
	}
	p.seen[key] = struct{}{}
	p.nonGossiped[c.Height] = append(p.nonGossiped[c.Height], c)
	p.metrics.CommitsAdded.Add(1)
	p.metrics.CommitPoolSize.Set(float64(p.poolSize()))
	return nil
}

// ValidateCommit implements the six checks of spec.md §4.4.
func (p *Pool) ValidateCommit(c types.SingleCommit) (err error) {
	defer func() {
		if err != nil {
			p.metrics.CommitsRejected.Add(1)
		}
	}()
	maxRemoval, err := p.chain.MaxRemovalHeightAt(p.chain.FinalizedHeight())
	if err != nil {
		return fmt.Errorf("commitpool: resolving max removal height: %w", err)
	}
	if c.Height <= maxRemoval {
		return fmt.Errorf("commitpool: commit height %d at or below max removal height %d", c.Height, maxRemoval)
	}

	header, err := p.chain.HeaderAt(c.Height)
	if err != nil {
		return fmt.Errorf("commitpool: loading header at %d: %w", c.Height, err)
	}
	if header == nil || header.ID() != c.BlockID {
		return fmt.Errorf("commitpool: no header at %d matching block id %s", c.Height, c.BlockID)
	}

	if p.contains(c) {
		return fmt.Errorf("commitpool: commit already stored")
	}

	heights := p.chain.Heights()
	inRange := c.Height >= heights.MaxHeightPrecommitted-commitRangeStored+1 && c.Height <= heights.MaxHeightPrecommitted
	if !inRange {
		if _, err := p.chain.ParamsAt(c.Height + 1); err != nil {
			return fmt.Errorf("commitpool: commit height %d outside interesting range and no params at height+1: %w", c.Height, err)
		}
	}

	params, err := p.chain.ParamsAt(c.Height)
	if err != nil {
		return fmt.Errorf("commitpool: resolving BFT parameters at %d: %w", c.Height, err)
	}
	idx, ok := params.IndexOf(c.ValidatorAddress)
	if !ok {
		return fmt.Errorf("commitpool: validator %s not active at height %d", c.ValidatorAddress, c.Height)
	}

	cert := types.CertificateOf(header)
	pub := bls.PubKey(params.Validators[idx].BLSPubKey)
	if !certificate.Verify(pub, p.networkID, cert, c.CertificateSignature) {
		return fmt.Errorf("commitpool: BLS signature verification failed for validator %s", c.ValidatorAddress)
	}
	return nil
}

// commitRangeStored is spec.md §6's COMMIT_RANGE_STORED, resolved here
// via the Open Question decision recorded in DESIGN.md.
const commitRangeStored = 50

func (p *Pool) contains(c types.SingleCommit) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	_, ok := p.seen[c.Key()]
	return ok
}

// GetCommitsByHeight returns the concatenation of both pools at h.
func (p *Pool) GetCommitsByHeight(h int64) []types.SingleCommit {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	out := make([]types.SingleCommit, 0, len(p.nonGossiped[h])+len(p.gossiped[h]))
	out = append(out, p.nonGossiped[h]...)
	out = append(out, p.gossiped[h]...)
	return out
}

// ValidatorInfo carries the local validator's identity and key for
// createSingleCommit.
type ValidatorInfo struct {
	Address Address
	PrivKey bls.PrivKey
}

// Address is a re-export of types.Address to keep this file's public
// surface self-describing without importing types twice in doc
// comments.
type Address = types.Address

// CreateSingleCommit BLS-signs the certificate derived from header.
func CreateSingleCommit(header *types.Header, validator ValidatorInfo, networkID string) (types.SingleCommit, error) {
	cert := types.CertificateOf(header)
	sig, err := certificate.Sign(validator.PrivKey, networkID, cert)
	if err != nil {
		return types.SingleCommit{}, fmt.Errorf("commitpool: signing certificate: %w", err)
	}
	return types.SingleCommit{
		BlockID:              header.ID(),
		Height:               header.Height,
		ValidatorAddress:     validator.Address,
		CertificateSignature: sig,
	}, nil
}

// VerifyAggregateCommit implements spec.md §4.4's verifyAggregateCommit.
func (p *Pool) VerifyAggregateCommit(a *types.AggregateCommit) error {
	if a.Empty() {
		return fmt.Errorf("commitpool: empty aggregate commit")
	}
	heights := p.chain.Heights()
	if !(a.Height > heights.MaxHeightCertified && a.Height <= heights.MaxHeightPrecommitted) {
		return fmt.Errorf("commitpool: aggregate height %d out of bounds (certified=%d, precommitted=%d)",
			a.Height, heights.MaxHeightCertified, heights.MaxHeightPrecommitted)
	}
	if nextChange, ok := p.chain.NextParamChangeHeight(heights.MaxHeightCertified + 1); ok && a.Height > nextChange-1 {
		return fmt.Errorf("commitpool: aggregate height %d crosses parameter change at %d", a.Height, nextChange)
	}

	header, err := p.chain.HeaderAt(a.Height)
	if err != nil || header == nil {
		return fmt.Errorf("commitpool: loading header at %d: %w", a.Height, err)
	}
	params, err := p.chain.ParamsAt(a.Height)
	if err != nil {
		return fmt.Errorf("commitpool: resolving BFT parameters at %d: %w", a.Height, err)
	}

	var pubKeys []bls.PubKey
	var weighted uint64
	for _, v := range params.Validators {
		if types.BitSet(a.AggregationBits, v.Index) {
			pubKeys = append(pubKeys, bls.PubKey(v.BLSPubKey))
			weighted += v.BFTWeight
		}
	}
	if weighted < params.CertificateThreshold {
		return fmt.Errorf("commitpool: weighted sum %d below threshold %d", weighted, params.CertificateThreshold)
	}

	cert := types.CertificateOf(header)
	if !certificate.VerifyAggregate(pubKeys, p.networkID, cert, a.CertificateSignature) {
		return fmt.Errorf("commitpool: BLS aggregate verification failed at height %d", a.Height)
	}
	return nil
}

// SelectAggregateCommit implements spec.md §4.4's selectAggregateCommit.
func (p *Pool) SelectAggregateCommit() (*types.AggregateCommit, error) {
	heights := p.chain.Heights()
	top := heights.MaxHeightPrecommitted
	if nextChange, ok := p.chain.NextParamChangeHeight(heights.MaxHeightCertified + 1); ok && nextChange-1 < top {
		top = nextChange - 1
	}

	for height := top; height > heights.MaxHeightCertified; height-- {
		commits := p.GetCommitsByHeight(height)
		if len(commits) == 0 {
			continue
		}
		header, err := p.chain.HeaderAt(height)
		if err != nil || header == nil {
			continue
		}
		params, err := p.chain.ParamsAt(height)
		if err != nil {
			continue
		}
		agg, weighted := p.aggregate(header, params, commits)
		if agg == nil {
			continue
		}
		if weighted >= params.CertificateThreshold {
			p.metrics.AggregateCommitsMade.Add(1)
			return agg, nil
		}
	}
	return &types.AggregateCommit{Height: heights.MaxHeightCertified}, nil
}

// aggregate builds a candidate AggregateCommit from every commit at
// height that matches the canonical header, ordered by validator-set
// index (spec.md §4.4 tie-break rule).
func (p *Pool) aggregate(header *types.Header, params *types.BFTParameters, commits []types.SingleCommit) (*types.AggregateCommit, uint64) {
	type indexed struct {
		idx int
		sig []byte
		pub bls.PubKey
	}
	var entries []indexed
	blockID := header.ID()
	for _, c := range commits {
		if c.BlockID != blockID {
			continue
		}
		idx, ok := params.IndexOf(c.ValidatorAddress)
		if !ok {
			continue
		}
		entries = append(entries, indexed{idx: idx, sig: c.CertificateSignature, pub: bls.PubKey(params.Validators[idx].BLSPubKey)})
	}
	if len(entries) == 0 {
		return nil, 0
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].idx < entries[i].idx {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	bits := make([]byte, types.AggregationBitsLen(len(params.Validators)))
	pubKeys := make([]bls.PubKey, 0, len(entries))
	sigs := make([][]byte, 0, len(entries))
	var weighted uint64
	for _, e := range entries {
		types.SetBit(bits, e.idx)
		pubKeys = append(pubKeys, e.pub)
		sigs = append(sigs, e.sig)
		weighted += params.Validators[e.idx].BFTWeight
	}

	cert := types.CertificateOf(header)
	sig, err := certificate.Aggregate(pubKeys, p.networkID, cert, sigs)
	if err != nil {
		p.logger.Error("commitpool: aggregation failed", "height", header.Height, "err", err)
		return nil, 0
	}
	return &types.AggregateCommit{Height: header.Height, AggregationBits: bits, CertificateSignature: sig}, weighted
}

// Job runs the periodic pool maintenance: drop commits below
// maxRemovalHeight, gossip newly accumulated non-gossiped commits, and
// publish a fresh aggregate commit if one clears threshold.
func (p *Pool) Job() (*types.AggregateCommit, error) {
	maxRemoval, err := p.chain.MaxRemovalHeightAt(p.chain.FinalizedHeight())
	if err != nil {
		return nil, fmt.Errorf("commitpool: resolving max removal height: %w", err)
	}

	p.mtx.Lock()
	for height, commits := range p.nonGossiped {
		if height <= maxRemoval {
			for _, c := range commits {
				delete(p.seen, c.Key())
			}
			delete(p.nonGossiped, height)
			continue
		}
		p.gossiped[height] = append(p.gossiped[height], commits...)
		delete(p.nonGossiped, height)
	}
	for height, commits := range p.gossiped {
		if height <= maxRemoval {
			for _, c := range commits {
				delete(p.seen, c.Key())
			}
			delete(p.gossiped, height)
		}
	}
	p.mtx.Unlock()

	agg, err := p.SelectAggregateCommit()
	if err != nil {
		return nil, err
	}
	return agg, nil
}
