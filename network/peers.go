package network

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/veritaschain/consensus-core/metrics"
	syncpkg "github.com/veritaschain/consensus-core/sync"
)

// DefaultBanThreshold is the accumulated penalty at which a peer is
// dropped outright, rather than merely scored (spec.md §5's "additive
// penalty clamped at bannable threshold" — the clamp value itself is
// left unspecified by the source material, so this follows the same
// order of magnitude as consenserr.DefaultPenalty times a small number
// of repeat offenses). Operators may override it via config.Config.
const DefaultBanThreshold = 1000

// DefaultPeerRateLimit and DefaultPeerRateBurst bound how many calls,
// of any method, a single peer identified by its x-peer-id header may
// make per second (spec.md §4.8's "rate limits per peer"); calls that
// carry no peer id are not limited.
const DefaultPeerRateLimit = 20
const DefaultPeerRateBurst = 40

type peerState struct {
	info    syncpkg.PeerInfo
	penalty int
	banned  bool
	limiter *rate.Limiter
}

// PeerRegistry tracks every peer's last advertised position, its
// accumulated penalty, and a per-peer token bucket, and doubles as the
// PeerSet the block-sync mechanism ranks candidates from.
type PeerRegistry struct {
	mtx          sync.Mutex
	peers        map[string]*peerState
	banThreshold int
	rateLimit    float64
	rateBurst    int
	metrics      *metrics.Metrics
}

// SetMetrics attaches a Prometheus collector.
func (r *PeerRegistry) SetMetrics(m *metrics.Metrics) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.metrics = m
}

func (r *PeerRegistry) bannedCountLocked() int {
	n := 0
	for _, st := range r.peers {
		if st.banned {
			n++
		}
	}
	return n
}

// NewPeerRegistry constructs a registry using the given ban threshold
// and per-peer token-bucket rate; pass DefaultBanThreshold,
// DefaultPeerRateLimit, and DefaultPeerRateBurst for spec.md's default
// values.
func NewPeerRegistry(banThreshold int, rateLimit float64, rateBurst int) *PeerRegistry {
	return &PeerRegistry{
		peers:        make(map[string]*peerState),
		banThreshold: banThreshold,
		rateLimit:    rateLimit,
		rateBurst:    rateBurst,
		metrics:      metrics.NopMetrics(),
	}
}

func (r *PeerRegistry) get(peerID string) *peerState {
	st, ok := r.peers[peerID]
	if !ok {
		st = &peerState{info: syncpkg.PeerInfo{PeerID: peerID}, limiter: rate.NewLimiter(rate.Limit(r.rateLimit), r.rateBurst)}
		r.peers[peerID] = st
	}
	return st
}

// Allow reports whether peerID's push-rate budget permits another
// request right now.
func (r *PeerRegistry) Allow(peerID string) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	st := r.get(peerID)
	if st.banned {
		return false
	}
	return st.limiter.Allow()
}

// UpdateNodeInfo records a peer's self-reported chain position
// (spec.md §4.8's postNodeInfo).
func (r *PeerRegistry) UpdateNodeInfo(peerID string, height, maxHeightPrevoted int64, blockVersion uint8) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	st := r.get(peerID)
	st.info.Height = height
	st.info.MaxHeightPrevoted = maxHeightPrevoted
	st.info.BlockVersion = blockVersion
}

// ApplyPenalty implements processor.Penalizer and sync.RPCClient:
// accumulates peerID's penalty score and bans it outright past the
// registry's configured ban threshold.
func (r *PeerRegistry) ApplyPenalty(peerID string, amount int) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	st := r.get(peerID)
	st.penalty += amount
	r.metrics.PenaltiesApplied.Add(float64(amount))
	if st.penalty >= r.banThreshold && !st.banned {
		st.banned = true
		r.metrics.PeersBanned.Set(float64(r.bannedCountLocked()))
	}
}

// Banned reports whether peerID has crossed the registry's ban threshold.
func (r *PeerRegistry) Banned(peerID string) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.peers[peerID] != nil && r.peers[peerID].banned
}

// Candidates implements blocksync.PeerSet: every known, unbanned peer
// whose advertised position beats ours.
func (r *PeerRegistry) Candidates(ourHeight, ourMaxHeightPrevoted int64) []syncpkg.PeerInfo {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var out []syncpkg.PeerInfo
	for _, st := range r.peers {
		if st.banned {
			continue
		}
		if st.info.Height > ourHeight || (st.info.Height == ourHeight && st.info.MaxHeightPrevoted > ourMaxHeightPrevoted) {
			out = append(out, st.info)
		}
	}
	return out
}

// Snapshot returns peerID's current position, and false if the peer is
// unknown, for the
// synchronizer's DIFFERENT_CHAIN dispatch when it needs one peer
// rather than the full candidate ranking.
func (r *PeerRegistry) Snapshot(peerID string) (syncpkg.PeerInfo, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	st, ok := r.peers[peerID]
	if !ok {
		return syncpkg.PeerInfo{}, false
	}
	return st.info, true
}
