// Package metrics is the Prometheus surface shared by every SPEC_FULL.md
// component, following the teacher's per-package Metrics struct
// (internal/consensus/metrics.go, internal/evidence/metrics.go): a set
// of go-kit metrics.{Gauge,Counter,Histogram} fields, a
// PrometheusMetrics constructor for production wiring and a NopMetrics
// constructor for tests and components that never had a collector set.
package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem groups every metric this module exposes under one
// Prometheus subsystem, mirroring the teacher's single MetricsSubsystem
// constant per package but collapsed to one since this module is a
// single logical service rather than a multi-package node.
const MetricsSubsystem = "consensus_core"

// Metrics contains metrics exposed across the block processor (C3),
// commit pool (C4), block-sync mechanism (C5), fast-chain-switch
// mechanism (C6), synchronizer supervisor (C7), network endpoint (C8),
// and the BFT/DPoS parameter module.
type Metrics struct {
	// C3 Block Processor
	TipHeight        metrics.Gauge
	FinalizedHeight  metrics.Gauge
	BlocksProcessed  metrics.Counter
	BlockRejections  metrics.Counter
	ForksDetected    metrics.Counter
	BlocksDeleted    metrics.Counter

	// C4 Commit Pool
	CommitPoolSize       metrics.Gauge
	CommitsAdded         metrics.Counter
	CommitsRejected      metrics.Counter
	AggregateCommitsMade metrics.Counter

	// C5/C6 sync mechanisms
	BlockSyncBatches   metrics.Counter
	ChainSwitches      metrics.Counter
	SyncDuration       metrics.Histogram

	// C7 Synchronizer Supervisor
	SyncRunsStarted  metrics.Counter
	SyncRunsFailed   metrics.Counter

	// C8 Consensus Network Endpoint
	RPCRequestsTotal    metrics.Counter
	RPCRequestDuration  metrics.Histogram
	PeersBanned         metrics.Gauge
	PenaltiesApplied    metrics.Counter

	// BFT/DPoS parameter module
	MaxHeightPrevoted     metrics.Gauge
	MaxHeightPrecommitted metrics.Gauge
	MaxHeightCertified    metrics.Gauge
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library. Optionally, labels can be provided along with their values
// ("network_id", "mainnet"), matching the teacher's own signature.
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		TipHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "tip_height", Help: "Height of the chain tip.",
		}, labels).With(labelsAndValues...),
		FinalizedHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "finalized_height", Help: "Finalized height: the greatest max height precommitted the block processor has observed.",
		}, labels).With(labelsAndValues...),
		BlocksProcessed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "blocks_processed_total", Help: "Blocks accepted by the block processor.",
		}, labels).With(labelsAndValues...),
		BlockRejections: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "block_rejections_total", Help: "Blocks rejected by the block processor.",
		}, labels).With(labelsAndValues...),
		ForksDetected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "forks_detected_total", Help: "Blocks classified as DOUBLE_FORGING by fork choice.",
		}, labels).With(labelsAndValues...),
		BlocksDeleted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "blocks_deleted_total", Help: "Blocks removed by deleteLastBlock or a fast chain switch revert.",
		}, labels).With(labelsAndValues...),
		CommitPoolSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "commit_pool_size", Help: "Number of single commits currently held in the pool.",
		}, labels).With(labelsAndValues...),
		CommitsAdded: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "commits_added_total", Help: "Single commits accepted into the pool.",
		}, labels).With(labelsAndValues...),
		CommitsRejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "commits_rejected_total", Help: "Single commits rejected by ValidateCommit.",
		}, labels).With(labelsAndValues...),
		AggregateCommitsMade: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "aggregate_commits_made_total", Help: "Aggregate commits produced by SelectAggregateCommit.",
		}, labels).With(labelsAndValues...),
		BlockSyncBatches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "blocksync_batches_total", Help: "Batches of blocks fetched by the block-sync mechanism.",
		}, labels).With(labelsAndValues...),
		ChainSwitches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "chain_switches_total", Help: "Fast chain switches performed.",
		}, labels).With(labelsAndValues...),
		SyncDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "sync_duration_seconds", Help: "Time spent in a single synchronizer mechanism run.",
			Buckets: stdprometheus.ExponentialBucketsRange(0.1, 300, 8),
		}, append(labels, "mechanism")).With(labelsAndValues...),
		SyncRunsStarted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "sync_runs_started_total", Help: "Synchronizer mechanism runs started.",
		}, labels).With(labelsAndValues...),
		SyncRunsFailed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "sync_runs_failed_total", Help: "Synchronizer mechanism runs that returned an error other than a decline, restart, abort or penalty error.",
		}, labels).With(labelsAndValues...),
		RPCRequestsTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "rpc_requests_total", Help: "Inbound network endpoint calls, by method.",
		}, append(labels, "method")).With(labelsAndValues...),
		RPCRequestDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "rpc_request_duration_seconds", Help: "Time spent handling an inbound network endpoint call.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, append(labels, "method")).With(labelsAndValues...),
		PeersBanned: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "peers_banned", Help: "Peers currently at or above the ban threshold.",
		}, labels).With(labelsAndValues...),
		PenaltiesApplied: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "penalties_applied_total", Help: "Penalty points applied to peers.",
		}, labels).With(labelsAndValues...),
		MaxHeightPrevoted: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "max_height_prevoted", Help: "BFT heights watermark: max height prevoted.",
		}, labels).With(labelsAndValues...),
		MaxHeightPrecommitted: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "max_height_precommitted", Help: "BFT heights watermark: max height precommitted.",
		}, labels).With(labelsAndValues...),
		MaxHeightCertified: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace, Subsystem: MetricsSubsystem,
			Name: "max_height_certified", Help: "BFT heights watermark: max height certified by an aggregate commit.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns a Metrics whose every field discards its input,
// the default for any component that never had SetMetrics called on
// it, matching the teacher's own NopMetrics fallback.
func NopMetrics() *Metrics {
	return &Metrics{
		TipHeight:             discard.NewGauge(),
		FinalizedHeight:       discard.NewGauge(),
		BlocksProcessed:       discard.NewCounter(),
		BlockRejections:       discard.NewCounter(),
		ForksDetected:         discard.NewCounter(),
		BlocksDeleted:         discard.NewCounter(),
		CommitPoolSize:        discard.NewGauge(),
		CommitsAdded:          discard.NewCounter(),
		CommitsRejected:       discard.NewCounter(),
		AggregateCommitsMade:  discard.NewCounter(),
		BlockSyncBatches:      discard.NewCounter(),
		ChainSwitches:         discard.NewCounter(),
		SyncDuration:          discard.NewHistogram(),
		SyncRunsStarted:       discard.NewCounter(),
		SyncRunsFailed:        discard.NewCounter(),
		RPCRequestsTotal:      discard.NewCounter(),
		RPCRequestDuration:    discard.NewHistogram(),
		PeersBanned:           discard.NewGauge(),
		PenaltiesApplied:      discard.NewCounter(),
		MaxHeightPrevoted:     discard.NewGauge(),
		MaxHeightPrecommitted: discard.NewGauge(),
		MaxHeightCertified:    discard.NewGauge(),
	}
}
