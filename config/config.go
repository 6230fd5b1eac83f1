// Package config is the node-operational configuration layer: the
// knobs an operator legitimately varies per deployment (storage
// backend, listen address, peer set, logging), as distinct from the
// protocol-critical constants every node must agree on (spec.md §6's
// COMMIT_RANGE_STORED, TWO_ROUNDS, N, and similar), which stay as
// named constants in their owning packages. It is grounded on the
// teacher's config.Config/BaseConfig split, narrowed to this spec's
// much smaller surface.
package config

import (
	"fmt"
	"time"

	"github.com/veritaschain/consensus-core/version"
)

// LogFormat mirrors the teacher's plain/json distinction for the
// go-kit-backed logger.
const (
	LogFormatPlain = "plain"
	LogFormatJSON  = "json"
)

// BaseConfig covers process-wide, non-networked settings.
type BaseConfig struct {
	RootDir   string `mapstructure:"home"`
	DBBackend string `mapstructure:"db_backend"`
	DataDir   string `mapstructure:"db_dir"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// NetworkConfig covers the Consensus Network Endpoint's (C8) operator-facing knobs.
type NetworkConfig struct {
	NetworkID     string        `mapstructure:"network_id"`
	SelfID        string        `mapstructure:"self_id"`
	ListenAddr    string        `mapstructure:"listen_addr"`
	SeedPeers     []string      `mapstructure:"seed_peers"`
	RPCTimeout    time.Duration `mapstructure:"rpc_timeout"`
	BanThreshold  int           `mapstructure:"ban_threshold"`
	PeerRateLimit float64       `mapstructure:"peer_rate_limit"`
	PeerRateBurst int           `mapstructure:"peer_rate_burst"`
}

// SyncConfig covers the local-only tuning knobs of the synchronizer's
// mechanisms; MaxBlocksPerBatch/FarAheadThreshold/TwoRounds stay as
// package constants because peers must agree on them.
type SyncConfig struct {
	SampleK int `mapstructure:"sample_k"`
}

// ConsensusConfig covers the block processor and fork-choice
// evaluator's operator-facing knobs.
type ConsensusConfig struct {
	SlotDuration time.Duration `mapstructure:"slot_duration"`
	Version      uint8         `mapstructure:"version"`
}

// InstrumentationConfig mirrors the teacher's own Prometheus wiring
// (spec.md carries ambient observability regardless of the
// distillation's Non-goals around richer metrics surfaces).
type InstrumentationConfig struct {
	Prometheus           bool   `mapstructure:"prometheus"`
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`
	Namespace            string `mapstructure:"namespace"`
}

// FinanceIndexConfig covers the optional Postgres finality-auditing
// sink (financeindex); Enabled false (the default) means the sink is
// disabled, matching the teacher's own "no indexer configured" default.
// Enabled with an empty ConnString fails ValidateBasic.
type FinanceIndexConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ConnString string `mapstructure:"conn_string"`
}

// Config is the top-level configuration for a consensus-core node,
// unmarshaled from config.toml by viper the way the teacher's own
// cmd/tendermint does.
type Config struct {
	BaseConfig      `mapstructure:",squash"`
	Network         NetworkConfig         `mapstructure:"network"`
	Sync            SyncConfig            `mapstructure:"sync"`
	Consensus       ConsensusConfig       `mapstructure:"consensus"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation"`
	FinanceIndex    FinanceIndexConfig    `mapstructure:"finance_index"`
}

// DefaultConfig returns a Config carrying the same default values this
// module used before it was made configurable, so an operator who
// writes out DefaultConfig() and never edits it gets identical
// behavior to the hardcoded defaults it replaced.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig: BaseConfig{
			RootDir:   ".consensus-core",
			DBBackend: "goleveldb",
			DataDir:   "data",
			LogLevel:  "info",
			LogFormat: LogFormatPlain,
		},
		Network: NetworkConfig{
			NetworkID:     "mainnet",
			ListenAddr:    "0.0.0.0:26700",
			RPCTimeout:    5 * time.Second,
			BanThreshold:  1000,
			PeerRateLimit: 20,
			PeerRateBurst: 40,
		},
		Sync: SyncConfig{
			SampleK: 3,
		},
		Consensus: ConsensusConfig{
			SlotDuration: 10 * time.Second,
			Version:      version.BlockVersion,
		},
		Instrumentation: InstrumentationConfig{
			Prometheus:           false,
			PrometheusListenAddr: ":26760",
			Namespace:            "consensuscore",
		},
		FinanceIndex: FinanceIndexConfig{
			Enabled: false,
		},
	}
}

// ValidateBasic sanity-checks the fields consensus.New relies on being
// non-degenerate before wiring up the coordinator.
func (c *Config) ValidateBasic() error {
	if c.Network.SelfID == "" {
		return fmt.Errorf("config: network.self_id must be set")
	}
	if c.Network.NetworkID == "" {
		return fmt.Errorf("config: network.network_id must be set")
	}
	if c.Consensus.SlotDuration <= 0 {
		return fmt.Errorf("config: consensus.slot_duration must be positive")
	}
	if c.Network.RPCTimeout <= 0 {
		return fmt.Errorf("config: network.rpc_timeout must be positive")
	}
	if c.Network.BanThreshold <= 0 {
		return fmt.Errorf("config: network.ban_threshold must be positive")
	}
	if c.FinanceIndex.Enabled && c.FinanceIndex.ConnString == "" {
		return fmt.Errorf("config: finance_index.conn_string must be set when finance_index.enabled is true")
	}
	return nil
}
