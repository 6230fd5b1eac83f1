// Package financeindex is the optional finality auditing sink
// (SPEC_FULL.md's supplemental features): a PostgreSQL-backed record
// of every height the local node finalized and every aggregate commit
// certificate it assembled or accepted, kept for external auditors
// who cannot afford to replay the whole chain to answer "was height H
// ever finalized, and by which validators". It is grounded on the
// teacher's state/indexer/sink/psql.EventSink, generalized from
// tendermint's open-ended ABCI event schema to this module's two
// fixed record kinds.
package financeindex

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" driver

	"github.com/veritaschain/consensus-core/types"
)

const (
	// DriverName is the database/sql driver this sink opens.
	DriverName = "postgres"

	tableFinalizedHeights  = "finalized_heights"
	tableAggregateCommits  = "aggregate_commits"
)

// Sink is the finance-index write surface a consumer (Service) needs.
// EventSink is the only production implementation; tests substitute a
// fake to exercise Service without a live database, mirroring the
// teacher's indexer.EventSink split across psql/kv/null backends.
type Sink interface {
	IndexFinalizedHeight(height int64, blockID types.BlockID, finalizedAt time.Time) error
	IndexAggregateCommit(ac *types.AggregateCommit) error
	Stop() error
}

// EventSink is a finance-index backend storing records in PostgreSQL
// using the schema defined in financeindex/schema.sql.
type EventSink struct {
	store     *sql.DB
	networkID string
}

// NewEventSink opens a connection pool to the PostgreSQL database
// specified by connStr. Records written to the sink are attributed to
// networkID, matching the teacher's per-chainID column on both of its
// event tables. It does not migrate the schema; call Migrate for that.
func NewEventSink(connStr, networkID string) (*EventSink, error) {
	db, err := sql.Open(DriverName, connStr)
	if err != nil {
		return nil, fmt.Errorf("financeindex: opening database: %w", err)
	}
	return &EventSink{store: db, networkID: networkID}, nil
}

// DB returns the underlying connection pool. Exported to support
// migration and testing, matching the teacher's EventSink.DB.
func (es *EventSink) DB() *sql.DB { return es.store }

// IndexFinalizedHeight records that height became finalized at
// finalizedAt, identified by its block id, per spec.md §4.3's
// finality bookkeeping. Re-indexing the same height is a no-op: the
// finalized height for a live chain never changes once recorded.
func (es *EventSink) IndexFinalizedHeight(height int64, blockID types.BlockID, finalizedAt time.Time) error {
	_, err := es.store.Exec(
		`INSERT INTO `+tableFinalizedHeights+` (height, block_id, network_id, finalized_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (height, network_id) DO NOTHING`,
		height, blockID.String(), es.networkID, finalizedAt,
	)
	if err != nil {
		return fmt.Errorf("financeindex: indexing finalized height %d: %w", height, err)
	}
	return nil
}

// IndexAggregateCommit records an aggregate commit certificate for
// external audit, storing the aggregation bitmap and BLS signature
// alongside the height they attest. A nil or empty ac is a no-op,
// matching spec.md §4.4's "no aggregate available" sentinel.
func (es *EventSink) IndexAggregateCommit(ac *types.AggregateCommit) error {
	if ac == nil || ac.Empty() {
		return nil
	}
	_, err := es.store.Exec(
		`INSERT INTO `+tableAggregateCommits+` (height, network_id, aggregation_bits, certificate_signature, indexed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (height, network_id) DO NOTHING`,
		ac.Height, es.networkID, []byte(ac.AggregationBits), []byte(ac.CertificateSignature), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("financeindex: indexing aggregate commit at height %d: %w", ac.Height, err)
	}
	return nil
}

// Stop closes the underlying connection pool.
func (es *EventSink) Stop() error { return es.store.Close() }
