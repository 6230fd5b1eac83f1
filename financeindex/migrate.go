package financeindex

import (
	_ "embed"
	"fmt"

	schema "github.com/adlio/schema"
)

//go:embed schema.sql
var migrationSQL string

// Migrate applies financeindex/schema.sql to es's database, creating
// the finalized_heights and aggregate_commits tables if they do not
// already exist. It is safe to call on every startup: adlio/schema
// tracks applied migrations in its own bookkeeping table and skips
// migrations it has already run.
func (es *EventSink) Migrate() error {
	migration := &schema.Migration{
		ID:     "0001_finance_index",
		Script: migrationSQL,
	}
	if err := schema.NewMigrator().Apply(es.store, []*schema.Migration{migration}); err != nil {
		return fmt.Errorf("financeindex: applying schema migration: %w", err)
	}
	return nil
}
