package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veritaschain/consensus-core/bftmodule"
	"github.com/veritaschain/consensus-core/store"
	"github.com/veritaschain/consensus-core/types"
)

// StatusCmd reports the chain tip, finalized height, and BFT height
// watermarks recorded in the configured data directory, without
// starting any of the coordinator's network or synchronization
// components, mirroring the read-only slice of the teacher's own
// inspect subcommand.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the local store's tip, finalized height, and BFT watermarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := conf.OpenDB("blockstore")
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer db.Close()

		s := store.New(db)
		tip, err := s.Height()
		if err != nil {
			return fmt.Errorf("reading tip height: %w", err)
		}
		finalized, err := s.FinalizedHeight()
		if err != nil {
			return fmt.Errorf("reading finalized height: %w", err)
		}

		fmt.Printf("tip height:       %d\n", tip)
		fmt.Printf("finalized height: %d\n", finalized)

		bft, err := bftmodule.New(logger, s, types.BFTParameters{})
		if err != nil {
			return fmt.Errorf("loading BFT module: %w", err)
		}
		h := bft.Heights()
		fmt.Printf("max prevoted:     %d\n", h.MaxHeightPrevoted)
		fmt.Printf("max precommitted: %d\n", h.MaxHeightPrecommitted)
		fmt.Printf("max certified:    %d\n", h.MaxHeightCertified)
		return nil
	},
}
