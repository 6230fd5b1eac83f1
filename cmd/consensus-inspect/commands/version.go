package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veritaschain/consensus-core/version"
)

var verbose bool

// VersionCmd prints the build version, mirroring the teacher's own
// version subcommand.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		if !verbose {
			fmt.Println(version.Version)
			return
		}
		values, _ := json.MarshalIndent(struct {
			ConsensusCore string `json:"consensus_core"`
			BlockVersion  uint8  `json:"block_version"`
		}{
			ConsensusCore: version.Version,
			BlockVersion:  version.BlockVersion,
		}, "", "  ")
		fmt.Println(string(values))
	},
}

func init() {
	VersionCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show block version alongside the build version")
}
