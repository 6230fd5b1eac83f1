// Package commands implements consensus-inspect's cobra command tree:
// a debugging CLI over the block store and BFT parameter schedule,
// grounded on the teacher's cmd/tenderdash/commands.RootCommand and
// its inspect subcommand, narrowed from a full node's flag surface to
// read-only diagnostics.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veritaschain/consensus-core/config"
	"github.com/veritaschain/consensus-core/internal/log"
)

const homeFlag = "home"

var (
	conf   = config.DefaultConfig()
	logger = log.NewLogger(os.Stdout)
)

// RootCommand constructs the root command-line entry point.
func RootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consensus-inspect",
		Short: "Inspect and administer a consensus-core node's local state",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == VersionCmd.Name() {
				return nil
			}
			home, err := cmd.Flags().GetString(homeFlag)
			if err != nil {
				return err
			}
			path := filepath.Join(home, "config", "config.toml")
			if _, err := os.Stat(path); err == nil {
				loaded, err := config.Load(path)
				if err != nil {
					return fmt.Errorf("loading %s: %w", path, err)
				}
				*conf = *loaded
			}
			if home != "" {
				conf.RootDir = home
			}
			return nil
		},
	}
	cmd.PersistentFlags().String(homeFlag, os.ExpandEnv(filepath.Join("$HOME", ".consensus-core")), "directory for config and data")
	cobra.OnInitialize(func() {
		viper.SetEnvPrefix("CONSENSUS_CORE")
		viper.AutomaticEnv()
	})
	cmd.AddCommand(VersionCmd, StatusCmd, InitCmd)
	return cmd
}
