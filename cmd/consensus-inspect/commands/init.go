package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/veritaschain/consensus-core/config"
)

// InitCmd writes a default config.toml under home/config and ensures
// the data directory exists, the way the teacher's init_files seeds a
// fresh node's config and genesis file.
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a config.toml and data directory under --home",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := cmd.Flags().GetString(homeFlag)
		if err != nil {
			return err
		}
		if err := config.EnsureRoot(home, conf.DataDir); err != nil {
			return err
		}
		path := filepath.Join(home, "config", "config.toml")
		conf.RootDir = home
		if err := config.WriteConfigFile(path, conf); err != nil {
			return err
		}
		fmt.Println("wrote", path)
		return nil
	},
}
