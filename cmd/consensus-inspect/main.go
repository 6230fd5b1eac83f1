package main

import (
	"fmt"
	"os"

	"github.com/veritaschain/consensus-core/cmd/consensus-inspect/commands"
)

func main() {
	if err := commands.RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
