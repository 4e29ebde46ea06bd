package main

import (
	"os"

	"github.com/itemvault/itemvault/cmd"
	"github.com/itemvault/itemvault/cmd/run"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	rootCmd.AddCommand(run.NewRunCommand())
	rootCmd.AddCommand(cmd.NewMigrateCommand())
	rootCmd.AddCommand(cmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
