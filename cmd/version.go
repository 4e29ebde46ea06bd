package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/itemvault/itemvault/internal/build"
)

// NewVersionCommand returns the command to get the itemvault version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Return the ItemVault version",
		Long:  "Return the ItemVault version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}
}

func version(_ *cobra.Command, _ []string) error {
	log.Printf("ItemVault Version %s Date %s commit id %s ", build.Version, build.Date, build.Commit)
	return nil
}
