// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI flags,
// environment variables prefixed with ITEMVAULT, or config.yaml (in that
// order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("ITEMVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	for _, path := range []string{"/etc/itemvault", "$HOME/.itemvault", "."} {
		viper.AddConfigPath(path)
	}

	return &cobra.Command{
		Use:   "itemvault",
		Short: "An item catalog service with identity resolution, ownership authorization, and a guarded GraphQL read surface",
		Long: `An item catalog service with identity resolution, ownership authorization, and a guarded GraphQL read surface.

ItemVault resolves request identities from bearer tokens or trusted proxy headers,
provisions users on first login, and serves item data over REST and GraphQL with
per-owner access control.`,
	}
}
