// Command mixinhost loads an application archive, applies the mixins
// contributed by configured plugins and inspects the resulting class images.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information, set at build time.
	Version   = "dev"
	GitCommit = "unknown"
)

var exitFunc = os.Exit

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitFunc(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "mixinhost",
		Short:         "Mixin host for packaged applications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./mixinhost.yaml)")
	configFn := func() string { return configPath }

	root.AddCommand(newApplyCmd(configFn))
	root.AddCommand(newInspectCmd(configFn))
	root.AddCommand(newAuditCmd(configFn))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mixinhost %s (%s)\n", Version, GitCommit)
		},
	})
	return root
}
