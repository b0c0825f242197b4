// Package cli implements the pubd command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// buildVersion is the semantic version of this binary, set by Execute.
var buildVersion = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "pubd",
	Short: "pubd, a self-federating Scuttlebutt pub",
	Long: `pubd is a Scuttlebutt pub that finds other pubs on the local network
and federates with up to a fixed number of them by exchanging invitations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	if version != "" {
		buildVersion = version
	}
	rootCmd.Version = buildVersion

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
