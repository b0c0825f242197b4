package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/easypub/pubd/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoDiscovery, "no-discovery", false, "Do not join the LAN discovery swarm")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost        string
	servePort        int
	serveNoDiscovery bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pub",
	Long: `Start the pub: serve invitations over HTTP, join the discovery swarm
and federate with compatible pubs found on the local network.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.HTTP.Host = serveHost
	}
	if servePort > 0 {
		cfg.HTTP.Port = servePort
	}
	if serveNoDiscovery {
		cfg.Discovery.Enabled = false
	}

	d, err := daemon.NewWithConfig(cfg, buildVersion)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(context.Background())
}
