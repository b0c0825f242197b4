package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/easypub/pubd/internal/daemon"
	"github.com/easypub/pubd/internal/domain"
)

func init() {
	peersCmd.AddCommand(peersForgetCmd, peersProbeCmd)
	rootCmd.AddCommand(peersCmd)
}

var peersCmd = &cobra.Command{
	Use:     "peers",
	Aliases: []string{"ls"},
	Short:   "List federated pubs",
	RunE:    runPeers,
}

var peersForgetCmd = &cobra.Command{
	Use:   "forget <key>",
	Short: "Stop federating with a pub",
	Args:  cobra.ExactArgs(1),
	RunE:  runPeersForget,
}

var peersProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check reachability of every federated pub now",
	RunE:  runPeersProbe,
}

func runPeers(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(buildVersion)
	if err != nil {
		return err
	}
	defer d.Close()

	peers, err := d.Trust.FederatedPeers(cmd.Context())
	if err != nil {
		return err
	}

	if len(peers) == 0 {
		fmt.Println("No federated pubs. Run 'pubd serve' to discover pubs on the local network.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tADDRESS\tSTATE\tSOURCE\tADDED")
	for _, p := range peers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.Key,
			p.Addr(),
			p.State,
			p.Source,
			p.AddedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runPeersForget(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(buildVersion)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Prober.Forget(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Forgot %s\n", args[0])
	return nil
}

func runPeersProbe(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(buildVersion)
	if err != nil {
		return err
	}
	defer d.Close()

	results, err := d.Prober.ProbeOnce(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tADDRESS\tSTATE")
	for _, r := range results {
		state := r.State.String()
		if r.State != domain.StateConnected && r.Err != nil {
			state += " (" + r.Err.Error() + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Key, r.Addr, state)
	}
	return w.Flush()
}
