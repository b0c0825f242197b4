package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/easypub/pubd/internal/daemon"
	"github.com/easypub/pubd/internal/domain"
)

func init() {
	inviteCmd.Flags().IntVar(&inviteUses, "uses", 1, "How many times the invitation may be redeemed")
	rootCmd.AddCommand(inviteCmd, acceptCmd)
}

var inviteUses int

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Create an invitation code for another pub or client",
	RunE:  runInvite,
}

var acceptCmd = &cobra.Command{
	Use:   "accept <invitation>",
	Short: "Federate with a pub using its invitation code",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccept,
}

func runInvite(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(buildVersion)
	if err != nil {
		return err
	}
	defer d.Close()

	inv, err := d.Trust.CreateInvitation(cmd.Context(), inviteUses)
	if err != nil {
		return err
	}
	fmt.Println(inv)
	return nil
}

func runAccept(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(buildVersion)
	if err != nil {
		return err
	}
	defer d.Close()

	inv := domain.Invitation(args[0])
	if err := d.Trust.AcceptInvitationFrom(cmd.Context(), inv, domain.SourceManual); err != nil {
		return err
	}
	code, _ := domain.ParseInvitation(inv)
	fmt.Printf("Federated with %s at %s:%d\n", code.Key, code.Host, code.Port)
	return nil
}
