package lifecycle

import (
	"fmt"

	"github.com/spf13/cobra"
)

var RevokeCmd = &cobra.Command{
	Use:           "revoke",
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "Revoke an existing lease",
	Long: `
Destroys the credential identified by --entity-id on the target
backend. Revoking a credential that was already removed externally
succeeds.

Usage:
  $ lessor revoke --kind postgres --config ./target.json --entity-id <id>
`,
	RunE: runRevoke,
}

func init() {
	addCommonFlags(RevokeCmd)
	RevokeCmd.Flags().StringVar(&flagEntityID, "entity-id", "", "Entity identifier returned by create")
	RevokeCmd.MarkFlagRequired("entity-id")
}

func runRevoke(cmd *cobra.Command, args []string) error {
	raw, err := loadConfig(flagConfigFile)
	if err != nil {
		return err
	}

	svc, log, err := newService()
	if err != nil {
		return err
	}
	defer log.Close()

	l, err := svc.Revoke(cmd.Context(), flagKind, raw, flagEntityID)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Lease revoked, entity id: %s\n", l.EntityID)
	fmt.Println()

	return nil
}
