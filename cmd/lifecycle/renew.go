package lifecycle

import (
	"fmt"

	"github.com/spf13/cobra"
)

var RenewCmd = &cobra.Command{
	Use:           "renew",
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "Extend an existing lease",
	Long: `
Extends the lease identified by --entity-id so it expires --ttl from
now. Backends or configs without renewal capability acknowledge the
request without contacting the target.

Usage:
  $ lessor renew --kind postgres --config ./target.json --entity-id <id> --ttl 1h
`,
	RunE: runRenew,
}

func init() {
	addCommonFlags(RenewCmd)
	RenewCmd.Flags().StringVar(&flagEntityID, "entity-id", "", "Entity identifier returned by create")
	RenewCmd.Flags().StringVar(&flagTTL, "ttl", "1h", "New lease lifetime from now, e.g. 30m, 1h, 24h")
	RenewCmd.MarkFlagRequired("entity-id")
}

func runRenew(cmd *cobra.Command, args []string) error {
	raw, err := loadConfig(flagConfigFile)
	if err != nil {
		return err
	}

	expireAt, err := parseExpiry(flagTTL)
	if err != nil {
		return err
	}

	svc, log, err := newService()
	if err != nil {
		return err
	}
	defer log.Close()

	l, err := svc.Renew(cmd.Context(), flagKind, raw, flagEntityID, expireAt)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Lease renewed, entity id: %s\n", l.EntityID)
	fmt.Println()

	return nil
}
