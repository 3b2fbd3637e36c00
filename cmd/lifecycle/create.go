package lifecycle

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stephnangue/lessor/cmd/helpers"
)

var CreateCmd = &cobra.Command{
	Use:           "create",
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "Create a new lease on the target backend",
	Long: `
Creates a fresh credential on the target and prints its secret payload
together with the entity identifier. Keep the entity identifier: it is
the handle renew and revoke operate on.

Usage:
  $ lessor create --kind postgres --config ./target.json --ttl 1h
`,
	RunE: runCreate,
}

func init() {
	addCommonFlags(CreateCmd)
	CreateCmd.Flags().StringVar(&flagTTL, "ttl", "1h", "Lease lifetime, e.g. 30m, 1h, 24h")
	CreateCmd.Flags().BoolVar(&flagRedact, "redact", false, "Mask secret values in the output")
}

func runCreate(cmd *cobra.Command, args []string) error {
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

	l, err := svc.Create(cmd.Context(), flagKind, raw, expireAt)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Lease created, entity id: %s\n", l.EntityID)
	fmt.Println()
	helpers.PrintLeaseData(l.Data, flagRedact)
	fmt.Println()

	return nil
}
